package engine

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spaghettifunk/nextrender/engine/config"
	"github.com/spaghettifunk/nextrender/engine/core"
	"github.com/spaghettifunk/nextrender/engine/renderer/metadata"
	"github.com/spaghettifunk/nextrender/engine/renderer/vulkan"
)

type stubHandle struct{ kind string }

// stubDriver implements the calls a headless bootstrap makes. Anything else
// panics through the nil embedded interface.
type stubDriver struct {
	vulkan.Driver

	mu        sync.Mutex
	instances int
	devices   int
	modules   int
	created   int
}

func (d *stubDriver) InstanceExtensions() ([]string, error) {
	return []string{vulkan.HeadlessSurfaceExtensionName}, nil
}

func (d *stubDriver) CreateInstance(info vulkan.InstanceCreateInfo) (vulkan.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instances++
	return &stubHandle{"instance"}, nil
}

func (d *stubDriver) DestroyInstance(instance vulkan.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instances--
}

func (d *stubDriver) EnumerateAdapters(instance vulkan.Handle) ([]vulkan.Handle, error) {
	return []vulkan.Handle{&stubHandle{"adapter"}}, nil
}

func (d *stubDriver) AdapterProperties(adapter vulkan.Handle) vulkan.AdapterProperties {
	return vulkan.AdapterProperties{Name: "Stub GPU", Type: vulkan.AdapterTypeDiscrete}
}

func (d *stubDriver) AdapterQueueFamilies(adapter vulkan.Handle) []vulkan.QueueFamily {
	return []vulkan.QueueFamily{{QueueCount: 1, Flags: vulkan.QueueGraphics | vulkan.QueueCompute}}
}

func (d *stubDriver) DeviceExtensions(adapter vulkan.Handle) ([]string, error) {
	return nil, nil
}

func (d *stubDriver) CreateDevice(adapter vulkan.Handle, info vulkan.DeviceCreateInfo) (vulkan.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices++
	return &stubHandle{"device"}, nil
}

func (d *stubDriver) DestroyDevice(device vulkan.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices--
}

func (d *stubDriver) DeviceWaitIdle(device vulkan.Handle) error {
	return nil
}

func (d *stubDriver) DeviceQueue(device vulkan.Handle, family, index uint32) vulkan.Handle {
	return &stubHandle{"queue"}
}

func (d *stubDriver) MemoryFunctions(adapter, device vulkan.Handle) vulkan.MemoryFunctions {
	return vulkan.MemoryFunctions{
		GetPhysicalDeviceMemoryProperties: func() vulkan.MemoryProperties { return vulkan.MemoryProperties{} },
		AllocateMemory: func(uint64, uint32, *vulkan.DedicatedTarget) (vulkan.Handle, error) {
			return &stubHandle{"memory"}, nil
		},
		FreeMemory:                  func(vulkan.Handle) {},
		GetBufferMemoryRequirements: func(vulkan.Handle) vulkan.MemoryRequirements { return vulkan.MemoryRequirements{} },
		GetImageMemoryRequirements:  func(vulkan.Handle) vulkan.MemoryRequirements { return vulkan.MemoryRequirements{} },
	}
}

func (d *stubDriver) SupportsDedicatedAllocation() bool {
	return false
}

func (d *stubDriver) CreateShaderModule(device vulkan.Handle, code []byte) (vulkan.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modules++
	d.created++
	return &stubHandle{"module"}, nil
}

func (d *stubDriver) DestroyShaderModule(device, module vulkan.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modules--
}

func (d *stubDriver) counts() (instances, devices, modules, created int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.instances, d.devices, d.modules, d.created
}

func spirv(words ...uint32) []byte {
	buf := make([]byte, 4*(len(words)+1))
	binary.LittleEndian.PutUint32(buf, 0x07230203)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*(i+1):], w)
	}
	return buf
}

func headlessConfig(t *testing.T, budget int) *config.Config {
	t.Helper()
	dir := t.TempDir()
	for name, code := range map[string][]byte{
		"triangle.vert.spv": spirv(1),
		"triangle.frag.spv": spirv(2),
	} {
		if err := os.WriteFile(filepath.Join(dir, name), code, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.Application.Headless = true
	cfg.Application.TickBudget = budget
	cfg.Backend.Debug = false
	cfg.Backend.Validation = false
	cfg.Log.Level = "error"
	cfg.Resources.ShaderDir = dir
	cfg.Resources.Workers = 2
	cfg.Resources.Shaders = []config.ShaderConfig{
		{Name: "triangle", Stage: "vert"},
		{Name: "triangle", Stage: "frag", EntryPoint: "main"},
	}
	return cfg
}

func TestEngineHeadlessLifecycle(t *testing.T) {
	driver := &stubDriver{}
	ticks := 0
	g := &Game{
		Name: "lifecycle",
		FnUpdate: func(float64) error {
			ticks++
			return nil
		},
	}

	e, err := New(g, headlessConfig(t, 4), WithDriver(driver))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(); !errors.Is(err, core.ErrValidationFailure) {
		t.Errorf("Run before Initialize = %v", err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	if e.Stage() != EngineStageInitialized {
		t.Errorf("stage = %s", e.Stage())
	}
	if !e.Context().SwapchainDisabled() && !e.Context().IsExtensionEnabled(vulkan.HeadlessSurfaceExtensionName) {
		t.Error("headless surface extension not enabled")
	}
	for _, stage := range []metadata.ShaderStage{metadata.ShaderStageVertex, metadata.ShaderStageFragment} {
		s, ok := e.Shader("triangle", stage)
		if !ok || s.EntryPoint() != "main" || s.Stage() != stage {
			t.Errorf("shader %s = %v, %v", stage, s, ok)
		}
	}
	if e.Resources().ShaderCount() != 2 {
		t.Errorf("ShaderCount = %d, want 2", e.Resources().ShaderCount())
	}

	if err := e.Run(); err != nil {
		t.Fatal(err)
	}
	if ticks != 4 {
		t.Errorf("ticks = %d, want 4", ticks)
	}

	if err := e.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if e.Stage() != EngineStageShutdown {
		t.Errorf("stage = %s", e.Stage())
	}
	if i, d, m, _ := driver.counts(); i != 0 || d != 0 || m != 0 {
		t.Errorf("leaked instances %d devices %d modules %d", i, d, m)
	}
	if err := e.Shutdown(); err != nil {
		t.Errorf("second Shutdown = %v", err)
	}
}

func TestEngineUpdateFailureStopsLoop(t *testing.T) {
	ticks := 0
	g := &Game{FnUpdate: func(float64) error {
		ticks++
		if ticks == 2 {
			return errors.New("boom")
		}
		return nil
	}}
	e, err := New(g, headlessConfig(t, 0), WithDriver(&stubDriver{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()
	if err := e.Run(); err != nil {
		t.Fatal(err)
	}
	if ticks != 2 {
		t.Errorf("ticks = %d, want 2", ticks)
	}
}

func TestEngineInitializeRollsBack(t *testing.T) {
	cfg := headlessConfig(t, 1)
	cfg.Resources.Shaders = append(cfg.Resources.Shaders, config.ShaderConfig{Name: "missing", Stage: "comp"})
	driver := &stubDriver{}

	e, err := New(&Game{}, cfg, WithDriver(driver))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); err == nil {
		t.Fatal("Initialize succeeded with a missing shader")
	}
	if i, d, m, _ := driver.counts(); i != 0 || d != 0 || m != 0 {
		t.Errorf("leaked instances %d devices %d modules %d", i, d, m)
	}
	if e.Stage() != EngineStageShutdown {
		t.Errorf("stage = %s", e.Stage())
	}
}

func TestEngineGameInitializeSeesDevice(t *testing.T) {
	var seen *vulkan.LogicalDevice
	g := &Game{FnInitialize: func(e *Engine) error {
		seen = e.Device()
		_, err := e.LoadShader("triangle", metadata.ShaderStageVertex, "main", []string{"FLAT"})
		return err
	}}
	e, err := New(g, headlessConfig(t, 1), WithDriver(&stubDriver{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()
	if seen == nil || seen != e.Device() {
		t.Error("game initialize ran without the logical device")
	}
	s, _ := e.Shader("triangle", metadata.ShaderStageVertex)
	if defs := s.Definitions(); len(defs) != 1 || defs[0] != "FLAT" {
		t.Errorf("definitions = %v", defs)
	}
	// The variant replaced the preloaded module.
	if e.Resources().ShaderCount() != 2 {
		t.Errorf("ShaderCount = %d, want 2", e.Resources().ShaderCount())
	}
}

func TestEngineReloadsModifiedShader(t *testing.T) {
	cfg := headlessConfig(t, 0)
	cfg.Resources.Watch = true
	driver := &stubDriver{}

	e, err := New(&Game{}, cfg, WithDriver(driver))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	before, _ := e.Shader("triangle", metadata.ShaderStageVertex)
	path := filepath.Join(cfg.Resources.ShaderDir, "triangle.vert.spv")
	if err := os.WriteFile(path, spirv(1, 2, 3), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		after, _ := e.Shader("triangle", metadata.ShaderStageVertex)
		if after.ID() != before.ID() && after.Size() == 16 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("shader was not reloaded")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := e.Resources().LookupShader(before.ID()); ok {
		t.Error("previous shader module still cached")
	}
}

func TestEngineReloadKeepsSharedShader(t *testing.T) {
	cfg := headlessConfig(t, 0)
	driver := &stubDriver{}
	if err := os.WriteFile(filepath.Join(cfg.Resources.ShaderDir, "copy.vert.spv"), spirv(1), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Resources.Shaders = append(cfg.Resources.Shaders, config.ShaderConfig{Name: "copy", Stage: "vert"})

	e, err := New(&Game{}, cfg, WithDriver(driver))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	original, _ := e.Shader("triangle", metadata.ShaderStageVertex)
	shared, _ := e.Shader("copy", metadata.ShaderStageVertex)
	if original.ID() != shared.ID() {
		t.Fatal("identical sources did not share a cache entry")
	}

	path := filepath.Join(cfg.Resources.ShaderDir, "triangle.vert.spv")
	if err := os.WriteFile(path, spirv(1, 2, 3), 0o644); err != nil {
		t.Fatal(err)
	}
	reloaded, err := e.LoadShader("triangle", metadata.ShaderStageVertex, original.EntryPoint(), original.Definitions())
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.ID() == shared.ID() {
		t.Fatal("modified source kept the old identity")
	}
	if _, ok := e.Resources().LookupShader(shared.ID()); !ok || shared.Module() == nil {
		t.Error("shader still referenced by another name was evicted")
	}

	if err := os.WriteFile(filepath.Join(cfg.Resources.ShaderDir, "copy.vert.spv"), spirv(4), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.LoadShader("copy", metadata.ShaderStageVertex, shared.EntryPoint(), shared.Definitions()); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.Resources().LookupShader(shared.ID()); ok {
		t.Error("unreferenced shader still cached")
	}
}

func TestStageString(t *testing.T) {
	if EngineStageRunning.String() != "running" || Stage(42).String() != "Stage(42)" {
		t.Error("unexpected stage names")
	}
}
