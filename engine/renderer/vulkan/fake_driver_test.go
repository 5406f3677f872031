package vulkan

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unsafe"

	"github.com/spaghettifunk/nextrender/engine/core"
	"github.com/spaghettifunk/nextrender/engine/renderer/metadata"
)

type fakeHandle struct {
	kind string
	id   int
}

func (h *fakeHandle) String() string {
	return fmt.Sprintf("%s#%d", h.kind, h.id)
}

type fakeAdapter struct {
	props      AdapterProperties
	families   []QueueFamily
	extensions []string
	present    map[uint32]bool
}

// fakeDriver is a scripted in-memory Driver.
type fakeDriver struct {
	mu sync.Mutex

	instanceExtensions []string
	instanceLayers     []string
	diagnostics        []string
	adapters           []fakeAdapter
	memory             MemoryProperties
	dropV2             bool
	noDedicated        bool

	// beforeCreate runs ahead of shader and sampler creation, outside the lock.
	beforeCreate func()

	failCreateInstance error
	failDebugCallback  error
	failCreateDevice   error
	failShader         error

	nextID          int
	createInstances int
	createDevices   int
	liveInstances   int
	liveDevices     int
	liveCallbacks   int
	shaderModules   map[*fakeHandle]bool
	samplers        map[*fakeHandle]bool
	allocations     map[*fakeHandle][]byte
	dedicatedAllocs int
	flushes         []metadata.MemoryRange
	lastInstance    InstanceCreateInfo
	lastDevice      DeviceCreateInfo
	debugCallback   DebugCallback
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		diagnostics:   []string{DebugUtilsExtensionName, DebugReportExtensionName},
		shaderModules: make(map[*fakeHandle]bool),
		samplers:      make(map[*fakeHandle]bool),
		allocations:   make(map[*fakeHandle][]byte),
		adapters: []fakeAdapter{{
			props:    AdapterProperties{Name: "Fake GPU", Type: AdapterTypeDiscrete, NonCoherentAtomSize: 64},
			families: []QueueFamily{{QueueCount: 1, Flags: QueueGraphics | QueueCompute | QueueTransfer}},
		}},
		memory: MemoryProperties{
			Types: []MemoryType{
				{PropertyFlags: MemoryPropertyDeviceLocal, HeapIndex: 0},
				{PropertyFlags: MemoryPropertyHostVisible | MemoryPropertyHostCoherent, HeapIndex: 1},
			},
			Heaps: []MemoryHeap{{Size: 1 << 30, DeviceLocal: true}, {Size: 1 << 28}},
		},
	}
}

func (f *fakeDriver) handle(kind string) *fakeHandle {
	f.nextID++
	return &fakeHandle{kind: kind, id: f.nextID}
}

func (f *fakeDriver) adapter(h Handle) *fakeAdapter {
	fh := h.(*fakeHandle)
	return &f.adapters[fh.id]
}

func (f *fakeDriver) InstanceExtensions() ([]string, error) {
	return f.instanceExtensions, nil
}

func (f *fakeDriver) InstanceLayers() ([]string, error) {
	return f.instanceLayers, nil
}

func (f *fakeDriver) CreateInstance(info InstanceCreateInfo) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createInstances++
	f.lastInstance = info
	if f.failCreateInstance != nil {
		return nil, f.failCreateInstance
	}
	f.liveInstances++
	return f.handle("instance"), nil
}

func (f *fakeDriver) DestroyInstance(instance Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveInstances--
}

func (f *fakeDriver) SupportsDiagnostic(extension string) bool {
	for _, d := range f.diagnostics {
		if d == extension {
			return true
		}
	}
	return false
}

func (f *fakeDriver) SupportsDedicatedAllocation() bool { return !f.noDedicated }

func (f *fakeDriver) CreateDebugCallback(instance Handle, extension string, cb DebugCallback) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDebugCallback != nil {
		return nil, f.failDebugCallback
	}
	f.liveCallbacks++
	f.debugCallback = cb
	return f.handle("callback"), nil
}

func (f *fakeDriver) DestroyDebugCallback(instance, callback Handle, extension string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveCallbacks--
}

func (f *fakeDriver) EnumerateAdapters(instance Handle) ([]Handle, error) {
	handles := make([]Handle, len(f.adapters))
	for i := range f.adapters {
		handles[i] = &fakeHandle{kind: "adapter", id: i}
	}
	return handles, nil
}

func (f *fakeDriver) AdapterProperties(adapter Handle) AdapterProperties {
	return f.adapter(adapter).props
}

func (f *fakeDriver) AdapterQueueFamilies(adapter Handle) []QueueFamily {
	return f.adapter(adapter).families
}

func (f *fakeDriver) DeviceExtensions(adapter Handle) ([]string, error) {
	return f.adapter(adapter).extensions, nil
}

func (f *fakeDriver) SurfaceSupport(adapter Handle, family uint32, surface Handle) (bool, error) {
	return f.adapter(adapter).present[family], nil
}

func (f *fakeDriver) DestroySurface(instance, surface Handle) {}

func (f *fakeDriver) CreateDevice(adapter Handle, info DeviceCreateInfo) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createDevices++
	f.lastDevice = info
	if f.failCreateDevice != nil {
		return nil, f.failCreateDevice
	}
	f.liveDevices++
	return f.handle("device"), nil
}

func (f *fakeDriver) DestroyDevice(device Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveDevices--
}

func (f *fakeDriver) DeviceWaitIdle(device Handle) error {
	return nil
}

func (f *fakeDriver) DeviceQueue(device Handle, family, index uint32) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle(fmt.Sprintf("queue-%d-%d", family, index))
}

func (f *fakeDriver) MemoryFunctions(adapter, device Handle) MemoryFunctions {
	reqs := func(h Handle) MemoryRequirements {
		return MemoryRequirements{Size: 256, Alignment: 16, MemoryTypeBits: 0x3}
	}
	reqs2 := func(h Handle) MemoryRequirements {
		r := reqs(h)
		r.PrefersDedicated = true
		return r
	}
	fns := MemoryFunctions{
		GetPhysicalDeviceMemoryProperties: func() MemoryProperties { return f.memory },
		AllocateMemory: func(size uint64, memoryTypeIndex uint32, dedicated *DedicatedTarget) (Handle, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			h := f.handle("memory")
			f.allocations[h] = make([]byte, size)
			if dedicated != nil {
				f.dedicatedAllocs++
			}
			return h, nil
		},
		FreeMemory: func(memory Handle) {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.allocations, memory.(*fakeHandle))
		},
		MapMemory: func(memory Handle, offset, size uint64) (unsafe.Pointer, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			buf := f.allocations[memory.(*fakeHandle)]
			return unsafe.Pointer(&buf[offset]), nil
		},
		UnmapMemory: func(memory Handle) {},
		FlushMappedMemoryRanges: func(memory Handle, offset, size uint64) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.flushes = append(f.flushes, metadata.MemoryRange{Offset: offset, Size: size})
			return nil
		},
		InvalidateMappedMemoryRanges: func(memory Handle, offset, size uint64) error { return nil },
		BindBufferMemory:             func(buffer, memory Handle, offset uint64) error { return nil },
		BindImageMemory:              func(image, memory Handle, offset uint64) error { return nil },
		GetBufferMemoryRequirements:  reqs,
		GetImageMemoryRequirements:   reqs,
		GetBufferMemoryRequirements2: reqs2,
		GetImageMemoryRequirements2:  reqs2,
	}
	if f.dropV2 {
		fns.GetBufferMemoryRequirements2 = nil
		fns.GetImageMemoryRequirements2 = nil
	}
	return fns
}

func (f *fakeDriver) CreateShaderModule(device Handle, code []byte) (Handle, error) {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failShader != nil {
		return nil, f.failShader
	}
	h := f.handle("shader")
	f.shaderModules[h] = true
	return h, nil
}

func (f *fakeDriver) DestroyShaderModule(device, module Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.shaderModules, module.(*fakeHandle))
}

func (f *fakeDriver) CreateSampler(device Handle, desc metadata.SamplerDescriptor) (Handle, error) {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.handle("sampler")
	f.samplers[h] = true
	return h, nil
}

func (f *fakeDriver) DestroySampler(device, sampler Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.samplers, sampler.(*fakeHandle))
}

func (f *fakeDriver) liveShaders() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.shaderModules)
}

var _ Driver = (*fakeDriver)(nil)

type logEntry struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

type logCapture struct {
	buf *bytes.Buffer
}

// captureLogs routes engine logs as JSON into a buffer for the rest of the test.
func captureLogs(t *testing.T) *logCapture {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := core.SetLogOutput(buf)
	core.ConfigureLogging(core.DebugLevel, core.LogFormatJSON)
	t.Cleanup(func() {
		core.SetLogOutput(prev)
		core.ConfigureLogging(core.DebugLevel, core.LogFormatText)
	})
	return &logCapture{buf: buf}
}

func (c *logCapture) entries(t *testing.T) []logEntry {
	t.Helper()
	var out []logEntry
	scanner := bufio.NewScanner(bytes.NewReader(c.buf.Bytes()))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e logEntry
		if err := json.Unmarshal(line, &e); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", line, err)
		}
		out = append(out, e)
	}
	return out
}

// has reports whether a line at level contains every fragment.
func (c *logCapture) has(t *testing.T, level string, fragments ...string) bool {
	t.Helper()
	for _, e := range c.entries(t) {
		if e.Level != level {
			continue
		}
		ok := true
		for _, f := range fragments {
			if !strings.Contains(e.Msg, f) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
