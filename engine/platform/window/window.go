package window

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine/core"
	"github.com/spaghettifunk/nextrender/engine/platform"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Window is a glfw backed Platform with a presentable surface.
type Window struct {
	app     *platform.Application
	handle  *glfw.Window
	closing atomic.Bool
	clock   *core.Clock
	last    float64
}

func New() *Window {
	return &Window{clock: core.NewClock()}
}

func (w *Window) Initialize(app *platform.Application) error {
	if app == nil {
		return errors.Wrap(core.ErrValidationFailure, "no application")
	}
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return errors.Wrap(err, "glfw init")
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return errors.Wrap(core.ErrCapabilityMissing, "glfw reports no vulkan loader")
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	handle, err := glfw.CreateWindow(int(app.Width), int(app.Height), app.Name, nil, nil)
	if err != nil {
		core.LogError("failed to create window: %s", err)
		glfw.Terminate()
		return errors.Wrap(err, "glfw create window")
	}
	w.app = app
	w.handle = handle

	w.handle.SetKeyCallback(w.keyCallback)
	w.handle.SetFramebufferSizeCallback(framebufferSizeCallback)
	w.handle.SetPos(int(app.PosX), int(app.PosY))
	w.handle.Show()

	w.last = glfw.GetTime()
	w.clock.Start()
	return nil
}

func (w *Window) MainLoop() error {
	return platform.RunLoop(w)
}

func (w *Window) Tick() bool {
	if w.handle == nil || w.closing.Load() {
		return false
	}
	glfw.PollEvents()
	if w.handle.ShouldClose() {
		return false
	}
	w.clock.Update()
	now := glfw.GetTime()
	delta := now - w.last
	w.last = now
	if w.app.OnTick != nil && !w.app.OnTick(secondsToDuration(delta)) {
		w.closing.Store(true)
		return false
	}
	return true
}

func (w *Window) Terminate() error {
	if w.handle != nil {
		w.handle.Destroy()
		w.handle = nil
	}
	w.clock.Stop()
	glfw.Terminate()
	return nil
}

func (w *Window) RequestClose() {
	w.closing.Store(true)
}

func (w *Window) Headless() bool {
	return false
}

func (w *Window) RequiredExtensions() []string {
	if w.handle == nil {
		return nil
	}
	return w.handle.GetRequiredInstanceExtensions()
}

func (w *Window) ProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (w *Window) CreateSurface(instance interface{}) (interface{}, error) {
	if w.handle == nil {
		return nil, errors.Wrap(core.ErrValidationFailure, "window not initialized")
	}
	ptr, err := w.handle.CreateWindowSurface(instance, nil)
	if err != nil {
		core.LogError("failed to create window surface: %s", err)
		return nil, errors.Wrap(core.ErrNativeAPIFailure, err.Error())
	}
	return vk.SurfaceFromPointer(ptr), nil
}

func (w *Window) keyCallback(win *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if key == glfw.KeyEscape && action == glfw.Press {
		win.SetShouldClose(true)
	}
}

func framebufferSizeCallback(win *glfw.Window, width, height int) {
	core.LogDebug("framebuffer resized to %dx%d", width, height)
}

var _ platform.Platform = (*Window)(nil)
