package platform

import (
	"time"
	"unsafe"
)

// Application is what a Platform drives.
type Application struct {
	// The application name used in windowing, if applicable.
	Name string
	// Window starting position, if applicable.
	PosX uint32
	PosY uint32
	// Window starting size, if applicable.
	Width  uint32
	Height uint32
	// OnTick runs once per tick with the time since the previous tick.
	// Returning false asks the platform to close.
	OnTick func(delta time.Duration) bool
}

// Platform owns the lifecycle of the application and the presentation target.
type Platform interface {
	Initialize(app *Application) error
	// MainLoop ticks until the platform or the application asks to close.
	MainLoop() error
	// Tick runs one iteration and reports whether the loop should continue.
	Tick() bool
	Terminate() error
	// RequestClose makes the next Tick return false. Safe from any goroutine.
	RequestClose()

	Headless() bool
	// RequiredExtensions lists the instance extensions needed to present.
	RequiredExtensions() []string
	// ProcAddr is the native loader entry point, or nil for the system loader.
	ProcAddr() unsafe.Pointer
	// CreateSurface creates a presentation surface on instance. Headless
	// platforms return nil.
	CreateSurface(instance interface{}) (interface{}, error)
}

// RunLoop calls Tick until it reports false.
func RunLoop(p Platform) error {
	for p.Tick() {
	}
	return nil
}

// ticker tracks the time between ticks.
type ticker struct {
	last time.Time
}

func (t *ticker) next() time.Duration {
	now := time.Now()
	if t.last.IsZero() {
		t.last = now
		return 0
	}
	delta := now.Sub(t.last)
	t.last = now
	return delta
}
