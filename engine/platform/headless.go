package platform

import (
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine/core"
)

// Headless runs the application without a window or surface.
type Headless struct {
	app    *Application
	budget int
	ticks  int
	closed atomic.Bool
	clock  *core.Clock
	ticker ticker
}

// NewHeadless returns a platform that stops after budget ticks; zero means
// it runs until RequestClose.
func NewHeadless(budget int) *Headless {
	return &Headless{budget: budget, clock: core.NewClock()}
}

func (h *Headless) Initialize(app *Application) error {
	if app == nil {
		return errors.Wrap(core.ErrValidationFailure, "no application")
	}
	h.app = app
	h.clock.Start()
	core.LogInfo("Headless platform initialized for %s.", app.Name)
	return nil
}

func (h *Headless) MainLoop() error {
	return RunLoop(h)
}

func (h *Headless) Tick() bool {
	if h.closed.Load() || (h.budget > 0 && h.ticks >= h.budget) {
		return false
	}
	h.ticks++
	h.clock.Update()
	if h.app != nil && h.app.OnTick != nil && !h.app.OnTick(h.ticker.next()) {
		h.closed.Store(true)
		return false
	}
	return true
}

// Ticks returns how many ticks ran.
func (h *Headless) Ticks() int {
	return h.ticks
}

func (h *Headless) Terminate() error {
	h.clock.Stop()
	h.closed.Store(true)
	core.LogInfo("Headless platform terminated after %d ticks (%s).", h.ticks, h.clock.Elapsed())
	return nil
}

func (h *Headless) RequestClose() {
	h.closed.Store(true)
}

func (h *Headless) Headless() bool {
	return true
}

func (h *Headless) RequiredExtensions() []string {
	return nil
}

func (h *Headless) ProcAddr() unsafe.Pointer {
	return nil
}

func (h *Headless) CreateSurface(instance interface{}) (interface{}, error) {
	return nil, nil
}

var _ Platform = (*Headless)(nil)
