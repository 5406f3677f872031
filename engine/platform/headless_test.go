package platform

import (
	"testing"
	"time"
)

func TestHeadlessTickBudget(t *testing.T) {
	h := NewHeadless(3)
	calls := 0
	if err := h.Initialize(&Application{Name: "test", OnTick: func(time.Duration) bool {
		calls++
		return true
	}}); err != nil {
		t.Fatal(err)
	}
	if err := h.MainLoop(); err != nil {
		t.Fatal(err)
	}
	if calls != 3 || h.Ticks() != 3 {
		t.Errorf("ticks = %d, callbacks = %d, want 3", h.Ticks(), calls)
	}
	if err := h.Terminate(); err != nil {
		t.Fatal(err)
	}
	if h.Tick() {
		t.Error("tick after terminate")
	}
}

func TestHeadlessApplicationStops(t *testing.T) {
	h := NewHeadless(0)
	calls := 0
	_ = h.Initialize(&Application{Name: "test", OnTick: func(time.Duration) bool {
		calls++
		return calls < 5
	}})
	_ = h.MainLoop()
	if calls != 5 {
		t.Errorf("callbacks = %d, want 5", calls)
	}
}

func TestHeadlessRequestClose(t *testing.T) {
	h := NewHeadless(0)
	_ = h.Initialize(&Application{Name: "test"})
	if !h.Tick() {
		t.Fatal("first tick stopped")
	}
	h.RequestClose()
	if h.Tick() {
		t.Error("tick after RequestClose")
	}
	if s, err := h.CreateSurface(nil); s != nil || err != nil {
		t.Errorf("CreateSurface = %v, %v", s, err)
	}
	if !h.Headless() || h.RequiredExtensions() != nil || h.ProcAddr() != nil {
		t.Error("headless platform reports presentation capabilities")
	}
}

func TestHeadlessInitializeWithoutApplication(t *testing.T) {
	if err := NewHeadless(1).Initialize(nil); err == nil {
		t.Error("Initialize(nil) succeeded")
	}
}
