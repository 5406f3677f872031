package engine

// Game is the application side of the engine. Every callback is optional.
type Game struct {
	Name         string
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnShutdown   Shutdown
}

type Initialize func(e *Engine) error
type Update func(deltaTime float64) error
type Shutdown func() error
