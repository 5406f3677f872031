package engine

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine/assets"
	"github.com/spaghettifunk/nextrender/engine/config"
	"github.com/spaghettifunk/nextrender/engine/core"
	"github.com/spaghettifunk/nextrender/engine/platform"
	"github.com/spaghettifunk/nextrender/engine/renderer/metadata"
	"github.com/spaghettifunk/nextrender/engine/renderer/vulkan"
	"github.com/spaghettifunk/nextrender/engine/systems"
	"golang.org/x/sync/errgroup"
)

const EngineName = "nextrender"

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything it created
	EngineStageShutdown
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageBooting:
		return "booting"
	case EngineStageBootComplete:
		return "boot complete"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting down"
	case EngineStageShutdown:
		return "shut down"
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

type Option func(*Engine)

// WithPlatform replaces the platform picked from the configuration.
func WithPlatform(p platform.Platform) Option {
	return func(e *Engine) { e.platform = p }
}

// WithDriver replaces the native driver loaded through the platform.
func WithDriver(d vulkan.Driver) Option {
	return func(e *Engine) { e.driver = d }
}

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *config.Config

	platform     platform.Platform
	driver       vulkan.Driver
	context      *vulkan.BackendContext
	surface      vulkan.Handle
	adapter      *vulkan.Adapter
	device       *vulkan.LogicalDevice
	locks        *vulkan.LockPool
	resources    *vulkan.ResourceCache
	assetManager *assets.AssetManager
	jobSystem    *systems.JobSystem

	shaderMutex sync.RWMutex
	shaders     map[string]*vulkan.ShaderResource

	watchers sync.WaitGroup
	clock    *core.Clock
}

func New(g *Game, cfg *config.Config, opts ...Option) (*Engine, error) {
	if g == nil {
		g = &Game{}
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	core.ConfigureLogging(cfg.LogLevel(), cfg.LogFormat())

	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       cfg,
		shaders:      make(map[string]*vulkan.ShaderResource),
		clock:        core.NewClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.platform == nil {
		e.platform = newPlatform(cfg.Application)
	}
	return e, nil
}

// Initialize brings the engine up stage by stage. On failure everything
// created so far is released again.
func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return errors.Wrapf(core.ErrValidationFailure, "cannot initialize engine in stage %s", e.currentStage)
	}
	if err := e.initialize(); err != nil {
		core.LogError("Engine initialization failed: %s", err)
		e.teardown()
		return err
	}
	e.currentStage = EngineStageInitialized
	core.LogInfo("Engine initialized.")
	return nil
}

func (e *Engine) initialize() error {
	cfg := e.config

	e.currentStage = EngineStageBooting
	app := newApplication(cfg.Application, e.gameInstance.Name, e.tick)
	if err := e.platform.Initialize(app); err != nil {
		return err
	}

	if e.driver == nil {
		d, err := vulkan.NewDriver(e.platform.ProcAddr())
		if err != nil {
			return err
		}
		e.driver = d
	}
	e.currentStage = EngineStageBootComplete

	e.currentStage = EngineStageInitializing
	ctx, err := vulkan.Initialize(e.driver, backendConfig(cfg, e.platform))
	if err != nil {
		return err
	}
	e.context = ctx

	if !e.platform.Headless() && !ctx.SwapchainDisabled() {
		surface, err := e.platform.CreateSurface(ctx.Handle())
		if err != nil {
			return err
		}
		e.surface = surface
	}

	preferred, err := vulkan.ParseAdapterType(cfg.Device.PreferredType)
	if err != nil {
		return errors.Wrap(core.ErrValidationFailure, err.Error())
	}
	adapter, err := vulkan.SelectAdapter(ctx.Adapters(), preferred)
	if err != nil {
		return err
	}
	e.adapter = adapter

	device, err := vulkan.CreateLogicalDevice(adapter, e.surface, vulkan.Wishlist(cfg.Device.Extensions))
	if err != nil {
		return err
	}
	e.device = device

	e.locks = vulkan.NewLockPool()
	e.resources = vulkan.NewResourceCache(device, e.locks)

	if err := e.initializeResources(); err != nil {
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) initializeResources() error {
	cfg := e.config.Resources

	js, err := systems.NewJobSystem(cfg.Workers, 0)
	if err != nil {
		return err
	}
	e.jobSystem = js

	if _, err := os.Stat(cfg.ShaderDir); err != nil {
		if len(cfg.Shaders) > 0 {
			return errors.Wrapf(err, "shader directory %s", cfg.ShaderDir)
		}
		core.LogWarn("Shader directory %s not found, shader loading disabled.", cfg.ShaderDir)
		return nil
	}

	am, err := assets.NewAssetManager(cfg.ShaderDir)
	if err != nil {
		return err
	}
	e.assetManager = am

	if err := e.preloadShaders(); err != nil {
		return err
	}

	if cfg.Watch {
		if err := am.Watch(); err != nil {
			return err
		}
		e.watchers.Add(1)
		go e.watchShaders()
	}
	return nil
}

// preloadShaders loads and creates every configured shader, at most Workers at a time.
func (e *Engine) preloadShaders() error {
	shaders := e.config.Resources.Shaders
	if len(shaders) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(e.config.Resources.Workers)
	for _, sc := range shaders {
		sc := sc
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			stage, err := metadata.ParseShaderStage(sc.Stage)
			if err != nil {
				return errors.Wrap(core.ErrValidationFailure, err.Error())
			}
			entry := sc.EntryPoint
			if entry == "" {
				entry = "main"
			}
			_, err = e.loadShader(sc.Name, stage, entry, sc.Definitions)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	core.LogInfo("Preloaded %d shaders.", len(shaders))
	return nil
}

func shaderKey(name string, stage metadata.ShaderStage) string {
	return fmt.Sprintf("%s.%s", name, stage)
}

// loadShader reads the binary and requests the resource. A previous resource
// for the same name and stage with different content is evicted once no other
// name refers to it.
func (e *Engine) loadShader(name string, stage metadata.ShaderStage, entryPoint string, definitions []string) (*vulkan.ShaderResource, error) {
	r, err := e.assetManager.LoadShader(name, stage)
	if err != nil {
		return nil, err
	}
	shader, err := e.resources.RequestShader(stage, entryPoint, r.Data, definitions)
	if err != nil {
		return nil, err
	}
	_ = e.assetManager.UnloadAsset(r)

	key := shaderKey(name, stage)
	e.shaderMutex.Lock()
	prev, existed := e.shaders[key]
	e.shaders[key] = shader
	evict := existed && prev.ID() != shader.ID()
	if evict {
		for _, s := range e.shaders {
			if s.ID() == prev.ID() {
				evict = false
				break
			}
		}
	}
	e.shaderMutex.Unlock()
	if evict {
		e.resources.EvictShader(prev.ID())
	}
	if existed && prev.ID() != shader.ID() {
		core.LogInfo("Shader %s reloaded.", key)
	}
	return shader, nil
}

func (e *Engine) watchShaders() {
	defer e.watchers.Done()
	for info := range e.assetManager.Changes() {
		info := info
		var entry string
		var definitions []string
		e.shaderMutex.RLock()
		prev, ok := e.shaders[shaderKey(info.Name, info.Stage)]
		e.shaderMutex.RUnlock()
		if !ok {
			// Only shaders already in use are reloaded.
			continue
		}
		entry = prev.EntryPoint()
		definitions = prev.Definitions()

		err := e.jobSystem.Dispatch(&systems.Job{
			Name: "reload " + shaderKey(info.Name, info.Stage),
			Run: func() error {
				_, err := e.loadShader(info.Name, info.Stage, entry, definitions)
				return err
			},
		})
		if err != nil {
			core.LogWarn("Could not schedule reload of %s: %s", info.Path, err)
		}
	}
}

// Shader returns the resource loaded for name and stage.
func (e *Engine) Shader(name string, stage metadata.ShaderStage) (*vulkan.ShaderResource, bool) {
	e.shaderMutex.RLock()
	defer e.shaderMutex.RUnlock()
	s, ok := e.shaders[shaderKey(name, stage)]
	return s, ok
}

// LoadShader loads <shader_dir>/<name>.<stage>.spv outside of the preload list.
func (e *Engine) LoadShader(name string, stage metadata.ShaderStage, entryPoint string, definitions []string) (*vulkan.ShaderResource, error) {
	if e.assetManager == nil {
		return nil, errors.Wrap(core.ErrCapabilityMissing, "shader loading disabled")
	}
	return e.loadShader(name, stage, entryPoint, definitions)
}

func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return errors.Wrapf(core.ErrValidationFailure, "cannot run engine in stage %s", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.clock.Start()
	err := e.platform.MainLoop()
	e.clock.Update()
	core.LogInfo("Main loop finished after %s.", e.clock.Elapsed())
	return err
}

func (e *Engine) tick(delta float64) bool {
	if e.gameInstance.FnUpdate == nil {
		return true
	}
	if err := e.gameInstance.FnUpdate(delta); err != nil {
		core.LogError("Game update failed, shutting down: %s", err)
		return false
	}
	return true
}

// Stop asks the main loop to return. Safe from any goroutine.
func (e *Engine) Stop() {
	e.platform.RequestClose()
}

// Shutdown releases everything in reverse creation order.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	var err error
	if e.gameInstance.FnShutdown != nil {
		err = e.gameInstance.FnShutdown()
	}
	if terr := e.teardown(); err == nil {
		err = terr
	}
	return err
}

func (e *Engine) teardown() error {
	if e.assetManager != nil {
		_ = e.assetManager.Shutdown()
		e.watchers.Wait()
		e.assetManager = nil
	}
	if e.jobSystem != nil {
		_ = e.jobSystem.Shutdown()
		e.jobSystem = nil
	}
	if e.resources != nil {
		e.resources.Destroy()
		e.resources = nil
	}
	if e.device != nil {
		e.device.Destroy()
		e.device = nil
	}
	var err error
	if e.context != nil {
		e.context.DestroySurface(e.surface)
		e.surface = nil
		err = e.context.Destroy()
		e.context = nil
	}
	if e.platform != nil {
		if perr := e.platform.Terminate(); err == nil {
			err = perr
		}
	}
	e.currentStage = EngineStageShutdown
	core.LogInfo("Engine shut down.")
	return err
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Config() *config.Config {
	return e.config
}

func (e *Engine) Platform() platform.Platform {
	return e.platform
}

func (e *Engine) Context() *vulkan.BackendContext {
	return e.context
}

func (e *Engine) Device() *vulkan.LogicalDevice {
	return e.device
}

func (e *Engine) Resources() *vulkan.ResourceCache {
	return e.resources
}

func (e *Engine) Locks() *vulkan.LockPool {
	return e.locks
}

func (e *Engine) Jobs() *systems.JobSystem {
	return e.jobSystem
}
