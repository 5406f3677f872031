package vulkan

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine/core"
	"golang.org/x/exp/slices"
)

// BackendConfig describes the native context to negotiate.
type BackendConfig struct {
	ApplicationName string
	EngineName      string
	APIVersion      uint32
	// Instance extensions the caller wants; the value marks the entry optional.
	RequiredExtensions Wishlist
	// Layers that must be present. Missing ones are fatal.
	RequiredValidationLayers []string
	// Headless skips the windowed surface requirement.
	Headless bool
	// Platform surface extensions, required when not headless.
	SurfaceExtensions []string
	// Install a diagnostic callback when an extension for it is available.
	Debug bool
	// Negotiate the validation layer groups.
	Validation            bool
	ValidationLayerGroups []LayerGroup
}

// BackendContext is the negotiated native API context. It owns the context
// handle, the diagnostic callback and the enumerated adapters.
type BackendContext struct {
	driver Driver
	handle Handle

	enabledExtensions   []string
	enabledLayers       []string
	diagnosticExtension string
	debugCallback       Handle
	swapchainDisabled   bool

	adapters []*Adapter

	mu        sync.Mutex
	devices   map[*LogicalDevice]struct{}
	destroyed bool
}

// Initialize negotiates extensions and layers, creates the native context and
// enumerates its adapters. Every capability decision is logged; nothing native
// is created when a required capability is missing.
func Initialize(driver Driver, cfg *BackendConfig) (*BackendContext, error) {
	if driver == nil {
		return nil, errors.Wrap(core.ErrValidationFailure, "no native driver")
	}
	if cfg == nil {
		cfg = &BackendConfig{}
	}

	supportedExtensions, err := driver.InstanceExtensions()
	if err != nil {
		core.LogError("Unable to enumerate instance extensions: %s", err)
		return nil, errors.Wrap(err, "enumerate instance extensions")
	}

	ctx := &BackendContext{
		driver:  driver,
		devices: make(map[*LogicalDevice]struct{}),
	}
	extensions := nameList{}
	wishlist := cfg.RequiredExtensions.Clone()

	// Surface requirement.
	if cfg.Headless {
		if slices.Contains(supportedExtensions, HeadlessSurfaceExtensionName) {
			core.LogInfo("%s is available, enabling it", HeadlessSurfaceExtensionName)
			extensions.add(HeadlessSurfaceExtensionName)
		} else {
			core.LogWarn("%s is not available, disabling swapchain creation", HeadlessSurfaceExtensionName)
			ctx.swapchainDisabled = true
		}
	} else {
		wishlist.Require(SurfaceExtensionName)
		for _, ext := range cfg.SurfaceExtensions {
			wishlist.Require(ext)
		}
	}

	// Diagnostics.
	if cfg.Debug || cfg.Validation {
		ctx.diagnosticExtension = selectDiagnostic(driver, supportedExtensions)
		if ctx.diagnosticExtension != "" {
			extensions.add(ctx.diagnosticExtension)
		}
	}

	negotiated, err := negotiate("instance extension", wishlist, supportedExtensions)
	if err != nil {
		return nil, err
	}
	extensions.add(negotiated...)

	layers, err := negotiateLayers(driver, cfg)
	if err != nil {
		return nil, err
	}

	info := InstanceCreateInfo{
		ApplicationName: cfg.ApplicationName,
		EngineName:      cfg.EngineName,
		APIVersion:      cfg.APIVersion,
		Extensions:      slices.Clone(extensions),
		Layers:          layers,
	}
	if info.APIVersion == 0 {
		info.APIVersion = DefaultAPIVersion
	}

	handle, err := driver.CreateInstance(info)
	if err != nil {
		core.LogError("Could not create native context: %s", err)
		return nil, errors.Wrap(err, "create native context")
	}
	ctx.handle = handle
	ctx.enabledExtensions = info.Extensions
	ctx.enabledLayers = info.Layers
	core.LogInfo("Native context created.")

	if ctx.diagnosticExtension != "" {
		cb, err := driver.CreateDebugCallback(handle, ctx.diagnosticExtension, routeDebugMessage)
		if err != nil {
			core.LogError("Could not install diagnostic callback: %s", err)
			driver.DestroyInstance(handle)
			return nil, errors.Wrap(err, "install diagnostic callback")
		}
		ctx.debugCallback = cb
		core.LogDebug("Diagnostic callback installed through %s.", ctx.diagnosticExtension)
	}

	adapters, err := enumerateAdapters(ctx)
	if err != nil {
		ctx.release()
		return nil, err
	}
	ctx.adapters = adapters

	return ctx, nil
}

// selectDiagnostic prefers debug utils over debug report.
func selectDiagnostic(driver Driver, supported []string) string {
	for _, ext := range []string{DebugUtilsExtensionName, DebugReportExtensionName} {
		if !slices.Contains(supported, ext) {
			continue
		}
		if !driver.SupportsDiagnostic(ext) {
			core.LogWarn("%s is available but the driver cannot install it", ext)
			continue
		}
		core.LogInfo("%s is available, enabling it", ext)
		return ext
	}
	core.LogWarn("No diagnostic extension available, diagnostics disabled")
	return ""
}

func negotiateLayers(driver Driver, cfg *BackendConfig) ([]string, error) {
	if !cfg.Validation && len(cfg.RequiredValidationLayers) == 0 {
		return []string{}, nil
	}

	supported, err := driver.InstanceLayers()
	if err != nil {
		core.LogError("Unable to enumerate instance layers: %s", err)
		return nil, errors.Wrap(err, "enumerate instance layers")
	}

	layers := nameList{}
	if cfg.Validation {
		groups := cfg.ValidationLayerGroups
		if len(groups) == 0 {
			groups = DefaultValidationLayerGroups
		}
		layers.add(selectLayerGroup(groups, supported)...)
	}

	required := Wishlist{}
	for _, name := range cfg.RequiredValidationLayers {
		required.Require(name)
	}
	found, err := negotiate("validation layer", required, supported)
	if err != nil {
		return nil, err
	}
	layers.add(found...)
	return slices.Clone(layers), nil
}

func routeDebugMessage(msg DebugMessage) {
	switch msg.Severity {
	case SeverityError:
		core.LogError("ERROR: [%s] Code %d : %s", msg.Source, msg.Code, msg.Message)
	case SeverityWarning:
		core.LogWarn("WARNING: [%s] Code %d : %s", msg.Source, msg.Code, msg.Message)
	case SeverityPerformanceWarning:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", msg.Source, msg.Code, msg.Message)
	case SeverityVerbose:
		core.LogInfo("VERBOSE: [%s] Code %d : %s", msg.Source, msg.Code, msg.Message)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", msg.Source, msg.Code, msg.Message)
	}
}

func (c *BackendContext) Driver() Driver {
	return c.driver
}

func (c *BackendContext) Handle() Handle {
	return c.handle
}

// EnabledExtensions returns the instance extensions the context was created with.
func (c *BackendContext) EnabledExtensions() []string {
	return slices.Clone(c.enabledExtensions)
}

func (c *BackendContext) EnabledLayers() []string {
	return slices.Clone(c.enabledLayers)
}

func (c *BackendContext) IsExtensionEnabled(name string) bool {
	return slices.Contains(c.enabledExtensions, name)
}

// DiagnosticExtension is the extension backing the diagnostic callback, or "".
func (c *BackendContext) DiagnosticExtension() string {
	return c.diagnosticExtension
}

// SwapchainDisabled is true when a headless context could not get a headless surface.
func (c *BackendContext) SwapchainDisabled() bool {
	return c.swapchainDisabled
}

func (c *BackendContext) Adapters() []*Adapter {
	return slices.Clone(c.adapters)
}

// alive fails once Destroy has released the native context.
func (c *BackendContext) alive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aliveLocked()
}

func (c *BackendContext) aliveLocked() error {
	if c.destroyed {
		return errors.Wrap(core.ErrValidationFailure, "backend context already destroyed")
	}
	return nil
}

func (c *BackendContext) attach(d *LogicalDevice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.aliveLocked(); err != nil {
		return err
	}
	c.devices[d] = struct{}{}
	return nil
}

func (c *BackendContext) detach(d *LogicalDevice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.devices, d)
}

// DestroySurface releases a surface created against this context.
func (c *BackendContext) DestroySurface(surface Handle) {
	if surface == nil || c.handle == nil {
		return
	}
	c.driver.DestroySurface(c.handle, surface)
}

// Destroy removes the diagnostic callback and the native context. It fails
// while logical devices created from this context are still alive.
func (c *BackendContext) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil
	}
	if n := len(c.devices); n > 0 {
		err := errors.Wrapf(core.ErrContextInUse, "%d logical device(s) alive", n)
		core.LogError(err.Error())
		return err
	}
	c.release()
	c.destroyed = true
	core.LogInfo("Native context destroyed.")
	return nil
}

func (c *BackendContext) release() {
	if c.debugCallback != nil {
		c.driver.DestroyDebugCallback(c.handle, c.debugCallback, c.diagnosticExtension)
		c.debugCallback = nil
	}
	if c.handle != nil {
		c.driver.DestroyInstance(c.handle)
		c.handle = nil
	}
	c.adapters = nil
}
