package engine

import (
	"github.com/spaghettifunk/nextrender/engine/config"
	"github.com/spaghettifunk/nextrender/engine/platform"
	"github.com/spaghettifunk/nextrender/engine/platform/window"
	"github.com/spaghettifunk/nextrender/engine/renderer/vulkan"
)

// newPlatform picks the platform the configuration asks for.
func newPlatform(cfg config.ApplicationConfig) platform.Platform {
	if cfg.Headless {
		return platform.NewHeadless(cfg.TickBudget)
	}
	return window.New()
}

func newApplication(cfg config.ApplicationConfig, name string, onTick func(float64) bool) *platform.Application {
	if name == "" {
		name = cfg.Name
	}
	return &platform.Application{
		Name:   name,
		PosX:   cfg.PosX,
		PosY:   cfg.PosY,
		Width:  cfg.Width,
		Height: cfg.Height,
		OnTick: durationTick(onTick),
	}
}

// backendConfig maps the configuration onto the context negotiation request.
func backendConfig(cfg *config.Config, p platform.Platform) *vulkan.BackendConfig {
	groups := make([]vulkan.LayerGroup, 0, len(cfg.Backend.LayerGroups))
	for _, g := range cfg.Backend.LayerGroups {
		groups = append(groups, vulkan.LayerGroup(g))
	}
	return &vulkan.BackendConfig{
		ApplicationName:          cfg.Application.Name,
		EngineName:               EngineName,
		RequiredExtensions:       vulkan.Wishlist(cfg.Backend.Extensions).Clone(),
		RequiredValidationLayers: cfg.Backend.ValidationLayers,
		Headless:                 p.Headless(),
		SurfaceExtensions:        p.RequiredExtensions(),
		Debug:                    cfg.Backend.Debug,
		Validation:               cfg.Backend.Validation,
		ValidationLayerGroups:    groups,
	}
}
