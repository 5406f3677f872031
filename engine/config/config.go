package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine/core"
	"github.com/spaghettifunk/nextrender/engine/renderer/metadata"
)

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Log         LogConfig         `toml:"log"`
	Backend     BackendConfig     `toml:"backend"`
	Device      DeviceConfig      `toml:"device"`
	Resources   ResourcesConfig   `toml:"resources"`
}

type ApplicationConfig struct {
	// The application name used in windowing, if applicable.
	Name string `toml:"name"`
	// Window starting position, if applicable.
	PosX uint32 `toml:"pos_x"`
	PosY uint32 `toml:"pos_y"`
	// Window starting size, if applicable.
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	// Run without a window or surface.
	Headless bool `toml:"headless"`
	// Number of ticks a headless run lasts. Zero runs until shutdown.
	TickBudget int `toml:"tick_budget"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type BackendConfig struct {
	Debug      bool `toml:"debug"`
	Validation bool `toml:"validation"`
	// Instance extension wish-list, name = optional.
	Extensions       map[string]bool `toml:"extensions"`
	ValidationLayers []string        `toml:"validation_layers"`
	// Validation layer groups in order of preference. Empty uses the built-in table.
	LayerGroups [][]string `toml:"layer_groups"`
}

type DeviceConfig struct {
	// Device extension wish-list, name = optional.
	Extensions    map[string]bool `toml:"extensions"`
	PreferredType string          `toml:"preferred_type"`
}

type ResourcesConfig struct {
	ShaderDir string         `toml:"shader_dir"`
	Watch     bool           `toml:"watch"`
	Workers   int            `toml:"workers"`
	Shaders   []ShaderConfig `toml:"shaders"`
}

// ShaderConfig names a shader binary to preload: <shader_dir>/<name>.<stage>.spv.
type ShaderConfig struct {
	Name        string   `toml:"name"`
	Stage       string   `toml:"stage"`
	EntryPoint  string   `toml:"entry_point"`
	Definitions []string `toml:"definitions"`
}

func Default() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:   "nextrender",
			PosX:   100,
			PosY:   100,
			Width:  1280,
			Height: 720,
		},
		Log: LogConfig{
			Level:  "info",
			Format: string(core.LogFormatText),
		},
		Backend: BackendConfig{
			Debug:      true,
			Validation: true,
			Extensions: map[string]bool{},
		},
		Device: DeviceConfig{
			Extensions:    map[string]bool{"VK_KHR_swapchain": true},
			PreferredType: "discrete",
		},
		Resources: ResourcesConfig{
			ShaderDir: "assets/shaders",
			Workers:   4,
		},
	}
}

// Load reads the TOML file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		core.LogError("unable to read config file %s: %s", path, err)
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			core.LogError("config decode error at %d:%d: %s", row, col, derr.Error())
		} else {
			core.LogError("config decode error: %s", err)
		}
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	fail := func(format string, args ...interface{}) error {
		err := errors.Wrapf(core.ErrValidationFailure, format, args...)
		core.LogError(err.Error())
		return err
	}

	if c.Application.Name == "" {
		return fail("application name is empty")
	}
	if !c.Application.Headless && (c.Application.Width == 0 || c.Application.Height == 0) {
		return fail("window size %dx%d is invalid", c.Application.Width, c.Application.Height)
	}
	if c.Application.TickBudget < 0 {
		return fail("tick budget %d is negative", c.Application.TickBudget)
	}
	if _, err := core.ParseLogLevel(c.Log.Level); err != nil {
		return fail("%s", err)
	}
	switch core.LogFormat(c.Log.Format) {
	case core.LogFormatText, core.LogFormatJSON:
	default:
		return fail("unknown log format %q", c.Log.Format)
	}
	for i, group := range c.Backend.LayerGroups {
		if len(group) == 0 {
			return fail("validation layer group %d is empty", i)
		}
	}
	if c.Resources.Workers <= 0 {
		return fail("worker count must be positive, got %d", c.Resources.Workers)
	}
	for _, s := range c.Resources.Shaders {
		if s.Name == "" {
			return fail("shader without a name")
		}
		if _, err := metadata.ParseShaderStage(s.Stage); err != nil {
			return fail("shader %s: %s", s.Name, err)
		}
	}
	return nil
}

// LogLevel returns the parsed log level. Validate guarantees it parses.
func (c *Config) LogLevel() core.LogLevel {
	l, _ := core.ParseLogLevel(c.Log.Level)
	return l
}

func (c *Config) LogFormat() core.LogFormat {
	return core.LogFormat(c.Log.Format)
}
