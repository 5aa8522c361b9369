package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned by Load for files that are neither TOML nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Environment variable names that override file values.
const (
	EnvLogLevel       = "NEBULA_LOG_LEVEL"
	EnvBufferedFrames = "NEBULA_BUFFERED_FRAMES"
	EnvBackend        = "NEBULA_BACKEND"
	EnvWidth          = "NEBULA_WIDTH"
	EnvHeight         = "NEBULA_HEIGHT"
)

// Config is the full engine configuration.
type Config struct {
	Window   Window   `toml:"window" yaml:"window"`
	Renderer Renderer `toml:"renderer" yaml:"renderer"`
	Shadows  Shadows  `toml:"shadows" yaml:"shadows"`
	Effects  Effects  `toml:"effects" yaml:"effects"`
	Debug    Debug    `toml:"debug" yaml:"debug"`
	Logging  Logging  `toml:"logging" yaml:"logging"`
	Profiler Profiler `toml:"profiler" yaml:"profiler"`
}

// Window holds the viewer window settings.
type Window struct {
	Title  string `toml:"title" yaml:"title"`
	Width  int    `toml:"width" yaml:"width"`
	Height int    `toml:"height" yaml:"height"`
}

// Renderer holds GPU backend settings.
type Renderer struct {
	// Backend is "wgpu" or "recording".
	Backend string `toml:"backend" yaml:"backend"`

	// BufferedFrames is the number of frames that may be in flight.
	BufferedFrames int `toml:"buffered_frames" yaml:"buffered_frames"`

	// UploadMaxSize bounds a single buffer upload in bytes.
	UploadMaxSize int `toml:"upload_max_size" yaml:"upload_max_size"`

	// PresentMode is "vsync" or "uncapped".
	PresentMode string `toml:"present_mode" yaml:"present_mode"`
}

// Shadows holds shadow map sizes and cascade settings.
type Shadows struct {
	MaxSpot            int       `toml:"max_spot" yaml:"max_spot"`
	MaxPoint           int       `toml:"max_point" yaml:"max_point"`
	SpotAtlasSize      int       `toml:"spot_atlas_size" yaml:"spot_atlas_size"`
	CSMSize            int       `toml:"csm_size" yaml:"csm_size"`
	PointSize          int       `toml:"point_size" yaml:"point_size"`
	CascadeDistances   []float32 `toml:"cascade_distances" yaml:"cascade_distances"`
	CascadeMaxDistance float32   `toml:"cascade_max_distance" yaml:"cascade_max_distance"`
	Fitting            string    `toml:"fitting" yaml:"fitting"`
	Clamping           string    `toml:"clamping" yaml:"clamping"`
	BlurSize           int       `toml:"blur_size" yaml:"blur_size"`
	FloorTexels        bool      `toml:"floor_texels" yaml:"floor_texels"`
}

// Effects toggles and tunes the screen-space passes.
type Effects struct {
	HBAO    HBAO    `toml:"hbao" yaml:"hbao"`
	SSR     SSR     `toml:"ssr" yaml:"ssr"`
	Fog     Fog     `toml:"fog" yaml:"fog"`
	Tonemap Tonemap `toml:"tonemap" yaml:"tonemap"`
}

// HBAO holds ambient occlusion settings.
type HBAO struct {
	Enabled          bool    `toml:"enabled" yaml:"enabled"`
	Radius           float32 `toml:"radius" yaml:"radius"`
	Strength         float32 `toml:"strength" yaml:"strength"`
	AngleBiasDegrees float32 `toml:"angle_bias_degrees" yaml:"angle_bias_degrees"`
}

// SSR holds screen-space reflection settings.
type SSR struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// Fog holds volumetric fog settings.
type Fog struct {
	Enabled    bool       `toml:"enabled" yaml:"enabled"`
	Turbidity  float32    `toml:"turbidity" yaml:"turbidity"`
	Absorption [3]float32 `toml:"absorption" yaml:"absorption"`
}

// Tonemap holds tonemapping settings.
type Tonemap struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// Debug holds debug-draw settings.
type Debug struct {
	Grid      bool    `toml:"grid" yaml:"grid"`
	GridSize  float32 `toml:"grid_size" yaml:"grid_size"`
	GridCells int     `toml:"grid_cells" yaml:"grid_cells"`
}

// Logging holds logger settings.
type Logging struct {
	Level       string `toml:"level" yaml:"level"`
	Development bool   `toml:"development" yaml:"development"`
	Encoding    string `toml:"encoding" yaml:"encoding"`
}

// Profiler holds frame profiler settings.
type Profiler struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`

	// IntervalSeconds is the reporting period.
	IntervalSeconds float64 `toml:"interval_seconds" yaml:"interval_seconds"`
}

// Default returns the engine defaults.
//
// Returns:
//   - Config: the default configuration
func Default() Config {
	return Config{
		Window: Window{Title: "Nebula", Width: 1280, Height: 720},
		Renderer: Renderer{
			Backend:        "wgpu",
			BufferedFrames: 3,
			UploadMaxSize:  1 << 16,
			PresentMode:    "vsync",
		},
		Shadows: Shadows{
			MaxSpot:            16,
			MaxPoint:           4,
			SpotAtlasSize:      2048,
			CSMSize:            2048,
			PointSize:          512,
			CascadeDistances:   []float32{5, 50, 120, 300},
			CascadeMaxDistance: 300,
			Fitting:            "scene",
			Clamping:           "scene_aabb",
			BlurSize:           1,
			FloorTexels:        true,
		},
		Effects: Effects{
			HBAO:    HBAO{Enabled: true, Radius: 12, Strength: 2, AngleBiasDegrees: 10},
			SSR:     SSR{Enabled: true},
			Fog:     Fog{Enabled: true, Turbidity: 0.1, Absorption: [3]float32{1, 1, 1}},
			Tonemap: Tonemap{Enabled: true},
		},
		Debug:    Debug{Grid: true, GridSize: 1, GridCells: 20},
		Logging:  Logging{Level: "info", Encoding: "console"},
		Profiler: Profiler{Enabled: true, IntervalSeconds: 1},
	}
}

// Load reads a TOML or YAML config file on top of the defaults and then applies
// environment overrides. The format is chosen by file extension.
//
// Parameters:
//   - path: the config file path (.toml, .yaml or .yml)
//
// Returns:
//   - Config: the loaded configuration
//   - error: error if the file cannot be read, parsed or validated
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := Decode(filepath.Ext(path), data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode parses data in the format selected by ext into cfg.
//
// Parameters:
//   - ext: a file extension such as ".toml" or ".yaml"
//   - data: the encoded config
//   - cfg: the destination, pre-populated with defaults
//
// Returns:
//   - error: ErrUnsupportedFormat or a parse error
func Decode(ext string, data []byte, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// LoadDotEnv loads variables from the given .env files into the process environment
// and reloads envy so overrides see them. Missing files are ignored.
//
// Parameters:
//   - files: .env file paths; defaults to ".env"
//
// Returns:
//   - error: error if an existing file cannot be parsed
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	envy.Reload()
	return nil
}

// ApplyEnv overrides cfg with NEBULA_* environment variables.
//
// Parameters:
//   - cfg: the configuration to update
//
// Returns:
//   - error: error if a numeric variable cannot be parsed
func ApplyEnv(cfg *Config) error {
	if v := envy.Get(EnvLogLevel, ""); v != "" {
		cfg.Logging.Level = v
	}
	if v := envy.Get(EnvBackend, ""); v != "" {
		cfg.Renderer.Backend = v
	}
	ints := []struct {
		key string
		dst *int
	}{
		{EnvBufferedFrames, &cfg.Renderer.BufferedFrames},
		{EnvWidth, &cfg.Window.Width},
		{EnvHeight, &cfg.Window.Height},
	}
	for _, e := range ints {
		v := envy.Get(e.key, "")
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", e.key, v, err)
		}
		*e.dst = n
	}
	return nil
}

// Validate checks values the renderer cannot recover from.
//
// Returns:
//   - error: a description of the first invalid field
func (c Config) Validate() error {
	if c.Renderer.BufferedFrames < 1 || c.Renderer.BufferedFrames > 3 {
		return fmt.Errorf("renderer.buffered_frames must be in [1, 3], got %d", c.Renderer.BufferedFrames)
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return fmt.Errorf("window size must be positive, got %dx%d", c.Window.Width, c.Window.Height)
	}
	if c.Renderer.UploadMaxSize <= 0 {
		return fmt.Errorf("renderer.upload_max_size must be positive")
	}
	if c.Shadows.MaxSpot < 1 || c.Shadows.MaxSpot > 16 {
		return fmt.Errorf("shadows.max_spot must be in [1, 16], got %d", c.Shadows.MaxSpot)
	}
	if c.Shadows.MaxPoint < 0 || c.Shadows.MaxPoint > 4 {
		return fmt.Errorf("shadows.max_point must be in [0, 4], got %d", c.Shadows.MaxPoint)
	}
	if len(c.Shadows.CascadeDistances) != 4 {
		return fmt.Errorf("shadows.cascade_distances needs 4 entries, got %d", len(c.Shadows.CascadeDistances))
	}
	for i := 1; i < len(c.Shadows.CascadeDistances); i++ {
		if c.Shadows.CascadeDistances[i] <= c.Shadows.CascadeDistances[i-1] {
			return fmt.Errorf("shadows.cascade_distances must increase")
		}
	}
	return nil
}
