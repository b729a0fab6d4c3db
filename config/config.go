// Package config provides configuration loading and access for the simulation core.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	World       WorldConfig       `yaml:"world"`
	Pool        PoolConfig        `yaml:"pool"`
	Batch       BatchConfig       `yaml:"batch"`
	Spatial     SpatialConfig     `yaml:"spatial"`
	Workers     WorkerConfig      `yaml:"workers"`
	Predict     PredictConfig     `yaml:"predict"`
	Environment EnvironmentConfig `yaml:"environment"`
	Pressure    PressureConfig    `yaml:"pressure"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Species     []SpeciesConfig   `yaml:"species"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// WorldConfig holds simulation universe dimensions and population limits.
type WorldConfig struct {
	Width         float64 `yaml:"width"`  // Universe width in world units
	Height        float64 `yaml:"height"` // Universe height in world units
	MaxPopulation int     `yaml:"max_population"`
}

// PoolConfig holds agent store pool parameters.
type PoolConfig struct {
	InitialCapacity int     `yaml:"initial_capacity"`
	SoftLimit       int     `yaml:"soft_limit"`    // Above this, Acquire falls back to unpooled allocation
	CullFraction    float64 `yaml:"cull_fraction"` // Live agents removed under aggressive pressure
}

// BatchConfig holds batch scheduler parameters.
type BatchConfig struct {
	Size           int     `yaml:"size"`              // Initial batch size
	MaxFrameTimeMs float64 `yaml:"max_frame_time_ms"` // Per-frame processing budget
	TimeSlicing    bool    `yaml:"time_slicing"`
	AdaptFactor    float64 `yaml:"adapt_factor"`    // Multiplicative grow/shrink factor
	GrowThreshold  float64 `yaml:"grow_threshold"`  // Grow when avg cost < budget * this
	WindowSize     int     `yaml:"window_size"`     // Rolling timing samples fed to the policy
	MinSize        int     `yaml:"min_size"`
	MaxSize        int     `yaml:"max_size"`
}

// SpatialConfig holds quadtree parameters.
type SpatialConfig struct {
	NodeCapacity  int `yaml:"node_capacity"` // Elements per node before subdividing
	MaxDepth      int `yaml:"max_depth"`
	RebuildWindow int `yaml:"rebuild_window"` // Rolling samples for rebuild-duration stats
}

// WorkerConfig holds offload worker pool parameters.
type WorkerConfig struct {
	PoolSize   int     `yaml:"pool_size"`  // 0 = NumCPU clamped to 8
	TimeoutSec float64 `yaml:"timeout_sec"`
	QueueDepth int     `yaml:"queue_depth"` // Per-worker request buffer
}

// PredictConfig holds population predictor parameters.
type PredictConfig struct {
	OffloadThreshold int     `yaml:"offload_threshold"` // Populations above this may go to workers
	CacheSize        int     `yaml:"cache_size"`
	HistorySize      int     `yaml:"history_size"` // Retained population samples
	BaseCapacity     float64 `yaml:"base_capacity"` // Carrying capacity before size/environment scaling
}

// EnvironmentConfig holds environmental field parameters.
// Factor values are in [0,1]; the noise field perturbs them over space and time.
type EnvironmentConfig struct {
	Temperature float64 `yaml:"temperature"`
	Resources   float64 `yaml:"resources"`
	Space       float64 `yaml:"space"`
	Toxicity    float64 `yaml:"toxicity"`
	PH          float64 `yaml:"ph"`

	NoiseScale float64 `yaml:"noise_scale"` // Base noise frequency
	Octaves    int     `yaml:"octaves"`     // FBM octaves
	Lacunarity float64 `yaml:"lacunarity"`  // Frequency multiplier per octave
	Gain       float64 `yaml:"gain"`        // Amplitude multiplier per octave
	TimeSpeed  float64 `yaml:"time_speed"`  // Drift speed of the field (0 = static)
}

// PressureConfig holds memory pressure monitor parameters.
type PressureConfig struct {
	CheckIntervalMs int     `yaml:"check_interval_ms"`
	NormalMB        float64 `yaml:"normal_mb"`     // Heap size raising normal pressure
	AggressiveMB    float64 `yaml:"aggressive_mb"` // Heap size raising aggressive pressure
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         float64 `yaml:"stats_window"` // Seconds per stats window
	PerfCollectorWindow int     `yaml:"perf_collector_window"`
}

// SpeciesConfig defines an immutable agent type in the catalog.
type SpeciesConfig struct {
	Name       string  `yaml:"name"`
	Color      string  `yaml:"color"` // Hex color for the render boundary
	Size       float64 `yaml:"size"`
	GrowthRate float64 `yaml:"growth_rate"` // Per-second reproduction rate
	DeathRate  float64 `yaml:"death_rate"`  // Per-second mortality rate
	MaxAge     float64 `yaml:"max_age"`
}

// DerivedConfig holds values computed from loaded config.
type DerivedConfig struct {
	MaxFrameTime  time.Duration  // Batch.MaxFrameTimeMs as a Duration
	WorkerTimeout time.Duration  // Workers.TimeoutSec as a Duration
	WorkerPool    int            // Effective worker pool size
	SpeciesIndex  map[string]int // name -> index for species lookup
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	// Start with embedded defaults
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	// Load user config if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Compute derived values
	cfg.computeDerived()

	return cfg, nil
}

// validate rejects configurations that would violate core invariants.
func (c *Config) validate() error {
	if c.World.Width <= 0 || c.World.Height <= 0 {
		return fmt.Errorf("config: world dimensions must be positive, got %gx%g", c.World.Width, c.World.Height)
	}
	if len(c.Species) == 0 {
		return fmt.Errorf("config: at least one species is required")
	}
	seen := make(map[string]bool, len(c.Species))
	for _, sp := range c.Species {
		if sp.Name == "" {
			return fmt.Errorf("config: species with empty name")
		}
		if seen[sp.Name] {
			return fmt.Errorf("config: duplicate species %q", sp.Name)
		}
		seen[sp.Name] = true
		if sp.MaxAge <= 0 {
			return fmt.Errorf("config: species %q: max_age must be positive", sp.Name)
		}
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.MaxFrameTime = time.Duration(c.Batch.MaxFrameTimeMs * float64(time.Millisecond))
	c.Derived.WorkerTimeout = time.Duration(c.Workers.TimeoutSec * float64(time.Second))

	pool := c.Workers.PoolSize
	if pool <= 0 {
		pool = runtime.NumCPU()
	}
	if pool > 8 {
		pool = 8
	}
	c.Derived.WorkerPool = pool

	// Apply defaults to species that don't specify all fields
	for i := range c.Species {
		sp := &c.Species[i]
		if sp.Size == 0 {
			sp.Size = 1.0
		}
		if sp.Color == "" {
			sp.Color = "#4caf50"
		}
	}

	// Build species index for fast lookup
	c.Derived.SpeciesIndex = make(map[string]int, len(c.Species))
	for i, sp := range c.Species {
		c.Derived.SpeciesIndex[sp.Name] = i
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
