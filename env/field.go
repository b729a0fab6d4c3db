package env

import (
	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/petri-sim/petri/config"
)

// Per-factor offsets into the noise domain so the five channels decorrelate.
const (
	chanTemperature = 0.0
	chanResources   = 37.1
	chanToxicity    = 74.3
	chanPH          = 111.7
)

// perturbation is the maximum noise displacement applied to a base factor.
const perturbation = 0.25

// Field layers fractal noise over a set of base factors, giving each point
// of the universe its own local conditions that drift over time. Space is
// left unperturbed: it reflects global crowding, not location.
type Field struct {
	noise      opensimplex.Noise
	base       Factors
	scale      float64
	octaves    int
	lacunarity float64
	gain       float64
	timeSpeed  float64
}

// NewField creates a noise field from environment config and a seed.
func NewField(cfg config.EnvironmentConfig, seed int64) *Field {
	octaves := cfg.Octaves
	if octaves < 1 {
		octaves = 1
	}
	return &Field{
		noise: opensimplex.NewNormalized(seed),
		base: Factors{
			Temperature: cfg.Temperature,
			Resources:   cfg.Resources,
			Space:       cfg.Space,
			Toxicity:    cfg.Toxicity,
			PH:          cfg.PH,
		}.Clamped(),
		scale:      cfg.NoiseScale,
		octaves:    octaves,
		lacunarity: cfg.Lacunarity,
		gain:       cfg.Gain,
		timeSpeed:  cfg.TimeSpeed,
	}
}

// Base returns the unperturbed factors.
func (f *Field) Base() Factors { return f.base }

// FactorsAt samples the local conditions at a world position and simulation
// time. Results are always clamped to [0,1].
func (f *Field) FactorsAt(x, y, t float64) Factors {
	z := t * f.timeSpeed
	out := Factors{
		Temperature: f.base.Temperature + f.offset(x, y, z, chanTemperature),
		Resources:   f.base.Resources + f.offset(x, y, z, chanResources),
		Space:       f.base.Space,
		Toxicity:    f.base.Toxicity + f.offset(x, y, z, chanToxicity),
		PH:          f.base.PH + f.offset(x, y, z, chanPH),
	}
	return out.Clamped()
}

// Snapshot returns the global conditions at a simulation time, sampled at
// the universe origin. Per-agent decisions use FactorsAt.
func (f *Field) Snapshot(t float64) Factors {
	return f.FactorsAt(0, 0, t)
}

// offset returns a perturbation in [-perturbation, perturbation].
func (f *Field) offset(x, y, z, channel float64) float64 {
	return (f.fbm(x*f.scale, y*f.scale, z+channel)*2 - 1) * perturbation
}

// fbm is fractal Brownian motion over the normalized noise, in [0,1].
func (f *Field) fbm(x, y, z float64) float64 {
	amp, freq := 1.0, 1.0
	var sum, norm float64
	for o := 0; o < f.octaves; o++ {
		sum += amp * f.noise.Eval3(x*freq, y*freq, z)
		norm += amp
		amp *= f.gain
		freq *= f.lacunarity
	}
	if norm == 0 {
		return 0.5
	}
	return sum / norm
}
