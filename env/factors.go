// Package env models environmental conditions as five [0,1] factors,
// optionally varied over space and time by a noise field.
package env

// Factors holds the environmental inputs to population growth. All values
// are clamped to [0,1]. Temperature and PH have a bell-shaped optimum at
// 0.5; Resources and Space scale growth linearly; Toxicity suppresses it.
type Factors struct {
	Temperature float64 `json:"temperature"`
	Resources   float64 `json:"resources"`
	Space       float64 `json:"space"`
	Toxicity    float64 `json:"toxicity"`
	PH          float64 `json:"ph"`
}

// Clamped returns a copy with every factor clamped to [0,1].
func (f Factors) Clamped() Factors {
	return Factors{
		Temperature: clamp01(f.Temperature),
		Resources:   clamp01(f.Resources),
		Space:       clamp01(f.Space),
		Toxicity:    clamp01(f.Toxicity),
		PH:          clamp01(f.PH),
	}
}

// Modifier aggregates the five factor responses into a single growth
// multiplier in [0,1]: bell response for temperature and pH, linear for
// resources and space, inverted linear for toxicity.
func (f Factors) Modifier() float64 {
	c := f.Clamped()
	m := bell(c.Temperature) * c.Resources * c.Space * (1 - c.Toxicity) * bell(c.PH)
	return clamp01(m)
}

// Stability is 1 minus the mean deviation of each factor from its optimum,
// in [0,1]. It feeds the predictor's confidence score.
func (f Factors) Stability() float64 {
	c := f.Clamped()
	dev := (2*abs(c.Temperature-0.5) +
		(1 - c.Resources) +
		(1 - c.Space) +
		c.Toxicity +
		2*abs(c.PH-0.5)) / 5
	return clamp01(1 - dev)
}

// bell maps [0,1] to [0,1] with its peak at 0.5 and zero at the extremes.
func bell(v float64) float64 {
	d := v - 0.5
	return clamp01(1 - 4*d*d)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
