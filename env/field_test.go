package env

import (
	"math"
	"testing"

	"github.com/petri-sim/petri/config"
)

func testFieldConfig() config.EnvironmentConfig {
	return config.EnvironmentConfig{
		Temperature: 0.5,
		Resources:   0.8,
		Space:       1,
		Toxicity:    0.1,
		PH:          0.5,
		NoiseScale:  0.01,
		Octaves:     3,
		Lacunarity:  2,
		Gain:        0.5,
		TimeSpeed:   0.1,
	}
}

func TestFieldFactorsInRange(t *testing.T) {
	f := NewField(testFieldConfig(), 42)
	for _, x := range []float64{0, 100, 400, 799} {
		for _, y := range []float64{0, 300, 599} {
			for _, tm := range []float64{0, 10, 1000} {
				got := f.FactorsAt(x, y, tm)
				for name, v := range map[string]float64{
					"temperature": got.Temperature,
					"resources":   got.Resources,
					"space":       got.Space,
					"toxicity":    got.Toxicity,
					"ph":          got.PH,
				} {
					if v < 0 || v > 1 {
						t.Errorf("FactorsAt(%v,%v,%v).%s = %v, out of [0,1]", x, y, tm, name, v)
					}
				}
			}
		}
	}
}

func TestFieldSpaceUnperturbed(t *testing.T) {
	f := NewField(testFieldConfig(), 42)
	for _, x := range []float64{0, 123, 456} {
		got := f.FactorsAt(x, x, 50)
		if got.Space != 1 {
			t.Errorf("Space = %v at x=%v, want the unperturbed base 1", got.Space, x)
		}
	}
}

func TestFieldPerturbationBounded(t *testing.T) {
	f := NewField(testFieldConfig(), 7)
	base := f.Base()
	for _, x := range []float64{0, 50, 200, 750} {
		got := f.FactorsAt(x, 2*x, 33)
		if d := math.Abs(got.Resources - base.Resources); d > perturbation+1e-12 {
			t.Errorf("resources drifted %v from base, want <= %v", d, perturbation)
		}
	}
}

func TestFieldDeterministic(t *testing.T) {
	a := NewField(testFieldConfig(), 99)
	b := NewField(testFieldConfig(), 99)
	if a.FactorsAt(10, 20, 30) != b.FactorsAt(10, 20, 30) {
		t.Error("identical seeds produced different factors")
	}

	c := NewField(testFieldConfig(), 100)
	if a.FactorsAt(10, 20, 30) == c.FactorsAt(10, 20, 30) {
		t.Error("different seeds produced identical factors")
	}
}

func TestFieldSnapshotMatchesOrigin(t *testing.T) {
	f := NewField(testFieldConfig(), 42)
	if f.Snapshot(12) != f.FactorsAt(0, 0, 12) {
		t.Error("Snapshot diverges from the origin sample")
	}
}
