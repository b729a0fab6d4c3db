// Package predict projects future population from per-type growth curves.
package predict

import (
	"math"

	"github.com/petri-sim/petri/agent"
	"github.com/petri-sim/petri/env"
	"github.com/petri-sim/petri/worker"
)

// Kind selects the growth model integrated for a curve.
type Kind string

// Growth curve kinds.
const (
	Exponential Kind = "exponential"
	Logistic    Kind = "logistic"
	Gompertz    Kind = "gompertz"
	Competition Kind = "competition"
)

// DeriveCurve builds a growth curve for one agent type under the given
// environmental factors. The intrinsic rate scales with the aggregate
// environmental modifier; carrying capacity scales with the modifier and
// inversely with agent size; the stress coefficient is the type's death
// rate.
func DeriveCurve(t *agent.Type, factors env.Factors, baseK float64, kind Kind, initial float64) worker.CurveSpec {
	mod := factors.Modifier()
	size := t.Size
	if size <= 0 {
		size = 1
	}
	k := baseK * mod / size
	if k < 1 {
		k = 1
	}
	return worker.CurveSpec{
		TypeName: t.Name,
		Kind:     string(kind),
		R:        t.GrowthRate * mod,
		K:        k,
		T0:       0,
		Alpha:    0.1,
		Beta:     t.DeathRate,
		Initial:  initial,
	}
}

// Integrate advances every curve step-by-step over the horizon and sums the
// per-type series into a total. Populations are floored at zero; the
// competition kind couples each type to the combined size of the others.
func Integrate(curves []worker.CurveSpec, horizon int, dt float64) worker.PredictResult {
	res := worker.PredictResult{
		Total:  make([]float64, horizon),
		ByType: make(map[string][]float64, len(curves)),
	}
	pop := make([]float64, len(curves))
	for i, c := range curves {
		pop[i] = c.Initial
		res.ByType[c.TypeName] = make([]float64, horizon)
	}

	for step := 0; step < horizon; step++ {
		var total float64
		for _, p := range pop {
			total += p
		}
		for i := range curves {
			pop[i] = stepCurve(&curves[i], pop[i], total-pop[i], dt)
			res.ByType[curves[i].TypeName][step] = pop[i]
			res.Total[step] += pop[i]
		}
	}
	return res
}

// stepCurve advances one population by dt under its growth model.
func stepCurve(c *worker.CurveSpec, p, others, dt float64) float64 {
	if p <= 0 {
		return 0
	}
	var growth float64
	switch Kind(c.Kind) {
	case Exponential:
		growth = c.R * p
	case Gompertz:
		if p < c.K {
			growth = c.R * p * math.Log(c.K/p)
		}
	case Competition:
		growth = c.R * p * (1 - (p+c.Alpha*others)/c.K)
	default: // logistic
		growth = c.R * p * (1 - p/c.K)
	}
	next := p + (growth-c.Beta*p)*dt
	if next < 0 || math.IsNaN(next) {
		return 0
	}
	return next
}

// Eval returns the closed-form curve value at time t where one exists
// (exponential, logistic, gompertz); competition has no closed form and
// falls back to logistic.
func Eval(c worker.CurveSpec, t float64) float64 {
	r := c.R - c.Beta
	switch Kind(c.Kind) {
	case Exponential:
		return c.Initial * math.Exp(r*(t-c.T0))
	case Gompertz:
		if c.Initial <= 0 {
			return 0
		}
		b := math.Log(c.K / c.Initial)
		return c.K * math.Exp(-b*math.Exp(-r*(t-c.T0)))
	default:
		if c.Initial <= 0 {
			return 0
		}
		a := (c.K - c.Initial) / c.Initial
		return c.K / (1 + a*math.Exp(-r*(t-c.T0)))
	}
}

// TaskHandler serves all offload task types: prediction here, statistics
// and batch transforms via the worker package's default handler.
func TaskHandler(taskType worker.TaskType, payload any) (any, error) {
	if p, ok := payload.(worker.PredictPayload); ok {
		return Integrate(p.Curves, p.Horizon, p.DT), nil
	}
	return worker.DefaultHandler(taskType, payload)
}
