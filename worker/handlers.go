package worker

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultHandler serves the statistics and batch-transform task types. The
// prediction handler lives with the predictor, which layers on top of this.
func DefaultHandler(taskType TaskType, payload any) (any, error) {
	switch p := payload.(type) {
	case StatsPayload:
		return Statistics(p), nil
	case BatchPayload:
		return AdvanceBatch(p), nil
	default:
		return nil, fmt.Errorf("worker: no handler for task type %q", taskType)
	}
}

// Statistics computes age and spatial-extent statistics over raw columns.
func Statistics(p StatsPayload) StatsResult {
	n := len(p.Age)
	res := StatsResult{Count: n}
	if n == 0 {
		return res
	}

	res.MeanAge = stat.Mean(p.Age, nil)
	if n > 1 {
		res.StdAge = stat.StdDev(p.Age, nil)
	}

	res.MinX, res.MaxX = math.Inf(1), math.Inf(-1)
	res.MinY, res.MaxY = math.Inf(1), math.Inf(-1)
	for i := 0; i < n; i++ {
		res.MinX = math.Min(res.MinX, p.X[i])
		res.MaxX = math.Max(res.MaxX, p.X[i])
		res.MinY = math.Min(res.MinY, p.Y[i])
		res.MaxY = math.Max(res.MaxY, p.Y[i])
	}
	return res
}

// AdvanceBatch ages the columns by one step and clamps positions to the
// given bounds. Movement draws stay on the simulation side; workers only do
// the deterministic part.
func AdvanceBatch(p BatchPayload) BatchResult {
	n := len(p.Age)
	res := BatchResult{
		X:   make([]float64, n),
		Y:   make([]float64, n),
		Age: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		res.Age[i] = p.Age[i] + p.DT
		res.X[i] = clampTo(p.X[i], 0, p.Width)
		res.Y[i] = clampTo(p.Y[i], 0, p.Height)
	}
	return res
}

func clampTo(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
