package telemetry

import (
	"sort"
)

// WindowStats holds aggregated simulation statistics for one time window.
type WindowStats struct {
	WindowEndTick int64   `csv:"window_end"`
	SimTimeSec    float64 `csv:"sim_time"`

	// Population at window end
	Population int `csv:"population"`

	// Events during the window
	Births int `csv:"births"`
	Deaths int `csv:"deaths"`
	Culled int `csv:"culled"`

	// Scheduler state
	BatchSize  int     `csv:"batch_size"`
	AvgBatchMs float64 `csv:"avg_batch_ms"`

	// Spatial index
	SpatialNodes    int     `csv:"spatial_nodes"`
	SpatialElements int     `csv:"spatial_elements"`
	RebuildUs       int64   `csv:"rebuild_us"`

	// Age distribution (sampled at window end)
	AgeMean float64 `csv:"age_mean"`
	AgeP10  float64 `csv:"age_p10"`
	AgeP50  float64 `csv:"age_p50"`
	AgeP90  float64 `csv:"age_p90"`

	// Latest prediction
	PredictedPeak float64 `csv:"predicted_peak"`
	Confidence    float64 `csv:"confidence"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if the slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	pos := p * float64(n-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeAgeStats returns mean, p10, p50, p90 over the given ages.
// The input slice is sorted in place.
func ComputeAgeStats(ages []float64) (mean, p10, p50, p90 float64) {
	if len(ages) == 0 {
		return 0, 0, 0, 0
	}
	var sum float64
	for _, v := range ages {
		sum += v
	}
	mean = sum / float64(len(ages))

	sort.Float64s(ages)
	return mean, Percentile(ages, 0.1), Percentile(ages, 0.5), Percentile(ages, 0.9)
}

// Collector accumulates window events between flushes.
type Collector struct {
	windowTicks int64
	windowStart int64

	births int
	deaths int
	culled int
}

// NewCollector creates a collector flushing every windowSec of simulated
// time at the given tick rate.
func NewCollector(windowSec, dt float64) *Collector {
	ticks := int64(windowSec / dt)
	if ticks < 1 {
		ticks = 1
	}
	return &Collector{windowTicks: ticks}
}

// RecordBirths adds births to the current window.
func (c *Collector) RecordBirths(n int) { c.births += n }

// RecordDeaths adds deaths to the current window.
func (c *Collector) RecordDeaths(n int) { c.deaths += n }

// RecordCulled adds pressure-culled agents to the current window.
func (c *Collector) RecordCulled(n int) { c.culled += n }

// ShouldFlush reports whether the window has elapsed.
func (c *Collector) ShouldFlush(tick int64) bool {
	return tick-c.windowStart >= c.windowTicks
}

// Flush folds the window counters into stats and resets them.
func (c *Collector) Flush(tick int64, stats *WindowStats) {
	stats.WindowEndTick = tick
	stats.Births = c.births
	stats.Deaths = c.deaths
	stats.Culled = c.culled

	c.births, c.deaths, c.culled = 0, 0, 0
	c.windowStart = tick
}
