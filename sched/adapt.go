package sched

import (
	"time"
)

// AdaptPolicy tunes a scheduler's batch size from measured processing cost.
// It is deliberately separate from the Scheduler: the scheduler slices work,
// the policy observes timing samples and mutates the shared Config.
type AdaptPolicy struct {
	cfg *Config

	samples []float64 // rolling window of batch durations in ms
	idx     int
	n       int

	factor    float64 // multiplicative grow/shrink step
	growBelow float64 // grow when avg < budget * growBelow
	minSize   int
	maxSize   int
}

// AdaptOption configures an AdaptPolicy.
type AdaptOption func(*AdaptPolicy)

// WithWindow sets the number of timing samples averaged. Default 10.
func WithWindow(n int) AdaptOption {
	return func(p *AdaptPolicy) {
		if n > 0 {
			p.samples = make([]float64, n)
		}
	}
}

// WithFactor sets the multiplicative adjustment step. Default 1.2.
func WithFactor(f float64) AdaptOption {
	return func(p *AdaptPolicy) {
		if f > 1 {
			p.factor = f
		}
	}
}

// WithGrowBelow sets the fraction of the budget under which the batch grows.
// Default 0.7.
func WithGrowBelow(f float64) AdaptOption {
	return func(p *AdaptPolicy) {
		if f > 0 && f < 1 {
			p.growBelow = f
		}
	}
}

// WithSizeBounds clamps the batch size range. Default [1, 1000].
func WithSizeBounds(min, max int) AdaptOption {
	return func(p *AdaptPolicy) {
		if min >= 1 {
			p.minSize = min
		}
		if max >= min {
			p.maxSize = max
		}
	}
}

// NewAdaptPolicy creates a policy bound to the scheduler's shared config.
func NewAdaptPolicy(cfg *Config, opts ...AdaptOption) *AdaptPolicy {
	p := &AdaptPolicy{
		cfg:       cfg,
		samples:   make([]float64, 10),
		factor:    1.2,
		growBelow: 0.7,
		minSize:   1,
		maxSize:   1000,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Observe feeds one measured batch duration into the rolling window and
// adjusts the batch size: shrink when the average exceeds the frame budget,
// grow when it sits below growBelow of the budget.
func (p *AdaptPolicy) Observe(elapsed time.Duration) {
	p.samples[p.idx] = float64(elapsed) / float64(time.Millisecond)
	p.idx = (p.idx + 1) % len(p.samples)
	if p.n < len(p.samples) {
		p.n++
	}

	avg := p.average()
	target := p.cfg.MaxFrameTimeMs

	size := p.cfg.BatchSize
	switch {
	case avg > target:
		next := int(float64(size) / p.factor)
		if next >= size {
			next = size - 1
		}
		size = next
	case avg < target*p.growBelow:
		next := int(float64(size) * p.factor)
		if next <= size {
			next = size + 1
		}
		size = next
	}

	if size < p.minSize {
		size = p.minSize
	}
	if size > p.maxSize {
		size = p.maxSize
	}
	p.cfg.BatchSize = size
}

// Average returns the rolling mean batch duration in milliseconds.
func (p *AdaptPolicy) Average() float64 { return p.average() }

func (p *AdaptPolicy) average() float64 {
	if p.n == 0 {
		return 0
	}
	var total float64
	for i := 0; i < p.n; i++ {
		total += p.samples[i]
	}
	return total / float64(p.n)
}
