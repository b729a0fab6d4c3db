package sched

import (
	"testing"
	"time"
)

// observeCost simulates a batch costing perItem per agent at the current size.
func observeCost(p *AdaptPolicy, cfg *Config, perItem time.Duration) {
	p.Observe(time.Duration(cfg.BatchSize) * perItem)
}

func TestAdaptConvergesWithinBudget(t *testing.T) {
	cfg := &Config{BatchSize: 10, MaxFrameTimeMs: 16, TimeSlicing: true}
	p := NewAdaptPolicy(cfg, WithWindow(1))

	// Each agent costs 1ms, so the stable band is (11.2, 16] agents.
	converged := false
	for cycle := 0; cycle < 10; cycle++ {
		observeCost(p, cfg, time.Millisecond)
		avg := float64(cfg.BatchSize)
		if avg <= cfg.MaxFrameTimeMs && avg >= cfg.MaxFrameTimeMs*0.7 {
			converged = true
			break
		}
	}
	if !converged {
		t.Fatalf("batch size %d did not settle within budget in 10 cycles", cfg.BatchSize)
	}

	// Once in the band it must stay there.
	for cycle := 0; cycle < 5; cycle++ {
		observeCost(p, cfg, time.Millisecond)
		avg := float64(cfg.BatchSize)
		if avg > cfg.MaxFrameTimeMs || avg < cfg.MaxFrameTimeMs*0.7 {
			t.Fatalf("batch size %d left the stable band after converging", cfg.BatchSize)
		}
	}
}

func TestAdaptShrinksWhenOverBudget(t *testing.T) {
	cfg := &Config{BatchSize: 100, MaxFrameTimeMs: 16, TimeSlicing: true}
	p := NewAdaptPolicy(cfg, WithWindow(1))

	p.Observe(100 * time.Millisecond)
	if cfg.BatchSize >= 100 {
		t.Errorf("batch size %d, want a shrink from 100", cfg.BatchSize)
	}
	if cfg.BatchSize != 83 { // 100 / 1.2
		t.Errorf("batch size %d, want 83", cfg.BatchSize)
	}
}

func TestAdaptGrowsWhenUnderBudget(t *testing.T) {
	cfg := &Config{BatchSize: 10, MaxFrameTimeMs: 16, TimeSlicing: true}
	p := NewAdaptPolicy(cfg, WithWindow(1))

	p.Observe(time.Millisecond)
	if cfg.BatchSize != 12 { // 10 * 1.2
		t.Errorf("batch size %d, want 12", cfg.BatchSize)
	}
}

func TestAdaptGrowsByAtLeastOne(t *testing.T) {
	cfg := &Config{BatchSize: 1, MaxFrameTimeMs: 16, TimeSlicing: true}
	p := NewAdaptPolicy(cfg, WithWindow(1))

	// int(1 * 1.2) == 1, so the step must fall back to +1.
	p.Observe(time.Millisecond)
	if cfg.BatchSize != 2 {
		t.Errorf("batch size %d, want 2", cfg.BatchSize)
	}
}

func TestAdaptClampsToBounds(t *testing.T) {
	cfg := &Config{BatchSize: 10, MaxFrameTimeMs: 16, TimeSlicing: true}
	p := NewAdaptPolicy(cfg, WithWindow(1), WithSizeBounds(5, 20))

	for i := 0; i < 50; i++ {
		p.Observe(time.Millisecond) // always under budget
	}
	if cfg.BatchSize != 20 {
		t.Errorf("batch size %d, want clamped max 20", cfg.BatchSize)
	}

	for i := 0; i < 50; i++ {
		p.Observe(time.Second) // always over budget
	}
	if cfg.BatchSize != 5 {
		t.Errorf("batch size %d, want clamped min 5", cfg.BatchSize)
	}
}

func TestAdaptRollingAverage(t *testing.T) {
	cfg := &Config{BatchSize: 10, MaxFrameTimeMs: 1000, TimeSlicing: true}
	p := NewAdaptPolicy(cfg, WithWindow(4))

	if p.Average() != 0 {
		t.Errorf("empty average = %v, want 0", p.Average())
	}
	for _, ms := range []time.Duration{2, 4, 6, 8} {
		p.Observe(ms * time.Millisecond)
	}
	if got := p.Average(); got != 5 {
		t.Errorf("average = %v, want 5", got)
	}
	// A fifth sample evicts the oldest.
	p.Observe(10 * time.Millisecond)
	if got := p.Average(); got != 7 {
		t.Errorf("average after eviction = %v, want 7", got)
	}
}
