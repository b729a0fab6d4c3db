// Package sched processes agent collections in time-sliced batches.
package sched

import (
	"log/slog"
	"time"
)

// Config holds the batch processing parameters. It is shared between the
// Scheduler and an AdaptPolicy, which mutates BatchSize at runtime.
type Config struct {
	BatchSize      int
	MaxFrameTimeMs float64
	TimeSlicing    bool
}

// UpdateFunc advances a single agent by index. Delta time and world bounds
// are bound by the caller's closure.
type UpdateFunc func(i int) error

// ReproFunc evaluates reproduction for a single agent and returns the number
// of offspring it created. Implementations must spawn at most one offspring
// per call: the ceiling is re-checked between calls, so a multi-spawn step
// could overshoot the population limit.
type ReproFunc func(i int) (int, error)

// Result describes one ProcessBatch invocation.
type Result struct {
	Processed int
	Elapsed   time.Duration
	Completed bool // cursor reached the end and wrapped to 0
	Remaining int  // agents left before the cursor wraps
}

// ReproResult describes one ProcessReproduction invocation.
type ReproResult struct {
	Result
	Spawned int
}

// Scheduler advances a bounded slice of agents per invocation, resuming from
// a persistent cursor so no agent is skipped across frames. The cursor is
// shared by every Process method of one instance, so a pass that must cover
// the whole collection on its own needs its own Scheduler (instances can
// share a Config). Not safe for concurrent use; the simulation loop is
// single-threaded and cooperative.
type Scheduler struct {
	cfg    *Config
	cursor int
}

// New creates a scheduler around a shared config.
func New(cfg *Config) *Scheduler {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Scheduler{cfg: cfg}
}

// Config returns the shared config so an adaptation policy can observe and
// mutate it.
func (s *Scheduler) Config() *Config { return s.cfg }

// Cursor returns the current resume offset.
func (s *Scheduler) Cursor() int { return s.cursor }

// overBudget reports whether elapsed wall time has exceeded the frame
// budget. Whole-millisecond comparison: a zero budget yields at the first
// millisecond boundary, not before the first agent.
func (s *Scheduler) overBudget(start time.Time) bool {
	if !s.cfg.TimeSlicing {
		return false
	}
	return float64(time.Since(start).Milliseconds()) > s.cfg.MaxFrameTimeMs
}

// ProcessBatch advances at most BatchSize agents starting at the cursor,
// stopping early once the frame budget is exceeded. A per-agent error or
// panic is logged and skipped; it never aborts the rest of the batch. When
// the cursor reaches n it wraps to 0 and Completed is set.
func (s *Scheduler) ProcessBatch(n int, update UpdateFunc) Result {
	start := time.Now()

	if n == 0 {
		s.cursor = 0
		return Result{Completed: true, Elapsed: time.Since(start)}
	}
	if s.cursor >= n {
		// Collection shrank below the cursor since the last call.
		s.cursor = 0
	}

	end := s.cursor + s.cfg.BatchSize
	if end > n {
		end = n
	}

	processed := 0
	i := s.cursor
	for ; i < end; i++ {
		safeUpdate(update, i)
		processed++
		if s.overBudget(start) {
			i++
			break
		}
	}
	s.cursor = i

	res := Result{
		Processed: processed,
		Elapsed:   time.Since(start),
		Remaining: n - s.cursor,
	}
	if s.cursor >= n {
		s.cursor = 0
		res.Completed = true
		res.Remaining = 0
	}
	return res
}

// ProcessReproduction runs reproduction over a batch with the same slicing
// discipline as ProcessBatch, and additionally halts as soon as the
// population ceiling is reached: n plus everything spawned so far never
// exceeds maxPopulation.
func (s *Scheduler) ProcessReproduction(n int, repro ReproFunc, maxPopulation int) ReproResult {
	start := time.Now()

	res := ReproResult{}
	if n == 0 {
		s.cursor = 0
		res.Completed = true
		res.Elapsed = time.Since(start)
		return res
	}
	if s.cursor >= n {
		s.cursor = 0
	}
	if n >= maxPopulation {
		res.Remaining = n - s.cursor
		res.Elapsed = time.Since(start)
		return res
	}

	end := s.cursor + s.cfg.BatchSize
	if end > n {
		end = n
	}

	i := s.cursor
	for ; i < end; i++ {
		spawned := safeRepro(repro, i)
		res.Spawned += spawned
		res.Processed++
		if n+res.Spawned >= maxPopulation {
			i++
			break
		}
		if s.overBudget(start) {
			i++
			break
		}
	}
	s.cursor = i

	res.Remaining = n - s.cursor
	if s.cursor >= n {
		s.cursor = 0
		res.Completed = true
		res.Remaining = 0
	}
	res.Elapsed = time.Since(start)
	return res
}

// FullPass is the unoptimized fallback: a single uninterrupted pass over the
// whole collection, used when batch-level processing fails. It resets the
// cursor so the next sliced pass starts clean.
func (s *Scheduler) FullPass(n int, update UpdateFunc) Result {
	start := time.Now()
	for i := 0; i < n; i++ {
		safeUpdate(update, i)
	}
	s.cursor = 0
	return Result{Processed: n, Elapsed: time.Since(start), Completed: true}
}

func safeUpdate(update UpdateFunc, i int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("agent update panicked", "index", i, "panic", r)
		}
	}()
	if err := update(i); err != nil {
		slog.Warn("agent update failed", "index", i, "error", err)
	}
}

func safeRepro(repro ReproFunc, i int) int {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("agent reproduction panicked", "index", i, "panic", r)
		}
	}()
	spawned, err := repro(i)
	if err != nil {
		slog.Warn("agent reproduction failed", "index", i, "error", err)
		return 0
	}
	return spawned
}
