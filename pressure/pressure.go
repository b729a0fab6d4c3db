// Package pressure delivers memory-pressure signals to simulation
// components through an explicit observer list.
package pressure

import (
	"sync"
)

// Level is a memory pressure severity.
type Level string

// Pressure levels.
const (
	Normal     Level = "normal"     // trim reusable pools
	Aggressive Level = "aggressive" // also cull live population and compact
)

// Bus is a fire-and-forget observer list. Publish runs every subscriber
// synchronously on the publishing goroutine; subscribers that need the
// single-threaded simulation context should enqueue (see Queue) instead of
// acting directly.
type Bus struct {
	mu   sync.Mutex
	subs []func(Level)
}

// NewBus creates an empty bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers an observer. Observers cannot be removed; create a new
// bus for a new simulation.
func (b *Bus) Subscribe(fn func(Level)) {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

// Publish delivers a level to every observer. Reentrant: an observer may
// publish again, and subscribers registered mid-publish are picked up on the
// next publish.
func (b *Bus) Publish(level Level) {
	b.mu.Lock()
	subs := make([]func(Level), len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(level)
	}
}

// Queue adapts the bus to a polling consumer: the driver drains it between
// scheduler ticks so pressure handling happens at a safe point even though
// the signal can fire at any time. A pending lower level is coalesced into a
// later aggressive one.
type Queue struct {
	mu      sync.Mutex
	pending Level
	has     bool
}

// NewQueue subscribes a queue to the bus.
func NewQueue(bus *Bus) *Queue {
	q := &Queue{}
	bus.Subscribe(q.push)
	return q
}

func (q *Queue) push(level Level) {
	q.mu.Lock()
	if !q.has || level == Aggressive {
		q.pending = level
		q.has = true
	}
	q.mu.Unlock()
}

// Poll returns the most severe undelivered level, if any.
func (q *Queue) Poll() (Level, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.has {
		return "", false
	}
	q.has = false
	return q.pending, true
}
