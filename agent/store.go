package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// Handle identifies an agent slot in a Store. Handles are dense indices, not
// pointers; they are invalidated by Compact and by aggressive pressure culls.
type Handle int

// NoHandle is returned when acquisition falls back to an unpooled agent.
const NoHandle Handle = -1

// ErrNilType is returned when an agent is acquired without a type.
var ErrNilType = errors.New("agent: acquire with nil type")

// Agent is a mutable simulation record. Agents are owned exclusively by the
// Store and mutated in place by the scheduler.
type Agent struct {
	X, Y       float64
	Age        float64
	Type       *Type
	Reproduced bool
}

// Store is a recycling pool of agent records. Freed slots are reused before
// the backing array grows; the backing array doubles on overflow and only
// shrinks via Compact. Not safe for concurrent use.
type Store struct {
	slots []Agent
	live  []bool
	free  []int

	softLimit    int     // above this live count, Acquire goes unpooled
	cullFraction float64 // share of live agents removed under aggressive pressure
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSoftLimit sets the live-agent count above which Acquire falls back to
// unpooled allocation instead of growing the pool. 0 disables the limit.
func WithSoftLimit(n int) StoreOption {
	return func(s *Store) { s.softLimit = n }
}

// WithCullFraction sets the share of live agents removed on aggressive
// memory pressure.
func WithCullFraction(f float64) StoreOption {
	return func(s *Store) { s.cullFraction = f }
}

// NewStore creates a store with the given initial capacity.
func NewStore(capacity int, opts ...StoreOption) *Store {
	if capacity < 1 {
		capacity = 1
	}
	s := &Store{
		slots:        make([]Agent, 0, capacity),
		live:         make([]bool, 0, capacity),
		cullFraction: 0.3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of live agents.
func (s *Store) Len() int { return len(s.slots) - len(s.free) }

// Cap returns the pool capacity.
func (s *Store) Cap() int { return cap(s.slots) }

// Acquire returns a handle to a recycled or freshly allocated agent,
// initialized with age 0 and an unset reproduced flag. When a free slot
// exists no allocation happens. Above the soft limit the agent is handed
// back unpooled (NoHandle) rather than failing the caller.
func (s *Store) Acquire(x, y float64, typ *Type) (Handle, *Agent, error) {
	if typ == nil {
		return NoHandle, nil, ErrNilType
	}
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
		return NoHandle, nil, fmt.Errorf("agent: non-finite position (%g, %g)", x, y)
	}

	a := Agent{X: x, Y: y, Type: typ}

	if s.softLimit > 0 && s.Len() >= s.softLimit {
		// Pool is under pressure; give the caller a detached record.
		out := a
		return NoHandle, &out, nil
	}

	if n := len(s.free); n > 0 {
		i := s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[i] = a
		s.live[i] = true
		return Handle(i), &s.slots[i], nil
	}

	if len(s.slots) == cap(s.slots) {
		s.grow(2 * cap(s.slots))
	}
	s.slots = append(s.slots, a)
	s.live = append(s.live, true)
	return Handle(len(s.slots) - 1), &s.slots[len(s.slots)-1], nil
}

// Release resets the slot and returns it to the pool. Releasing an invalid
// or already-free handle is a no-op; Release never panics.
func (s *Store) Release(h Handle) {
	i := int(h)
	if i < 0 || i >= len(s.slots) || !s.live[i] {
		return
	}
	s.slots[i] = Agent{}
	s.live[i] = false
	s.free = append(s.free, i)
}

// Get returns the agent for a handle, or nil if the slot is not live.
func (s *Store) Get(h Handle) *Agent {
	i := int(h)
	if i < 0 || i >= len(s.slots) || !s.live[i] {
		return nil
	}
	return &s.slots[i]
}

// Each calls fn for every live agent.
func (s *Store) Each(fn func(h Handle, a *Agent)) {
	for i := range s.slots {
		if s.live[i] {
			fn(Handle(i), &s.slots[i])
		}
	}
}

// grow reallocates the backing arrays with the given capacity.
func (s *Store) grow(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	slots := make([]Agent, len(s.slots), capacity)
	copy(slots, s.slots)
	s.slots = slots
	live := make([]bool, len(s.live), capacity)
	copy(live, s.live)
	s.live = live
}

// Compact packs live agents to the front of the pool and shrinks capacity
// toward 2*size when utilization has fallen below 50%. Slot order is not
// stable; existing handles are invalidated.
func (s *Store) Compact() {
	size := s.Len()

	// Fill holes from the tail, swap-with-last style.
	w := 0
	for i := range s.slots {
		if s.live[i] {
			if i != w {
				s.slots[w] = s.slots[i]
			}
			w++
		}
	}
	s.slots = s.slots[:size]
	s.live = s.live[:size]
	for i := range s.live {
		s.live[i] = true
	}
	s.free = s.free[:0]

	if cap(s.slots) > 2*size && size*2 < cap(s.slots) {
		target := 2 * size
		if target < 1 {
			target = 1
		}
		slots := make([]Agent, size, target)
		copy(slots, s.slots)
		s.slots = slots
		live := make([]bool, size, target)
		copy(live, s.live)
		s.live = live
	}
}

// TrimFree releases excess free-list backing storage. Used on normal memory
// pressure; live agents and recyclable slots are untouched.
func (s *Store) TrimFree() {
	if len(s.free) == 0 {
		s.free = nil
		return
	}
	free := make([]int, len(s.free))
	copy(free, s.free)
	s.free = free
}

// Cull releases the oldest fraction of live agents. Fraction is clamped to
// [0,1]; returns the number released.
func (s *Store) Cull(fraction float64) int {
	if fraction <= 0 || s.Len() == 0 {
		return 0
	}
	if fraction > 1 {
		fraction = 1
	}
	type aged struct {
		idx int
		age float64
	}
	liveIdx := make([]aged, 0, s.Len())
	for i := range s.slots {
		if s.live[i] {
			liveIdx = append(liveIdx, aged{i, s.slots[i].Age})
		}
	}
	sort.Slice(liveIdx, func(a, b int) bool { return liveIdx[a].age > liveIdx[b].age })

	n := int(float64(len(liveIdx)) * fraction)
	for _, v := range liveIdx[:n] {
		s.Release(Handle(v.idx))
	}
	return n
}

// OnPressure reacts to a memory pressure level. Normal pressure trims the
// free pool; aggressive pressure additionally culls part of the live
// population and compacts. Must be called from the simulation context (the
// driver drains the pressure queue between ticks).
func (s *Store) OnPressure(aggressive bool) {
	s.TrimFree()
	if aggressive {
		n := s.Cull(s.cullFraction)
		s.Compact()
		slog.Info("store culled under memory pressure", "released", n, "size", s.Len(), "cap", s.Cap())
	}
}
