package agent

import (
	"fmt"
	"math/rand"
	"sort"
)

// WalkSpeed is the random-walk displacement per second used by the batch
// update passes.
const WalkSpeed = 12.0

// Columnar is the structure-of-arrays view of an agent collection: one
// contiguous array per field plus a compact type-index array with a
// de-duplicated side table. The live range is [0, Len()); removal swaps with
// the last element, so iteration order is not stable.
type Columnar struct {
	X, Y       []float64
	Age        []float64
	TypeIndex  []uint16
	Reproduced []bool

	types   []*Type
	typeIdx map[*Type]uint16
}

// NewColumnar creates an empty columnar collection with the given capacity.
func NewColumnar(capacity int) *Columnar {
	return &Columnar{
		X:          make([]float64, 0, capacity),
		Y:          make([]float64, 0, capacity),
		Age:        make([]float64, 0, capacity),
		TypeIndex:  make([]uint16, 0, capacity),
		Reproduced: make([]bool, 0, capacity),
		typeIdx:    make(map[*Type]uint16),
	}
}

// Len returns the number of agents in the live range.
func (c *Columnar) Len() int { return len(c.X) }

// Type returns the type of the agent at index i.
func (c *Columnar) Type(i int) *Type { return c.types[c.TypeIndex[i]] }

// Append adds an agent to the end of the live range.
func (c *Columnar) Append(a Agent) error {
	if a.Type == nil {
		return ErrNilType
	}
	ti, ok := c.typeIdx[a.Type]
	if !ok {
		if len(c.types) >= 1<<16 {
			return fmt.Errorf("agent: type side table overflow")
		}
		ti = uint16(len(c.types))
		c.types = append(c.types, a.Type)
		c.typeIdx[a.Type] = ti
	}
	c.X = append(c.X, a.X)
	c.Y = append(c.Y, a.Y)
	c.Age = append(c.Age, a.Age)
	c.TypeIndex = append(c.TypeIndex, ti)
	c.Reproduced = append(c.Reproduced, a.Reproduced)
	return nil
}

// At materializes the agent at index i as a record.
func (c *Columnar) At(i int) Agent {
	return Agent{
		X:          c.X[i],
		Y:          c.Y[i],
		Age:        c.Age[i],
		Type:       c.types[c.TypeIndex[i]],
		Reproduced: c.Reproduced[i],
	}
}

// Remove deletes the agent at index i by swapping in the last element and
// truncating. The element previously at the end takes index i.
func (c *Columnar) Remove(i int) {
	last := len(c.X) - 1
	if i < 0 || i > last {
		return
	}
	c.X[i] = c.X[last]
	c.Y[i] = c.Y[last]
	c.Age[i] = c.Age[last]
	c.TypeIndex[i] = c.TypeIndex[last]
	c.Reproduced[i] = c.Reproduced[last]
	c.X = c.X[:last]
	c.Y = c.Y[:last]
	c.Age = c.Age[:last]
	c.TypeIndex = c.TypeIndex[:last]
	c.Reproduced = c.Reproduced[:last]
}

// RemoveAll deletes the agents at the given indices. Indices are processed
// highest-first so earlier swaps do not disturb later removals.
func (c *Columnar) RemoveAll(indices []int) {
	// Sort descending in place (insertion sort, the slices are short).
	for i := 1; i < len(indices); i++ {
		for j := i; j > 0 && indices[j] > indices[j-1]; j-- {
			indices[j], indices[j-1] = indices[j-1], indices[j]
		}
	}
	for _, i := range indices {
		c.Remove(i)
	}
}

// Compact shrinks the backing arrays toward the live range when utilization
// has fallen below 50%.
func (c *Columnar) Compact() {
	n := len(c.X)
	if cap(c.X) <= 2*n {
		return
	}
	target := 2 * n
	if target < 1 {
		target = 1
	}
	x := make([]float64, n, target)
	copy(x, c.X)
	c.X = x
	y := make([]float64, n, target)
	copy(y, c.Y)
	c.Y = y
	age := make([]float64, n, target)
	copy(age, c.Age)
	c.Age = age
	ti := make([]uint16, n, target)
	copy(ti, c.TypeIndex)
	c.TypeIndex = ti
	rep := make([]bool, n, target)
	copy(rep, c.Reproduced)
	c.Reproduced = rep
}

// CullOldest removes the oldest fraction of agents and shrinks the backing
// arrays. Used under aggressive memory pressure. Returns the number removed.
func (c *Columnar) CullOldest(fraction float64) int {
	if fraction <= 0 || c.Len() == 0 {
		return 0
	}
	if fraction > 1 {
		fraction = 1
	}
	n := int(float64(c.Len()) * fraction)
	if n == 0 {
		return 0
	}

	ages := make([]float64, len(c.Age))
	copy(ages, c.Age)
	sort.Float64s(ages)
	threshold := ages[len(ages)-n]

	removed := 0
	for i := 0; i < c.Len() && removed < n; {
		if c.Age[i] >= threshold {
			c.Remove(i)
			removed++
			continue // the swapped-in element now sits at i
		}
		i++
	}
	c.Compact()
	return removed
}

// UpdateOutcome reports the per-index results of a batch update pass.
type UpdateOutcome struct {
	ReproIdx []int // agents that passed the reproduction draw this step
	DeathIdx []int // agents that aged out or failed the survival draw
}

// BatchUpdate advances every agent in the live range: one pass each for age
// increment, random-walk movement, and bounds clamping, then a predicate
// pass for reproduction and death draws. Field-wise passes keep each column
// hot in cache. The caller owns applying the outcome (spawning and removal).
func (c *Columnar) BatchUpdate(rng *rand.Rand, dt, width, height float64) UpdateOutcome {
	n := len(c.X)

	for i := 0; i < n; i++ {
		c.Age[i] += dt
	}

	step := WalkSpeed * dt
	for i := 0; i < n; i++ {
		c.X[i] += (rng.Float64()*2 - 1) * step
		c.Y[i] += (rng.Float64()*2 - 1) * step
	}

	for i := 0; i < n; i++ {
		if c.X[i] < 0 {
			c.X[i] = 0
		} else if c.X[i] > width {
			c.X[i] = width
		}
		if c.Y[i] < 0 {
			c.Y[i] = 0
		} else if c.Y[i] > height {
			c.Y[i] = height
		}
	}

	var out UpdateOutcome
	for i := 0; i < n; i++ {
		t := c.types[c.TypeIndex[i]]
		if c.Age[i] > t.MaxAge || rng.Float64() < t.DeathRate*dt {
			out.DeathIdx = append(out.DeathIdx, i)
			continue
		}
		if !c.Reproduced[i] && rng.Float64() < t.GrowthRate*dt {
			c.Reproduced[i] = true
			out.ReproIdx = append(out.ReproIdx, i)
		}
	}
	return out
}

// ToColumnar converts the store's live agents into a columnar collection.
// The conversion is lossless field-for-field; element order follows slot
// order, which is not part of the contract.
func ToColumnar(s *Store) (*Columnar, error) {
	c := NewColumnar(s.Len())
	var err error
	s.Each(func(_ Handle, a *Agent) {
		if err != nil {
			return
		}
		err = c.Append(*a)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FromColumnar rebuilds a record store from a columnar collection. The soft
// limit is applied only after the rebuild so no agent is dropped.
func FromColumnar(c *Columnar, opts ...StoreOption) (*Store, error) {
	s := NewStore(c.Len())
	for i := 0; i < c.Len(); i++ {
		a := c.At(i)
		_, rebuilt, err := s.Acquire(a.X, a.Y, a.Type)
		if err != nil {
			return nil, fmt.Errorf("agent: rebuilding store: %w", err)
		}
		// Acquire resets age and the reproduced flag; restore them.
		rebuilt.Age = a.Age
		rebuilt.Reproduced = a.Reproduced
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}
