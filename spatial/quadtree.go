// Package spatial provides a quadtree index over a fixed rectangular universe.
package spatial

import (
	"time"
)

// Rect is an axis-aligned rectangle.
type Rect struct {
	X, Y float64 // min corner
	W, H float64
}

// Contains reports whether the point lies inside the rectangle.
// Edges are inclusive so universe-boundary points are never lost.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.W && y >= r.Y && y <= r.Y+r.H
}

// Intersects reports whether two rectangles overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.X <= o.X+o.W && o.X <= r.X+r.W && r.Y <= o.Y+o.H && o.Y <= r.Y+r.H
}

// point is an indexed position stored in a node.
type point struct {
	idx  int
	x, y float64
}

// node is a capacity-bounded bucket that subdivides when it overflows.
type node struct {
	bounds   Rect
	depth    int
	points   []point
	children []node // nil or 4 quadrants
}

// Stats describes the current tree shape and recent rebuild cost.
type Stats struct {
	Nodes       int
	Elements    int
	LastRebuild time.Duration
	AvgRebuild  time.Duration
}

// Tree partitions a fixed universe into capacity-bounded buckets. It is
// rebuilt from scratch against each new agent snapshot; there is no
// incremental update. Not safe for concurrent use.
type Tree struct {
	universe Rect
	capacity int
	maxDepth int

	root     node
	nodes    int
	elements int

	// Rolling rebuild durations for adaptive tuning elsewhere.
	rebuilds   []time.Duration
	rebuildIdx int
	rebuildN   int
	last       time.Duration
}

// NewTree creates a tree over the given universe. nodeCapacity is the bucket
// size before subdivision; maxDepth bounds recursion in degenerate clusters.
func NewTree(universe Rect, nodeCapacity, maxDepth, statWindow int) *Tree {
	if nodeCapacity < 1 {
		nodeCapacity = 1
	}
	if maxDepth < 1 {
		maxDepth = 8
	}
	if statWindow < 1 {
		statWindow = 30
	}
	return &Tree{
		universe: universe,
		capacity: nodeCapacity,
		maxDepth: maxDepth,
		rebuilds: make([]time.Duration, statWindow),
	}
}

// Rebuild discards all prior structure and indexes every position from
// scratch. Positions outside the universe are clamped onto its boundary so
// the element count always equals len(xs).
func (t *Tree) Rebuild(xs, ys []float64) {
	start := time.Now()

	t.root = node{bounds: t.universe}
	t.nodes = 1
	t.elements = 0

	for i := range xs {
		x, y := clamp(xs[i], t.universe.X, t.universe.X+t.universe.W), clamp(ys[i], t.universe.Y, t.universe.Y+t.universe.H)
		t.insert(&t.root, point{idx: i, x: x, y: y})
		t.elements++
	}

	t.last = time.Since(start)
	t.rebuilds[t.rebuildIdx] = t.last
	t.rebuildIdx = (t.rebuildIdx + 1) % len(t.rebuilds)
	if t.rebuildN < len(t.rebuilds) {
		t.rebuildN++
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (t *Tree) insert(n *node, p point) {
	for n.children != nil {
		n = &n.children[n.childIndex(p.x, p.y)]
	}
	n.points = append(n.points, p)
	if len(n.points) > t.capacity && n.depth < t.maxDepth {
		t.subdivide(n)
	}
}

// childIndex picks the quadrant for a point: 0=NW 1=NE 2=SW 3=SE.
func (n *node) childIndex(x, y float64) int {
	midX := n.bounds.X + n.bounds.W/2
	midY := n.bounds.Y + n.bounds.H/2
	i := 0
	if x >= midX {
		i |= 1
	}
	if y >= midY {
		i |= 2
	}
	return i
}

func (t *Tree) subdivide(n *node) {
	hw, hh := n.bounds.W/2, n.bounds.H/2
	x, y := n.bounds.X, n.bounds.Y
	d := n.depth + 1
	n.children = []node{
		{bounds: Rect{x, y, hw, hh}, depth: d},
		{bounds: Rect{x + hw, y, hw, hh}, depth: d},
		{bounds: Rect{x, y + hh, hw, hh}, depth: d},
		{bounds: Rect{x + hw, y + hh, hw, hh}, depth: d},
	}
	t.nodes += 4

	pts := n.points
	n.points = nil
	for _, p := range pts {
		c := &n.children[n.childIndex(p.x, p.y)]
		c.points = append(c.points, p)
		// No recursive split here: a child holding the full parent bucket is
		// split on the next insert that lands in it.
	}
}

// QueryInto appends the indices of all points inside region to dst and
// returns the extended slice. Region edges are inclusive; matching points
// are never omitted. Reuse dst across calls to avoid allocation.
func (t *Tree) QueryInto(dst []int, region Rect) []int {
	return t.query(&t.root, region, dst)
}

// Query returns the indices of all points inside region.
func (t *Tree) Query(region Rect) []int {
	return t.QueryInto(nil, region)
}

func (t *Tree) query(n *node, region Rect, dst []int) []int {
	if !n.bounds.Intersects(region) {
		return dst
	}
	for _, p := range n.points {
		if region.Contains(p.x, p.y) {
			dst = append(dst, p.idx)
		}
	}
	if n.children != nil {
		for i := range n.children {
			dst = t.query(&n.children[i], region, dst)
		}
	}
	return dst
}

// Stats returns node count, indexed element count, and rebuild timings.
func (t *Tree) Stats() Stats {
	var avg time.Duration
	if t.rebuildN > 0 {
		var total time.Duration
		for i := 0; i < t.rebuildN; i++ {
			total += t.rebuilds[i]
		}
		avg = total / time.Duration(t.rebuildN)
	}
	return Stats{
		Nodes:       t.nodes,
		Elements:    t.elements,
		LastRebuild: t.last,
		AvgRebuild:  avg,
	}
}
