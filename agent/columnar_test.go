package agent

import (
	"math/rand"
	"testing"
)

func TestColumnarRoundTrip(t *testing.T) {
	grazer := testType("grazer")
	hunter := testType("hunter")

	s := NewStore(8)
	want := map[float64]Agent{}
	for i := 0; i < 6; i++ {
		typ := grazer
		if i%2 == 1 {
			typ = hunter
		}
		_, a, err := s.Acquire(float64(i), float64(i)*2, typ)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		a.Age = float64(i) * 1.5
		a.Reproduced = i%3 == 0
		want[a.X] = *a
	}

	col, err := ToColumnar(s)
	if err != nil {
		t.Fatalf("ToColumnar: %v", err)
	}
	if col.Len() != 6 {
		t.Fatalf("columnar Len = %d, want 6", col.Len())
	}

	back, err := FromColumnar(col)
	if err != nil {
		t.Fatalf("FromColumnar: %v", err)
	}
	if back.Len() != 6 {
		t.Fatalf("round-trip Len = %d, want 6", back.Len())
	}

	// Field-for-field equality, order not required to match.
	back.Each(func(_ Handle, a *Agent) {
		w, ok := want[a.X]
		if !ok {
			t.Errorf("unexpected agent X=%g after round trip", a.X)
			return
		}
		if *a != w {
			t.Errorf("round trip changed agent: got %+v, want %+v", *a, w)
		}
		delete(want, a.X)
	})
	if len(want) != 0 {
		t.Errorf("%d agents lost in round trip", len(want))
	}
}

func TestColumnarTypeTableDeduplicates(t *testing.T) {
	typ := testType("grazer")
	col := NewColumnar(4)
	for i := 0; i < 10; i++ {
		if err := col.Append(Agent{X: float64(i), Type: typ}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if len(col.types) != 1 {
		t.Errorf("side table has %d entries, want 1", len(col.types))
	}
}

func TestColumnarRemoveSwapsWithLast(t *testing.T) {
	col := NewColumnar(4)
	typ := testType("grazer")
	for i := 0; i < 4; i++ {
		col.Append(Agent{X: float64(i), Type: typ})
	}

	col.Remove(1)
	if col.Len() != 3 {
		t.Fatalf("Len = %d, want 3", col.Len())
	}
	// The last element (X=3) must now occupy index 1.
	if col.X[1] != 3 {
		t.Errorf("X[1] = %g, want 3 (swapped from end)", col.X[1])
	}
}

func TestColumnarRemoveAll(t *testing.T) {
	col := NewColumnar(8)
	typ := testType("grazer")
	for i := 0; i < 8; i++ {
		col.Append(Agent{X: float64(i), Type: typ})
	}

	// Unsorted indices including ones that swap into each other.
	col.RemoveAll([]int{0, 7, 3})
	if col.Len() != 5 {
		t.Fatalf("Len = %d, want 5", col.Len())
	}
	left := map[float64]bool{}
	for i := 0; i < col.Len(); i++ {
		left[col.X[i]] = true
	}
	for _, x := range []float64{1, 2, 4, 5, 6} {
		if !left[x] {
			t.Errorf("agent X=%g missing after RemoveAll", x)
		}
	}
	for _, x := range []float64{0, 3, 7} {
		if left[x] {
			t.Errorf("agent X=%g should have been removed", x)
		}
	}
}

func TestBatchUpdateAgesAndClamps(t *testing.T) {
	typ := testType("grazer")
	typ.DeathRate = 0 // isolate aging and movement
	col := NewColumnar(4)
	col.Append(Agent{X: 0, Y: 0, Type: typ})
	col.Append(Agent{X: 100, Y: 100, Type: typ})

	rng := rand.New(rand.NewSource(42))
	col.BatchUpdate(rng, 0.5, 100, 100)

	for i := 0; i < col.Len(); i++ {
		if col.Age[i] != 0.5 {
			t.Errorf("Age[%d] = %g, want 0.5", i, col.Age[i])
		}
		if col.X[i] < 0 || col.X[i] > 100 || col.Y[i] < 0 || col.Y[i] > 100 {
			t.Errorf("agent %d escaped bounds: (%g, %g)", i, col.X[i], col.Y[i])
		}
	}
}

func TestBatchUpdateMaxAgeDeath(t *testing.T) {
	typ := testType("grazer")
	typ.DeathRate = 0
	col := NewColumnar(2)
	col.Append(Agent{Type: typ, Age: typ.MaxAge}) // crosses MaxAge this step
	col.Append(Agent{Type: typ, Age: 0})

	rng := rand.New(rand.NewSource(1))
	out := col.BatchUpdate(rng, 0.1, 10, 10)

	if len(out.DeathIdx) != 1 || out.DeathIdx[0] != 0 {
		t.Errorf("DeathIdx = %v, want [0]", out.DeathIdx)
	}
}

func TestBatchUpdateReproducesOnce(t *testing.T) {
	typ := testType("grazer")
	typ.GrowthRate = 1000 // force the draw to pass
	typ.DeathRate = 0
	col := NewColumnar(1)
	col.Append(Agent{Type: typ})

	rng := rand.New(rand.NewSource(1))
	out := col.BatchUpdate(rng, 0.1, 10, 10)
	if len(out.ReproIdx) != 1 {
		t.Fatalf("ReproIdx = %v, want one candidate", out.ReproIdx)
	}

	// Second pass: flag is set, no further reproduction.
	out = col.BatchUpdate(rng, 0.1, 10, 10)
	if len(out.ReproIdx) != 0 {
		t.Errorf("agent reproduced twice: %v", out.ReproIdx)
	}
}

func TestCullOldestColumnar(t *testing.T) {
	typ := testType("grazer")
	col := NewColumnar(16)
	for i := 0; i < 10; i++ {
		col.Append(Agent{X: float64(i), Age: float64(i), Type: typ})
	}

	removed := col.CullOldest(0.3)
	if removed != 3 {
		t.Fatalf("removed %d, want 3", removed)
	}
	for i := 0; i < col.Len(); i++ {
		if col.Age[i] >= 7 {
			t.Errorf("age %g survived an oldest-first cull", col.Age[i])
		}
	}
}
