package sim

import (
	"testing"

	"github.com/petri-sim/petri/config"
	"github.com/petri-sim/petri/pressure"
	"github.com/petri-sim/petri/telemetry"
)

func newTestSim(t *testing.T) *Simulation {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading default config: %v", err)
	}
	s, err := New(cfg, 42, pressure.NewBus(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSimulationSmoke(t *testing.T) {
	s := newTestSim(t)
	if err := s.Seed(20); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	initial := s.Population()
	if initial == 0 {
		t.Fatal("seeding produced no agents")
	}

	for i := 0; i < 120; i++ {
		s.Step()
	}

	pop := s.Population()
	if pop < 0 || pop > s.cfg.World.MaxPopulation {
		t.Errorf("population %d outside [0, %d]", pop, s.cfg.World.MaxPopulation)
	}
	if s.Tick() != 120 {
		t.Errorf("Tick = %d, want 120", s.Tick())
	}

	ts := s.tree.Stats()
	if ts.Elements != pop {
		t.Errorf("spatial index holds %d elements, population is %d", ts.Elements, pop)
	}
}

func TestStepCoversAllAgentsWithSmallBatch(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading default config: %v", err)
	}
	// Pin the batch size well below the population so every tick is a
	// partial slice, and freeze births and deaths so indices stay put.
	cfg.Batch.Size = 50
	cfg.Batch.MinSize = 50
	cfg.Batch.MaxSize = 50
	for i := range cfg.Species {
		cfg.Species[i].GrowthRate = 0
		cfg.Species[i].DeathRate = 0
		cfg.Species[i].MaxAge = 1e9
	}

	s, err := New(cfg, 42, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Seed(100); err != nil { // 300 agents, six slices per wrap
		t.Fatalf("Seed: %v", err)
	}

	for i := 0; i < 60; i++ {
		s.Step()
	}

	// The update and reproduction passes each sweep the whole population;
	// after ten full wraps no agent may still sit at age zero.
	for i := 0; i < s.col.Len(); i++ {
		if s.col.Age[i] == 0 {
			t.Fatalf("agent %d never updated after 60 ticks (population %d, batch %d)",
				i, s.col.Len(), cfg.Batch.Size)
		}
	}
}

func TestSimulationPredict(t *testing.T) {
	s := newTestSim(t)
	if err := s.Seed(10); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	for i := 0; i < 10; i++ {
		s.Step()
	}

	pred := s.Predict(30)
	if len(pred.Total) != 30 {
		t.Fatalf("len(Total) = %d, want 30", len(pred.Total))
	}
	if pred.Confidence <= 0 || pred.Confidence > 1 {
		t.Errorf("Confidence = %v, want (0, 1]", pred.Confidence)
	}
	if s.LastPrediction().Confidence != pred.Confidence {
		t.Error("LastPrediction does not reflect the latest projection")
	}
	if s.PerfStats().PhaseAvg[telemetry.PhasePrediction] <= 0 {
		t.Error("prediction phase not recorded in perf stats")
	}
}

func TestSimulationStatistics(t *testing.T) {
	s := newTestSim(t)
	if err := s.Seed(10); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	s.Step()

	stats, err := s.Statistics()
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.Count != s.Population() {
		t.Errorf("stats over %d agents, population is %d", stats.Count, s.Population())
	}
	if stats.MinX < 0 || stats.MaxX > s.cfg.World.Width {
		t.Errorf("x extent [%v, %v] outside the world", stats.MinX, stats.MaxX)
	}
}

func TestSimulationRenderState(t *testing.T) {
	s := newTestSim(t)
	if err := s.Seed(5); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	agents := s.RenderState()
	if len(agents) != s.Population() {
		t.Fatalf("RenderState has %d agents, population is %d", len(agents), s.Population())
	}
	for i, a := range agents {
		if a.Size <= 0 || a.Color == "" {
			t.Errorf("agent %d missing render attributes: %+v", i, a)
		}
		if a.X < 0 || a.X > s.cfg.World.Width || a.Y < 0 || a.Y > s.cfg.World.Height {
			t.Errorf("agent %d outside the world: %+v", i, a)
		}
	}
}

func TestSimulationDeterministicSeed(t *testing.T) {
	run := func() (int, float64) {
		s := newTestSim(t)
		if err := s.Seed(15); err != nil {
			t.Fatalf("Seed: %v", err)
		}
		for i := 0; i < 60; i++ {
			s.Step()
		}
		return s.Population(), s.col.X[0]
	}

	p1, x1 := run()
	p2, x2 := run()
	if p1 != p2 || x1 != x2 {
		t.Errorf("identical seeds diverged: pop %d vs %d, x %v vs %v", p1, p2, x1, x2)
	}
}
