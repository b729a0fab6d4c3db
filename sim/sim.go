// Package sim wires the simulation core together and drives it tick by
// tick: agent store, spatial index, batch scheduler, offload workers,
// population predictor, environment, pressure handling, and telemetry.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/petri-sim/petri/agent"
	"github.com/petri-sim/petri/config"
	"github.com/petri-sim/petri/env"
	"github.com/petri-sim/petri/predict"
	"github.com/petri-sim/petri/pressure"
	"github.com/petri-sim/petri/sched"
	"github.com/petri-sim/petri/spatial"
	"github.com/petri-sim/petri/telemetry"
	"github.com/petri-sim/petri/worker"
)

// DT is the simulated seconds advanced per tick.
const DT = 1.0 / 60.0

// densitySamples is how many agents are probed per tick to estimate local
// crowding from the spatial index.
const densitySamples = 16

// factorUpdateTicks is how often the environmental factor snapshot is
// refreshed (one simulated second at DT).
const factorUpdateTicks = 60

// Simulation owns all core services for one independent simulation. All
// methods must be called from a single goroutine; the offload manager is the
// only component that crosses into parallel execution.
type Simulation struct {
	cfg *config.Config
	rng *rand.Rand

	catalog *agent.Catalog
	col     *agent.Columnar

	tree *spatial.Tree
	// Update and reproduction each need their own cursor to cover the whole
	// population; the two schedulers share one adaptive config.
	scheduler  *sched.Scheduler
	reproSched *sched.Scheduler
	policy     *sched.AdaptPolicy
	manager   *worker.Manager
	predictor *predict.Predictor
	field     *env.Field

	queue *pressure.Queue

	perf      *telemetry.PerfCollector
	collector *telemetry.Collector
	output    *telemetry.OutputManager

	tick    int64
	simTime float64

	lastPrediction predict.Prediction
	lastRepro      sched.ReproResult

	// Tick-scratch buffers reused across frames.
	deaths    []int
	neighbors []int
}

// New builds a simulation from config. The pressure bus is external so the
// same monitor can serve several simulations; pass nil to disable pressure
// handling. output may be nil.
func New(cfg *config.Config, seed int64, bus *pressure.Bus, output *telemetry.OutputManager) (*Simulation, error) {
	catalog, err := agent.NewCatalog(cfg.Species)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}

	schedCfg := &sched.Config{
		BatchSize:      cfg.Batch.Size,
		MaxFrameTimeMs: cfg.Batch.MaxFrameTimeMs,
		TimeSlicing:    cfg.Batch.TimeSlicing,
	}

	s := &Simulation{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		catalog: catalog,
		col:     agent.NewColumnar(cfg.Pool.InitialCapacity),
		tree: spatial.NewTree(
			spatial.Rect{W: cfg.World.Width, H: cfg.World.Height},
			cfg.Spatial.NodeCapacity, cfg.Spatial.MaxDepth, cfg.Spatial.RebuildWindow,
		),
		scheduler:  sched.New(schedCfg),
		reproSched: sched.New(schedCfg),
		policy: sched.NewAdaptPolicy(schedCfg,
			sched.WithWindow(cfg.Batch.WindowSize),
			sched.WithFactor(cfg.Batch.AdaptFactor),
			sched.WithGrowBelow(cfg.Batch.GrowThreshold),
			sched.WithSizeBounds(cfg.Batch.MinSize, cfg.Batch.MaxSize),
		),
		field:     env.NewField(cfg.Environment, seed),
		perf:      telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow),
		collector: telemetry.NewCollector(cfg.Telemetry.StatsWindow, DT),
		output:    output,
	}

	s.manager = worker.NewManager(predict.TaskHandler,
		worker.WithPoolSize(cfg.Derived.WorkerPool),
		worker.WithTimeout(cfg.Derived.WorkerTimeout),
		worker.WithQueueDepth(cfg.Workers.QueueDepth),
	)
	s.predictor = predict.NewPredictor(cfg.Predict, s.field.Base(), s.manager)

	if bus != nil {
		s.queue = pressure.NewQueue(bus)
	}
	return s, nil
}

// Seed populates the world through the record pool, then switches to the
// columnar representation for steady-state processing.
func (s *Simulation) Seed(perSpecies int) error {
	store := agent.NewStore(perSpecies*s.catalog.Len(),
		agent.WithSoftLimit(s.cfg.Pool.SoftLimit),
		agent.WithCullFraction(s.cfg.Pool.CullFraction),
	)
	for _, t := range s.catalog.Types() {
		for i := 0; i < perSpecies; i++ {
			x := s.rng.Float64() * s.cfg.World.Width
			y := s.rng.Float64() * s.cfg.World.Height
			if _, _, err := store.Acquire(x, y, t); err != nil {
				return fmt.Errorf("sim: seeding population: %w", err)
			}
		}
	}
	col, err := agent.ToColumnar(store)
	if err != nil {
		return fmt.Errorf("sim: seeding population: %w", err)
	}
	s.col = col
	return nil
}

// Population returns the current live agent count.
func (s *Simulation) Population() int { return s.col.Len() }

// Tick returns the current tick number.
func (s *Simulation) Tick() int64 { return s.tick }

// LastPrediction returns the most recent population projection.
func (s *Simulation) LastPrediction() predict.Prediction { return s.lastPrediction }

// Step advances the simulation by one tick.
func (s *Simulation) Step() {
	s.perf.StartTick()

	s.perf.StartPhase(telemetry.PhasePressure)
	s.handlePressure()

	s.perf.StartPhase(telemetry.PhaseBatchUpdate)
	s.deaths = s.deaths[:0]
	res := s.runBatch()
	s.policy.Observe(res.Elapsed)

	s.perf.StartPhase(telemetry.PhaseReproduction)
	s.lastRepro = s.reproSched.ProcessReproduction(s.col.Len(), s.reproduceOne, s.cfg.World.MaxPopulation)
	s.collector.RecordBirths(s.lastRepro.Spawned)

	// Apply deaths after reproduction so candidate indices stay valid.
	if len(s.deaths) > 0 {
		s.collector.RecordDeaths(len(s.deaths))
		s.col.RemoveAll(s.deaths)
	}

	s.perf.StartPhase(telemetry.PhaseSpatialRebuild)
	s.tree.Rebuild(s.col.X, s.col.Y)
	if s.tick%factorUpdateTicks == 0 {
		// Refreshing factors invalidates the prediction cache, so it runs on
		// a slower cadence than the tick loop.
		s.updateSpaceFactor()
	}

	s.perf.StartPhase(telemetry.PhaseTelemetry)
	s.predictor.Observe(float64(s.col.Len()))
	s.flushWindow()

	s.perf.EndTick()
	s.tick++
	s.simTime += DT
}

// runBatch executes the sliced update pass. A batch-level failure falls back
// to the unoptimized single-pass columnar update.
func (s *Simulation) runBatch() (res sched.Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("batch pass failed, falling back to full update", "panic", r)
			s.deaths = s.deaths[:0]
			out := s.col.BatchUpdate(s.rng, DT, s.cfg.World.Width, s.cfg.World.Height)
			s.deaths = append(s.deaths, out.DeathIdx...)
			res = sched.Result{Processed: s.col.Len(), Completed: true}
		}
	}()
	return s.scheduler.ProcessBatch(s.col.Len(), s.updateOne)
}

// updateOne advances a single agent: aging, random walk, bounds clamp, and
// the death draw. Reproduction draws run in their own pass.
func (s *Simulation) updateOne(i int) error {
	if i >= s.col.Len() {
		return fmt.Errorf("sim: index %d out of range", i)
	}
	s.col.Age[i] += DT

	step := agent.WalkSpeed * DT
	s.col.X[i] += (s.rng.Float64()*2 - 1) * step
	s.col.Y[i] += (s.rng.Float64()*2 - 1) * step
	if s.col.X[i] < 0 {
		s.col.X[i] = 0
	} else if s.col.X[i] > s.cfg.World.Width {
		s.col.X[i] = s.cfg.World.Width
	}
	if s.col.Y[i] < 0 {
		s.col.Y[i] = 0
	} else if s.col.Y[i] > s.cfg.World.Height {
		s.col.Y[i] = s.cfg.World.Height
	}

	t := s.col.Type(i)
	if s.col.Age[i] > t.MaxAge || s.rng.Float64() < t.DeathRate*DT {
		s.deaths = append(s.deaths, i)
	}
	return nil
}

// reproduceOne spawns one offspring next to the parent when its growth draw
// passes. An agent reproduces at most once.
func (s *Simulation) reproduceOne(i int) (int, error) {
	if i >= s.col.Len() {
		return 0, fmt.Errorf("sim: index %d out of range", i)
	}
	if s.col.Reproduced[i] {
		return 0, nil
	}
	t := s.col.Type(i)
	growth := t.GrowthRate * DT * s.field.FactorsAt(s.col.X[i], s.col.Y[i], s.simTime).Modifier()
	if s.rng.Float64() >= growth {
		return 0, nil
	}
	s.col.Reproduced[i] = true

	child := agent.Agent{
		X:    s.col.X[i] + (s.rng.Float64()*2-1)*t.Size*4,
		Y:    s.col.Y[i] + (s.rng.Float64()*2-1)*t.Size*4,
		Type: t,
	}
	if err := s.col.Append(child); err != nil {
		return 0, err
	}
	return 1, nil
}

// handlePressure drains the pressure queue at a safe point between slices.
func (s *Simulation) handlePressure() {
	if s.queue == nil {
		return
	}
	level, ok := s.queue.Poll()
	if !ok {
		return
	}
	if level == pressure.Aggressive {
		culled := s.col.CullOldest(s.cfg.Pool.CullFraction)
		s.collector.RecordCulled(culled)
		slog.Info("culled population under memory pressure", "culled", culled, "population", s.col.Len())
		return
	}
	s.col.Compact()
}

// updateSpaceFactor estimates crowding by probing neighbor density around
// sampled agents and feeds it into the predictor's environmental factors.
func (s *Simulation) updateSpaceFactor() {
	n := s.col.Len()
	factors := s.field.Snapshot(s.simTime)

	if n > 0 && s.cfg.World.MaxPopulation > 0 {
		occupancy := float64(n) / float64(s.cfg.World.MaxPopulation)

		// Local crowding: mean neighbors inside a probe box, normalized by
		// the node capacity the index considers saturated.
		probe := s.cfg.World.Width * 0.05
		total := 0
		for k := 0; k < densitySamples; k++ {
			i := s.rng.Intn(n)
			s.neighbors = s.tree.QueryInto(s.neighbors[:0], spatial.Rect{
				X: s.col.X[i] - probe/2, Y: s.col.Y[i] - probe/2, W: probe, H: probe,
			})
			total += len(s.neighbors)
		}
		local := float64(total) / float64(densitySamples*4*s.cfg.Spatial.NodeCapacity)
		if local > 1 {
			local = 1
		}
		crowding := occupancy
		if local > crowding {
			crowding = local
		}
		factors.Space = 1 - crowding
	}

	s.predictor.SetFactors(factors)
}

// Predict projects the population over the horizon, routing large
// populations through the offload pool.
func (s *Simulation) Predict(horizon int) predict.Prediction {
	start := time.Now()
	counts := make(map[*agent.Type]int, s.catalog.Len())
	for i := 0; i < s.col.Len(); i++ {
		counts[s.col.Type(i)]++
	}
	s.lastPrediction = s.predictor.Predict(counts, horizon, true)
	s.perf.AddPhase(telemetry.PhasePrediction, time.Since(start))
	return s.lastPrediction
}

// Statistics offloads a population statistics task and returns the result.
func (s *Simulation) Statistics() (worker.StatsResult, error) {
	var res worker.StatsResult
	task, err := s.manager.Submit(worker.TaskCalculateStatistics, worker.StatsPayload{
		X: s.col.X, Y: s.col.Y, Age: s.col.Age,
	})
	if err != nil {
		return res, err
	}
	raw, err := task.Wait(context.Background())
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, fmt.Errorf("sim: decoding statistics result: %w", err)
	}
	return res, nil
}

// flushWindow emits telemetry when the stats window elapses.
func (s *Simulation) flushWindow() {
	if !s.collector.ShouldFlush(s.tick) {
		return
	}

	stats := telemetry.WindowStats{
		SimTimeSec: s.simTime,
		Population: s.col.Len(),
		BatchSize:  s.scheduler.Config().BatchSize,
		AvgBatchMs: s.policy.Average(),
	}
	ts := s.tree.Stats()
	stats.SpatialNodes = ts.Nodes
	stats.SpatialElements = ts.Elements
	stats.RebuildUs = ts.LastRebuild.Microseconds()

	ages := make([]float64, len(s.col.Age))
	copy(ages, s.col.Age)
	stats.AgeMean, stats.AgeP10, stats.AgeP50, stats.AgeP90 = telemetry.ComputeAgeStats(ages)

	stats.PredictedPeak = s.lastPrediction.PeakPopulation
	stats.Confidence = s.lastPrediction.Confidence

	s.collector.Flush(s.tick, &stats)

	if err := s.output.WriteTelemetry(stats); err != nil {
		slog.Warn("writing telemetry", "error", err)
	}
	if err := s.output.WritePerf(s.perf.Stats(), s.tick); err != nil {
		slog.Warn("writing perf", "error", err)
	}
}

// RenderAgent is what the render boundary sees: position, size, and color.
// The core does not draw.
type RenderAgent struct {
	X, Y  float64
	Size  float64
	Color string
}

// RenderState exposes current agent positions, sizes, and colors for an
// external renderer.
func (s *Simulation) RenderState() []RenderAgent {
	out := make([]RenderAgent, s.col.Len())
	for i := range out {
		t := s.col.Type(i)
		out[i] = RenderAgent{X: s.col.X[i], Y: s.col.Y[i], Size: t.Size, Color: t.Color}
	}
	return out
}

// PerfStats returns aggregated tick timing over the rolling window.
func (s *Simulation) PerfStats() telemetry.PerfStats { return s.perf.Stats() }

// Close terminates the offload pool. Idempotent.
func (s *Simulation) Close() {
	s.manager.Terminate()
}
