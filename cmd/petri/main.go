package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/petri-sim/petri/config"
	"github.com/petri-sim/petri/pressure"
	"github.com/petri-sim/petri/sim"
	"github.com/petri-sim/petri/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	maxTicks := flag.Int64("max-ticks", 0, "Stop after N ticks (0 = unlimited)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	perSpecies := flag.Int("per-species", 20, "Initial agents per species")
	predictEvery := flag.Int64("predict-every", 300, "Ticks between population projections (0 = off)")
	horizon := flag.Int("horizon", 30, "Projection horizon in steps")
	logStats := flag.Bool("log-stats", false, "Log perf stats periodically")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}
	slog.Info("starting simulation", "seed", rngSeed, "species", len(cfg.Species))

	output, err := telemetry.NewOutputManager(*outputDir)
	if err != nil {
		slog.Error("failed to create output dir", "error", err)
		os.Exit(1)
	}
	defer output.Close()
	if err := output.WriteConfig(cfg); err != nil {
		slog.Warn("failed to snapshot config", "error", err)
	}

	bus := pressure.NewBus()
	monitor := pressure.NewMonitor(bus, cfg.Pressure)
	monitor.Start()
	defer monitor.Stop()

	s, err := sim.New(cfg, rngSeed, bus, output)
	if err != nil {
		slog.Error("failed to build simulation", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	if err := s.Seed(*perSpecies); err != nil {
		slog.Error("failed to seed population", "error", err)
		os.Exit(1)
	}

	for *maxTicks == 0 || s.Tick() < *maxTicks {
		s.Step()

		if *predictEvery > 0 && s.Tick()%*predictEvery == 0 {
			pred := s.Predict(*horizon)
			slog.Info("projection",
				"tick", s.Tick(),
				"population", s.Population(),
				"peak", int(pred.PeakPopulation),
				"peak_time", pred.PeakTime,
				"equilibrium", int(pred.Equilibrium),
				"confidence", pred.Confidence,
			)
			if stats, err := s.Statistics(); err == nil {
				slog.Info("population statistics",
					"count", stats.Count,
					"mean_age", stats.MeanAge,
					"std_age", stats.StdAge,
				)
			}
		}

		if *logStats && s.Tick()%3600 == 0 {
			s.PerfStats().LogStats()
		}

		if s.Population() == 0 {
			slog.Info("population extinct", "tick", s.Tick())
			break
		}
	}

	slog.Info("simulation finished", "ticks", s.Tick(), "population", s.Population())
}
