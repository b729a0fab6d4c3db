package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.Width <= 0 || cfg.World.Height <= 0 {
		t.Errorf("world = %gx%g, want positive dimensions", cfg.World.Width, cfg.World.Height)
	}
	if cfg.World.MaxPopulation <= 0 {
		t.Errorf("max_population = %d, want positive", cfg.World.MaxPopulation)
	}
	if len(cfg.Species) == 0 {
		t.Fatal("defaults define no species")
	}
	if cfg.Batch.Size < cfg.Batch.MinSize || cfg.Batch.Size > cfg.Batch.MaxSize {
		t.Errorf("initial batch size %d outside [%d, %d]",
			cfg.Batch.Size, cfg.Batch.MinSize, cfg.Batch.MaxSize)
	}
}

func TestLoadDerived(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Derived.WorkerPool < 1 || cfg.Derived.WorkerPool > 8 {
		t.Errorf("WorkerPool = %d, want [1, 8]", cfg.Derived.WorkerPool)
	}
	if want := time.Duration(cfg.Workers.TimeoutSec * float64(time.Second)); cfg.Derived.WorkerTimeout != want {
		t.Errorf("WorkerTimeout = %v, want %v", cfg.Derived.WorkerTimeout, want)
	}
	for i, sp := range cfg.Species {
		if cfg.Derived.SpeciesIndex[sp.Name] != i {
			t.Errorf("SpeciesIndex[%q] = %d, want %d", sp.Name, cfg.Derived.SpeciesIndex[sp.Name], i)
		}
		if sp.Size <= 0 || sp.Color == "" {
			t.Errorf("species %q missing defaults: %+v", sp.Name, sp)
		}
	}
}

func TestLoadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	override := `
world:
  width: 1234
  height: 600
  max_population: 99
`
	if err := os.WriteFile(path, []byte(override), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.Width != 1234 || cfg.World.MaxPopulation != 99 {
		t.Errorf("override not applied: %+v", cfg.World)
	}
	// Sections absent from the file keep their defaults.
	if len(cfg.Species) == 0 {
		t.Error("override wiped out default species")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero width", "world:\n  width: 0\n"},
		{"negative height", "world:\n  height: -5\n"},
		{"empty species name", "species:\n  - name: \"\"\n    max_age: 10\n"},
		{"duplicate species", "species:\n  - name: dup\n    max_age: 10\n  - name: dup\n    max_age: 10\n"},
		{"non-positive max age", "species:\n  - name: x\n    max_age: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load accepted an invalid config")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Error("Load accepted a missing file")
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}

	back, err := Load(path)
	if err != nil {
		t.Fatalf("reloading written config: %v", err)
	}
	if back.World != cfg.World {
		t.Errorf("world round trip: %+v vs %+v", back.World, cfg.World)
	}
	if len(back.Species) != len(cfg.Species) {
		t.Errorf("species round trip: %d vs %d", len(back.Species), len(cfg.Species))
	}
}
