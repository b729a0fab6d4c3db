package pressure

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/petri-sim/petri/config"
)

// Monitor samples heap usage on a ticker and publishes pressure levels to a
// bus when configured thresholds are crossed.
type Monitor struct {
	bus      *Bus
	interval time.Duration
	normal   uint64 // heap bytes raising normal pressure
	aggr     uint64 // heap bytes raising aggressive pressure

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor from pressure config.
func NewMonitor(bus *Bus, cfg config.PressureConfig) *Monitor {
	interval := time.Duration(cfg.CheckIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		bus:      bus,
		interval: interval,
		normal:   uint64(cfg.NormalMB * 1024 * 1024),
		aggr:     uint64(cfg.AggressiveMB * 1024 * 1024),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sampling loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop halts the sampling loop. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *Monitor) check() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	switch {
	case m.aggr > 0 && ms.HeapAlloc >= m.aggr:
		slog.Warn("aggressive memory pressure", "heap_mb", ms.HeapAlloc/(1024*1024))
		m.bus.Publish(Aggressive)
	case m.normal > 0 && ms.HeapAlloc >= m.normal:
		m.bus.Publish(Normal)
	}
}
