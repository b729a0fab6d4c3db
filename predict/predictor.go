package predict

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/petri-sim/petri/agent"
	"github.com/petri-sim/petri/config"
	"github.com/petri-sim/petri/env"
	"github.com/petri-sim/petri/worker"
)

// Prediction is a multi-step population projection.
type Prediction struct {
	TimeSteps      []float64
	Total          []float64
	ByType         map[string][]float64
	Confidence     float64
	PeakPopulation float64
	PeakTime       float64
	Equilibrium    float64
}

// Predictor derives growth curves from agent types and environmental
// factors, integrates them over a horizon, and memoizes recent projections.
// Heavy projections can be routed through an offload worker manager; every
// offload failure falls back to the identical local computation.
type Predictor struct {
	mgr     *worker.Manager // nil disables offload
	factors env.Factors
	kind    Kind

	baseK            float64
	stepDT           float64
	offloadThreshold int

	history  []float64
	maxHist  int
	cache    []cacheEntry
	maxCache int
}

type cacheEntry struct {
	key  string
	pred Prediction
}

// PredOption configures a Predictor.
type PredOption func(*Predictor)

// WithKind selects the growth model. Default logistic.
func WithKind(k Kind) PredOption {
	return func(p *Predictor) { p.kind = k }
}

// WithStepDT sets the simulated seconds per horizon step. Default 1.
func WithStepDT(dt float64) PredOption {
	return func(p *Predictor) {
		if dt > 0 {
			p.stepDT = dt
		}
	}
}

// NewPredictor creates a predictor. mgr may be nil to disable offload.
func NewPredictor(cfg config.PredictConfig, factors env.Factors, mgr *worker.Manager, opts ...PredOption) *Predictor {
	p := &Predictor{
		mgr:              mgr,
		factors:          factors.Clamped(),
		kind:             Logistic,
		baseK:            cfg.BaseCapacity,
		stepDT:           1,
		offloadThreshold: cfg.OffloadThreshold,
		maxHist:          cfg.HistorySize,
		maxCache:         cfg.CacheSize,
	}
	if p.baseK <= 0 {
		p.baseK = 1000
	}
	if p.offloadThreshold <= 0 {
		p.offloadThreshold = 100
	}
	if p.maxHist <= 0 {
		p.maxHist = 64
	}
	if p.maxCache <= 0 {
		p.maxCache = 10
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Observe records a historical total population sample.
func (p *Predictor) Observe(total float64) {
	p.history = append(p.history, total)
	if len(p.history) > p.maxHist {
		p.history = p.history[len(p.history)-p.maxHist:]
	}
}

// HistoryLen returns the number of retained samples.
func (p *Predictor) HistoryLen() int { return len(p.history) }

// SetFactors replaces the environmental factors and invalidates every
// cached projection.
func (p *Predictor) SetFactors(f env.Factors) {
	p.factors = f.Clamped()
	p.cache = p.cache[:0]
}

// Factors returns the current environmental factors.
func (p *Predictor) Factors() env.Factors { return p.factors }

// Predict projects population over horizon steps for the given per-type
// counts. Populations above the offload threshold may be routed to the
// worker pool when useOffload is set; a model failure degrades to a naive
// linear projection with confidence 0.1 rather than returning an error.
func (p *Predictor) Predict(counts map[*agent.Type]int, horizon int, useOffload bool) Prediction {
	if horizon < 0 {
		horizon = 0
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return Prediction{
			TimeSteps: p.timeSteps(horizon),
			Total:     make([]float64, horizon),
			ByType:    map[string][]float64{},
		}
	}

	key := p.cacheKey(counts, horizon)
	if pred, ok := p.cacheGet(key); ok {
		return pred
	}

	curves := p.deriveCurves(counts)
	payload := worker.PredictPayload{Curves: curves, Horizon: horizon, DT: p.stepDT}

	var res worker.PredictResult
	computed := false
	if useOffload && p.mgr != nil && total > p.offloadThreshold {
		if offloaded, err := p.offload(payload); err != nil {
			slog.Warn("offload prediction failed, computing locally", "error", err)
		} else {
			res = offloaded
			computed = true
		}
	}
	if !computed {
		res = Integrate(payload.Curves, payload.Horizon, payload.DT)
	}

	pred, ok := p.assemble(res, curves, horizon, float64(total))
	if !ok {
		pred = p.linearFallback(horizon, float64(total))
	}

	p.cachePut(key, pred)
	return pred
}

// deriveCurves builds one curve per distinct type with a live count.
func (p *Predictor) deriveCurves(counts map[*agent.Type]int) []worker.CurveSpec {
	types := make([]*agent.Type, 0, len(counts))
	for t, n := range counts {
		if t != nil && n > 0 {
			types = append(types, t)
		}
	}
	// Deterministic curve order for stable cache entries and tests.
	sort.Slice(types, func(a, b int) bool { return types[a].Name < types[b].Name })

	curves := make([]worker.CurveSpec, 0, len(types))
	for _, t := range types {
		curves = append(curves, DeriveCurve(t, p.factors, p.baseK, p.kind, float64(counts[t])))
	}
	return curves
}

// offload routes the integration through the worker pool.
func (p *Predictor) offload(payload worker.PredictPayload) (worker.PredictResult, error) {
	var res worker.PredictResult
	task, err := p.mgr.Submit(worker.TaskPredictPopulation, payload)
	if err != nil {
		return res, err
	}
	raw, err := task.Wait(context.Background())
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, fmt.Errorf("predict: decoding offload result: %w", err)
	}
	if len(res.Total) != payload.Horizon {
		return res, fmt.Errorf("predict: offload returned %d steps, want %d", len(res.Total), payload.Horizon)
	}
	return res, nil
}

// assemble turns an integration result into a Prediction. Returns ok=false
// when the model produced non-finite values.
func (p *Predictor) assemble(res worker.PredictResult, curves []worker.CurveSpec, horizon int, total float64) (Prediction, bool) {
	pred := Prediction{
		TimeSteps: p.timeSteps(horizon),
		Total:     res.Total,
		ByType:    res.ByType,
	}
	if pred.Total == nil {
		pred.Total = make([]float64, horizon)
	}
	if pred.ByType == nil {
		pred.ByType = map[string][]float64{}
	}

	for i, v := range pred.Total {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return pred, false
		}
		if v > pred.PeakPopulation {
			pred.PeakPopulation = v
			pred.PeakTime = pred.TimeSteps[i]
		}
	}

	// Types whose growth outpaces mortality converge toward carrying
	// capacity; the rest decay to zero.
	for _, c := range curves {
		if c.R > c.Beta {
			pred.Equilibrium += c.K
		}
	}

	pred.Confidence = p.confidence(total)
	return pred, true
}

// confidence implements the additive confidence ladder, capped at 1.
func (p *Predictor) confidence(total float64) float64 {
	conf := 0.5
	if total > 10 {
		conf += 0.2
	}
	if total > 50 {
		conf += 0.1
	}
	if len(p.history) >= 5 {
		conf += 0.1
	}
	if len(p.history) >= 20 {
		conf += 0.1
	}
	conf += 0.1 * p.factors.Stability()
	if conf > 1 {
		conf = 1
	}
	return conf
}

// linearFallback projects the historical trend as a straight line. Used when
// the growth model fails; confidence is pinned low.
func (p *Predictor) linearFallback(horizon int, total float64) Prediction {
	pred := Prediction{
		TimeSteps:  p.timeSteps(horizon),
		Total:      make([]float64, horizon),
		ByType:     map[string][]float64{},
		Confidence: 0.1,
	}

	slope := 0.0
	if len(p.history) >= 2 {
		xs := make([]float64, len(p.history))
		for i := range xs {
			xs[i] = float64(i)
		}
		_, slope = stat.LinearRegression(xs, p.history, nil, false)
		if math.IsNaN(slope) || math.IsInf(slope, 0) {
			slope = 0
		}
	}

	for i := 0; i < horizon; i++ {
		v := total + slope*float64(i+1)*p.stepDT
		if v < 0 {
			v = 0
		}
		pred.Total[i] = v
		if v > pred.PeakPopulation {
			pred.PeakPopulation = v
			pred.PeakTime = pred.TimeSteps[i]
		}
	}
	pred.Equilibrium = total
	return pred
}

func (p *Predictor) timeSteps(horizon int) []float64 {
	steps := make([]float64, horizon)
	for i := range steps {
		steps[i] = float64(i+1) * p.stepDT
	}
	return steps
}

// cacheKey folds per-type counts, the horizon, and the factor snapshot into
// a stable string.
func (p *Predictor) cacheKey(counts map[*agent.Type]int, horizon int) string {
	names := make([]string, 0, len(counts))
	byName := make(map[string]int, len(counts))
	for t, n := range counts {
		if t == nil || n <= 0 {
			continue
		}
		names = append(names, t.Name)
		byName[t.Name] = n
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s=%d;", name, byName[name])
	}
	f := p.factors
	fmt.Fprintf(&b, "h=%d;f=%.4f,%.4f,%.4f,%.4f,%.4f", horizon,
		f.Temperature, f.Resources, f.Space, f.Toxicity, f.PH)
	return b.String()
}

func (p *Predictor) cacheGet(key string) (Prediction, bool) {
	for _, e := range p.cache {
		if e.key == key {
			return e.pred, true
		}
	}
	return Prediction{}, false
}

// cachePut stores a projection, evicting the oldest entry at capacity.
func (p *Predictor) cachePut(key string, pred Prediction) {
	for i := range p.cache {
		if p.cache[i].key == key {
			p.cache[i].pred = pred
			return
		}
	}
	if len(p.cache) >= p.maxCache {
		p.cache = p.cache[1:]
	}
	p.cache = append(p.cache, cacheEntry{key: key, pred: pred})
}

// CacheLen returns the number of memoized projections.
func (p *Predictor) CacheLen() int { return len(p.cache) }
