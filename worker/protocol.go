// Package worker runs CPU-heavy analytics on a bounded pool of offload
// workers, communicating through a JSON message protocol.
package worker

import (
	"encoding/json"
	"fmt"
)

// TaskType discriminates the request payload union.
type TaskType string

// Task types accepted by the pool.
const (
	TaskPredictPopulation   TaskType = "PREDICT_POPULATION"
	TaskCalculateStatistics TaskType = "CALCULATE_STATISTICS"
	TaskBatchProcess        TaskType = "BATCH_PROCESS"
)

// ResponseError is the type carried by error responses.
const ResponseError = "ERROR"

// ResultType returns the response type for a request type, e.g.
// PREDICT_POPULATION -> PREDICT_POPULATION_RESULT.
func (t TaskType) ResultType() string { return string(t) + "_RESULT" }

func (t TaskType) valid() bool {
	switch t {
	case TaskPredictPopulation, TaskCalculateStatistics, TaskBatchProcess:
		return true
	}
	return false
}

// Request is the wire message dispatched to a worker.
type Request struct {
	ID   string          `json:"id"`
	Type TaskType        `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Response is the correlated wire message a worker sends back. Type is
// either <REQUEST_TYPE>_RESULT or ERROR.
type Response struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// CurveSpec is one per-type growth curve in a prediction payload.
type CurveSpec struct {
	TypeName string  `json:"type_name"`
	Kind     string  `json:"kind"` // exponential|logistic|gompertz|competition
	R        float64 `json:"r"`    // intrinsic growth rate
	K        float64 `json:"k"`    // carrying capacity
	T0       float64 `json:"t0"`
	Alpha    float64 `json:"alpha"` // competition coefficient
	Beta     float64 `json:"beta"`  // stress coefficient
	Initial  float64 `json:"initial"`
}

// PredictPayload asks a worker to integrate growth curves over a horizon.
type PredictPayload struct {
	Curves  []CurveSpec `json:"curves"`
	Horizon int         `json:"horizon"`
	DT      float64     `json:"dt"`
}

// PredictResult carries the integrated projection.
type PredictResult struct {
	Total  []float64            `json:"total"`
	ByType map[string][]float64 `json:"by_type"`
}

// StatsPayload asks a worker for population statistics over raw columns.
type StatsPayload struct {
	X   []float64 `json:"x"`
	Y   []float64 `json:"y"`
	Age []float64 `json:"age"`
}

// StatsResult carries age and spatial-extent statistics.
type StatsResult struct {
	Count   int     `json:"count"`
	MeanAge float64 `json:"mean_age"`
	StdAge  float64 `json:"std_age"`
	MinX    float64 `json:"min_x"`
	MaxX    float64 `json:"max_x"`
	MinY    float64 `json:"min_y"`
	MaxY    float64 `json:"max_y"`
}

// BatchPayload asks a worker to advance agent columns by one step.
type BatchPayload struct {
	X      []float64 `json:"x"`
	Y      []float64 `json:"y"`
	Age    []float64 `json:"age"`
	DT     float64   `json:"dt"`
	Width  float64   `json:"width"`
	Height float64   `json:"height"`
}

// BatchResult carries the advanced columns.
type BatchResult struct {
	X   []float64 `json:"x"`
	Y   []float64 `json:"y"`
	Age []float64 `json:"age"`
}

// DecodePayload validates and decodes a request payload at the
// deserialization boundary. Unknown task types and malformed variants are
// rejected here, before any worker math runs.
func DecodePayload(req Request) (any, error) {
	switch req.Type {
	case TaskPredictPopulation:
		var p PredictPayload
		if err := json.Unmarshal(req.Data, &p); err != nil {
			return nil, fmt.Errorf("worker: decoding %s payload: %w", req.Type, err)
		}
		if p.Horizon < 0 {
			return nil, fmt.Errorf("worker: %s: negative horizon %d", req.Type, p.Horizon)
		}
		if p.DT <= 0 {
			return nil, fmt.Errorf("worker: %s: non-positive dt %g", req.Type, p.DT)
		}
		return p, nil
	case TaskCalculateStatistics:
		var p StatsPayload
		if err := json.Unmarshal(req.Data, &p); err != nil {
			return nil, fmt.Errorf("worker: decoding %s payload: %w", req.Type, err)
		}
		if len(p.X) != len(p.Y) || len(p.X) != len(p.Age) {
			return nil, fmt.Errorf("worker: %s: column length mismatch", req.Type)
		}
		return p, nil
	case TaskBatchProcess:
		var p BatchPayload
		if err := json.Unmarshal(req.Data, &p); err != nil {
			return nil, fmt.Errorf("worker: decoding %s payload: %w", req.Type, err)
		}
		if len(p.X) != len(p.Y) || len(p.X) != len(p.Age) {
			return nil, fmt.Errorf("worker: %s: column length mismatch", req.Type)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("worker: unknown task type %q", req.Type)
	}
}
