package worker

import (
	"encoding/json"
	"testing"
)

func mustJSONRaw(s string) json.RawMessage { return json.RawMessage(s) }

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{
			name: "valid predict",
			req: Request{Type: TaskPredictPopulation, Data: mustJSONRaw(`{
				"curves":[{"type_name":"algae","kind":"logistic","r":0.1,"k":100,"initial":10}],
				"horizon":50,"dt":1}`)},
		},
		{
			name:    "predict negative horizon",
			req:     Request{Type: TaskPredictPopulation, Data: mustJSONRaw(`{"horizon":-1,"dt":1}`)},
			wantErr: true,
		},
		{
			name:    "predict zero dt",
			req:     Request{Type: TaskPredictPopulation, Data: mustJSONRaw(`{"horizon":10,"dt":0}`)},
			wantErr: true,
		},
		{
			name: "valid stats",
			req:  Request{Type: TaskCalculateStatistics, Data: mustJSONRaw(`{"x":[1],"y":[2],"age":[3]}`)},
		},
		{
			name:    "stats column mismatch",
			req:     Request{Type: TaskCalculateStatistics, Data: mustJSONRaw(`{"x":[1,2],"y":[2],"age":[3]}`)},
			wantErr: true,
		},
		{
			name: "valid batch",
			req:  Request{Type: TaskBatchProcess, Data: mustJSONRaw(`{"x":[1],"y":[2],"age":[3],"dt":1,"width":100,"height":100}`)},
		},
		{
			name:    "batch column mismatch",
			req:     Request{Type: TaskBatchProcess, Data: mustJSONRaw(`{"x":[1],"y":[2],"age":[3,4]}`)},
			wantErr: true,
		},
		{
			name:    "unknown type",
			req:     Request{Type: TaskType("RENDER_FRAME"), Data: mustJSONRaw(`{}`)},
			wantErr: true,
		},
		{
			name:    "malformed json",
			req:     Request{Type: TaskPredictPopulation, Data: mustJSONRaw(`{"horizon":`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayload(tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodePayload error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResultType(t *testing.T) {
	if got := TaskPredictPopulation.ResultType(); got != "PREDICT_POPULATION_RESULT" {
		t.Errorf("ResultType = %q", got)
	}
	if got := TaskCalculateStatistics.ResultType(); got != "CALCULATE_STATISTICS_RESULT" {
		t.Errorf("ResultType = %q", got)
	}
}

func TestDefaultHandlerStatistics(t *testing.T) {
	result, err := DefaultHandler(TaskCalculateStatistics, StatsPayload{
		X:   []float64{0, 10, 20},
		Y:   []float64{5, 15, 25},
		Age: []float64{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("DefaultHandler: %v", err)
	}
	stats, ok := result.(StatsResult)
	if !ok {
		t.Fatalf("result type %T, want StatsResult", result)
	}
	if stats.Count != 3 {
		t.Errorf("Count = %d, want 3", stats.Count)
	}
	if stats.MeanAge != 2 {
		t.Errorf("MeanAge = %v, want 2", stats.MeanAge)
	}
	if stats.MinX != 0 || stats.MaxX != 20 || stats.MinY != 5 || stats.MaxY != 25 {
		t.Errorf("extent = [%v,%v]x[%v,%v], want [0,20]x[5,25]",
			stats.MinX, stats.MaxX, stats.MinY, stats.MaxY)
	}
}

func TestDefaultHandlerRejectsPredict(t *testing.T) {
	if _, err := DefaultHandler(TaskPredictPopulation, PredictPayload{}); err == nil {
		t.Error("DefaultHandler accepted a prediction task it cannot serve")
	}
}
