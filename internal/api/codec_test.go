package api

import (
	"testing"

	"github.com/miradorstack/mirador-leads/internal/models"
)

func TestPredictRequestRoundTrip(t *testing.T) {
	req := PredictRequest{Filename: "leads.csv", Content: []byte("LeadID\n1\n")}
	s, err := ToStruct(req)
	if err != nil {
		t.Fatalf("to struct: %v", err)
	}
	if s.Fields["filename"].GetStringValue() != "leads.csv" {
		t.Fatalf("unexpected payload %v", s)
	}
	var decoded PredictRequest
	if err := FromStruct(s, &decoded); err != nil {
		t.Fatalf("from struct: %v", err)
	}
	if string(decoded.Upload().Content) != "LeadID\n1\n" {
		t.Fatalf("content lost: %q", decoded.Content)
	}
}

func TestFromStructIntegralNumbers(t *testing.T) {
	s, err := ToStruct(map[string]any{"run_id": 42})
	if err != nil {
		t.Fatalf("to struct: %v", err)
	}
	var req GetRunRequest
	if err := FromStruct(s, &req); err != nil {
		t.Fatalf("from struct: %v", err)
	}
	if req.RunID != 42 {
		t.Fatalf("run id = %d", req.RunID)
	}
}

func TestToStructRejectsNonObjects(t *testing.T) {
	if _, err := ToStruct([]int{1, 2}); err == nil {
		t.Fatalf("expected error for array payload")
	}
	if s, err := ToStruct(nil); err != nil || len(s.Fields) != 0 {
		t.Fatalf("expected empty struct for nil, got %v %v", s, err)
	}
	if err := FromStruct(nil, &GetRunRequest{}); err == nil {
		t.Fatalf("expected error for nil payload")
	}
}

func TestPredictionResultPayload(t *testing.T) {
	res := models.PredictionResult{
		RunID:        3,
		Filename:     "leads.csv",
		Results:      []map[string]any{{"score": 0.91, "priority": "High"}},
		Distribution: models.Distribution{High: 1},
	}
	s, err := ToStruct(res)
	if err != nil {
		t.Fatalf("to struct: %v", err)
	}
	if _, ok := s.Fields["accuracy_metrics"]; !ok {
		t.Fatalf("expected explicit null accuracy_metrics")
	}
	var back models.PredictionResult
	if err := FromStruct(s, &back); err != nil {
		t.Fatalf("from struct: %v", err)
	}
	if back.RunID != 3 || back.Distribution.High != 1 || back.Results[0]["priority"] != "High" {
		t.Fatalf("unexpected decoded result %+v", back)
	}
}
