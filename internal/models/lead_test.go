package models

import "testing"

func TestPriorityBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  Priority
	}{
		{1.0, PriorityHigh},
		{0.70, PriorityHigh},
		{0.6999, PriorityMedium},
		{0.30, PriorityMedium},
		{0.2999, PriorityLow},
		{0, PriorityLow},
	}
	for _, tc := range cases {
		if got := PriorityForScore(tc.score); got != tc.want {
			t.Fatalf("score %v: expected %s, got %s", tc.score, tc.want, got)
		}
	}
}

func TestClassifyAccuracy(t *testing.T) {
	yes, no := true, false
	cases := []struct {
		priority Priority
		actual   *bool
		want     Accuracy
	}{
		{PriorityHigh, &yes, AccuracyCorrect},
		{PriorityHigh, &no, AccuracyFalsePositive},
		{PriorityLow, &yes, AccuracyMissed},
		{PriorityLow, &no, AccuracyCorrect},
		{PriorityMedium, &yes, AccuracyIncorrect},
		{PriorityMedium, nil, AccuracyUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyAccuracy(tc.priority, tc.actual); got != tc.want {
			t.Fatalf("%s/%v: expected %s, got %s", tc.priority, tc.actual, tc.want, got)
		}
	}
}

func TestAccuracyAggregateOverall(t *testing.T) {
	if got := (AccuracyAggregate{}).Overall(); got != 0 {
		t.Fatalf("expected 0 without ground truth, got %v", got)
	}
	if got := (AccuracyAggregate{Correct: 2, TotalWithActual: 3}).Overall(); got != 0.6667 {
		t.Fatalf("expected 0.6667, got %v", got)
	}
}

func TestLeadPayloadField(t *testing.T) {
	p := LeadPayload{
		Data:    map[string]any{"Lead ID": "L1", "Lead Source": "google", "Time On Site": 30.0},
		Columns: []string{"Lead ID", "Lead Source", "Time On Site"},
	}
	if v, ok := p.Field("LeadID"); !ok || v != "L1" {
		t.Fatalf("expected normalized match, got %v %v", v, ok)
	}
	if v, ok := p.Field("Source"); !ok || v != "google" {
		t.Fatalf("expected substring match, got %v %v", v, ok)
	}
	if v, ok := p.Field("timeonsite"); !ok || v != 30.0 {
		t.Fatalf("expected case-insensitive match, got %v %v", v, ok)
	}
	if _, ok := p.Field("MeetingBooked"); ok {
		t.Fatalf("expected no match")
	}
	unordered := LeadPayload{Data: map[string]any{"source_b": 2, "source_a": 1}}
	if v, _ := unordered.Field("source"); v != 1 {
		t.Fatalf("expected sorted fallback order, got %v", v)
	}
}
