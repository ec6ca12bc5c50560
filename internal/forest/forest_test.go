package forest

import (
	"context"
	"encoding/json"
	"testing"
)

func separable(n int) ([][]float64, []int) {
	x := make([][]float64, n)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		v := float64(i)
		x[i] = []float64{v, float64(i % 7), float64((i * 13) % 5)}
		if i >= n/2 {
			y[i] = 1
		}
	}
	return x, y
}

func smallParams() Params {
	p := DefaultParams()
	p.Trees = 25
	return p
}

func TestFitSeparatesClasses(t *testing.T) {
	x, y := separable(80)
	f, err := Fit(context.Background(), x, y, smallParams())
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	probs, err := f.PredictProba([][]float64{{2, 2, 2}, {77, 0, 1}})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if probs[0] >= 0.5 || probs[1] <= 0.5 {
		t.Fatalf("expected low then high probability, got %v", probs)
	}
	for _, p := range probs {
		if p < 0 || p > 1 {
			t.Fatalf("probability out of range: %v", p)
		}
	}
}

func TestFitIsDeterministic(t *testing.T) {
	x, y := separable(60)
	a, err := Fit(context.Background(), x, y, smallParams())
	if err != nil {
		t.Fatalf("fit a: %v", err)
	}
	params := smallParams()
	params.Workers = 1
	b, err := Fit(context.Background(), x, y, params)
	if err != nil {
		t.Fatalf("fit b: %v", err)
	}
	pa, _ := a.PredictProba(x)
	pb, _ := b.PredictProba(x)
	for i := range pa {
		if pa[i] != pb[i] {
			t.Fatalf("row %d: %v != %v", i, pa[i], pb[i])
		}
	}
}

func TestFitSingleClass(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}}
	f, err := Fit(context.Background(), x, []int{0, 0, 0}, smallParams())
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	probs, err := f.PredictProba(x)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for _, p := range probs {
		if p != 0 {
			t.Fatalf("expected 0 probability, got %v", p)
		}
	}
}

func TestFitValidatesInput(t *testing.T) {
	if _, err := Fit(context.Background(), nil, nil, smallParams()); err != ErrEmptyTrainingSet {
		t.Fatalf("expected ErrEmptyTrainingSet, got %v", err)
	}
	if _, err := Fit(context.Background(), [][]float64{{1}}, []int{2}, smallParams()); err == nil {
		t.Fatalf("expected non-binary label error")
	}
	if _, err := Fit(context.Background(), [][]float64{{1}, {1, 2}}, []int{0, 1}, smallParams()); err == nil {
		t.Fatalf("expected ragged row error")
	}
}

func TestFitHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	x, y := separable(20)
	if _, err := Fit(ctx, x, y, smallParams()); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestPredictRejectsWidthMismatch(t *testing.T) {
	x, y := separable(20)
	f, err := Fit(context.Background(), x, y, smallParams())
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if _, err := f.PredictProba([][]float64{{1, 2}}); err == nil {
		t.Fatalf("expected width mismatch error")
	}
}

func TestForestJSONRoundTrip(t *testing.T) {
	x, y := separable(40)
	f, err := Fit(context.Background(), x, y, smallParams())
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var restored Forest
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want, _ := f.PredictProba(x)
	got, err := restored.PredictProba(x)
	if err != nil {
		t.Fatalf("predict restored: %v", err)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("row %d: %v != %v", i, want[i], got[i])
		}
	}
}
