package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/miradorstack/mirador-leads/internal/engine"
	"github.com/miradorstack/mirador-leads/internal/models"
)

func sampleFrame(t *testing.T) *models.Frame {
	t.Helper()
	frame := models.NewFrame(4)
	for _, col := range []*models.Column{
		models.NewNumericColumn("TimeOnSite", []float64{10, 20, 30, 40}),
		models.NewNumericColumn("PagesVisited", []float64{1, 2, 3, 5}),
		models.NewNumericColumn("Noise", []float64{3, 1, 4, 1}),
		models.NewCategoricalColumn("Source", []string{"ads", "google", "ads", ""}),
		models.NewCategoricalColumn("filename", []string{"a", "a", "a", "a"}),
	} {
		if err := frame.Set(col); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	return frame
}

func TestAnalyzeSummaries(t *testing.T) {
	report, err := NewAnalyzer(nil, nil).Analyze(context.Background(), "leads.csv", sampleFrame(t))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.Rows != 4 || report.Columns != 5 {
		t.Fatalf("unexpected shape %+v", report)
	}
	if len(report.Numeric) != 3 {
		t.Fatalf("expected 3 numeric summaries, got %d", len(report.Numeric))
	}
	tos := report.Numeric[0]
	if tos.Count != 4 || tos.Mean != 25 || tos.Min != 10 || tos.Max != 40 || tos.Median != 25 {
		t.Fatalf("unexpected summary %+v", tos)
	}
	if len(report.Correlations) != 1 {
		t.Fatalf("expected one strong pair, got %+v", report.Correlations)
	}
	if c := report.Correlations[0]; c.A != "PagesVisited" || c.B != "TimeOnSite" || c.R < 0.9 {
		t.Fatalf("unexpected correlation %+v", c)
	}
	if len(report.Categorical) != 1 || report.Categorical[0].Column != "Source" {
		t.Fatalf("unexpected categorical breakdown %+v", report.Categorical)
	}
	top := report.Categorical[0].Top
	if top[0] != (ValueCount{Value: "ads", Count: 2}) || top[1] != (ValueCount{Value: "google", Count: 1}) {
		t.Fatalf("unexpected counts %+v", top)
	}
	if report.Preview != nil {
		t.Fatalf("expected no preview without scorer")
	}
}

func TestAnalyzePreview(t *testing.T) {
	scorer := ScorerFunc(func(ctx context.Context, frame *models.Frame) (engine.Prediction, error) {
		return engine.Prediction{Scores: []float64{0.1, 0.9, 0.5, 0.12345}}, nil
	})
	report, err := NewAnalyzer(nil, scorer).Analyze(context.Background(), "leads.csv", sampleFrame(t))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(report.Preview) != 4 {
		t.Fatalf("expected 4 preview rows, got %d", len(report.Preview))
	}
	first := report.Preview[0]
	if first.Rank != 1 || first.Score != 0.9 || first.Fields["Source"] != "google" {
		t.Fatalf("unexpected first lead %+v", first)
	}
	if report.Preview[2].Score != 0.123 {
		t.Fatalf("expected score rounded to 3 places, got %v", report.Preview[2].Score)
	}
	if _, ok := report.Preview[2].Fields["Source"]; ok {
		t.Fatalf("absent cells must be omitted")
	}
	text := report.Render()
	for _, want := range []string{"4 rows, 5 columns", "PagesVisited vs TimeOnSite", "ads=2", "#1 score 0.900"} {
		if !strings.Contains(text, want) {
			t.Fatalf("rendered report missing %q:\n%s", want, text)
		}
	}
}

func TestAnalyzePreviewFailure(t *testing.T) {
	scorer := ScorerFunc(func(ctx context.Context, frame *models.Frame) (engine.Prediction, error) {
		return engine.Prediction{}, errors.New("model unavailable")
	})
	report, err := NewAnalyzer(nil, scorer).Analyze(context.Background(), "leads.csv", sampleFrame(t))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.PreviewError == "" || report.Preview != nil {
		t.Fatalf("expected preview error, got %+v", report)
	}
	if !strings.Contains(report.Render(), "lead-level data not available") {
		t.Fatalf("expected rendered fallback")
	}
}
