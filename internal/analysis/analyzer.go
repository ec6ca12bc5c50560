// Package analysis summarises uploaded lead batches for exploration.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-leads/internal/engine"
	"github.com/miradorstack/mirador-leads/internal/features"
	"github.com/miradorstack/mirador-leads/internal/models"
)

const (
	// CorrelationThreshold is the |r| above which a column pair is reported.
	CorrelationThreshold = 0.5
	// TopCategories is the number of values reported per categorical column.
	TopCategories = 5
	// PreviewSize is the number of top-scored leads in the preview.
	PreviewSize = 20
)

// previewFields are copied into preview rows when present.
var previewFields = []string{
	"Source", "Company", "Lead Number", "Lead Origin",
	features.ColTimeOnSite, features.ColPagesVisited, features.ColEmailOpened, features.ColMeetingBooked,
	features.ColEngagementScore, features.ColInteractionCount,
}

// Scorer produces conversion probabilities for a batch.
type Scorer interface {
	Predict(ctx context.Context, frame *models.Frame) (engine.Prediction, error)
}

// NumericSummary describes one numeric column.
type NumericSummary struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
}

// Correlation is a strongly correlated numeric column pair.
type Correlation struct {
	A string  `json:"a"`
	B string  `json:"b"`
	R float64 `json:"r"`
}

// ValueCount is one categorical value and its frequency.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// CategoryBreakdown lists the most frequent values of a categorical column.
type CategoryBreakdown struct {
	Column string       `json:"column"`
	Top    []ValueCount `json:"top"`
}

// PreviewLead is one lead of the scored preview.
type PreviewLead struct {
	Rank   int            `json:"rank"`
	Score  float64        `json:"score"`
	Fields map[string]any `json:"fields"`
}

// Report is the outcome of Analyze.
type Report struct {
	Filename     string              `json:"filename"`
	Rows         int                 `json:"rows"`
	Columns      int                 `json:"columns"`
	Numeric      []NumericSummary    `json:"numeric"`
	Correlations []Correlation       `json:"correlations"`
	Categorical  []CategoryBreakdown `json:"categorical"`
	Preview      []PreviewLead       `json:"preview,omitempty"`
	PreviewError string              `json:"preview_error,omitempty"`
}

// Analyzer builds exploration reports; the scorer may be nil to skip the preview.
type Analyzer struct {
	scorer Scorer
	logger *slog.Logger
}

// NewAnalyzer constructs an Analyzer.
func NewAnalyzer(logger *slog.Logger, scorer Scorer) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{scorer: scorer, logger: logger}
}

// Analyze summarises frame. A failing preview is reported in the report, not as an error.
func (a *Analyzer) Analyze(ctx context.Context, filename string, frame *models.Frame) (Report, error) {
	if frame == nil {
		return Report{}, fmt.Errorf("nil frame")
	}
	report := Report{Filename: filename, Rows: frame.Len(), Columns: frame.Width()}

	var numeric []*models.Column
	for _, col := range frame.Columns() {
		switch col.Kind {
		case models.KindNumeric:
			numeric = append(numeric, col)
			if s, ok := summarize(col); ok {
				report.Numeric = append(report.Numeric, s)
			}
		case models.KindCategorical:
			if strings.EqualFold(col.Name, "filename") {
				continue
			}
			report.Categorical = append(report.Categorical, CategoryBreakdown{Column: col.Name, Top: topValues(col, TopCategories)})
		}
	}
	report.Correlations = strongCorrelations(numeric, CorrelationThreshold)

	if a.scorer != nil {
		preview, err := a.preview(ctx, frame)
		if err != nil {
			a.logger.Warn("analysis preview unavailable", slog.String("filename", filename), slog.Any("error", err))
			report.PreviewError = err.Error()
		}
		report.Preview = preview
	}
	return report, nil
}

func (a *Analyzer) preview(ctx context.Context, frame *models.Frame) ([]PreviewLead, error) {
	pred, err := a.scorer.Predict(ctx, frame)
	if err != nil {
		return nil, err
	}
	if len(pred.Scores) != frame.Len() {
		return nil, fmt.Errorf("scorer returned %d scores for %d rows", len(pred.Scores), frame.Len())
	}
	order := make([]int, frame.Len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool { return pred.Scores[order[x]] > pred.Scores[order[y]] })
	if len(order) > PreviewSize {
		order = order[:PreviewSize]
	}
	out := make([]PreviewLead, 0, len(order))
	for rank, row := range order {
		fields := make(map[string]any)
		for _, name := range previewFields {
			if col, ok := frame.Column(name); ok {
				if v := col.Value(row); v != nil {
					fields[name] = v
				}
			}
		}
		out = append(out, PreviewLead{
			Rank:   rank + 1,
			Score:  math.Round(pred.Scores[row]*1000) / 1000,
			Fields: fields,
		})
	}
	return out, nil
}

func summarize(col *models.Column) (NumericSummary, bool) {
	values := col.Present()
	if len(values) == 0 {
		return NumericSummary{}, false
	}
	s := NumericSummary{Column: col.Name, Count: len(values), Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = sum / float64(len(values))
	if len(values) > 1 {
		var sq float64
		for _, v := range values {
			sq += (v - s.Mean) * (v - s.Mean)
		}
		s.Std = math.Sqrt(sq / float64(len(values)-1))
	}
	s.Median = features.Median(values)
	return s, true
}

// strongCorrelations reports pairs (later column, earlier column) whose pairwise
// Pearson coefficient exceeds threshold in magnitude.
func strongCorrelations(cols []*models.Column, threshold float64) []Correlation {
	var out []Correlation
	for i := range cols {
		for j := 0; j < i; j++ {
			r, ok := pearson(cols[i], cols[j])
			if ok && math.Abs(r) > threshold {
				out = append(out, Correlation{A: cols[i].Name, B: cols[j].Name, R: models.Round4(r)})
			}
		}
	}
	return out
}

// pearson correlates the rows where both columns are present.
func pearson(a, b *models.Column) (float64, bool) {
	var xs, ys []float64
	for i := 0; i < a.Len(); i++ {
		x, okA := a.Float(i)
		y, okB := b.Float(i)
		if okA && okB {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	if len(xs) < 2 {
		return 0, false
	}
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= float64(len(xs))
	my /= float64(len(ys))
	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	return cov / math.Sqrt(vx*vy), true
}

// topValues counts present values, most frequent first; ties keep first appearance.
func topValues(col *models.Column, limit int) []ValueCount {
	counts := make(map[string]int)
	var order []string
	for i := 0; i < col.Len(); i++ {
		v, ok := col.Text(i)
		if !ok {
			continue
		}
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}
	sort.SliceStable(order, func(x, y int) bool { return counts[order[x]] > counts[order[y]] })
	if len(order) > limit {
		order = order[:limit]
	}
	out := make([]ValueCount, 0, len(order))
	for _, v := range order {
		out = append(out, ValueCount{Value: v, Count: counts[v]})
	}
	return out
}
