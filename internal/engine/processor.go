package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/miradorstack/mirador-leads/internal/evaluation"
	"github.com/miradorstack/mirador-leads/internal/features"
	"github.com/miradorstack/mirador-leads/internal/models"
)

// Output field names of a trimmed result record.
const (
	FieldScore       = "score"
	FieldPriority    = "priority"
	FieldExplanation = "explanation"
	FieldNextAction  = "next_action"
	FieldSalesNotes  = "sales_notes"
)

// minResultFields is the field count below which the first input columns are added.
const minResultFields = 7

var (
	idLikeColumns     = map[string]struct{}{"leadid": {}, "lead_id": {}, "id": {}, "lead number": {}, "no": {}, "lead_no": {}}
	sourceLikeColumns = map[string]struct{}{"source": {}, "lead source": {}, "platform": {}, "channel": {}}
	// truthColumns are tried in order; converted wins over the others.
	truthColumns = []string{"converted", "status", "lead_status", "outcome", "target"}

	truthPositive = map[string]struct{}{"1": {}, "yes": {}, "true": {}, "won": {}, "success": {}, "converted": {}}
	truthNegative = map[string]struct{}{"0": {}, "no": {}, "false": {}, "lost": {}, "failed": {}}
)

// Processed is the ranked, annotated form of one scored batch.
type Processed struct {
	Leads         []models.ScoredLead
	Results       []map[string]any
	Payloads      []models.LeadPayload
	Distribution  models.Distribution
	Aggregate     models.AccuracyAggregate
	Ranking       *models.RankingMetrics
	TruthColumn   string
	HasActualData bool
}

// ResultProcessor ranks scored leads and derives priorities, explanations and accuracy.
type ResultProcessor struct {
	rules  *RuleEngine
	logger *slog.Logger
}

// NewResultProcessor constructs a ResultProcessor. A nil rule engine applies the default actions.
func NewResultProcessor(rules *RuleEngine, logger *slog.Logger) *ResultProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultProcessor{rules: rules, logger: logger}
}

// Process ranks frame rows by score. snapshot supplies the explanation medians and may be nil.
func (p *ResultProcessor) Process(frame *models.Frame, scores []float64, snapshot *features.Snapshot) (Processed, error) {
	if frame == nil {
		return Processed{}, fmt.Errorf("nil frame")
	}
	n := frame.Len()
	if len(scores) != n {
		return Processed{}, fmt.Errorf("got %d scores for %d rows", len(scores), n)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	truthCol := findTruthColumn(frame)
	keep := resultColumns(frame)
	explain := newExplainer(frame, snapshot)
	names := frame.Names()

	out := Processed{
		Leads:    make([]models.ScoredLead, 0, n),
		Results:  make([]map[string]any, 0, n),
		Payloads: make([]models.LeadPayload, 0, n),
	}
	if truthCol != nil {
		out.TruthColumn = truthCol.Name
	}
	var yTrue []int
	var yScore []float64

	for _, i := range order {
		score := scores[i]
		priority := models.PriorityForScore(score)
		out.Distribution.Add(priority)

		var actual *bool
		if truthCol != nil {
			actual = normalizeTruth(truthCol, i)
		}
		accuracy := models.ClassifyAccuracy(priority, actual)
		if actual != nil {
			out.Aggregate.TotalWithActual++
			if accuracy == models.AccuracyCorrect {
				out.Aggregate.Correct++
			}
			label := 0
			if *actual {
				label = 1
			}
			yTrue = append(yTrue, label)
			yScore = append(yScore, score)
		}

		action, notes := p.rules.Recommend(signalsFor(frame, i, score, priority))
		record := frame.Record(i)
		lead := models.ScoredLead{
			Row:             i,
			Fields:          record,
			Score:           score,
			Priority:        priority,
			Explanation:     explain.explain(i, score, priority),
			ActualConverted: actual,
			Accuracy:        accuracy,
			NextAction:      action,
			SalesNotes:      notes,
		}
		out.Leads = append(out.Leads, lead)
		out.Results = append(out.Results, trimmed(frame, i, keep, lead))
		out.Payloads = append(out.Payloads, models.LeadPayload{
			Data:     record,
			Columns:  names,
			Score:    models.Round2(score),
			Priority: priority,
		})
	}

	out.HasActualData = out.Aggregate.TotalWithActual > 0
	if out.HasActualData {
		ranking := evaluation.Ranking(yTrue, yScore, evaluation.DefaultTopFraction)
		out.Ranking = &ranking
	}
	return out, nil
}

// findTruthColumn returns the ground-truth column of a scored batch, if any.
func findTruthColumn(frame *models.Frame) *models.Column {
	for _, want := range truthColumns {
		for _, col := range frame.Columns() {
			if strings.ToLower(strings.TrimSpace(col.Name)) == want {
				return col
			}
		}
	}
	return nil
}

// normalizeTruth reads row i as a conversion outcome. Absent cells are unknown;
// unrecognised text counts as not converted.
func normalizeTruth(col *models.Column, i int) *bool {
	text, ok := col.Text(i)
	if !ok {
		return nil
	}
	s := strings.ToLower(strings.TrimSpace(text))
	result := false
	if _, yes := truthPositive[s]; yes {
		result = true
	} else if _, no := truthNegative[s]; !no {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			result = v == 1
		}
	}
	return &result
}

// resultColumns picks the input columns carried into trimmed records.
func resultColumns(frame *models.Frame) []string {
	var keep []string
	seen := make(map[string]struct{})
	add := func(name string) {
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		keep = append(keep, name)
	}
	for _, col := range frame.Columns() {
		lower := strings.ToLower(strings.TrimSpace(col.Name))
		_, id := idLikeColumns[lower]
		_, src := sourceLikeColumns[lower]
		if id || src {
			add(col.Name)
		}
	}
	if len(keep)+5 < minResultFields {
		for _, name := range frame.Names()[:min(2, frame.Width())] {
			add(name)
		}
	}
	return keep
}

func trimmed(frame *models.Frame, i int, keep []string, lead models.ScoredLead) map[string]any {
	rec := make(map[string]any, len(keep)+5)
	for _, name := range keep {
		col, _ := frame.Column(name)
		if v := col.Value(i); v != nil {
			rec[name] = v
		} else {
			rec[name] = ""
		}
	}
	rec[FieldScore] = models.Round2(lead.Score)
	rec[FieldPriority] = string(lead.Priority)
	rec[FieldExplanation] = lead.Explanation
	rec[FieldNextAction] = lead.NextAction
	rec[FieldSalesNotes] = lead.SalesNotes
	return rec
}
