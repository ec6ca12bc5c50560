package models

import "sort"

// Priority is the sales tier assigned to a scored lead.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

const (
	// HighPriorityThreshold is the minimum score for a High lead.
	HighPriorityThreshold = 0.70
	// MediumPriorityThreshold is the minimum score for a Medium lead.
	MediumPriorityThreshold = 0.30
)

// PriorityForScore maps a conversion probability to its tier.
func PriorityForScore(score float64) Priority {
	switch {
	case score >= HighPriorityThreshold:
		return PriorityHigh
	case score >= MediumPriorityThreshold:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Accuracy labels how a prediction compares with a known outcome.
type Accuracy string

const (
	AccuracyCorrect       Accuracy = "correct"
	AccuracyFalsePositive Accuracy = "false_positive"
	AccuracyMissed        Accuracy = "missed"
	AccuracyIncorrect     Accuracy = "incorrect"
	AccuracyUnknown       Accuracy = "unknown"
)

// ClassifyAccuracy compares a tier with ground truth. A nil actual yields unknown.
func ClassifyAccuracy(priority Priority, actual *bool) Accuracy {
	if actual == nil {
		return AccuracyUnknown
	}
	switch {
	case priority == PriorityHigh && *actual:
		return AccuracyCorrect
	case priority == PriorityHigh:
		return AccuracyFalsePositive
	case priority == PriorityLow && *actual:
		return AccuracyMissed
	case priority == PriorityLow:
		return AccuracyCorrect
	default:
		return AccuracyIncorrect
	}
}

// ScoredLead is one processed lead, in ranked order.
type ScoredLead struct {
	Row             int            `json:"-"`
	Fields          map[string]any `json:"fields"`
	Score           float64        `json:"prediction_score"`
	Priority        Priority       `json:"priority"`
	Explanation     string         `json:"explanation"`
	ActualConverted *bool          `json:"actual_converted,omitempty"`
	Accuracy        Accuracy       `json:"prediction_accuracy"`
	NextAction      string         `json:"next_action"`
	SalesNotes      string         `json:"sales_notes"`
}

// Distribution counts leads per tier.
type Distribution struct {
	High   int `json:"High"`
	Medium int `json:"Medium"`
	Low    int `json:"Low"`
}

// Add increments the counter for the given tier.
func (d *Distribution) Add(p Priority) {
	switch p {
	case PriorityHigh:
		d.High++
	case PriorityMedium:
		d.Medium++
	default:
		d.Low++
	}
}

// AccuracyAggregate tallies correct predictions among rows with ground truth.
type AccuracyAggregate struct {
	Correct         int `json:"correct"`
	TotalWithActual int `json:"total_with_actual"`
}

// Overall returns correct / total rounded to four decimals, or 0 without ground truth.
func (a AccuracyAggregate) Overall() float64 {
	if a.TotalWithActual == 0 {
		return 0
	}
	return Round4(float64(a.Correct) / float64(a.TotalWithActual))
}

// RankingMetrics holds the advanced metrics shared by training and scoring.
type RankingMetrics struct {
	F1          float64 `json:"f1_score"`
	PRAUC       float64 `json:"pr_auc"`
	PrecisionAt float64 `json:"precision_at_k"`
	RecallAt    float64 `json:"recall_at_k"`
}

// LeadPayload is the persistence form of a scored lead. Columns keeps the
// original column order of Data.
type LeadPayload struct {
	Data     map[string]any `json:"lead_data"`
	Columns  []string       `json:"-"`
	Score    float64        `json:"prediction_score"`
	Priority Priority       `json:"priority"`
}

// Field resolves a column of Data with the same matching rules as Frame.Lookup.
func (p LeadPayload) Field(name string) (any, bool) {
	cols := p.Columns
	if cols == nil {
		cols = make([]string, 0, len(p.Data))
		for k := range p.Data {
			cols = append(cols, k)
		}
		sort.Strings(cols)
	}
	match, ok := lookupName(cols, name)
	if !ok {
		return nil, false
	}
	v, ok := p.Data[match]
	return v, ok
}
