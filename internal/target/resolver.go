// Package target locates and binarizes the training label in arbitrarily named lead data.
package target

import (
	"fmt"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-leads/internal/features"
	"github.com/miradorstack/mirador-leads/internal/models"
)

// Aliases are the known target column names, tried in order after the caller's hint.
var Aliases = []string{
	"Converted", "Status", "LeadStatus", "Lead_Status", "Conversion",
	"Conversion_Rate (%)", "Exited", "Churn", "y", "target",
	"Bought", "Purchased", "Outcome",
	"Stage", "Pipeline Stage", "Deal Stage", "Lead Stage",
	"Won", "Is Won", "Closed", "Is Closed",
}

// Stems are substrings that mark a plausible target column when no alias matches.
var Stems = []string{"convert", "churn", "exited", "success", "status", "stage", "won", "outcome", "consent"}

// PositiveLabels mark the positive class of a categorical target.
var PositiveLabels = []string{"converted", "won", "success", "yes", "1", "true"}

// Binarization methods reported in a Resolution.
const (
	MethodMedian      = "median"
	MethodBinary      = "binary"
	MethodCategorical = "categorical"
)

// NotFoundError reports that no column could serve as the training target.
type NotFoundError struct {
	Available []string
	Attempted []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no suitable target column found; tried %s and columns containing %s; available columns: %s",
		strings.Join(e.Attempted, ", "), strings.Join(Stems, ", "), strings.Join(e.Available, ", "))
}

// Resolution is a binarized target aligned with the frame rows that carry it.
type Resolution struct {
	Column   string
	Rows     []int
	Labels   []int
	Method   string
	Positive string
}

// Find returns the name of the best target column for the frame.
func Find(frame *models.Frame, hint string) (string, error) {
	attempted := make([]string, 0, len(Aliases)+1)
	if strings.TrimSpace(hint) != "" {
		attempted = append(attempted, hint)
	}
	attempted = append(attempted, Aliases...)

	names := frame.Names()
	for _, alias := range attempted {
		want := strings.ToLower(strings.TrimSpace(alias))
		for _, name := range names {
			if strings.ToLower(strings.TrimSpace(name)) == want {
				return name, nil
			}
		}
	}
	for _, name := range names {
		lower := strings.ToLower(name)
		for _, stem := range Stems {
			if strings.Contains(lower, stem) {
				return name, nil
			}
		}
	}
	return "", &NotFoundError{Available: names, Attempted: attempted}
}

// Resolve finds the target column, drops rows without a target value and binarizes the rest.
func Resolve(frame *models.Frame, hint string) (Resolution, error) {
	name, err := Find(frame, hint)
	if err != nil {
		return Resolution{}, err
	}
	col, _ := frame.Column(name)

	res := Resolution{Column: name}
	for i, ok := range col.Valid {
		if ok {
			res.Rows = append(res.Rows, i)
		}
	}

	if col.Kind == models.KindNumeric {
		values := make([]float64, len(res.Rows))
		for j, i := range res.Rows {
			values[j] = col.Floats[i]
		}
		res.Labels, res.Method, res.Positive = binarizeNumeric(values)
		return res, nil
	}

	texts := make([]string, len(res.Rows))
	for j, i := range res.Rows {
		texts[j] = col.Strings[i]
	}
	res.Labels, res.Positive = binarizeCategorical(texts)
	res.Method = MethodCategorical
	return res, nil
}

func binarizeNumeric(values []float64) ([]int, string, string) {
	distinct := make(map[float64]struct{})
	maxValue := 0.0
	for i, v := range values {
		distinct[v] = struct{}{}
		if i == 0 || v > maxValue {
			maxValue = v
		}
	}

	labels := make([]int, len(values))
	if len(distinct) > 2 {
		median := features.Median(values)
		for i, v := range values {
			if v > median {
				labels[i] = 1
			}
		}
		return labels, MethodMedian, "> " + models.FormatFloat(median)
	}

	binary := true
	for v := range distinct {
		if v != 0 && v != 1 {
			binary = false
		}
	}
	positive := 1.0
	if !binary {
		positive = maxValue
	}
	for i, v := range values {
		if v == positive {
			labels[i] = 1
		}
	}
	return labels, MethodBinary, models.FormatFloat(positive)
}

// binarizeCategorical sorts the distinct labels and picks the first one found in
// PositiveLabels as positive, defaulting to the second label.
func binarizeCategorical(texts []string) ([]int, string) {
	set := make(map[string]struct{})
	for _, s := range texts {
		set[s] = struct{}{}
	}
	classes := make([]string, 0, len(set))
	for s := range set {
		classes = append(classes, s)
	}
	sort.Strings(classes)

	pos := 1
	if len(classes) < 2 {
		pos = 0
	}
	for idx, cls := range classes {
		if isPositiveLabel(cls) {
			pos = idx
			break
		}
	}

	labels := make([]int, len(texts))
	if len(classes) == 0 {
		return labels, ""
	}
	for i, s := range texts {
		if s == classes[pos] {
			labels[i] = 1
		}
	}
	return labels, classes[pos]
}

func isPositiveLabel(label string) bool {
	lower := strings.ToLower(label)
	for _, p := range PositiveLabels {
		if lower == p {
			return true
		}
	}
	return false
}
