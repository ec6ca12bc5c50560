package features

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/miradorstack/mirador-leads/internal/models"
)

// Source and derived column names.
const (
	ColTimeOnSite    = "TimeOnSite"
	ColPagesVisited  = "PagesVisited"
	ColEmailOpened   = "EmailOpened"
	ColMeetingBooked = "MeetingBooked"

	ColEngagementScore  = "EngagementScore"
	ColTimePerPage      = "TimePerPage"
	ColIsHighlyEngaged  = "IsHighlyEngaged"
	ColInteractionCount = "InteractionCount"
	ColHasBookedMeeting = "HasBookedMeeting"
	ColBehaviorScore    = "BehaviorScore"
)

const timePerPageEpsilon = 1e-5

// WatchedColumns are the numeric inputs whose training medians are persisted for drift checks.
var WatchedColumns = []string{ColTimeOnSite, ColPagesVisited, "Age", "Income", "CreditScore", "Marketing_Spend"}

// DerivedColumns lists every column the Engineer synthesizes.
var DerivedColumns = []string{
	ColEngagementScore,
	ColTimePerPage,
	ColIsHighlyEngaged,
	ColInteractionCount,
	ColHasBookedMeeting,
	ColBehaviorScore,
}

// Engineer derives engagement signals and encodes categorical columns.
type Engineer struct {
	logger *slog.Logger
}

// NewEngineer constructs an Engineer.
func NewEngineer(logger *slog.Logger) *Engineer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engineer{logger: logger}
}

// Apply returns a new, fully numeric frame: the input columns with missing cells
// zero-filled and categoricals encoded, followed by the derived signals.
// The input frame is not modified.
func (e *Engineer) Apply(frame *models.Frame, mode Mode) (*models.Frame, error) {
	if frame == nil {
		return nil, fmt.Errorf("nil frame")
	}
	switch m := mode.(type) {
	case *TrainingContext:
		if m == nil {
			return nil, fmt.Errorf("nil training context")
		}
	case InferenceContext:
	default:
		return nil, fmt.Errorf("unsupported feature mode %T", mode)
	}

	out := fillMissing(frame)
	n := out.Len()

	tos, hasTOS := numeric(out, ColTimeOnSite)
	pv, hasPV := numeric(out, ColPagesVisited)
	email, hasEmail := numeric(out, ColEmailOpened)
	meeting, hasMeeting := numeric(out, ColMeetingBooked)

	if training, ok := mode.(*TrainingContext); ok {
		for _, name := range WatchedColumns {
			if col, ok := numeric(out, name); ok {
				training.stats[StatKey(name, "median")] = Median(col.Floats)
			}
		}
	}

	engagement := make([]float64, n)
	perPage := make([]float64, n)
	highlyEngaged := make([]float64, n)
	if hasTOS && hasPV {
		tosMedian := e.median(mode, ColTimeOnSite, tos)
		for i := 0; i < n; i++ {
			t, p := tos.Floats[i], pv.Floats[i]
			engagement[i] = t * p
			perPage[i] = t / (p + timePerPageEpsilon)
			if t > tosMedian && p > 2 {
				highlyEngaged[i] = 1
			}
		}
	}

	interactions := make([]float64, n)
	booked := make([]float64, n)
	if hasEmail && hasMeeting {
		for i := 0; i < n; i++ {
			interactions[i] = email.Floats[i] + meeting.Floats[i]
			if meeting.Floats[i] > 0 {
				booked[i] = 1
			}
		}
	}

	behavior := make([]float64, n)
	if hasTOS {
		for i := 0; i < n; i++ {
			score := tos.Floats[i] / 100
			if hasPV {
				score += pv.Floats[i] * 2
			}
			if hasEmail {
				score += email.Floats[i] * 3
			}
			if hasMeeting {
				score += meeting.Floats[i] * 10
			}
			behavior[i] = score
		}
	}

	if err := e.encode(out, mode); err != nil {
		return nil, err
	}

	derived := map[string][]float64{
		ColEngagementScore:  engagement,
		ColTimePerPage:      perPage,
		ColIsHighlyEngaged:  highlyEngaged,
		ColInteractionCount: interactions,
		ColHasBookedMeeting: booked,
		ColBehaviorScore:    behavior,
	}
	for _, name := range DerivedColumns {
		if err := out.Set(models.NewNumericColumn(name, derived[name])); err != nil {
			return nil, fmt.Errorf("derive %s: %w", name, err)
		}
	}
	return out, nil
}

// median returns the persisted median in inference mode and records it in training mode.
func (e *Engineer) median(mode Mode, name string, col *models.Column) float64 {
	key := StatKey(name, "median")
	switch m := mode.(type) {
	case *TrainingContext:
		v := Median(col.Floats)
		m.stats[key] = v
		return v
	case InferenceContext:
		if v, ok := m.Snapshot.Stat(key); ok {
			return v
		}
		v := Median(col.Floats)
		e.logger.Warn("persisted statistic missing, falling back to batch statistic; scores may not match training",
			slog.String("stat", key), slog.Float64("batch_value", v))
		return v
	}
	return 0
}

func (e *Engineer) encode(out *models.Frame, mode Mode) error {
	switch m := mode.(type) {
	case *TrainingContext:
		for _, col := range out.Columns() {
			if col.Kind != models.KindCategorical {
				continue
			}
			enc := FitEncoder(col.Strings)
			m.encoders[col.Name] = enc
			if err := out.Set(encodeColumn(col, enc)); err != nil {
				return fmt.Errorf("encode %s: %w", col.Name, err)
			}
		}
	case InferenceContext:
		for _, col := range out.Columns() {
			enc, known := m.Snapshot.Encoder(col.Name)
			switch {
			case known:
				if err := out.Set(encodeColumn(col, enc)); err != nil {
					return fmt.Errorf("encode %s: %w", col.Name, err)
				}
			case col.Kind == models.KindCategorical:
				if err := out.Set(models.NewNumericColumn(col.Name, make([]float64, col.Len()))); err != nil {
					return fmt.Errorf("zero %s: %w", col.Name, err)
				}
			}
		}
	}
	return nil
}

func encodeColumn(col *models.Column, enc *Encoder) *models.Column {
	codes := make([]float64, col.Len())
	for i := range codes {
		text, _ := col.Text(i)
		codes[i] = float64(enc.Encode(text))
	}
	return models.NewNumericColumn(col.Name, codes)
}

// fillMissing copies the frame with absent numeric cells set to 0 and absent
// categorical cells set to "0".
func fillMissing(frame *models.Frame) *models.Frame {
	out := frame.Clone()
	for _, col := range out.Columns() {
		for i, ok := range col.Valid {
			if ok {
				continue
			}
			if col.Kind == models.KindNumeric {
				col.Floats[i] = 0
			} else {
				col.Strings[i] = "0"
			}
			col.Valid[i] = true
		}
	}
	return out
}

func numeric(frame *models.Frame, name string) (*models.Column, bool) {
	col, ok := frame.LookupExact(name)
	if !ok || col.Kind != models.KindNumeric {
		return nil, false
	}
	return col, true
}

// Median returns the median of values, averaging the two middle values for even
// lengths. It returns 0 for an empty slice.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
