package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-leads/internal/features"
	"github.com/miradorstack/mirador-leads/internal/models"
	"github.com/miradorstack/mirador-leads/internal/modelstore"
)

// NeutralScore is returned for every row while no model is available.
const NeutralScore = 0.5

// Prediction is the Scorer's output for one batch, aligned with the input rows.
type Prediction struct {
	Scores              []float64
	MissingFeatureCount int
	DriftAlert          bool
	DriftedColumns      []string
	ModelVersion        string
	// Snapshot is the feature snapshot the batch was scored with; nil without a model.
	Snapshot *features.Snapshot
}

// Scorer turns raw lead batches into conversion probabilities.
type Scorer struct {
	store    *modelstore.Store
	engineer *features.Engineer
	drift    *DriftDetector
	logger   *slog.Logger
}

// NewScorer constructs a Scorer reading models from store.
func NewScorer(store *modelstore.Store, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		store:    store,
		engineer: features.NewEngineer(logger),
		drift:    NewDriftDetector(logger),
		logger:   logger,
	}
}

// Predict scores every row of frame. The model is read once so the whole batch is
// scored against a single snapshot.
func (s *Scorer) Predict(ctx context.Context, frame *models.Frame) (Prediction, error) {
	if frame == nil {
		return Prediction{}, fmt.Errorf("nil frame")
	}
	n := frame.Len()
	var model *modelstore.Model
	if s.store != nil {
		model = s.store.Current()
	}
	if model == nil {
		s.logger.Warn("no trained model available; returning neutral scores", slog.Int("rows", n))
		scores := make([]float64, n)
		for i := range scores {
			scores[i] = NeutralScore
		}
		return Prediction{Scores: scores}, nil
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	engineered, err := s.engineer.Apply(frame, features.InferenceContext{Snapshot: model.Snapshot})
	if err != nil {
		return Prediction{}, fmt.Errorf("engineer features: %w", err)
	}

	x, missing := reconcile(engineered, model.Snapshot.Features())
	if len(missing) > 0 {
		s.logger.Warn("batch is missing trained features; using zeros",
			slog.Int("missing_feature_count", len(missing)),
			slog.Any("missing", missing))
	}

	drift := s.drift.Evaluate(frame, model.Snapshot)

	probs, err := model.Forest.PredictProba(x)
	if err != nil {
		return Prediction{}, fmt.Errorf("predict: %w", err)
	}
	return Prediction{
		Scores:              padScores(probs, n),
		MissingFeatureCount: len(missing),
		DriftAlert:          drift.Alert,
		DriftedColumns:      drift.Columns,
		ModelVersion:        model.Version,
		Snapshot:            model.Snapshot,
	}, nil
}

// reconcile builds the matrix in exactly the trained feature order. Features the
// batch lacks are zero and reported.
func reconcile(frame *models.Frame, featureList []string) ([][]float64, []string) {
	var missing []string
	cols := make([]*models.Column, len(featureList))
	for j, name := range featureList {
		col, ok := frame.Column(name)
		if !ok || col.Kind != models.KindNumeric {
			missing = append(missing, name)
			continue
		}
		cols[j] = col
	}
	x := make([][]float64, frame.Len())
	for i := range x {
		row := make([]float64, len(featureList))
		for j, col := range cols {
			if col != nil {
				row[j] = col.Floats[i]
			}
		}
		x[i] = row
	}
	return x, missing
}

// padScores guarantees one score per input row, repeating scores cyclically when
// fewer were produced.
func padScores(scores []float64, n int) []float64 {
	if len(scores) >= n {
		return scores[:n]
	}
	out := make([]float64, n)
	if len(scores) == 0 {
		for i := range out {
			out[i] = NeutralScore
		}
		return out
	}
	for i := range out {
		out[i] = scores[i%len(scores)]
	}
	return out
}
