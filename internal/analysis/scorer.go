package analysis

import (
	"context"

	"github.com/miradorstack/mirador-leads/internal/engine"
	"github.com/miradorstack/mirador-leads/internal/models"
)

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, frame *models.Frame) (engine.Prediction, error)

// Predict implements Scorer.
func (f ScorerFunc) Predict(ctx context.Context, frame *models.Frame) (engine.Prediction, error) {
	return f(ctx, frame)
}
