package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-leads/internal/evaluation"
	"github.com/miradorstack/mirador-leads/internal/features"
	"github.com/miradorstack/mirador-leads/internal/forest"
	"github.com/miradorstack/mirador-leads/internal/metrics"
	"github.com/miradorstack/mirador-leads/internal/models"
	"github.com/miradorstack/mirador-leads/internal/modelstore"
	"github.com/miradorstack/mirador-leads/internal/target"
	"github.com/miradorstack/mirador-leads/internal/utils"
)

// idColumns are excluded from the feature set after normalization.
var idColumns = map[string]struct{}{"leadid": {}, "id": {}, "lead_id": {}, "rowid": {}, "index": {}}

// TrainerConfig controls model fitting and evaluation.
type TrainerConfig struct {
	Forest       forest.Params
	TestFraction float64
	CVFolds      int
	// CVMinRows is the row count above which cross-validation runs.
	CVMinRows int
}

// DefaultTrainerConfig mirrors the production hyperparameters.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Forest:       forest.DefaultParams(),
		TestFraction: 0.2,
		CVFolds:      5,
		CVMinRows:    50,
	}
}

// Trainer fits the lead classifier and publishes it to the model store.
type Trainer struct {
	store      *modelstore.Store
	engineer   *features.Engineer
	cfg        TrainerConfig
	logger     *slog.Logger
	now        func() time.Time
	newVersion func() string
}

// NewTrainer constructs a Trainer. Zero config fields take their defaults.
func NewTrainer(store *modelstore.Store, cfg TrainerConfig, logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultTrainerConfig()
	if cfg.Forest.Trees <= 0 {
		cfg.Forest = def.Forest
	}
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		cfg.TestFraction = def.TestFraction
	}
	if cfg.CVFolds == 0 {
		cfg.CVFolds = def.CVFolds
	}
	if cfg.CVMinRows <= 0 {
		cfg.CVMinRows = def.CVMinRows
	}
	return &Trainer{
		store:      store,
		engineer:   features.NewEngineer(logger),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		newVersion: func() string { return uuid.NewString() },
	}
}

// Train fits a model on frame. Problems with the data itself are reported through
// TrainResult.Failure with a nil error; the error return is reserved for internal faults.
func (t *Trainer) Train(ctx context.Context, frame *models.Frame, hint string) (models.TrainResult, error) {
	start := t.now()
	result, err := t.train(ctx, frame, hint)
	status := metrics.OutcomeSuccess
	if err != nil || result.Status != models.TrainStatusSuccess {
		status = metrics.OutcomeError
	}
	metrics.ObserveTraining(t.now().Sub(start), status)
	return result, err
}

func (t *Trainer) train(ctx context.Context, frame *models.Frame, hint string) (models.TrainResult, error) {
	if t.store == nil {
		return models.TrainResult{}, utils.UnavailableError("train", "model store not configured", nil)
	}
	if frame == nil || frame.Len() == 0 {
		return failure(models.FailureNoRows, "dataset has no rows", frame), nil
	}

	resolution, err := target.Resolve(frame, hint)
	if err != nil {
		var notFound *target.NotFoundError
		if errors.As(err, &notFound) {
			t.logger.Warn("training target not found", slog.Any("available", notFound.Available))
			return models.TrainResult{
				Status: models.TrainStatusError,
				Failure: &models.TrainFailure{
					Kind:             models.FailureTargetNotFound,
					Message:          notFound.Error(),
					AvailableColumns: notFound.Available,
					AttemptedAliases: notFound.Attempted,
				},
			}, nil
		}
		return models.TrainResult{}, fmt.Errorf("resolve target: %w", err)
	}
	if len(resolution.Rows) == 0 {
		return failure(models.FailureNoRows, fmt.Sprintf("target column %q has no values", resolution.Column), frame), nil
	}

	batch := frame.Take(resolution.Rows)
	batch.Drop(resolution.Column)
	if hint != "" && hint != resolution.Column {
		batch.Drop(hint)
	}

	training := features.NewTrainingContext()
	engineered, err := t.engineer.Apply(batch, training)
	if err != nil {
		return models.TrainResult{}, fmt.Errorf("engineer features: %w", err)
	}

	featureList := selectFeatures(engineered)
	if len(featureList) == 0 {
		return failure(models.FailureNoFeatures, "no usable feature columns", frame), nil
	}
	x, err := matrix(engineered, featureList)
	if err != nil {
		return models.TrainResult{}, err
	}
	y := resolution.Labels

	t.logger.Info("training lead model",
		slog.String("target", resolution.Column),
		slog.String("target_method", resolution.Method),
		slog.Int("rows", len(y)),
		slog.Int("features", len(featureList)))

	metricValues := make(map[string]float64)
	if len(y) > t.cfg.CVMinRows && t.cfg.CVFolds >= 2 {
		cv, err := t.crossValidate(ctx, x, y)
		if err != nil {
			return models.TrainResult{}, err
		}
		for k, v := range cv {
			metricValues[k] = v
		}
	}

	split := evaluation.TrainTestSplit(y, t.cfg.TestFraction, t.cfg.Forest.Seed)
	if split.Degraded() {
		t.logger.Warn("dataset too small for a holdout split; evaluating on training rows", slog.Int("rows", len(y)))
	}
	fitted, err := forest.Fit(ctx, pick(x, split.Train), pickLabels(y, split.Train), t.cfg.Forest)
	if err != nil {
		return models.TrainResult{}, fmt.Errorf("fit forest: %w", err)
	}

	testX, testY := pick(x, split.Test), pickLabels(y, split.Test)
	probs, err := fitted.PredictProba(testX)
	if err != nil {
		return models.TrainResult{}, fmt.Errorf("evaluate forest: %w", err)
	}
	accuracy := evaluation.Accuracy(testY, evaluation.Threshold(probs))
	ranking := evaluation.Ranking(testY, probs, evaluation.DefaultTopFraction)
	metricValues["f1_score"] = ranking.F1
	metricValues["pr_auc"] = ranking.PRAUC
	metricValues["precision_at_k"] = ranking.PrecisionAt
	metricValues["recall_at_k"] = ranking.RecallAt

	model := &modelstore.Model{
		Version:   t.newVersion(),
		CreatedAt: t.now().UTC(),
		Target:    resolution.Column,
		Snapshot:  training.Freeze(featureList),
		Forest:    fitted,
		Metrics:   metricValues,
	}
	if err := t.store.Save(model); err != nil {
		return models.TrainResult{}, fmt.Errorf("publish model: %w", err)
	}

	t.logger.Info("lead model trained",
		slog.String("version", model.Version),
		slog.Float64("accuracy", accuracy),
		slog.String("split", split.Strategy))

	return models.TrainResult{
		Status:          models.TrainStatusSuccess,
		Accuracy:        accuracy,
		Metrics:         metricValues,
		Target:          resolution.Column,
		Features:        featureList,
		Rows:            len(y),
		Degraded:        split.Degraded(),
		SnapshotVersion: model.Version,
	}, nil
}

func (t *Trainer) crossValidate(ctx context.Context, x [][]float64, y []int) (map[string]float64, error) {
	folds := evaluation.StratifiedKFold(y, t.cfg.CVFolds)
	if len(folds) == 0 {
		return nil, nil
	}
	var acc, f1, precision float64
	for i, fold := range folds {
		f, err := forest.Fit(ctx, pick(x, fold.Train), pickLabels(y, fold.Train), t.cfg.Forest)
		if err != nil {
			return nil, fmt.Errorf("cross-validate fold %d: %w", i, err)
		}
		pred, err := f.Predict(pick(x, fold.Test))
		if err != nil {
			return nil, fmt.Errorf("cross-validate fold %d: %w", i, err)
		}
		truth := pickLabels(y, fold.Test)
		acc += evaluation.Accuracy(truth, pred)
		f1 += evaluation.F1Weighted(truth, pred)
		precision += evaluation.PrecisionWeighted(truth, pred)
	}
	n := float64(len(folds))
	return map[string]float64{
		"cv_accuracy":  models.Round4(acc / n),
		"cv_f1":        models.Round4(f1 / n),
		"cv_precision": models.Round4(precision / n),
	}, nil
}

func failure(kind, message string, frame *models.Frame) models.TrainResult {
	f := &models.TrainFailure{Kind: kind, Message: message}
	if frame != nil {
		f.AvailableColumns = frame.Names()
	}
	return models.TrainResult{Status: models.TrainStatusError, Failure: f}
}

// selectFeatures keeps every engineered column except identifiers, in frame order.
func selectFeatures(frame *models.Frame) []string {
	out := make([]string, 0, frame.Width())
	for _, col := range frame.Columns() {
		if col.Kind != models.KindNumeric {
			continue
		}
		if _, skip := idColumns[strings.ToLower(strings.ReplaceAll(col.Name, " ", ""))]; skip {
			continue
		}
		out = append(out, col.Name)
	}
	return out
}

// matrix lays the named columns out row-major. Every column must exist and be numeric.
func matrix(frame *models.Frame, featureList []string) ([][]float64, error) {
	cols := make([]*models.Column, len(featureList))
	for j, name := range featureList {
		col, ok := frame.Column(name)
		if !ok || col.Kind != models.KindNumeric {
			return nil, fmt.Errorf("feature %q missing from engineered frame", name)
		}
		cols[j] = col
	}
	x := make([][]float64, frame.Len())
	for i := range x {
		row := make([]float64, len(cols))
		for j, col := range cols {
			row[j] = col.Floats[i]
		}
		x[i] = row
	}
	return x, nil
}

func pick(x [][]float64, rows []int) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = x[r]
	}
	return out
}

func pickLabels(y []int, rows []int) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = y[r]
	}
	return out
}
