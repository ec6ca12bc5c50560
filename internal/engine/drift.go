package engine

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/miradorstack/mirador-leads/internal/features"
	"github.com/miradorstack/mirador-leads/internal/models"
)

// DriftThreshold is the relative median shift above which a column counts as drifted.
const DriftThreshold = 0.30

// DriftDetector compares batch medians with the medians captured at training time.
type DriftDetector struct {
	logger    *slog.Logger
	threshold float64
}

// DriftResult captures the outcome of a drift evaluation.
type DriftResult struct {
	Alert   bool
	Columns []string
	Notes   []string
}

// NewDriftDetector constructs a DriftDetector.
func NewDriftDetector(logger *slog.Logger) *DriftDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DriftDetector{logger: logger, threshold: DriftThreshold}
}

// Evaluate inspects the watched columns of the raw batch. Columns without a positive
// training median, or without any present value in the batch, are skipped.
func (d *DriftDetector) Evaluate(frame *models.Frame, snapshot *features.Snapshot) DriftResult {
	result := DriftResult{}
	if frame == nil || snapshot == nil {
		return result
	}
	for _, name := range features.WatchedColumns {
		trained, ok := snapshot.Stat(features.StatKey(name, "median"))
		if !ok || trained <= 0 {
			continue
		}
		col, ok := frame.LookupExact(name)
		if !ok {
			continue
		}
		present := col.Present()
		if len(present) == 0 {
			continue
		}
		current := features.Median(present)
		shift := math.Abs(current-trained) / trained
		if shift > d.threshold {
			result.Alert = true
			result.Columns = append(result.Columns, name)
			result.Notes = append(result.Notes, fmt.Sprintf("%s median %s vs training %s (%.0f%% shift)",
				name, models.FormatFloat(current), models.FormatFloat(trained), shift*100))
		}
	}
	if result.Alert {
		d.logger.Warn("input drift detected", slog.Any("columns", result.Columns))
		for _, note := range result.Notes {
			d.logger.Debug("drift note", slog.String("note", note))
		}
	}
	return result
}
