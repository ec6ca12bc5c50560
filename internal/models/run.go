package models

import (
	"math"
	"time"
)

// Upload is one file submitted for scoring.
type Upload struct {
	Filename string
	Content  []byte
}

// PredictionRun is the immutable aggregate of one scored batch.
type PredictionRun struct {
	ID            int64     `json:"id"`
	Filename      string    `json:"filename"`
	Timestamp     time.Time `json:"timestamp"`
	TotalLeads    int       `json:"total_leads"`
	HighCount     int       `json:"high_priority_count"`
	MediumCount   int       `json:"medium_priority_count"`
	LowCount      int       `json:"low_priority_count"`
	Accuracy      *float64  `json:"accuracy,omitempty"`
	F1Score       *float64  `json:"f1_score,omitempty"`
	PRAUC         *float64  `json:"pr_auc,omitempty"`
	PrecisionAtK  *float64  `json:"precision_at_k,omitempty"`
	RecallAtK     *float64  `json:"recall_at_k,omitempty"`
	HasActualData bool      `json:"has_actual_data"`
}

// AccuracyMetrics is reported only when the batch carries ground truth.
type AccuracyMetrics struct {
	OverallAccuracy  float64 `json:"overall_accuracy"`
	TotalPredictions int     `json:"total_predictions"`
	WithActualData   int     `json:"with_actual_data"`
	F1               float64 `json:"f1"`
	AUPRC            float64 `json:"auprc"`
	PrecisionK       float64 `json:"precision_k"`
	RecallK          float64 `json:"recall_k"`
}

// PredictionResult is the full outcome of one orchestrated prediction.
type PredictionResult struct {
	RunID               int64            `json:"run_id"`
	Filename            string           `json:"filename"`
	Fingerprint         string           `json:"fingerprint"`
	Results             []map[string]any `json:"results"`
	HasActualData       bool             `json:"has_actual_data"`
	MissingFeatureCount int              `json:"missing_feature_count"`
	DriftAlert          bool             `json:"drift_alert"`
	DriftedColumns      []string         `json:"drifted_columns,omitempty"`
	Distribution        Distribution     `json:"distribution"`
	AccuracyMetrics     *AccuracyMetrics `json:"accuracy_metrics"`
	Cached              bool             `json:"cached"`
}

// Training outcomes.
const (
	TrainStatusSuccess = "success"
	TrainStatusError   = "error"
)

// Failure kinds reported for user-data problems.
const (
	FailureTargetNotFound = "target_not_found"
	FailureNoRows         = "no_rows"
	FailureNoFeatures     = "no_features"
)

// TrainFailure describes a training failure the caller can correct.
type TrainFailure struct {
	Kind             string   `json:"kind"`
	Message          string   `json:"message"`
	AvailableColumns []string `json:"available_columns,omitempty"`
	AttemptedAliases []string `json:"attempted_aliases,omitempty"`
}

// TrainResult summarises one training call.
type TrainResult struct {
	Status          string             `json:"status"`
	Accuracy        float64            `json:"accuracy"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Target          string             `json:"target,omitempty"`
	Features        []string           `json:"features,omitempty"`
	Rows            int                `json:"rows"`
	Degraded        bool               `json:"degraded"`
	SnapshotVersion string             `json:"snapshot_version,omitempty"`
	Failure         *TrainFailure      `json:"failure,omitempty"`
}

// LeadRecord is a persisted lead row.
type LeadRecord struct {
	ID              int64    `json:"id"`
	RunID           int64    `json:"run_id"`
	LeadID          string   `json:"lead_id"`
	Source          string   `json:"source"`
	TimeOnSite      *float64 `json:"time_on_site,omitempty"`
	PagesVisited    *float64 `json:"pages_visited,omitempty"`
	EmailOpened     *float64 `json:"email_opened,omitempty"`
	MeetingBooked   *float64 `json:"meeting_booked,omitempty"`
	Converted       *string  `json:"converted,omitempty"`
	PredictionScore float64  `json:"prediction_score"`
	Priority        Priority `json:"priority"`
	RawData         string   `json:"raw_data"`
}

// Notification is an in-app notice about completed work.
type Notification struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// Round4 rounds to four decimal places.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 {
	return &v
}
