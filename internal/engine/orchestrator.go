package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-leads/internal/cache"
	"github.com/miradorstack/mirador-leads/internal/dataset"
	"github.com/miradorstack/mirador-leads/internal/metrics"
	"github.com/miradorstack/mirador-leads/internal/models"
	"github.com/miradorstack/mirador-leads/internal/repo"
	"github.com/miradorstack/mirador-leads/internal/utils"
)

// CacheKeyPrefix prefixes the content fingerprint in result cache keys.
const CacheKeyPrefix = "prediction:"

// InflightKeyPrefix prefixes the fingerprint of an upload that is being scored.
const InflightKeyPrefix = "prediction-inflight:"

// DefaultCacheTTL is how long a cached prediction stays valid.
const DefaultCacheTTL = time.Hour

// In-flight claims expire on their own so a crashed worker cannot block an upload.
const (
	defaultInflightTTL  = 2 * time.Minute
	defaultInflightWait = 30 * time.Second
	defaultInflightPoll = 200 * time.Millisecond
)

// NotificationSuccess is the notification type of a completed analysis.
const NotificationSuccess = "success"

// Pipeline stages, as reported to the stage latency histogram.
const (
	StageCacheCheck = "cache_check"
	StageParse      = "parse"
	StageScore      = "score"
	StageProcess    = "process"
	StagePersist    = "persist"
	StageNotify     = "notify"
	StageCacheStore = "cache_store"
)

// RunStore persists prediction runs and their leads.
type RunStore interface {
	SaveRun(ctx context.Context, run models.PredictionRun) (int64, error)
	SaveLeads(ctx context.Context, runID int64, leads []models.LeadPayload) error
	CreateNotification(ctx context.Context, kind, message string) (int64, error)
}

// Notifier delivers completion messages outside the store.
type Notifier interface {
	Notify(ctx context.Context, msg repo.WebhookMessage) error
}

// ResultStore keeps the most recent full result per run.
type ResultStore interface {
	Put(result models.PredictionResult)
	Get(runID int64) (models.PredictionResult, bool)
	Latest() (models.PredictionResult, bool)
}

// MemoryResultStore is a process-local ResultStore.
type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[int64]models.PredictionResult
	latest  int64
	hasAny  bool
}

// NewMemoryResultStore constructs an empty MemoryResultStore.
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[int64]models.PredictionResult)}
}

// Put records result as the latest for its run id.
func (m *MemoryResultStore) Put(result models.PredictionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result.RunID] = result
	m.latest = result.RunID
	m.hasAny = true
}

// Get returns the latest result of a run.
func (m *MemoryResultStore) Get(runID int64) (models.PredictionResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[runID]
	return r, ok
}

// Latest returns the most recently stored result.
func (m *MemoryResultStore) Latest() (models.PredictionResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasAny {
		return models.PredictionResult{}, false
	}
	return m.results[m.latest], true
}

// OrchestratorDeps wires an Orchestrator. Only Scorer is required.
type OrchestratorDeps struct {
	Scorer    *Scorer
	Processor *ResultProcessor
	Cache     cache.Provider
	Runs      RunStore
	Notifier  Notifier
	Results   ResultStore
	Limits    dataset.Limits
	CacheTTL  time.Duration
	Logger    *slog.Logger
}

// Orchestrator runs an uploaded file through scoring, processing and persistence.
type Orchestrator struct {
	scorer    *Scorer
	processor *ResultProcessor
	cache     cache.Provider
	runs      RunStore
	notifier  Notifier
	results   ResultStore
	limits    dataset.Limits
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time

	inflightTTL  time.Duration
	inflightWait time.Duration
	inflightPoll time.Duration
}

// NewOrchestrator constructs an Orchestrator, filling unset dependencies with
// no-op or in-memory implementations.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		scorer:    deps.Scorer,
		processor: deps.Processor,
		cache:     deps.Cache,
		runs:      deps.Runs,
		notifier:  deps.Notifier,
		results:   deps.Results,
		limits:    deps.Limits,
		ttl:       deps.CacheTTL,
		logger:    logger,
		now:       time.Now,

		inflightTTL:  defaultInflightTTL,
		inflightWait: defaultInflightWait,
		inflightPoll: defaultInflightPoll,
	}
	if o.processor == nil {
		o.processor = NewResultProcessor(nil, logger)
	}
	if o.cache == nil {
		o.cache = cache.NoopProvider{}
	}
	if o.results == nil {
		o.results = NewMemoryResultStore()
	}
	if o.ttl <= 0 {
		o.ttl = DefaultCacheTTL
	}
	return o
}

// Result returns the latest full result stored for a run.
func (o *Orchestrator) Result(runID int64) (models.PredictionResult, bool) {
	return o.results.Get(runID)
}

// LatestResult returns the most recent full result.
func (o *Orchestrator) LatestResult() (models.PredictionResult, bool) {
	return o.results.Latest()
}

// Predict scores one upload. Identical content is served from the cache.
func (o *Orchestrator) Predict(ctx context.Context, upload models.Upload) (models.PredictionResult, error) {
	started := time.Now()
	outcome := metrics.OutcomeError
	defer func() { metrics.ObservePrediction(time.Since(started), outcome) }()

	if o.scorer == nil {
		return models.PredictionResult{}, utils.UnavailableError("predict", "scorer not configured", nil)
	}

	fingerprint := dataset.Fingerprint(upload.Content)
	key := CacheKeyPrefix + fingerprint

	if cached, ok := o.lookup(ctx, key); ok {
		outcome = metrics.OutcomeCached
		return o.served(upload.Filename, cached), nil
	}
	release, cached, ok := o.claim(ctx, key, fingerprint)
	if ok {
		outcome = metrics.OutcomeCached
		return o.served(upload.Filename, cached), nil
	}
	defer release()

	stageStart := time.Now()
	frame, err := dataset.Parse(upload.Content, o.limits)
	metrics.ObserveStage(StageParse, time.Since(stageStart))
	if err != nil {
		return models.PredictionResult{}, fmt.Errorf("parse %s: %w", upload.Filename, err)
	}

	stageStart = time.Now()
	prediction, err := o.scorer.Predict(ctx, frame)
	metrics.ObserveStage(StageScore, time.Since(stageStart))
	if err != nil {
		return models.PredictionResult{}, fmt.Errorf("score: %w", err)
	}

	stageStart = time.Now()
	processed, err := o.processor.Process(frame, prediction.Scores, prediction.Snapshot)
	metrics.ObserveStage(StageProcess, time.Since(stageStart))
	if err != nil {
		return models.PredictionResult{}, fmt.Errorf("process: %w", err)
	}

	run := buildRun(upload.Filename, o.now().UTC(), processed)

	stageStart = time.Now()
	runID := o.persist(ctx, run, processed.Payloads)
	metrics.ObserveStage(StagePersist, time.Since(stageStart))

	stageStart = time.Now()
	o.notify(ctx, runID, upload.Filename, processed.Distribution.High)
	metrics.ObserveStage(StageNotify, time.Since(stageStart))

	result := models.PredictionResult{
		RunID:               runID,
		Filename:            upload.Filename,
		Fingerprint:         fingerprint,
		Results:             processed.Results,
		HasActualData:       processed.HasActualData,
		MissingFeatureCount: prediction.MissingFeatureCount,
		DriftAlert:          prediction.DriftAlert,
		DriftedColumns:      prediction.DriftedColumns,
		Distribution:        processed.Distribution,
		AccuracyMetrics:     accuracyMetrics(processed),
	}
	o.results.Put(result)

	stageStart = time.Now()
	o.store(ctx, key, result)
	metrics.ObserveStage(StageCacheStore, time.Since(stageStart))

	metrics.ObserveLeads(processed.Distribution.High, processed.Distribution.Medium, processed.Distribution.Low)
	if prediction.DriftAlert {
		metrics.ObserveDriftAlert()
	}
	outcome = metrics.OutcomeSuccess
	o.logger.Info("prediction complete",
		slog.String("filename", upload.Filename),
		slog.Int64("run_id", runID),
		slog.Int("rows", frame.Len()),
		slog.Int("high", processed.Distribution.High),
		slog.Int("missing_feature_count", prediction.MissingFeatureCount),
		slog.Bool("drift_alert", prediction.DriftAlert))
	return result, nil
}

// served records a cached result as the latest one and returns it.
func (o *Orchestrator) served(filename string, cached models.PredictionResult) models.PredictionResult {
	o.results.Put(cached)
	o.logger.Info("prediction served from cache",
		slog.String("filename", filename),
		slog.Int64("run_id", cached.RunID))
	return cached
}

// claim marks the upload as in flight so identical concurrent uploads score it
// once. When another caller holds the claim it waits for that caller's cached
// result; it falls through to scoring when the claim is released without a
// result, the wait expires or the cache fails. The returned release func drops
// a claim this call acquired.
func (o *Orchestrator) claim(ctx context.Context, key, fingerprint string) (func(), models.PredictionResult, bool) {
	noop := func() {}
	lock := InflightKeyPrefix + fingerprint
	acquired, err := o.cache.SetNX(ctx, lock, []byte(o.now().UTC().Format(time.RFC3339Nano)), o.inflightTTL)
	if err != nil {
		o.logger.Warn("failed to claim in-flight prediction", slog.String("key", lock), slog.Any("error", err))
		return noop, models.PredictionResult{}, false
	}
	if acquired {
		return func() {
			if err := o.cache.Del(context.WithoutCancel(ctx), lock); err != nil {
				o.logger.Warn("failed to release in-flight prediction", slog.String("key", lock), slog.Any("error", err))
			}
		}, models.PredictionResult{}, false
	}

	o.logger.Info("identical upload in flight; waiting for its result", slog.String("fingerprint", fingerprint))
	deadline := time.NewTimer(o.inflightWait)
	defer deadline.Stop()
	ticker := time.NewTicker(o.inflightPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return noop, models.PredictionResult{}, false
		case <-deadline.C:
			o.logger.Warn("in-flight prediction did not finish; scoring again", slog.String("fingerprint", fingerprint))
			return noop, models.PredictionResult{}, false
		case <-ticker.C:
			if cached, ok := o.lookup(ctx, key); ok {
				return noop, cached, true
			}
			if _, err := o.cache.Get(ctx, lock); errors.Is(err, cache.ErrCacheMiss) {
				// the holder may have stored its result just before releasing
				cached, ok := o.lookup(ctx, key)
				return noop, cached, ok
			}
		}
	}
}

func (o *Orchestrator) lookup(ctx context.Context, key string) (models.PredictionResult, bool) {
	start := time.Now()
	defer func() { metrics.ObserveStage(StageCacheCheck, time.Since(start)) }()

	data, err := o.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			metrics.ObserveCacheLookup(metrics.CacheMiss)
		} else {
			metrics.ObserveCacheLookup(metrics.CacheError)
			o.logger.Warn("cache lookup failed", slog.String("key", key), slog.Any("error", err))
		}
		return models.PredictionResult{}, false
	}
	var result models.PredictionResult
	if err := json.Unmarshal(data, &result); err != nil {
		metrics.ObserveCacheLookup(metrics.CacheError)
		o.logger.Warn("discarding undecodable cache entry", slog.String("key", key), slog.Any("error", err))
		return models.PredictionResult{}, false
	}
	metrics.ObserveCacheLookup(metrics.CacheHit)
	result.Cached = true
	return result, true
}

func (o *Orchestrator) persist(ctx context.Context, run models.PredictionRun, payloads []models.LeadPayload) int64 {
	if o.runs == nil {
		return 0
	}
	runID, err := o.runs.SaveRun(ctx, run)
	if err != nil {
		o.logger.Warn("failed to persist prediction run", slog.String("filename", run.Filename), slog.Any("error", err))
		return 0
	}
	if err := o.runs.SaveLeads(ctx, runID, payloads); err != nil {
		o.logger.Warn("failed to persist leads", slog.Int64("run_id", runID), slog.Any("error", err))
	}
	return runID
}

func (o *Orchestrator) notify(ctx context.Context, runID int64, filename string, high int) {
	message := fmt.Sprintf("Analysis complete for %s. %d high priority leads found.", filename, high)
	if o.runs != nil {
		if _, err := o.runs.CreateNotification(ctx, NotificationSuccess, message); err != nil {
			o.logger.Warn("failed to create notification", slog.Int64("run_id", runID), slog.Any("error", err))
		}
	}
	if o.notifier != nil {
		msg := repo.WebhookMessage{Type: NotificationSuccess, Message: message, RunID: runID, Filename: filename}
		if err := o.notifier.Notify(ctx, msg); err != nil {
			o.logger.Warn("failed to deliver webhook notification", slog.Int64("run_id", runID), slog.Any("error", err))
		}
	}
}

func (o *Orchestrator) store(ctx context.Context, key string, result models.PredictionResult) {
	data, err := json.Marshal(result)
	if err != nil {
		o.logger.Warn("failed to encode result for cache", slog.Any("error", err))
		return
	}
	if err := o.cache.Set(ctx, key, data, o.ttl); err != nil {
		o.logger.Warn("failed to cache prediction", slog.String("key", key), slog.Any("error", err))
	}
}

// buildRun summarises a processed batch. Process computes ranking metrics whenever
// ground truth exists, so run accuracy is the weighted F1 or nil.
func buildRun(filename string, ts time.Time, p Processed) models.PredictionRun {
	run := models.PredictionRun{
		Filename:      filename,
		Timestamp:     ts,
		TotalLeads:    len(p.Leads),
		HighCount:     p.Distribution.High,
		MediumCount:   p.Distribution.Medium,
		LowCount:      p.Distribution.Low,
		HasActualData: p.HasActualData,
	}
	if p.Ranking != nil {
		run.Accuracy = models.Float64Ptr(p.Ranking.F1)
		run.F1Score = models.Float64Ptr(p.Ranking.F1)
		run.PRAUC = models.Float64Ptr(p.Ranking.PRAUC)
		run.PrecisionAtK = models.Float64Ptr(p.Ranking.PrecisionAt)
		run.RecallAtK = models.Float64Ptr(p.Ranking.RecallAt)
	}
	return run
}

func accuracyMetrics(p Processed) *models.AccuracyMetrics {
	if !p.HasActualData {
		return nil
	}
	m := &models.AccuracyMetrics{
		OverallAccuracy:  p.Aggregate.Overall(),
		TotalPredictions: len(p.Leads),
		WithActualData:   p.Aggregate.TotalWithActual,
	}
	if p.Ranking != nil {
		m.F1 = p.Ranking.F1
		m.AUPRC = p.Ranking.PRAUC
		m.PrecisionK = p.Ranking.PrecisionAt
		m.RecallK = p.Ranking.RecallAt
	}
	return m
}
