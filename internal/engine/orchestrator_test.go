package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-leads/internal/cache"
	"github.com/miradorstack/mirador-leads/internal/dataset"
	"github.com/miradorstack/mirador-leads/internal/models"
	"github.com/miradorstack/mirador-leads/internal/modelstore"
	"github.com/miradorstack/mirador-leads/internal/repo"
)

type fakeRunStore struct {
	runs          []models.PredictionRun
	leads         map[int64][]models.LeadPayload
	notifications []string
	err           error
}

func (f *fakeRunStore) SaveRun(ctx context.Context, run models.PredictionRun) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.runs = append(f.runs, run)
	return int64(len(f.runs)), nil
}

func (f *fakeRunStore) SaveLeads(ctx context.Context, runID int64, leads []models.LeadPayload) error {
	if f.leads == nil {
		f.leads = make(map[int64][]models.LeadPayload)
	}
	f.leads[runID] = leads
	return nil
}

func (f *fakeRunStore) CreateNotification(ctx context.Context, kind, message string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.notifications = append(f.notifications, message)
	return int64(len(f.notifications)), nil
}

type fakeNotifier struct {
	messages []repo.WebhookMessage
	err      error
}

func (f *fakeNotifier) Notify(ctx context.Context, msg repo.WebhookMessage) error {
	f.messages = append(f.messages, msg)
	return f.err
}

type stubCache struct {
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newStubCache() *stubCache {
	return &stubCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (s *stubCache) Get(ctx context.Context, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	v, ok := s.data[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (s *stubCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *stubCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	return true, s.Set(ctx, key, value, ttl)
}

func (s *stubCache) Del(ctx context.Context, key string) error {
	delete(s.data, key)
	return nil
}

func (s *stubCache) Close() error { return nil }

const uploadCSV = "LeadID,Source,TimeOnSite,PagesVisited\n1,google,300,5\n2,ads,20,1\n3,referral,150,4\n"

func TestOrchestratorPredictPersistsAndCaches(t *testing.T) {
	runs := &fakeRunStore{}
	notifier := &fakeNotifier{}
	c := newStubCache()
	o := NewOrchestrator(OrchestratorDeps{
		Scorer:   NewScorer(modelstore.New("", nil), nil),
		Cache:    c,
		Runs:     runs,
		Notifier: notifier,
		Limits:   dataset.DefaultLimits(),
	})
	upload := models.Upload{Filename: "leads.csv", Content: []byte(uploadCSV)}

	res, err := o.Predict(context.Background(), upload)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RunID)
	assert.False(t, res.Cached)
	assert.Len(t, res.Results, 3)
	assert.Equal(t, models.Distribution{Medium: 3}, res.Distribution)
	assert.False(t, res.HasActualData)
	assert.Nil(t, res.AccuracyMetrics)

	require.Len(t, runs.runs, 1)
	assert.Equal(t, 3, runs.runs[0].TotalLeads)
	assert.Nil(t, runs.runs[0].Accuracy)
	assert.Len(t, runs.leads[1], 3)
	assert.Equal(t, []string{"Analysis complete for leads.csv. 0 high priority leads found."}, runs.notifications)
	require.Len(t, notifier.messages, 1)
	assert.Equal(t, NotificationSuccess, notifier.messages[0].Type)
	assert.Equal(t, int64(1), notifier.messages[0].RunID)

	key := CacheKeyPrefix + dataset.Fingerprint(upload.Content)
	assert.Contains(t, c.data, key)
	assert.Equal(t, DefaultCacheTTL, c.ttls[key])

	stored, ok := o.Result(1)
	require.True(t, ok)
	assert.Equal(t, res.Fingerprint, stored.Fingerprint)

	again, err := o.Predict(context.Background(), upload)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, res.RunID, again.RunID)
	assert.Len(t, runs.runs, 1, "cache hit must not persist a new run")
}

func TestOrchestratorGroundTruthMetrics(t *testing.T) {
	runs := &fakeRunStore{}
	o := NewOrchestrator(OrchestratorDeps{
		Scorer: NewScorer(modelstore.New("", nil), nil),
		Runs:   runs,
	})
	content := []byte("LeadID,Converted\n1,yes\n2,no\n3,\n")
	res, err := o.Predict(context.Background(), models.Upload{Filename: "truth.csv", Content: content})
	require.NoError(t, err)
	require.NotNil(t, res.AccuracyMetrics)
	assert.True(t, res.HasActualData)
	assert.Equal(t, 3, res.AccuracyMetrics.TotalPredictions)
	assert.Equal(t, 2, res.AccuracyMetrics.WithActualData)
	// neutral scores put every lead in Medium, which never counts as correct
	assert.Equal(t, 0.0, res.AccuracyMetrics.OverallAccuracy)

	require.Len(t, runs.runs, 1)
	require.NotNil(t, runs.runs[0].Accuracy)
	require.NotNil(t, runs.runs[0].F1Score)
	assert.Equal(t, *runs.runs[0].F1Score, *runs.runs[0].Accuracy)
	assert.True(t, runs.runs[0].HasActualData)
}

func TestOrchestratorBestEffortStages(t *testing.T) {
	c := newStubCache()
	c.getErr = errors.New("redis down")
	c.setErr = errors.New("redis down")
	runs := &fakeRunStore{err: errors.New("disk full")}
	notifier := &fakeNotifier{err: errors.New("webhook 502")}
	o := NewOrchestrator(OrchestratorDeps{
		Scorer:   NewScorer(modelstore.New("", nil), nil),
		Cache:    c,
		Runs:     runs,
		Notifier: notifier,
	})

	res, err := o.Predict(context.Background(), models.Upload{Filename: "leads.csv", Content: []byte(uploadCSV)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.RunID)
	assert.Len(t, res.Results, 3)
	assert.Len(t, notifier.messages, 1)
	latest, ok := o.LatestResult()
	require.True(t, ok)
	assert.Equal(t, "leads.csv", latest.Filename)
}

func TestOrchestratorIgnoresCorruptCacheEntry(t *testing.T) {
	c := newStubCache()
	upload := models.Upload{Filename: "leads.csv", Content: []byte(uploadCSV)}
	c.data[CacheKeyPrefix+dataset.Fingerprint(upload.Content)] = []byte("{not json")
	o := NewOrchestrator(OrchestratorDeps{Scorer: NewScorer(modelstore.New("", nil), nil), Cache: c})

	res, err := o.Predict(context.Background(), upload)
	require.NoError(t, err)
	assert.False(t, res.Cached)
}

func TestOrchestratorRejectsInvalidUploads(t *testing.T) {
	o := NewOrchestrator(OrchestratorDeps{
		Scorer: NewScorer(modelstore.New("", nil), nil),
		Limits: dataset.Limits{MaxRows: 2},
	})
	_, err := o.Predict(context.Background(), models.Upload{Filename: "empty.csv"})
	assert.ErrorIs(t, err, dataset.ErrEmptyFile)

	_, err = o.Predict(context.Background(), models.Upload{Filename: "big.csv", Content: []byte(uploadCSV)})
	assert.ErrorIs(t, err, dataset.ErrTooManyRows)

	_, err = NewOrchestrator(OrchestratorDeps{}).Predict(context.Background(), models.Upload{Content: []byte(uploadCSV)})
	assert.Error(t, err)
}

func TestOrchestratorUsesTrainedModel(t *testing.T) {
	store := modelstore.New("", nil)
	_, err := testTrainer(store).Train(context.Background(), leadFrame(t, 60), "")
	require.NoError(t, err)

	o := NewOrchestrator(OrchestratorDeps{Scorer: NewScorer(store, nil)})
	res, err := o.Predict(context.Background(), models.Upload{Filename: "leads.csv", Content: []byte(uploadCSV)})
	require.NoError(t, err)
	assert.Len(t, res.Results, 3)
	for i := 1; i < len(res.Results); i++ {
		assert.GreaterOrEqual(t, res.Results[i-1][FieldScore].(float64), res.Results[i][FieldScore].(float64))
	}
}

func TestMemoryResultStore(t *testing.T) {
	s := NewMemoryResultStore()
	_, ok := s.Latest()
	assert.False(t, ok)
	s.Put(models.PredictionResult{RunID: 1, Filename: "a"})
	s.Put(models.PredictionResult{RunID: 2, Filename: "b"})
	s.Put(models.PredictionResult{RunID: 1, Filename: "c"})
	latest, _ := s.Latest()
	assert.Equal(t, "c", latest.Filename)
	second, ok := s.Get(2)
	require.True(t, ok)
	assert.Equal(t, "b", second.Filename)
}

func TestOrchestratorCacheHitBecomesLatestResult(t *testing.T) {
	c := newStubCache()
	o := NewOrchestrator(OrchestratorDeps{
		Scorer: NewScorer(modelstore.New("", nil), nil),
		Cache:  c,
		Runs:   &fakeRunStore{},
	})
	first := models.Upload{Filename: "a.csv", Content: []byte(uploadCSV)}
	second := models.Upload{Filename: "b.csv", Content: []byte("LeadID,TimeOnSite\n9,10\n")}

	a, err := o.Predict(context.Background(), first)
	require.NoError(t, err)
	_, err = o.Predict(context.Background(), second)
	require.NoError(t, err)
	again, err := o.Predict(context.Background(), first)
	require.NoError(t, err)
	require.True(t, again.Cached)

	latest, ok := o.LatestResult()
	require.True(t, ok)
	assert.Equal(t, "a.csv", latest.Filename)
	assert.True(t, latest.Cached)
	byRun, ok := o.Result(a.RunID)
	require.True(t, ok)
	assert.True(t, byRun.Cached)
	assert.NotContains(t, c.data, InflightKeyPrefix+dataset.Fingerprint(first.Content))
}

func claimedOrchestrator(t *testing.T, runs *fakeRunStore) (*Orchestrator, *cache.MemoryProvider, models.Upload) {
	t.Helper()
	mem := cache.NewMemoryProvider()
	o := NewOrchestrator(OrchestratorDeps{
		Scorer: NewScorer(modelstore.New("", nil), nil),
		Cache:  mem,
		Runs:   runs,
	})
	o.inflightPoll = 5 * time.Millisecond
	upload := models.Upload{Filename: "leads.csv", Content: []byte(uploadCSV)}
	ok, err := mem.SetNX(context.Background(), InflightKeyPrefix+dataset.Fingerprint(upload.Content), []byte("other"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	return o, mem, upload
}

func TestOrchestratorWaitsForIdenticalUpload(t *testing.T) {
	runs := &fakeRunStore{}
	o, mem, upload := claimedOrchestrator(t, runs)
	fingerprint := dataset.Fingerprint(upload.Content)
	data, err := json.Marshal(models.PredictionResult{RunID: 42, Filename: "leads.csv", Fingerprint: fingerprint})
	require.NoError(t, err)
	timer := time.AfterFunc(30*time.Millisecond, func() {
		_ = mem.Set(context.Background(), CacheKeyPrefix+fingerprint, data, time.Minute)
		_ = mem.Del(context.Background(), InflightKeyPrefix+fingerprint)
	})
	defer timer.Stop()

	res, err := o.Predict(context.Background(), upload)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, int64(42), res.RunID)
	assert.Empty(t, runs.runs)
	latest, _ := o.LatestResult()
	assert.Equal(t, int64(42), latest.RunID)
}

func TestOrchestratorScoresWhenClaimReleasedWithoutResult(t *testing.T) {
	runs := &fakeRunStore{}
	o, mem, upload := claimedOrchestrator(t, runs)
	lock := InflightKeyPrefix + dataset.Fingerprint(upload.Content)
	timer := time.AfterFunc(30*time.Millisecond, func() { _ = mem.Del(context.Background(), lock) })
	defer timer.Stop()

	res, err := o.Predict(context.Background(), upload)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Len(t, runs.runs, 1)
	_, err = mem.Get(context.Background(), lock)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestOrchestratorStopsWaitingForStaleClaim(t *testing.T) {
	runs := &fakeRunStore{}
	o, _, upload := claimedOrchestrator(t, runs)
	o.inflightWait = 20 * time.Millisecond

	res, err := o.Predict(context.Background(), upload)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Len(t, runs.runs, 1)
}
