package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-leads/internal/analysis"
	"github.com/miradorstack/mirador-leads/internal/api"
	"github.com/miradorstack/mirador-leads/internal/dataset"
	"github.com/miradorstack/mirador-leads/internal/engine"
	"github.com/miradorstack/mirador-leads/internal/models"
	"github.com/miradorstack/mirador-leads/internal/modelstore"
	"github.com/miradorstack/mirador-leads/internal/repo"
	"github.com/miradorstack/mirador-leads/internal/utils"
)

const leadsCSV = "LeadID,Source,TimeOnSite,PagesVisited\n1,google,300,5\n2,ads,20,1\n3,referral,150,4\n"

func trainingCSV(n int) string {
	var b strings.Builder
	b.WriteString("LeadID,Source,TimeOnSite,PagesVisited,Converted\n")
	for i := 0; i < n; i++ {
		tos := 50 + (i*37)%300
		converted := "no"
		if tos > 200 {
			converted = "yes"
		}
		fmt.Fprintf(&b, "%d,%s,%d,%d,%s\n", i+1, []string{"google", "ads"}[i%2], tos, 1+i%6, converted)
	}
	return b.String()
}

func newTestService(t *testing.T) *LeadService {
	t.Helper()
	store, err := repo.OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := modelstore.New("", nil)
	scorer := engine.NewScorer(registry, nil)
	cfg := engine.DefaultTrainerConfig()
	cfg.Forest.Trees = 10
	svc := NewLeadService(Deps{
		Orchestrator: engine.NewOrchestrator(engine.OrchestratorDeps{Scorer: scorer, Runs: store, Limits: dataset.DefaultLimits()}),
		Trainer:      engine.NewTrainer(registry, cfg, nil),
		Analyzer:     analysis.NewAnalyzer(nil, scorer),
		History:      store,
		Limits:       dataset.DefaultLimits(),
	})
	return svc
}

func request(t *testing.T, v any) *structpb.Struct {
	t.Helper()
	s, err := api.ToStruct(v)
	require.NoError(t, err)
	return s
}

func response(t *testing.T, s *structpb.Struct, out any) {
	t.Helper()
	require.NoError(t, api.FromStruct(s, out))
}

func TestPredictAndBrowseHistory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	out, err := svc.Predict(ctx, request(t, api.PredictRequest{Filename: "leads.csv", Content: []byte(leadsCSV)}))
	require.NoError(t, err)
	var result models.PredictionResult
	response(t, out, &result)
	assert.Equal(t, int64(1), result.RunID)
	assert.Len(t, result.Results, 3)

	out, err = svc.ListRuns(ctx, request(t, nil))
	require.NoError(t, err)
	var runs api.ListRunsResponse
	response(t, out, &runs)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, "leads.csv", runs.Runs[0].Filename)

	out, err = svc.GetRun(ctx, request(t, api.GetRunRequest{RunID: 1}))
	require.NoError(t, err)
	var run api.GetRunResponse
	response(t, out, &run)
	assert.Len(t, run.Leads, 3)
	require.NotNil(t, run.Result)
	assert.Equal(t, result.Fingerprint, run.Result.Fingerprint)

	_, err = svc.GetRun(ctx, request(t, api.GetRunRequest{RunID: 99}))
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = svc.GetRun(ctx, request(t, api.GetRunRequest{}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	out, err = svc.SearchLeads(ctx, request(t, api.SearchLeadsRequest{Query: "referral"}))
	require.NoError(t, err)
	var search api.SearchLeadsResponse
	response(t, out, &search)
	require.Len(t, search.Leads, 1)
	assert.Equal(t, "3", search.Leads[0].LeadID)

	out, err = svc.ListNotifications(ctx, request(t, api.ListNotificationsRequest{UnreadOnly: true}))
	require.NoError(t, err)
	var notes api.ListNotificationsResponse
	response(t, out, &notes)
	require.Len(t, notes.Notifications, 1)
	assert.Contains(t, notes.Notifications[0].Message, "Analysis complete for leads.csv.")

	_, err = svc.MarkNotificationRead(ctx, request(t, api.MarkNotificationReadRequest{ID: notes.Notifications[0].ID}))
	require.NoError(t, err)
	out, err = svc.ListNotifications(ctx, request(t, api.ListNotificationsRequest{UnreadOnly: true}))
	require.NoError(t, err)
	response(t, out, &notes)
	assert.Empty(t, notes.Notifications)

	_, err = svc.MarkNotificationRead(ctx, request(t, api.MarkNotificationReadRequest{ID: 404}))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestPredictRejectsBadUploads(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Predict(context.Background(), request(t, api.PredictRequest{Filename: "empty.csv"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = svc.Predict(context.Background(), nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestTrainThenPredict(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	out, err := svc.Train(ctx, request(t, api.TrainRequest{Filename: "train.csv", Content: []byte(trainingCSV(40))}))
	require.NoError(t, err)
	var trained models.TrainResult
	response(t, out, &trained)
	assert.Equal(t, models.TrainStatusSuccess, trained.Status)
	assert.Equal(t, "Converted", trained.Target)
	assert.NotEmpty(t, trained.SnapshotVersion)

	out, err = svc.Predict(ctx, request(t, api.PredictRequest{Filename: "leads.csv", Content: []byte(leadsCSV)}))
	require.NoError(t, err)
	var result models.PredictionResult
	response(t, out, &result)
	require.Len(t, result.Results, 3)
	assert.False(t, result.HasActualData)
}

func TestTrainFailureCarriesDetails(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Train(context.Background(), request(t, api.TrainRequest{Filename: "x.csv", Content: []byte("Age,Income\n1,2\n3,4\n")}))
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())
	require.Len(t, st.Details(), 1)
	detail, ok := st.Details()[0].(*structpb.Struct)
	require.True(t, ok)
	assert.Equal(t, models.FailureTargetNotFound, detail.Fields["kind"].GetStringValue())
	assert.Len(t, detail.Fields["available_columns"].GetListValue().GetValues(), 2)
}

func TestAnalyze(t *testing.T) {
	svc := newTestService(t)
	out, err := svc.Analyze(context.Background(), request(t, api.AnalyzeRequest{Filename: "leads.csv", Content: []byte(leadsCSV)}))
	require.NoError(t, err)
	var report analysis.Report
	response(t, out, &report)
	assert.Equal(t, 3, report.Rows)
	assert.Len(t, report.Preview, 3)
}

func TestUnconfiguredService(t *testing.T) {
	svc := NewLeadService(Deps{})
	ctx := context.Background()
	empty := request(t, nil)
	calls := map[string]func(context.Context, *structpb.Struct) (*structpb.Struct, error){
		"Predict":              svc.Predict,
		"Train":                svc.Train,
		"ListRuns":             svc.ListRuns,
		"GetRun":               svc.GetRun,
		"SearchLeads":          svc.SearchLeads,
		"ListNotifications":    svc.ListNotifications,
		"MarkNotificationRead": svc.MarkNotificationRead,
		"Analyze":              svc.Analyze,
	}
	for name, call := range calls {
		_, err := call(ctx, empty)
		assert.Equal(t, codes.FailedPrecondition, status.Code(err), name)
	}
}

func TestToStatus(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("parse: %w", dataset.ErrTooManyRows), codes.InvalidArgument},
		{fmt.Errorf("parse leads.csv: %w: line 7: %w", dataset.ErrMalformed, &csv.ParseError{Line: 7, Err: csv.ErrQuote}), codes.InvalidArgument},
		{fmt.Errorf("get: %w", repo.ErrNotFound), codes.NotFound},
		{utils.InvalidError("op", "bad", nil), codes.InvalidArgument},
		{utils.NotFoundError("op", "missing", nil), codes.NotFound},
		{utils.UnavailableError("op", "down", nil), codes.FailedPrecondition},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, status.Code(toStatus("op", tc.err)), tc.err.Error())
	}
}
