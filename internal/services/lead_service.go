package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-leads/internal/analysis"
	"github.com/miradorstack/mirador-leads/internal/api"
	"github.com/miradorstack/mirador-leads/internal/dataset"
	"github.com/miradorstack/mirador-leads/internal/engine"
	"github.com/miradorstack/mirador-leads/internal/models"
	"github.com/miradorstack/mirador-leads/internal/repo"
	"github.com/miradorstack/mirador-leads/internal/utils"
)

// HistoryRepo defines the read side of run, lead and notification storage.
type HistoryRepo interface {
	History(ctx context.Context) ([]models.PredictionRun, error)
	GetRun(ctx context.Context, runID int64) (models.PredictionRun, error)
	LeadsByRun(ctx context.Context, runID int64) ([]models.LeadRecord, error)
	Search(ctx context.Context, query string) ([]models.LeadRecord, error)
	Notifications(ctx context.Context, limit int, unreadOnly bool) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
}

// LeadService implements the gRPC LeadScoring service.
type LeadService struct {
	logger       *slog.Logger
	orchestrator *engine.Orchestrator
	trainer      *engine.Trainer
	analyzer     *analysis.Analyzer
	history      HistoryRepo
	limits       dataset.Limits
	latencies    *utils.LatencyTracker
}

// Deps wires a LeadService. Nil dependencies make the matching methods FailedPrecondition.
type Deps struct {
	Logger       *slog.Logger
	Orchestrator *engine.Orchestrator
	Trainer      *engine.Trainer
	Analyzer     *analysis.Analyzer
	History      HistoryRepo
	Limits       dataset.Limits
}

// NewLeadService constructs the service facade.
func NewLeadService(deps Deps) *LeadService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LeadService{
		logger:       logger,
		orchestrator: deps.Orchestrator,
		trainer:      deps.Trainer,
		analyzer:     deps.Analyzer,
		history:      deps.History,
		limits:       deps.Limits,
		latencies:    utils.NewLatencyTracker(1024),
	}
}

var _ api.LeadScoringServer = (*LeadService)(nil)

// Predict scores an uploaded CSV file.
func (s *LeadService) Predict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.orchestrator == nil {
		return nil, status.Error(codes.FailedPrecondition, "prediction pipeline not configured")
	}
	var req api.PredictRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.orchestrator.Predict(ctx, req.Upload())
	if err != nil {
		s.logger.Error("prediction failed", slog.String("filename", req.Filename), slog.Any("error", err))
		return nil, toStatus("predict", err)
	}
	s.observe(time.Since(start))
	return encode(result)
}

// Train fits a new model from an uploaded CSV file. Data problems are returned as
// InvalidArgument with the structured failure attached as a status detail.
func (s *LeadService) Train(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.trainer == nil {
		return nil, status.Error(codes.FailedPrecondition, "trainer not configured")
	}
	var req api.TrainRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	frame, err := dataset.Parse(req.Content, s.limits)
	if err != nil {
		return nil, toStatus("train", err)
	}
	result, err := s.trainer.Train(ctx, frame, req.Target)
	if err != nil {
		s.logger.Error("training failed", slog.String("filename", req.Filename), slog.Any("error", err))
		return nil, toStatus("train", err)
	}
	if result.Failure != nil {
		return nil, failureStatus(result.Failure)
	}
	return encode(result)
}

// ListRuns returns prediction runs newest first.
func (s *LeadService) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.history == nil {
		return nil, status.Error(codes.FailedPrecondition, "history repository not configured")
	}
	runs, err := s.history.History(ctx)
	if err != nil {
		s.logger.Error("list runs failed", slog.Any("error", err))
		return nil, toStatus("list runs", err)
	}
	return encode(api.ListRunsResponse{Runs: runs})
}

// GetRun returns one run with its leads.
func (s *LeadService) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.history == nil {
		return nil, status.Error(codes.FailedPrecondition, "history repository not configured")
	}
	var req api.GetRunRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.RunID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "run_id is required")
	}
	run, err := s.history.GetRun(ctx, req.RunID)
	if err != nil {
		return nil, toStatus("get run", err)
	}
	leads, err := s.history.LeadsByRun(ctx, req.RunID)
	if err != nil {
		return nil, toStatus("get run", err)
	}
	resp := api.GetRunResponse{Run: run, Leads: leads}
	if s.orchestrator != nil {
		if result, ok := s.orchestrator.Result(req.RunID); ok {
			resp.Result = &result
		}
	}
	return encode(resp)
}

// SearchLeads runs a free-text search over stored leads.
func (s *LeadService) SearchLeads(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.history == nil {
		return nil, status.Error(codes.FailedPrecondition, "history repository not configured")
	}
	var req api.SearchLeadsRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	leads, err := s.history.Search(ctx, req.Query)
	if err != nil {
		return nil, toStatus("search leads", err)
	}
	return encode(api.SearchLeadsResponse{Leads: leads})
}

// ListNotifications returns notifications newest first.
func (s *LeadService) ListNotifications(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.history == nil {
		return nil, status.Error(codes.FailedPrecondition, "history repository not configured")
	}
	var req api.ListNotificationsRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	}
	notifications, err := s.history.Notifications(ctx, req.Limit, req.UnreadOnly)
	if err != nil {
		return nil, toStatus("list notifications", err)
	}
	return encode(api.ListNotificationsResponse{Notifications: notifications})
}

// MarkNotificationRead flags one notification as read.
func (s *LeadService) MarkNotificationRead(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.history == nil {
		return nil, status.Error(codes.FailedPrecondition, "history repository not configured")
	}
	var req api.MarkNotificationReadRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.history.MarkNotificationRead(ctx, req.ID); err != nil {
		return nil, toStatus("mark notification read", err)
	}
	return encode(api.Ack{OK: true})
}

// Analyze summarises an uploaded CSV file.
func (s *LeadService) Analyze(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.analyzer == nil {
		return nil, status.Error(codes.FailedPrecondition, "analyzer not configured")
	}
	var req api.AnalyzeRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	frame, err := dataset.Parse(req.Content, s.limits)
	if err != nil {
		return nil, toStatus("analyze", err)
	}
	report, err := s.analyzer.Analyze(ctx, req.Filename, frame)
	if err != nil {
		return nil, toStatus("analyze", err)
	}
	return encode(report)
}

// LatencyP95 returns the current p95 prediction latency.
func (s *LeadService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func (s *LeadService) observe(d time.Duration) {
	s.latencies.Observe(d)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("prediction latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

func decode(in *structpb.Struct, out any) error {
	if in == nil {
		return status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if err := api.FromStruct(in, out); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := api.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, dataset.ErrEmptyFile), errors.Is(err, dataset.ErrTooManyRows), errors.Is(err, dataset.ErrTooLarge),
		errors.Is(err, dataset.ErrMalformed):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, repo.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	}
	switch utils.KindOf(err) {
	case utils.KindInvalid:
		return status.Error(codes.InvalidArgument, err.Error())
	case utils.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case utils.KindUnavailable:
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Internal, fmt.Sprintf("%s failed: %v", op, err))
}

func failureStatus(f *models.TrainFailure) error {
	st := status.New(codes.InvalidArgument, f.Message)
	detail, err := api.ToStruct(f)
	if err != nil {
		return st.Err()
	}
	withDetail, err := st.WithDetails(detail)
	if err != nil {
		return st.Err()
	}
	return withDetail.Err()
}
