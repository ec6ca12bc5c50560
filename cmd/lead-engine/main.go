package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-leads/internal/analysis"
	"github.com/miradorstack/mirador-leads/internal/api"
	"github.com/miradorstack/mirador-leads/internal/cache"
	"github.com/miradorstack/mirador-leads/internal/config"
	"github.com/miradorstack/mirador-leads/internal/engine"
	"github.com/miradorstack/mirador-leads/internal/metrics"
	"github.com/miradorstack/mirador-leads/internal/modelstore"
	"github.com/miradorstack/mirador-leads/internal/repo"
	"github.com/miradorstack/mirador-leads/internal/services"
	"github.com/miradorstack/mirador-leads/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-leads", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cacheProvider, err := cache.Open(cfg.Cache.Backend, cfg.Cache.Redis())
	if err != nil {
		logger.Warn("result cache unavailable; caching disabled", slog.String("backend", cfg.Cache.Backend), slog.Any("error", err))
		cacheProvider = cache.NoopProvider{}
	}
	defer cacheProvider.Close()

	store, err := repo.OpenSQLite(ctx, cfg.Storage.DSN, logger)
	if err != nil {
		logger.Error("failed to open lead store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	models := modelstore.New(cfg.Storage.ModelPath, logger)
	if err := models.Load(); err != nil {
		logger.Warn("persisted model unusable; scoring neutrally until retrained", slog.Any("error", err))
	}

	ruleEngine, err := engine.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load action rules", slog.Any("error", err))
		os.Exit(1)
	}

	var notifier engine.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifier = repo.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout)
	}

	scorer := engine.NewScorer(models, logger)
	orchestrator := engine.NewOrchestrator(engine.OrchestratorDeps{
		Scorer:    scorer,
		Processor: engine.NewResultProcessor(ruleEngine, logger),
		Cache:     cacheProvider,
		Runs:      store,
		Notifier:  notifier,
		Limits:    cfg.Ingest.Limits(),
		CacheTTL:  cfg.Cache.ResultTTL,
		Logger:    logger,
	})

	leadService := services.NewLeadService(services.Deps{
		Logger:       logger,
		Orchestrator: orchestrator,
		Trainer:      engine.NewTrainer(models, cfg.Model.Trainer(), logger),
		Analyzer:     analysis.NewAnalyzer(logger, scorer),
		History:      store,
		Limits:       cfg.Ingest.Limits(),
	})

	server, err := api.NewServer(cfg.Server, leadService)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("mirador-leads stopped")
}
