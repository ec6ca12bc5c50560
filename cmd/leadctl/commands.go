package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/miradorstack/mirador-leads/internal/analysis"
	"github.com/miradorstack/mirador-leads/internal/api"
	"github.com/miradorstack/mirador-leads/internal/dataset"
	"github.com/miradorstack/mirador-leads/internal/engine"
	"github.com/miradorstack/mirador-leads/internal/models"
	"github.com/miradorstack/mirador-leads/internal/modelstore"
)

var (
	modelFlag = &cli.StringFlag{
		Name:  "model",
		Usage: "Path to the model file (defaults to storage.modelPath)",
	}

	targetFlag = &cli.StringFlag{
		Name:  "target",
		Usage: "Name of the conversion column (optional)",
	}

	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "Maximum number of scored leads to print (0 prints all)",
	}

	addrFlag = &cli.StringFlag{
		Name:  "addr",
		Usage: "Address of a running lead engine (defaults to server.address)",
	}

	trainCmd = &cli.Command{
		Name:      "train",
		Usage:     "Train a conversion model from a labelled CSV file",
		UsageText: "leadctl train --data leads.csv [--target Converted]",
		Flags:     []cli.Flag{dataFlag, targetFlag, modelFlag},
		Action:    cmdTrain,
	}

	scoreCmd = &cli.Command{
		Name:      "score",
		Usage:     "Score a CSV file with the current model",
		UsageText: "leadctl score --data leads.csv --limit 20",
		Flags:     []cli.Flag{dataFlag, modelFlag, limitFlag},
		Action:    cmdScore,
	}

	analyzeCmd = &cli.Command{
		Name:   "analyze",
		Usage:  "Summarise a CSV file and preview its top leads",
		Flags:  []cli.Flag{dataFlag, modelFlag},
		Action: cmdAnalyze,
	}

	runsCmd = &cli.Command{
		Name:   "runs",
		Usage:  "List prediction runs stored by a running lead engine",
		Flags:  []cli.Flag{addrFlag},
		Action: cmdRuns,
	}
)

func openModels(state *appState, cmd *cli.Command) (*modelstore.Store, error) {
	path := cmd.String(modelFlag.Name)
	if path == "" {
		path = state.cfg.Storage.ModelPath
	}
	store := modelstore.New(path, state.logger)
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("loading model: %w", err)
	}
	return store, nil
}

func cmdTrain(ctx context.Context, cmd *cli.Command) error {
	state := stateFrom(ctx)
	store, err := openModels(state, cmd)
	if err != nil {
		return err
	}
	frame, _, err := dataset.LoadFile(cmd.String(dataFlag.Name), state.cfg.Ingest.Limits())
	if err != nil {
		return err
	}

	trainer := engine.NewTrainer(store, state.cfg.Model.Trainer(), state.logger)
	result, err := trainer.Train(ctx, frame, cmd.String(targetFlag.Name))
	if err != nil {
		return fmt.Errorf("training: %w", err)
	}
	if err := state.encode(result); err != nil {
		return fmt.Errorf("error encoding result: %w", err)
	}
	if result.Failure != nil {
		return fmt.Errorf("training failed: %s", result.Failure.Message)
	}
	return nil
}

func cmdScore(ctx context.Context, cmd *cli.Command) error {
	state := stateFrom(ctx)
	store, err := openModels(state, cmd)
	if err != nil {
		return err
	}
	rules, err := engine.NewRuleEngine(state.cfg.Rules.Path, state.logger)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	path := cmd.String(dataFlag.Name)
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	orchestrator := engine.NewOrchestrator(engine.OrchestratorDeps{
		Scorer:    engine.NewScorer(store, state.logger),
		Processor: engine.NewResultProcessor(rules, state.logger),
		Limits:    state.cfg.Ingest.Limits(),
		Logger:    state.logger,
	})
	result, err := orchestrator.Predict(ctx, models.Upload{Filename: filepath.Base(path), Content: content})
	if err != nil {
		return err
	}
	if limit := cmd.Int(limitFlag.Name); limit > 0 && len(result.Results) > limit {
		result.Results = result.Results[:limit]
	}
	if err := state.encode(result); err != nil {
		return fmt.Errorf("error encoding result: %w", err)
	}
	return nil
}

func cmdAnalyze(ctx context.Context, cmd *cli.Command) error {
	state := stateFrom(ctx)
	store, err := openModels(state, cmd)
	if err != nil {
		return err
	}
	path := cmd.String(dataFlag.Name)
	frame, _, err := dataset.LoadFile(path, state.cfg.Ingest.Limits())
	if err != nil {
		return err
	}

	analyzer := analysis.NewAnalyzer(state.logger, engine.NewScorer(store, state.logger))
	report, err := analyzer.Analyze(ctx, filepath.Base(path), frame)
	if err != nil {
		return fmt.Errorf("analyzing %s: %w", path, err)
	}
	if cmd.IsSet(formatFlag.Name) {
		return state.encode(report)
	}
	_, err = fmt.Fprint(state.out, report.Render())
	return err
}

func cmdRuns(ctx context.Context, cmd *cli.Command) error {
	state := stateFrom(ctx)
	addr := cmd.String(addrFlag.Name)
	if addr == "" {
		addr = state.cfg.Server.Address
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	var resp api.ListRunsResponse
	if err := api.NewClient(conn).Call(ctx, api.MethodListRuns, nil, &resp); err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	return state.encode(resp)
}
