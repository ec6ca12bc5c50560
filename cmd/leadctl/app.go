package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-leads/internal/config"
	"github.com/miradorstack/mirador-leads/internal/utils"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

var version = "v0.0.1-default"

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to configuration file",
		Sources: cli.EnvVars("LEADS_CONFIG"),
	}

	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose logs",
	}

	formatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Output format [json, yaml]",
		Value: formatJSON,
	}

	dataFlag = &cli.StringFlag{
		Name:     "data",
		Aliases:  []string{"f"},
		Usage:    "Path to the lead CSV file",
		Required: true,
	}
)

type appKey struct{}

// appState is shared by every subcommand once Before has run.
type appState struct {
	cfg    *config.Config
	logger *slog.Logger
	format string
	out    io.Writer
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:            "leadctl",
		Version:         version,
		Usage:           "Score and explore sales leads from CSV files",
		HideHelpCommand: true,
		Flags:           []cli.Flag{configFlag, debugFlag, formatFlag},
		Commands: []*cli.Command{
			trainCmd,
			scoreCmd,
			analyzeCmd,
			runsCmd,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := config.Load(cmd.String(configFlag.Name))
			if err != nil {
				return ctx, fmt.Errorf("loading config: %w", err)
			}
			level := cfg.Logging.Level
			if cmd.Bool(debugFlag.Name) {
				level = "debug"
			}
			format := cmd.String(formatFlag.Name)
			if format == "yml" {
				format = formatYAML
			}
			state := &appState{
				cfg:    cfg,
				logger: utils.NewLoggerTo(os.Stderr, level, cfg.Logging.JSON),
				format: format,
				out:    cmd.Root().Writer,
			}
			if state.out == nil {
				state.out = os.Stdout
			}
			return context.WithValue(ctx, appKey{}, state), nil
		},
	}
}

func stateFrom(ctx context.Context) *appState {
	return ctx.Value(appKey{}).(*appState)
}

func (s *appState) encode(v any) error {
	if s.format == formatYAML {
		return yaml.NewEncoder(s.out).Encode(v)
	}
	e := json.NewEncoder(s.out)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
