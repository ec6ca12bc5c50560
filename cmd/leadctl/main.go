// Command leadctl trains, scores and explores lead CSV files locally or against a
// running lead engine.
package main

import (
	"context"
	"log/slog"
	"os"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}
