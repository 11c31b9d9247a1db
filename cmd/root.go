package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaes/internal/store"
)

var (
	logLevel  string
	logFormat string
	storeKind string
	dataDir   string
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cmaes",
	Short: "Covariance Matrix Adaptation Evolution Strategy",
	Long: `cmaes minimizes benchmark objectives with CMA-ES and its active, separable
and VD variants, with checkpoints, traces and Prometheus metrics.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var handler slog.Handler
		switch logFormat {
		case "text":
			handler = tint.NewHandler(os.Stdout, &tint.Options{
				Level:      level,
				TimeFormat: time.TimeOnly,
				NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
			})
		default:
			handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format (json, text)")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "fs", "Checkpoint backend (fs, sqlite)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Base directory for checkpoints and traces")
}

// openStore opens the checkpoint backend. The sqlite database lives next to the
// per-run trace directories.
func openStore(ctx context.Context, kind, dir string) (store.Store, error) {
	path := dir
	if kind == "sqlite" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		path = filepath.Join(dir, "checkpoints.db")
	}
	s, err := store.NewStore(ctx, kind, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	return s, nil
}

// commandContext returns the context of cmd, or a background context when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if cmd == nil || cmd.Context() == nil {
		return context.Background()
	}
	return cmd.Context()
}
