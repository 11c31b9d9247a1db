package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaes/internal/config"
	"github.com/cwbudde/cmaes/internal/store"
)

var (
	resumeMaxIter   int
	resumeWorkers   int
	resumeMetrics   string
	resumeElitist   bool
	resumeSigmaMult float64
)

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Resume a run from its checkpoint",
	Long: `Starts a fresh distribution around the checkpointed best point, using the stored
effective step size and the run's original settings, and continues its counters,
trace and plot file.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().IntVar(&resumeMaxIter, "max-iter", 0, "Additional iterations (0 = as originally configured)")
	resumeCmd.Flags().IntVar(&resumeWorkers, "workers", 1, "Concurrent objective evaluations")
	resumeCmd.Flags().StringVar(&resumeMetrics, "metrics-addr", "", "Serve Prometheus metrics on this address")
	resumeCmd.Flags().BoolVar(&resumeElitist, "elitist", false, "Enable elitist restarts for the resumed run")
	resumeCmd.Flags().Float64Var(&resumeSigmaMult, "sigma-factor", 1, "Multiply the stored step size by this factor")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]
	ctx := commandContext(cmd)

	checkpoints, err := openStore(ctx, storeKind, dataDir)
	if err != nil {
		return err
	}
	cp, err := checkpoints.LoadCheckpoint(ctx, runID)
	store.CloseIfSupported(checkpoints)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no checkpoint for run %s in %s", runID, dataDir)
		}
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("checkpoint cannot be resumed: %w", err)
	}

	cfg := resumeConfig(cp)
	if resumeMaxIter > 0 {
		cfg.MaxIter = resumeMaxIter
	}
	if cmd != nil && cmd.Flags().Changed("elitist") {
		cfg.Elitist = resumeElitist
	}
	if resumeSigmaMult <= 0 {
		return fmt.Errorf("sigma-factor must be positive, got %g", resumeSigmaMult)
	}
	cfg.Sigma0 *= resumeSigmaMult
	cfg.Workers = resumeWorkers
	cfg.Metrics.Addr = resumeMetrics

	p, err := cfg.ToParameters()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cp.IsCompatible(runConfig(cfg, p)); err != nil {
		return err
	}

	_, err = executeRun(ctx, cfg, p, runID, cp)
	return err
}

// resumeConfig rebuilds the run configuration from a checkpoint, starting at the
// stored best point with the stored step size.
func resumeConfig(cp *store.Checkpoint) config.Config {
	cfg := config.Default()
	cfg.Function = cp.Config.Function
	cfg.Dim = cp.Config.Dim
	cfg.Flavor = cp.Config.Flavor
	cfg.Lambda = cp.Config.Lambda
	cfg.Seed = cp.Config.Seed + int64(cp.Restarts) + int64(cp.Iteration)
	cfg.MaxIter = cp.Config.MaxIter
	cfg.MaxFEvals = cp.Config.MaxFEvals
	cfg.Elitist = cp.Config.Elitist
	cfg.Lower = cp.Config.Lower
	cfg.Upper = cp.Config.Upper
	cfg.Mu = cp.Config.Mu
	cfg.Fixed = cp.Config.Fixed
	cfg.LazyUpdate = cp.Config.LazyUpdate
	cfg.Gradient = cp.Config.Gradient
	cfg.Disable = cp.Config.Disable
	cfg.Enable = cp.Config.Enable
	cfg.Thresholds = config.Thresholds(cp.Config.Thresholds)
	cfg.Diagnostics = cp.Config.Diagnostics
	cfg.PlotPath = cp.Config.PlotPath
	cfg.X0 = append([]float64(nil), cp.BestX...)
	cfg.Sigma0 = cp.Sigma
	cfg.Store = config.StoreConfig{Kind: storeKind, Path: dataDir}
	return cfg
}
