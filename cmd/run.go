package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaes/internal/cmaes"
	"github.com/cwbudde/cmaes/internal/config"
	"github.com/cwbudde/cmaes/internal/fitfunc"
	"github.com/cwbudde/cmaes/internal/metrics"
	"github.com/cwbudde/cmaes/internal/store"
)

var (
	configPath  string
	function    string
	dim         int
	flavor      string
	lambda      int
	mu          int
	sigma0      float64
	seed        int64
	x0          []float64
	lower       []float64
	upper       []float64
	maxIter     int
	maxFEvals   int
	ftarget     float64
	elitist     bool
	maxRestarts int
	gradient    bool
	lazyUpdate  bool
	fixed       []string
	disable     []string
	enable      []string
	diagnostics bool
	plotPath    string
	workers     int
	metricsAddr string
	noTrace     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a CMA-ES optimization",
	Long: `Minimizes a benchmark function with CMA-ES, writing a checkpoint and a
per-generation trace under the data directory. Flags override values from --config.`,
	RunE: runOptimization,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML run configuration")
	f.StringVar(&function, "function", "sphere", "Objective function (see 'functions')")
	f.IntVar(&dim, "dim", 10, "Problem dimension")
	f.StringVar(&flavor, "flavor", "full", "Covariance flavor: full, active, sep, vd")
	f.IntVar(&lambda, "lambda", 0, "Population size (0 = 4+3ln(dim))")
	f.IntVar(&mu, "mu", 0, "Number of parents (0 = lambda/2)")
	f.Float64Var(&sigma0, "sigma", 1, "Initial step size")
	f.Int64Var(&seed, "seed", 0, "Random seed (0 = from clock)")
	f.Float64SliceVar(&x0, "x0", nil, "Initial point (default: centre of the bounds)")
	f.Float64SliceVar(&lower, "lower", nil, "Lower bounds; enables linear scaling together with --upper")
	f.Float64SliceVar(&upper, "upper", nil, "Upper bounds")
	f.IntVar(&maxIter, "max-iter", 0, "Maximum iterations (0 = unlimited)")
	f.IntVar(&maxFEvals, "max-fevals", 0, "Maximum function evaluations (0 = unlimited)")
	f.Float64Var(&ftarget, "ftarget", 0, "Stop once the best fitness reaches this value")
	f.BoolVar(&elitist, "elitist", false, "Restart around the best-seen point when the run ends worse")
	f.IntVar(&maxRestarts, "max-restarts", 10, "Maximum elitist restarts")
	f.BoolVar(&gradient, "gradient", false, "Inject the gradient step (analytic when available)")
	f.BoolVar(&lazyUpdate, "lazy", false, "Refresh the eigen-decomposition lazily")
	f.StringSliceVar(&fixed, "fixed", nil, "Fixed coordinates as index=value")
	f.StringSliceVar(&disable, "disable", nil, "Stopping criteria to disable")
	f.StringSliceVar(&enable, "enable", nil, "Stopping criteria to enable")
	f.BoolVar(&diagnostics, "diagnostics", false, "Compute KL diagnostics each generation")
	f.StringVar(&plotPath, "plot", "", "Write per-generation plot lines to this file")
	f.IntVar(&workers, "workers", 1, "Concurrent objective evaluations")
	f.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.BoolVar(&noTrace, "no-trace", false, "Do not write the JSONL trace")

	rootCmd.AddCommand(runCmd)
}

func runOptimization(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return err
	}

	p, err := cfg.ToParameters()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	_, err = executeRun(commandContext(cmd), cfg, p, store.NewRunID(), nil)
	return err
}

// applyFlags copies every explicitly set flag into cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	set := cmd.Flags().Changed
	if configPath == "" || set("function") {
		cfg.Function = function
	}
	if configPath == "" || set("dim") {
		cfg.Dim = dim
	}
	if configPath == "" || set("flavor") {
		cfg.Flavor = flavor
	}
	if configPath == "" || set("sigma") {
		cfg.Sigma0 = sigma0
	}
	if configPath == "" || set("max-restarts") {
		cfg.MaxRestarts = maxRestarts
	}
	if set("lambda") {
		cfg.Lambda = lambda
	}
	if set("mu") {
		cfg.Mu = mu
	}
	if set("seed") {
		cfg.Seed = seed
	}
	if set("x0") {
		cfg.X0 = x0
	}
	if set("lower") {
		cfg.Lower = lower
	}
	if set("upper") {
		cfg.Upper = upper
	}
	if set("max-iter") {
		cfg.MaxIter = maxIter
	}
	if set("max-fevals") {
		cfg.MaxFEvals = maxFEvals
	}
	if set("ftarget") {
		v := ftarget
		cfg.FTarget = &v
	}
	if set("elitist") {
		cfg.Elitist = elitist
	}
	if set("gradient") {
		cfg.Gradient = gradient
	}
	if set("lazy") {
		cfg.LazyUpdate = lazyUpdate
	}
	if set("fixed") {
		parsed, err := parseFixed(fixed)
		if err != nil {
			return err
		}
		cfg.Fixed = parsed
	}
	if set("disable") {
		cfg.Disable = disable
	}
	if set("enable") {
		cfg.Enable = enable
	}
	if set("diagnostics") {
		cfg.Diagnostics = diagnostics
	}
	if set("plot") {
		cfg.PlotPath = plotPath
	}
	if set("workers") {
		cfg.Workers = workers
	}
	if set("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
	if configPath == "" || set("store") {
		cfg.Store.Kind = storeKind
	}
	if configPath == "" || set("data-dir") {
		cfg.Store.Path = dataDir
	}
	return nil
}

// parseFixed reads index=value pairs.
func parseFixed(pairs []string) (map[int]float64, error) {
	out := make(map[int]float64, len(pairs))
	for _, pair := range pairs {
		idx, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid fixed coordinate %q, expected index=value", pair)
		}
		i, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil {
			return nil, fmt.Errorf("invalid fixed index %q: %w", idx, err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid fixed value %q: %w", val, err)
		}
		out[i] = v
	}
	return out, nil
}

// executeRun optimizes with p and saves the outcome under runID. A non-nil previous
// checkpoint continues its counters and trace, and its best point is kept if the new
// run does not improve on it.
func executeRun(ctx context.Context, cfg config.Config, p *cmaes.Parameters, runID string, previous *store.Checkpoint) (*store.Checkpoint, error) {
	fn, err := fitfunc.Lookup(cfg.Function)
	if err != nil {
		return nil, err
	}

	checkpoints, err := openStore(ctx, cfg.Store.Kind, cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	defer store.CloseIfSupported(checkpoints)

	var iterOffset, evalOffset, restartOffset int
	if previous != nil {
		iterOffset = previous.Iteration
		evalOffset = previous.Evaluations
		restartOffset = previous.Restarts
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr, reg); err != nil {
				slog.Error("Metrics endpoint failed", "error", err)
			}
		}()
	}

	progress := cmaes.LogProgress(slog.Default())
	if !noTrace {
		tw, err := store.NewTraceWriter(cfg.Store.Path, runID, previous != nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace writer: %w", err)
		}
		defer tw.Close()
		progress = traceProgress(tw, iterOffset, evalOffset, progress)
	}

	opts := []cmaes.Option{
		cmaes.WithProgress(m.Progress(runID, progress)),
		cmaes.WithLogger(slog.Default()),
	}
	if cfg.Workers > 1 {
		opts = append(opts, cmaes.WithEvaluator(cmaes.ParallelEvaluator{Workers: cfg.Workers}))
	}
	if previous != nil && p.PlotPath != "" {
		// A resumed run continues the plot file instead of truncating it.
		f, err := os.OpenFile(p.PlotPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open plot file: %w", err)
		}
		defer f.Close()
		opts = append(opts, cmaes.WithPlotWriter(f))
	}

	st, err := cmaes.NewStrategy(fn.Eval, p, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create strategy: %w", err)
	}
	defer st.Close()

	slog.Info("Starting optimization",
		"run_id", runID,
		"function", cfg.Function,
		"dim", p.Dim,
		"flavor", p.Flavor.String(),
		"lambda", p.Lambda,
		"seed", p.Seed,
	)

	res, runErr := st.Optimize(ctx)
	if res == nil {
		return nil, runErr
	}
	m.Finished(p.Flavor, res.Status)

	improved := res.BestSeen.Valid() && !math.IsInf(res.BestSeen.Fitness, 0) &&
		(previous == nil || res.BestSeen.Fitness < previous.BestFitness)
	if !improved && previous == nil {
		slog.Warn("No finite candidate, checkpoint not saved", "run_id", runID, "status", res.Status.String())
		return nil, runErr
	}
	var bestX []float64
	var bestFitness float64
	if improved {
		bestX, bestFitness = p.GenoPheno.Pheno(res.BestSeen.X), res.BestSeen.Fitness
	} else {
		bestX, bestFitness = previous.BestX, previous.BestFitness
	}
	sigma := checkpointSigma(st.Solutions(), p)

	cp := store.NewCheckpoint(runID, bestX, bestFitness, sigma,
		iterOffset+res.NIter, evalOffset+res.NEvals, res.Status.String(), runConfig(cfg, p))
	cp.Restarts = restartOffset + res.Restarts
	// A cancelled run is still saved so that it can be resumed.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := checkpoints.SaveCheckpoint(saveCtx, runID, cp); err != nil {
		return cp, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Optimization complete",
		"run_id", runID,
		"status", res.Status.String(),
		"best_fitness", bestFitness,
		"iterations", cp.Iteration,
		"evaluations", cp.Evaluations,
		"restarts", cp.Restarts,
		"elapsed", res.Elapsed,
	)
	fmt.Printf("Run %s: %s after %d iterations (f = %g, %d evaluations)\n",
		runID, res.Status.Message(), cp.Iteration, bestFitness, cp.Evaluations)

	return cp, runErr
}

// checkpointSigma is the step size a resumed run starts with. Resuming resets the
// covariance to the identity, so the scale it held is folded into sigma.
func checkpointSigma(s *cmaes.Solutions, p *cmaes.Parameters) float64 {
	sigma := s.EffectiveSigma(p.FixedP)
	if !(sigma > 0) || math.IsInf(sigma, 0) {
		return p.Sigma0
	}
	return sigma
}

// traceProgress appends a trace entry per generation before delegating to next.
func traceProgress(tw *store.TraceWriter, iterOffset, evalOffset int, next cmaes.ProgressFunc) cmaes.ProgressFunc {
	return func(p *cmaes.Parameters, s *cmaes.Solutions) bool {
		entry := store.TraceEntry{
			Iteration:   iterOffset + s.Niter,
			Evaluations: evalOffset + s.NEvals,
			BestFitness: s.BestCandidate().Fitness,
			Sigma:       s.Sigma,
			Condition:   s.ConditionNumber(),
			Timestamp:   time.Now(),
		}
		if n := len(s.MedianHist); n > 0 {
			entry.MedianFitness = s.MedianHist[n-1]
		}
		if p.Dim <= 100 {
			entry.Mean = p.GenoPheno.Pheno(s.XMean)
		}
		if err := tw.Write(entry); err != nil {
			slog.Warn("Failed to write trace entry", "iter", entry.Iteration, "error", err)
		}
		return next(p, s)
	}
}

func runConfig(cfg config.Config, p *cmaes.Parameters) store.RunConfig {
	return store.RunConfig{
		Function:    cfg.Function,
		Dim:         p.Dim,
		Flavor:      p.Flavor.String(),
		Lambda:      p.Lambda,
		Sigma0:      p.Sigma0,
		Seed:        p.Seed,
		MaxIter:     p.MaxIter,
		MaxFEvals:   p.MaxFEvals,
		Elitist:     p.Elitist,
		Lower:       cfg.Lower,
		Upper:       cfg.Upper,
		Mu:          cfg.Mu,
		Fixed:       cfg.Fixed,
		LazyUpdate:  cfg.LazyUpdate,
		Gradient:    cfg.Gradient,
		Disable:     cfg.Disable,
		Enable:      cfg.Enable,
		Thresholds:  store.Thresholds(cfg.Thresholds),
		Diagnostics: cfg.Diagnostics,
		PlotPath:    cfg.PlotPath,
	}
}
