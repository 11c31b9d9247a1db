package cmaes

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Strategy drives one optimization: ask, evaluate, tell and stop, with elitist
// restarts. It owns its Solutions for the duration of Optimize and is not safe for
// concurrent use.
type Strategy struct {
	fitness FitFunc
	params  *Parameters
	sols    *Solutions

	sampler      *Sampler
	update       CovarianceUpdate
	stopCriteria *StopCriteria
	evaluator    Evaluator

	progress   ProgressFunc
	plot       PlotFunc
	plotWriter io.Writer
	plotFile   *os.File

	logger   *slog.Logger
	userStop bool
	restarts int
	prev     *distribution
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithEvaluator replaces the default serial fitness evaluator.
func WithEvaluator(e Evaluator) Option {
	return func(st *Strategy) { st.evaluator = e }
}

// WithProgress replaces the progress callback.
func WithProgress(f ProgressFunc) Option {
	return func(st *Strategy) { st.progress = f }
}

// WithPlot replaces the function writing one plot line per generation.
func WithPlot(f PlotFunc) Option {
	return func(st *Strategy) { st.plot = f }
}

// WithPlotWriter sends plot lines to w instead of the file named by PlotPath.
func WithPlotWriter(w io.Writer) Option {
	return func(st *Strategy) { st.plotWriter = w }
}

// WithLogger sets the logger used for strategy events and the default progress line.
func WithLogger(l *slog.Logger) Option {
	return func(st *Strategy) { st.logger = l }
}

// NewStrategy prepares a run of fitness under p.
func NewStrategy(fitness FitFunc, p *Parameters, opts ...Option) (*Strategy, error) {
	if fitness == nil {
		return nil, fmt.Errorf("fitness function cannot be nil")
	}
	if p == nil {
		return nil, fmt.Errorf("parameters cannot be nil")
	}
	for i := range p.FixedP {
		if i < 0 || i >= p.Dim {
			return nil, &ParameterError{Field: "FixedP", Reason: fmt.Sprintf("index %d outside [0,%d)", i, p.Dim)}
		}
	}
	if p.GenoPheno == nil {
		p.GenoPheno = IdentityTransform{}
	}

	st := &Strategy{
		fitness:      fitness,
		params:       p,
		sols:         NewSolutions(p),
		sampler:      NewSampler(p.Dim, p.Seed),
		update:       NewCovarianceUpdate(p.Flavor),
		stopCriteria: NewStopCriteria(),
		evaluator:    SerialEvaluator{},
		plot:         DefaultPlot,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(st)
	}
	if st.progress == nil {
		st.progress = LogProgress(st.logger)
	}
	if !st.sols.RunStatus.Fatal() {
		st.clampFixed()
	}

	if st.plotWriter == nil && p.PlotPath != "" {
		f, err := os.Create(p.PlotPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create plot file: %w", err)
		}
		st.plotFile = f
		st.plotWriter = f
	}

	if !p.Quiet {
		st.logger.Info("CMA-ES",
			"dim", p.Dim,
			"lambda", p.Lambda,
			"sigma0", p.Sigma0,
			"mu", p.Mu,
			"mueff", p.MuEff,
			"c1", p.C1,
			"cmu", p.CMu,
			"flavor", p.Flavor.String(),
			"lazy_update", p.LazyUpdate,
		)
	}
	return st, nil
}

// Parameters returns the run configuration.
func (st *Strategy) Parameters() *Parameters { return st.params }

// Solutions returns the current run state.
func (st *Strategy) Solutions() *Solutions { return st.sols }

// Restarts returns the number of elitist restarts performed so far.
func (st *Strategy) Restarts() int { return st.restarts }

// Close releases the plot file opened from PlotPath.
func (st *Strategy) Close() error {
	if st.plotFile == nil {
		return nil
	}
	err := st.plotFile.Close()
	st.plotFile = nil
	if err != nil {
		return fmt.Errorf("failed to close plot file: %w", err)
	}
	return nil
}

// Ask samples a dim x lambda population in genotype space, one candidate per column.
func (st *Strategy) Ask() *mat.Dense {
	start := time.Now()
	defer func() { st.sols.ElapsedAsk = time.Since(start) }()

	p, sols := st.params, st.sols
	if sols.RunStatus.Fatal() {
		return meanPopulation(sols.XMean, p.Lambda)
	}

	var pop *mat.Dense
	switch p.Representation() {
	case RepFull:
		sols.UpdatedEigen = false
		if sols.Niter == 0 || !p.LazyUpdate || sols.Niter-sols.EigenIter > p.LazyValue {
			if err := st.sampler.SetCovariance(sols.Cov); err != nil {
				st.logger.Error("Covariance factorization failed", "iter", sols.Niter, "error", err)
				sols.RunStatus = StatusEigenFailure
				return meanPopulation(sols.XMean, p.Lambda)
			}
			sols.EigenIter = sols.Niter
			sols.UpdatedEigen = true
		}
		pop = st.sampler.Samples(sols.XMean, sols.Sigma, p.Lambda)
	case RepSep:
		pop = st.sampler.SamplesSep(sols.XMean, sols.SepCov, sols.Sigma, p.Lambda)
	case RepVD:
		pop = st.sampler.SamplesVD(sols.XMean, sols.VDCov(), sols.Sigma, p.Lambda)
	}

	if p.WithGradient {
		st.injectGradient(pop)
	}

	for i, v := range p.FixedP {
		row := pop.RawRowView(i)
		for j := range row {
			row[j] = v
		}
	}
	return pop
}

// Eval maps the population to phenotype space, evaluates every column and records
// the candidates of the generation.
func (st *Strategy) Eval(ctx context.Context, pop *mat.Dense) error {
	start := time.Now()
	defer func() { st.sols.ElapsedEval = time.Since(start) }()

	_, lambda := pop.Dims()
	geno := make([][]float64, lambda)
	pheno := make([][]float64, lambda)
	for j := 0; j < lambda; j++ {
		geno[j] = mat.Col(nil, j, pop)
		pheno[j] = st.params.GenoPheno.Pheno(geno[j])
	}

	fvals, err := st.evaluator.Evaluate(ctx, st.fitness, pheno)
	if err != nil {
		return err
	}
	if len(fvals) != lambda {
		return fmt.Errorf("evaluator returned %d values for %d candidates", len(fvals), lambda)
	}

	if len(st.sols.Candidates) != lambda {
		st.sols.Candidates = make([]Candidate, lambda)
	}
	for j := range fvals {
		st.sols.Candidates[j] = Candidate{X: geno[j], Fitness: fvals[j]}
	}
	st.sols.NEvals += lambda
	return nil
}

// Tell sorts the evaluated generation, updates the best-candidate bookkeeping and
// adapts the distribution with the configured flavor.
func (st *Strategy) Tell() {
	start := time.Now()
	defer func() { st.sols.ElapsedTell = time.Since(start) }()

	p, sols := st.params, st.sols
	sols.sortCandidates()
	sols.updateBestCandidates(p.Lambda)

	if p.Diagnostics && st.prev == nil {
		st.prev = snapshot(sols)
	}

	st.update.Update(p, st.sampler, sols)
	if sols.RunStatus.Fatal() {
		st.logger.Error("Distribution update failed", "iter", sols.Niter, "status", sols.RunStatus.String())
		return
	}
	st.clampFixed()

	switch p.Representation() {
	case RepFull:
		sols.updateEigen(st.sampler.EigenValues(), st.sampler.EigenVectors())
	case RepSep:
		sols.updateEigen(sols.SepCov, nil)
	case RepVD:
		sols.updateEigen(sols.VDCov().Diag(), nil)
	}

	if p.Diagnostics {
		next := snapshot(sols)
		sols.KL = klDivergence(st.prev, next)
		st.prev = next
	}
}

// Stop reports whether the run is over and records the reason in RunStatus.
func (st *Strategy) Stop() bool {
	start := time.Now()
	defer func() { st.sols.ElapsedStop = time.Since(start) }()

	p, sols := st.params, st.sols
	if sols.RunStatus < 0 {
		return true
	}
	if sols.Niter == 0 {
		return false
	}
	if st.progress(p, sols) {
		st.userStop = true
		return true
	}
	if st.plotWriter != nil {
		if err := st.plot(st.plotWriter, p, sols); err != nil {
			st.logger.Warn("Failed to write plot line", "iter", sols.Niter, "error", err)
		}
	}
	sols.RunStatus = st.stopCriteria.Stop(p, sols)
	return sols.RunStatus != Continue
}

// Result summarizes a finished run.
type Result struct {
	Best     Candidate
	BestSeen Candidate
	Status   StopCode
	NIter    int
	NEvals   int
	Restarts int
	Elapsed  time.Duration
}

// Optimize runs the ask/evaluate/tell loop until a stopping criterion, a fatal
// status, the progress callback or ctx ends it, restarting around the best-seen
// point when elitism is enabled. The error is nil when the final status is
// non-negative; otherwise it is a *TerminationError carrying the status.
func (st *Strategy) Optimize(ctx context.Context) (*Result, error) {
	runStart := time.Now()
	for {
		iterStart := time.Now()
		for !st.Stop() {
			if err := ctx.Err(); err != nil {
				return st.result(runStart), err
			}
			pop := st.Ask()
			if st.sols.RunStatus.Fatal() {
				break
			}
			if err := st.Eval(ctx, pop); err != nil {
				return st.result(runStart), fmt.Errorf("failed to evaluate population: %w", err)
			}
			st.Tell()
			st.sols.Niter++
			now := time.Now()
			st.sols.ElapsedLastIter = now.Sub(iterStart)
			iterStart = now
		}
		if !st.shouldRestart() {
			break
		}
		st.restart()
	}

	res := st.result(runStart)
	if !st.params.Quiet {
		st.logger.Info("Optimization finished",
			"status", res.Status.String(),
			"iter", res.NIter,
			"evals", res.NEvals,
			"best_fitness", res.BestSeen.Fitness,
			"restarts", res.Restarts,
		)
	}
	if res.Status >= 0 {
		return res, nil
	}
	return res, &TerminationError{Status: res.Status}
}

func (st *Strategy) result(start time.Time) *Result {
	return &Result{
		Best:     st.sols.BestCandidate(),
		BestSeen: st.sols.BestSeen,
		Status:   st.sols.RunStatus,
		NIter:    st.sols.Niter,
		NEvals:   st.sols.NEvals,
		Restarts: st.restarts,
		Elapsed:  time.Since(start),
	}
}

func (st *Strategy) shouldRestart() bool {
	p, sols := st.params, st.sols
	if !p.Elitist || st.userStop || sols.RunStatus.Fatal() || st.restarts >= p.MaxRestarts {
		return false
	}
	return sols.BestSeen.Valid() &&
		sols.BestSeen.Fitness < sols.BestCandidate().Fitness &&
		sols.Niter-sols.BestSeenIter >= 3
}

// restart rebuilds the run state around the best point seen so far, keeping the
// evaluation count.
func (st *Strategy) restart() {
	old := st.sols
	best := old.BestSeen
	if !st.params.Quiet {
		st.logger.Info("Starting elitist restart",
			"best_fitness", best.Fitness,
			"best_iter", old.BestSeenIter,
			"final_fitness", old.BestCandidate().Fitness,
		)
	}

	sols := newSolutions(st.params, best.X)
	sols.NEvals = old.NEvals
	sols.InitialCandidate = NewCandidate(best.Fitness, best.X)
	sols.BestSeen = NewCandidate(best.Fitness, best.X)
	sols.BestSeenIter = 0
	st.sols = sols
	st.clampFixed()
	st.prev = nil
	st.restarts++
}

// clampFixed keeps fixed coordinates out of the distribution: their mean is the
// configured value and their variance is reset, uncorrelated with the others.
func (st *Strategy) clampFixed() {
	p, sols := st.params, st.sols
	for i, v := range p.FixedP {
		sols.XMean[i] = v
		sols.PSigma[i] = 0
		sols.PC[i] = 0
		switch p.Representation() {
		case RepFull:
			for j := 0; j < p.Dim; j++ {
				sols.Cov.SetSym(i, j, 0)
			}
			sols.Cov.SetSym(i, i, 1)
		case RepSep:
			sols.SepCov[i] = 1
		case RepVD:
			sols.SepCov[i] = 1
			sols.V[i] = 0
		}
	}
}

func meanPopulation(mean []float64, lambda int) *mat.Dense {
	pop := mat.NewDense(len(mean), lambda, nil)
	for j := 0; j < lambda; j++ {
		pop.SetCol(j, mean)
	}
	return pop
}
