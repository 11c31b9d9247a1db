package opt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cwbudde/cmaes/internal/cmaes"
)

// CMAESAdapter runs CMA-ES inside a box by linearly scaling it onto [0,10]^n.
type CMAESAdapter struct {
	Flavor  cmaes.Flavor
	Lambda  int
	Sigma   float64 // in the scaled [0,10] coordinates
	MaxIter int
	Seed    int64
	Elitist bool
	Workers int // >1 evaluates the population concurrently
	Logger  *slog.Logger
}

// NewCMAES creates a CMA-ES adapter with the default population size and a step size
// of a fifth of the box.
func NewCMAES(flavor cmaes.Flavor, maxIter int, seed int64) *CMAESAdapter {
	return &CMAESAdapter{
		Flavor:  flavor,
		Sigma:   2,
		MaxIter: maxIter,
		Seed:    seed,
	}
}

func (c *CMAESAdapter) Name() string { return "cmaes-" + c.Flavor.String() }

// Run starts from the centre of the box. Stopping on a positive criterion is a
// normal result; a negative one is returned as an error together with the partial
// result.
func (c *CMAESAdapter) Run(ctx context.Context, eval func([]float64) float64, lower, upper []float64) (*Result, error) {
	scaling, err := cmaes.NewLinearScaling(lower, upper)
	if err != nil {
		return nil, fmt.Errorf("invalid bounds: %w", err)
	}
	dim := len(lower)
	x0 := make([]float64, dim)
	for i := range x0 {
		x0[i] = (lower[i] + upper[i]) / 2
	}

	p, err := cmaes.NewParameters(dim, x0, c.Sigma, c.Lambda, c.Seed, c.Flavor)
	if err != nil {
		return nil, fmt.Errorf("failed to build parameters: %w", err)
	}
	p.GenoPheno = scaling
	p.MaxIter = c.MaxIter
	p.Elitist = c.Elitist
	p.Quiet = true

	opts := []cmaes.Option{}
	if c.Workers > 1 {
		opts = append(opts, cmaes.WithEvaluator(cmaes.ParallelEvaluator{Workers: c.Workers}))
	}
	if c.Logger != nil {
		opts = append(opts, cmaes.WithLogger(c.Logger))
	}

	st, err := cmaes.NewStrategy(eval, p, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create strategy: %w", err)
	}
	defer st.Close()

	res, runErr := st.Optimize(ctx)
	if res == nil {
		return nil, runErr
	}
	out := &Result{
		Best:        scaling.Pheno(res.BestSeen.X),
		Cost:        res.BestSeen.Fitness,
		Evaluations: res.NEvals,
		Iterations:  res.NIter,
		Status:      res.Status.String(),
	}
	return out, runErr
}
