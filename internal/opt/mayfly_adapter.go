package opt

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface.
// It serves as the baseline the CMA-ES runs are compared against.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter. Mayfly v0.1.0 needs popSize >= 20.
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

func (m *MayflyAdapter) Name() string { return "mayfly" }

// Run executes the Mayfly optimization. The library takes scalar bounds, so the box
// of the first coordinate is used for all of them.
func (m *MayflyAdapter) Run(ctx context.Context, eval func([]float64) float64, lower, upper []float64) (*Result, error) {
	if len(lower) == 0 || len(lower) != len(upper) {
		return nil, fmt.Errorf("invalid bounds: %d lower, %d upper", len(lower), len(upper))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counted, evals := countingEval(eval)

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = counted
	config.ProblemSize = len(lower)
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = lower[0]
	config.UpperBound = upper[0]
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, fmt.Errorf("failed to run mayfly: %w", err)
	}

	return &Result{
		Best:        append([]float64(nil), result.GlobalBest.Position...),
		Cost:        result.GlobalBest.Cost,
		Evaluations: *evals,
		Iterations:  m.maxIters,
		Status:      "maxiter",
	}, nil
}
