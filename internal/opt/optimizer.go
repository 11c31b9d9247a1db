package opt

import "context"

// Result is the outcome of an optimizer run.
type Result struct {
	Best        []float64
	Cost        float64
	Evaluations int
	Iterations  int
	// Status names why the run ended, as reported by the optimizer.
	Status string
}

// Optimizer defines an optimization algorithm interface.
type Optimizer interface {
	// Name identifies the algorithm in logs and reports.
	Name() string

	// Run minimizes eval inside the box [lower, upper]. The dimension is len(lower).
	Run(ctx context.Context, eval func([]float64) float64, lower, upper []float64) (*Result, error)
}

// countingEval wraps eval so that the number of calls can be reported.
func countingEval(eval func([]float64) float64) (func([]float64) float64, *int) {
	n := new(int)
	return func(x []float64) float64 {
		*n++
		return eval(x)
	}, n
}
