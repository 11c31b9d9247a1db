package cmaes

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Evaluator computes the fitness of a batch of phenotypes.
type Evaluator interface {
	Evaluate(ctx context.Context, f FitFunc, xs [][]float64) ([]float64, error)
}

// SerialEvaluator evaluates candidates one after another on the calling goroutine.
type SerialEvaluator struct{}

func (SerialEvaluator) Evaluate(ctx context.Context, f FitFunc, xs [][]float64) ([]float64, error) {
	out := make([]float64, len(xs))
	for i, x := range xs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = f(x)
	}
	return out, nil
}

// ParallelEvaluator evaluates candidates concurrently. The fitness function must be
// safe for concurrent use. Workers <= 0 uses GOMAXPROCS.
type ParallelEvaluator struct {
	Workers int
}

func (e ParallelEvaluator) Evaluate(ctx context.Context, f FitFunc, xs [][]float64) ([]float64, error) {
	workers := e.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	out := make([]float64, len(xs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range xs {
		g.Go(func() (err error) {
			if err := gctx.Err(); err != nil {
				return err
			}
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("fitness panicked on candidate %d: %v", i, r)
				}
			}()
			out[i] = f(xs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
