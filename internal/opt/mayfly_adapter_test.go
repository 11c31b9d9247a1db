package opt

import (
	"context"
	"math"
	"testing"

	"github.com/cwbudde/cmaes/internal/cmaes"
	"github.com/cwbudde/cmaes/internal/fitfunc"
)

func box(dim int, lo, hi float64) ([]float64, []float64) {
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := 0; i < dim; i++ {
		lower[i] = lo
		upper[i] = hi
	}
	return lower, upper
}

func TestMayflyAdapterOnSphere(t *testing.T) {
	optimizer := NewMayfly(100, 20, 42)
	lower, upper := box(3, -10, 10)

	res, err := optimizer.Run(context.Background(), fitfunc.Sphere, lower, upper)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Best) != 3 {
		t.Fatalf("Expected 3 parameters, got %d", len(res.Best))
	}
	if res.Cost > 0.1 {
		t.Errorf("Expected cost near 0, got %f", res.Cost)
	}
	for i, v := range res.Best {
		if math.Abs(v) > 1.0 {
			t.Errorf("Parameter %d = %f, expected near 0", i, v)
		}
	}
	if res.Evaluations == 0 {
		t.Error("Expected evaluations to be counted")
	}
}

func TestMayflyAdapterDeterministic(t *testing.T) {
	lower, upper := box(2, -5, 5)

	// popSize must be >= 20 for mayfly v0.1.0
	res1, err := NewMayfly(50, 20, 123).Run(context.Background(), fitfunc.Sphere, lower, upper)
	if err != nil {
		t.Fatal(err)
	}
	res2, err := NewMayfly(50, 20, 123).Run(context.Background(), fitfunc.Sphere, lower, upper)
	if err != nil {
		t.Fatal(err)
	}
	if res1.Cost != res2.Cost {
		t.Errorf("Non-deterministic: cost1=%f, cost2=%f", res1.Cost, res2.Cost)
	}
}

func TestMayflyAdapterInvalidBounds(t *testing.T) {
	_, err := NewMayfly(10, 20, 1).Run(context.Background(), fitfunc.Sphere, []float64{0}, nil)
	if err == nil {
		t.Fatal("Expected error for mismatched bounds")
	}
}

func TestCMAESAdapterOnSphere(t *testing.T) {
	for _, flavor := range []cmaes.Flavor{cmaes.FlavorFull, cmaes.FlavorSep, cmaes.FlavorVD} {
		t.Run(flavor.String(), func(t *testing.T) {
			lower, upper := box(5, -5, 5)
			// Centre of the box is the optimum; shift it so the run has work to do.
			shifted := func(x []float64) float64 {
				var s float64
				for _, v := range x {
					s += (v - 1.5) * (v - 1.5)
				}
				return s
			}

			res, err := NewCMAES(flavor, 500, 7).Run(context.Background(), shifted, lower, upper)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.Cost > 1e-8 {
				t.Errorf("Expected cost below 1e-8, got %g (status %s)", res.Cost, res.Status)
			}
			for i, v := range res.Best {
				if math.Abs(v-1.5) > 1e-3 {
					t.Errorf("Parameter %d = %f, expected near 1.5", i, v)
				}
			}
		})
	}
}

func TestCMAESAdapterParallelDeterministic(t *testing.T) {
	lower, upper := box(4, -2, 2)
	serial := NewCMAES(cmaes.FlavorFull, 60, 11)
	parallel := NewCMAES(cmaes.FlavorFull, 60, 11)
	parallel.Workers = 4

	r1, err := serial.Run(context.Background(), fitfunc.Rosenbrock, lower, upper)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := parallel.Run(context.Background(), fitfunc.Rosenbrock, lower, upper)
	if err != nil {
		t.Fatal(err)
	}
	if r1.Cost != r2.Cost || r1.Evaluations != r2.Evaluations {
		t.Errorf("Parallel evaluation changed the run: %+v vs %+v", r1, r2)
	}
}

func TestOptimizersImplementInterface(t *testing.T) {
	var _ Optimizer = NewMayfly(1, 20, 1)
	var _ Optimizer = NewCMAES(cmaes.FlavorFull, 1, 1)
	if NewCMAES(cmaes.FlavorSep, 1, 1).Name() != "cmaes-sep" {
		t.Error("Unexpected CMA-ES name")
	}
}
