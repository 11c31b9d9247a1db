// Package fitfunc provides the benchmark objectives used by the CLI and the tests.
// All functions are minimized, have their optimum at f=0, and are safe for
// concurrent use.
package fitfunc

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Function is a named benchmark objective.
type Function struct {
	Name        string
	Description string
	Eval        func(x []float64) float64
	// Grad is the analytic gradient, nil when not provided.
	Grad func(x []float64) []float64
	// Lower and Upper are the usual initialization box, per coordinate.
	Lower, Upper float64
}

// Sphere is sum x_i^2.
func Sphere(x []float64) float64 {
	return floats.Dot(x, x)
}

// SphereGrad is the gradient of Sphere.
func SphereGrad(x []float64) []float64 {
	g := make([]float64, len(x))
	floats.ScaleTo(g, 2, x)
	return g
}

// Elli is the ellipsoid sum 1e6^(i/(n-1)) x_i^2.
func Elli(x []float64) float64 {
	var s float64
	for i, v := range x {
		s += elliCoef(i, len(x)) * v * v
	}
	return s
}

// ElliGrad is the gradient of Elli.
func ElliGrad(x []float64) []float64 {
	g := make([]float64, len(x))
	for i, v := range x {
		g[i] = 2 * elliCoef(i, len(x)) * v
	}
	return g
}

func elliCoef(i, n int) float64 {
	if n == 1 {
		return 1
	}
	return math.Pow(1e6, float64(i)/float64(n-1))
}

// Cigar is x_0^2 + 1e6 sum_{i>0} x_i^2.
func Cigar(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return x[0]*x[0] + 1e6*floats.Dot(x[1:], x[1:])
}

// Tablet is 1e6 x_0^2 + sum_{i>0} x_i^2.
func Tablet(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return 1e6*x[0]*x[0] + floats.Dot(x[1:], x[1:])
}

// Rosenbrock is sum 100 (x_{i+1} - x_i^2)^2 + (1 - x_i)^2. Its optimum is at x = 1.
func Rosenbrock(x []float64) float64 {
	var s float64
	for i := 0; i+1 < len(x); i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		s += 100*a*a + b*b
	}
	return s
}

// Rastrigin is 10n + sum x_i^2 - 10 cos(2 pi x_i).
func Rastrigin(x []float64) float64 {
	s := 10 * float64(len(x))
	for _, v := range x {
		s += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return s
}

// Flat is constant zero.
func Flat([]float64) float64 { return 0 }

var registry = map[string]Function{
	"sphere":     {Name: "sphere", Description: "sum of squares", Eval: Sphere, Grad: SphereGrad, Lower: -5, Upper: 5},
	"elli":       {Name: "elli", Description: "ellipsoid, condition 1e6", Eval: Elli, Grad: ElliGrad, Lower: -5, Upper: 5},
	"cigar":      {Name: "cigar", Description: "one long axis, condition 1e6", Eval: Cigar, Lower: -5, Upper: 5},
	"tablet":     {Name: "tablet", Description: "one short axis, condition 1e6", Eval: Tablet, Lower: -5, Upper: 5},
	"rosenbrock": {Name: "rosenbrock", Description: "curved valley, optimum at 1", Eval: Rosenbrock, Lower: -2, Upper: 2},
	"rastrigin":  {Name: "rastrigin", Description: "multimodal, cosine modulated", Eval: Rastrigin, Lower: -5.12, Upper: 5.12},
	"flat":       {Name: "flat", Description: "constant zero", Eval: Flat, Lower: -1, Upper: 1},
}

// Lookup returns the function registered under name.
func Lookup(name string) (Function, error) {
	f, ok := registry[name]
	if !ok {
		return Function{}, fmt.Errorf("unknown function: %s (available: %v)", name, Names())
	}
	return f, nil
}

// Names lists the registered functions in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bounds returns the initialization box of f expanded to dim coordinates.
func (f Function) Bounds(dim int) (lower, upper []float64) {
	lower = make([]float64, dim)
	upper = make([]float64, dim)
	for i := 0; i < dim; i++ {
		lower[i] = f.Lower
		upper[i] = f.Upper
	}
	return lower, upper
}
