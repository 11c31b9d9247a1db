package cmaes

import "fmt"

// FitFunc evaluates a candidate in phenotype space. Lower is better.
type FitFunc func(x []float64) float64

// GradFunc returns the gradient of the objective at a phenotype point.
type GradFunc func(x []float64) []float64

// GenoPheno maps between the internal search coordinates (genotype) and the
// coordinates seen by the objective (phenotype). Implementations must be pure.
type GenoPheno interface {
	Pheno(x []float64) []float64
	Geno(y []float64) []float64
	// Jacobian returns the diagonal of d pheno / d geno at x.
	Jacobian(x []float64) []float64
}

// IdentityTransform leaves coordinates untouched.
type IdentityTransform struct{}

func (IdentityTransform) Pheno(x []float64) []float64 { return append([]float64(nil), x...) }

func (IdentityTransform) Geno(y []float64) []float64 { return append([]float64(nil), y...) }

func (IdentityTransform) Jacobian(x []float64) []float64 {
	j := make([]float64, len(x))
	for i := range j {
		j[i] = 1
	}
	return j
}

// LinearScaling maps the box [lower,upper] of the phenotype onto [0,10] in genotype
// space: geno = scale*pheno + shift.
type LinearScaling struct {
	scale []float64
	shift []float64
}

// NewLinearScaling builds the scaling for the given phenotype box.
func NewLinearScaling(lower, upper []float64) (*LinearScaling, error) {
	if len(lower) != len(upper) {
		return nil, fmt.Errorf("bounds length mismatch: %d vs %d", len(lower), len(upper))
	}
	ls := &LinearScaling{
		scale: make([]float64, len(lower)),
		shift: make([]float64, len(lower)),
	}
	for i := range lower {
		width := upper[i] - lower[i]
		if width <= 0 {
			return nil, fmt.Errorf("empty bound interval at coordinate %d: [%g,%g]", i, lower[i], upper[i])
		}
		ls.scale[i] = 10 / width
		ls.shift[i] = -lower[i] * ls.scale[i]
	}
	return ls, nil
}

func (ls *LinearScaling) Pheno(x []float64) []float64 {
	y := make([]float64, len(x))
	for i := range x {
		y[i] = (x[i] - ls.shift[i]) / ls.scale[i]
	}
	return y
}

func (ls *LinearScaling) Geno(y []float64) []float64 {
	x := make([]float64, len(y))
	for i := range y {
		x[i] = ls.scale[i]*y[i] + ls.shift[i]
	}
	return x
}

func (ls *LinearScaling) Jacobian(x []float64) []float64 {
	j := make([]float64, len(x))
	for i := range j {
		j[i] = 1 / ls.scale[i]
	}
	return j
}
