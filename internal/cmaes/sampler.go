package cmaes

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// eigenFloor is the smallest eigenvalue kept, relative to the largest one. Smaller or
// negative eigenvalues are raised to it so that square roots stay defined.
const eigenFloor = 1e-20

var errEigen = errors.New("eigen-decomposition failed")

// Sampler draws populations from the current search distribution. For the full
// representation it owns the cached eigen-decomposition of the covariance and the
// matrix square roots derived from it.
type Sampler struct {
	rng *rand.Rand
	dim int

	values    []float64
	vectors   *mat.Dense
	transform *mat.Dense // B Λ^{1/2} B'
	invSqrt   *mat.Dense // B Λ^{-1/2} B'
}

// NewSampler creates a sampler with its own seeded random stream.
func NewSampler(dim int, seed int64) *Sampler {
	return &Sampler{
		rng:    rand.New(rand.NewSource(seed)),
		dim:    dim,
		values: ones(dim),
	}
}

// SetCovariance factorizes cov and refreshes the cached square roots.
func (s *Sampler) SetCovariance(cov *mat.SymDense) error {
	var es mat.EigenSym
	if ok := es.Factorize(cov, true); !ok {
		return errEigen
	}
	values := es.Values(nil)
	var vectors mat.Dense
	es.VectorsTo(&vectors)

	maxv := floats.Max(values)
	if !(maxv > 0) || math.IsInf(maxv, 0) {
		return errEigen
	}
	floor := maxv * eigenFloor
	for i, v := range values {
		if v < floor || math.IsNaN(v) {
			values[i] = floor
		}
	}

	n := s.dim
	scaled := mat.DenseCopyOf(&vectors)
	scaledInv := mat.DenseCopyOf(&vectors)
	for j := 0; j < n; j++ {
		sq := math.Sqrt(values[j])
		for i := 0; i < n; i++ {
			b := vectors.At(i, j)
			scaled.Set(i, j, b*sq)
			scaledInv.Set(i, j, b/sq)
		}
	}
	if s.transform == nil {
		s.transform = mat.NewDense(n, n, nil)
		s.invSqrt = mat.NewDense(n, n, nil)
	}
	s.transform.Mul(scaled, vectors.T())
	s.invSqrt.Mul(scaledInv, vectors.T())

	s.values = values
	s.vectors = &vectors
	return nil
}

// EigenValues returns the cached eigenvalues in ascending order.
func (s *Sampler) EigenValues() []float64 { return s.values }

// EigenVectors returns the cached eigenvectors as columns, or nil before the first
// factorization.
func (s *Sampler) EigenVectors() *mat.Dense { return s.vectors }

// Transform returns the principal square root of the factorized covariance.
func (s *Sampler) Transform() *mat.Dense { return s.transform }

// InvSqrtMul stores C^{-1/2} x into dst using the cached decomposition.
func (s *Sampler) InvSqrtMul(dst, x []float64) {
	if s.invSqrt == nil {
		copy(dst, x)
		return
	}
	mat.NewVecDense(len(dst), dst).MulVec(s.invSqrt, mat.NewVecDense(len(x), x))
}

// SqrtMul stores C^{1/2} x into dst using the cached decomposition.
func (s *Sampler) SqrtMul(dst, x []float64) {
	if s.transform == nil {
		copy(dst, x)
		return
	}
	mat.NewVecDense(len(dst), dst).MulVec(s.transform, mat.NewVecDense(len(x), x))
}

// standardNormal fills a dim x lambda matrix with i.i.d. N(0,1) draws, column by column.
func (s *Sampler) standardNormal(lambda int) *mat.Dense {
	z := mat.NewDense(s.dim, lambda, nil)
	for j := 0; j < lambda; j++ {
		for i := 0; i < s.dim; i++ {
			z.Set(i, j, s.rng.NormFloat64())
		}
	}
	return z
}

// Samples draws lambda columns mean + sigma * C^{1/2} z.
func (s *Sampler) Samples(mean []float64, sigma float64, lambda int) *mat.Dense {
	z := s.standardNormal(lambda)
	pop := mat.NewDense(s.dim, lambda, nil)
	if s.transform != nil {
		pop.Mul(s.transform, z)
	} else {
		pop.Copy(z)
	}
	shift(pop, mean, sigma)
	return pop
}

// SamplesSep draws lambda columns mean + sigma * sqrt(sepcov) .* z.
func (s *Sampler) SamplesSep(mean, sepcov []float64, sigma float64, lambda int) *mat.Dense {
	pop := s.standardNormal(lambda)
	for i := 0; i < s.dim; i++ {
		sd := math.Sqrt(sepcov[i])
		row := pop.RawRowView(i)
		floats.Scale(sd, row)
	}
	shift(pop, mean, sigma)
	return pop
}

// SamplesVD draws lambda columns mean + sigma * D (I+vv')^{1/2} z without forming
// any dim x dim matrix.
func (s *Sampler) SamplesVD(mean []float64, vd VDCov, sigma float64, lambda int) *mat.Dense {
	pop := s.standardNormal(lambda)
	col := make([]float64, s.dim)
	for j := 0; j < lambda; j++ {
		mat.Col(col, j, pop)
		vd.Apply(col)
		pop.SetCol(j, col)
	}
	shift(pop, mean, sigma)
	return pop
}

// shift turns unit-scale samples into mean + sigma * sample, column-wise.
func shift(pop *mat.Dense, mean []float64, sigma float64) {
	rows, cols := pop.Dims()
	for i := 0; i < rows; i++ {
		row := pop.RawRowView(i)
		for j := 0; j < cols; j++ {
			row[j] = mean[i] + sigma*row[j]
		}
	}
}
