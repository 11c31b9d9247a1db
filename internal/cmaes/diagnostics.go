package cmaes

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// KLDiagnostics decomposes the Kullback-Leibler divergence between the search
// distribution of two consecutive generations, KL(N_old || N_new).
type KLDiagnostics struct {
	KL          float64
	KLDet       float64 // half log-determinant ratio
	KLTrDet     float64 // trace and determinant terms, without the mean shift
	SigmaTerm   float64 // share of the log-determinant ratio due to the step size
	Mahalanobis float64 // half squared Mahalanobis distance of the mean shift
}

// distribution is a copy of the parts of Solutions that define N(m, sigma^2 C).
type distribution struct {
	mean  []float64
	sigma float64
	cov   *mat.SymDense // nil for diagonal representations
	diag  []float64
}

func snapshot(s *Solutions) *distribution {
	d := &distribution{
		mean:  append([]float64(nil), s.XMean...),
		sigma: s.Sigma,
	}
	if s.Cov != nil {
		d.cov = mat.NewSymDense(s.Cov.SymmetricDim(), nil)
		d.cov.CopySym(s.Cov)
	} else {
		d.diag = s.CovDiag()
	}
	return d
}

// klDivergence returns the zero value when either covariance cannot be factorized.
func klDivergence(old, next *distribution) KLDiagnostics {
	n := len(old.mean)
	shift := make([]float64, n)
	for i := range shift {
		shift[i] = next.mean[i] - old.mean[i]
	}
	s0, s1 := old.sigma*old.sigma, next.sigma*next.sigma

	var trace, maha, logdet0, logdet1 float64
	if old.cov != nil && next.cov != nil {
		sigma0 := mat.NewSymDense(n, nil)
		sigma0.ScaleSym(s0, old.cov)
		sigma1 := mat.NewSymDense(n, nil)
		sigma1.ScaleSym(s1, next.cov)

		var ch0, ch1 mat.Cholesky
		if !ch0.Factorize(sigma0) || !ch1.Factorize(sigma1) {
			return KLDiagnostics{}
		}
		var sol mat.Dense
		if err := ch1.SolveTo(&sol, sigma0); err != nil {
			return KLDiagnostics{}
		}
		trace = mat.Trace(&sol)

		d := mat.NewVecDense(n, shift)
		var w mat.VecDense
		if err := ch1.SolveVecTo(&w, d); err != nil {
			return KLDiagnostics{}
		}
		maha = mat.Dot(d, &w)
		logdet0, logdet1 = ch0.LogDet(), ch1.LogDet()
	} else {
		for i := 0; i < n; i++ {
			v0, v1 := s0*old.diag[i], s1*next.diag[i]
			if !(v0 > 0) || !(v1 > 0) {
				return KLDiagnostics{}
			}
			trace += v0 / v1
			maha += shift[i] * shift[i] / v1
			logdet0 += math.Log(v0)
			logdet1 += math.Log(v1)
		}
	}

	det := 0.5 * (logdet1 - logdet0)
	trDet := 0.5*(trace-float64(n)) + det
	return KLDiagnostics{
		KL:          trDet + 0.5*maha,
		KLDet:       det,
		KLTrDet:     trDet,
		SigmaTerm:   float64(n) * math.Log(next.sigma/old.sigma),
		Mahalanobis: 0.5 * maha,
	}
}
