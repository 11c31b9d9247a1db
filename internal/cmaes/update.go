package cmaes

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// CovarianceUpdate adapts the search distribution from the sorted, evaluated
// population of the current generation. On numerical failure an implementation
// sets sols.RunStatus to a fatal code and leaves the previous distribution in place.
type CovarianceUpdate interface {
	Update(p *Parameters, s *Sampler, sols *Solutions)
}

// NewCovarianceUpdate returns the update implementation of a flavor.
func NewCovarianceUpdate(f Flavor) CovarianceUpdate {
	switch f {
	case FlavorActive:
		return ActiveUpdate{}
	case FlavorSep:
		return SepUpdate{}
	case FlavorVD:
		return VDUpdate{}
	default:
		return FullUpdate{}
	}
}

// recombination is the part of a generation update shared by every flavor.
type recombination struct {
	xmean []float64 // new mean
	diff  []float64 // (new mean - old mean) / sigma
	// y[i] = (x_i - old mean) / sigma for the i-th ranked candidate
	y [][]float64
}

// recombine computes the weighted mean of the mu best candidates and the
// sigma-normalized displacements of every ranked candidate from the old mean.
func recombine(p *Parameters, sols *Solutions, all bool) recombination {
	n := p.Dim
	r := recombination{
		xmean: make([]float64, n),
		diff:  make([]float64, n),
	}
	for i := 0; i < p.Mu; i++ {
		floats.AddScaled(r.xmean, p.Weights[i], sols.Candidates[i].X)
	}
	floats.SubTo(r.diff, r.xmean, sols.XMean)
	floats.Scale(1/sols.Sigma, r.diff)

	count := p.Mu
	if all {
		count = len(sols.Candidates)
	}
	r.y = make([][]float64, count)
	for i := 0; i < count; i++ {
		yi := make([]float64, n)
		floats.SubTo(yi, sols.Candidates[i].X, sols.XMean)
		floats.Scale(1/sols.Sigma, yi)
		r.y[i] = yi
	}
	return r
}

// cumulateSigma returns (1-cs) ps + factPS * white, the new conjugate evolution path.
func cumulateSigma(p *Parameters, ps, white []float64) []float64 {
	out := make([]float64, len(ps))
	floats.ScaleTo(out, 1-p.CSigma, ps)
	floats.AddScaled(out, p.FactPS, white)
	return out
}

// heaviside stalls the pc update when |ps| is too long for the current generation.
func heaviside(p *Parameters, psNorm float64, niter int) float64 {
	denom := math.Sqrt(1 - math.Pow(1-p.CSigma, 2*float64(niter+1)))
	if psNorm/denom/p.Chi < 1.4+2/(float64(p.Dim)+1) {
		return 1
	}
	return 0
}

// cumulateCov returns (1-cc) pc + hsig * factPC * diff.
func cumulateCov(p *Parameters, pc, diff []float64, hsig float64) []float64 {
	out := make([]float64, len(pc))
	floats.ScaleTo(out, 1-p.CC, pc)
	floats.AddScaled(out, hsig*p.FactPC, diff)
	return out
}

// nextSigma applies cumulative step-size adaptation.
func nextSigma(p *Parameters, sigma, psNorm float64) float64 {
	return sigma * math.Exp(p.CSigma/p.DSigma*(psNorm/p.Chi-1))
}

func finiteAll(vs ...[]float64) bool {
	for _, v := range vs {
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}

func validSigma(sigma float64) bool {
	return sigma > 0 && !math.IsInf(sigma, 0) && !math.IsNaN(sigma)
}
