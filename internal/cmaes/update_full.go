package cmaes

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// FullUpdate is the standard rank-1 plus rank-mu update of a dense covariance.
type FullUpdate struct{}

func (FullUpdate) Update(p *Parameters, s *Sampler, sols *Solutions) {
	fullUpdate(p, s, sols, false)
}

// ActiveUpdate extends FullUpdate with a negative rank-mu term built from the worst
// candidates of the generation.
type ActiveUpdate struct{}

func (ActiveUpdate) Update(p *Parameters, s *Sampler, sols *Solutions) {
	fullUpdate(p, s, sols, true)
}

func fullUpdate(p *Parameters, s *Sampler, sols *Solutions, active bool) {
	n := p.Dim
	r := recombine(p, sols, active)

	white := make([]float64, n)
	s.InvSqrtMul(white, r.diff)
	ps := cumulateSigma(p, sols.PSigma, white)
	psNorm := floats.Norm(ps, 2)
	hsig := heaviside(p, psNorm, sols.Niter)
	pc := cumulateCov(p, sols.PC, r.diff, hsig)

	// Selected displacements, each column scaled by sqrt(w_i).
	ypos := mat.NewDense(n, p.Mu, nil)
	for i := 0; i < p.Mu; i++ {
		sw := math.Sqrt(p.Weights[i])
		for k := 0; k < n; k++ {
			ypos.Set(k, i, sw*r.y[i][k])
		}
	}

	c1, cmu := p.C1, p.CMu
	decay := 1 - c1 - cmu + (1-hsig)*c1*p.CC*(2-p.CC)
	cov := mat.NewSymDense(n, nil)
	if !active {
		cov.ScaleSym(decay, sols.Cov)
		cov.SymRankOne(cov, c1, mat.NewVecDense(n, pc))
		cov.SymRankK(cov, cmu, ypos)
	} else {
		cm, alpha := p.CMinus, p.AlphaMinusOld
		cov.ScaleSym(decay+cm*alpha, sols.Cov)
		cov.SymRankOne(cov, c1, mat.NewVecDense(n, pc))
		cov.SymRankK(cov, cmu+cm*(1-alpha), ypos)
		cov.SymRankK(cov, -cm, negativeDisplacements(p, s, r))
	}

	sigma := nextSigma(p, sols.Sigma, psNorm)
	if !finiteAll(r.xmean, ps, pc, cov.RawSymmetric().Data) || !validSigma(sigma) {
		sols.RunStatus = StatusNumerical
		return
	}

	sols.XMean = r.xmean
	sols.PSigma = ps
	sols.PC = pc
	sols.Cov = cov
	sols.Sigma = sigma
}

// negativeDisplacements collects the mu worst displacements, worst first, weighted by
// sqrt(w_i) and rescaled so that their Mahalanobis norm is sqrt(dim). The rescaling
// bounds the negative contribution independently of how far the worst points lie.
func negativeDisplacements(p *Parameters, s *Sampler, r recombination) *mat.Dense {
	n := p.Dim
	lambda := len(r.y)
	mu := p.Mu
	if mu > lambda-p.Mu {
		mu = lambda - p.Mu
	}
	yneg := mat.NewDense(n, max(mu, 1), nil)
	white := make([]float64, n)
	for i := 0; i < mu; i++ {
		y := r.y[lambda-1-i]
		s.InvSqrtMul(white, y)
		norm := floats.Norm(white, 2)
		scale := math.Sqrt(p.Weights[i])
		if norm > 0 {
			scale *= math.Sqrt(float64(n)) / norm
		}
		for k := 0; k < n; k++ {
			yneg.Set(k, i, scale*y[k])
		}
	}
	return yneg
}
