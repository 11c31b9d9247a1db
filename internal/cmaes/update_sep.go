package cmaes

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// SepUpdate restricts the covariance update to its diagonal. Cost is linear in the
// dimension; cross-correlations are never learned.
type SepUpdate struct{}

func (SepUpdate) Update(p *Parameters, _ *Sampler, sols *Solutions) {
	n := p.Dim
	r := recombine(p, sols, false)

	white := make([]float64, n)
	for i := range white {
		white[i] = r.diff[i] / math.Sqrt(sols.SepCov[i])
	}
	ps := cumulateSigma(p, sols.PSigma, white)
	psNorm := floats.Norm(ps, 2)
	hsig := heaviside(p, psNorm, sols.Niter)
	pc := cumulateCov(p, sols.PC, r.diff, hsig)

	c1, cmu := p.C1, p.CMu
	decay := 1 - c1 - cmu + (1-hsig)*c1*p.CC*(2-p.CC)
	sepcov := make([]float64, n)
	for k := 0; k < n; k++ {
		var rankMu float64
		for i := 0; i < p.Mu; i++ {
			rankMu += p.Weights[i] * r.y[i][k] * r.y[i][k]
		}
		sepcov[k] = decay*sols.SepCov[k] + c1*pc[k]*pc[k] + cmu*rankMu
	}

	sigma := nextSigma(p, sols.Sigma, psNorm)
	if !finiteAll(r.xmean, ps, pc, sepcov) || !validSigma(sigma) || floats.Min(sepcov) <= 0 {
		sols.RunStatus = StatusNumerical
		return
	}

	sols.XMean = r.xmean
	sols.PSigma = ps
	sols.PC = pc
	sols.SepCov = sepcov
	sols.Sigma = sigma
}
