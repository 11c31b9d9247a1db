package cmaes

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// vdMaxShrink bounds the relative decrease of any D coordinate in one generation.
const vdMaxShrink = 0.5

// VDUpdate adapts the factored covariance D(I+vv')D with the closed-form natural
// gradient of Akimoto, Auger and Hansen (2014). Every step is O(lambda * dim).
type VDUpdate struct{}

func (VDUpdate) Update(p *Parameters, _ *Sampler, sols *Solutions) {
	n := p.Dim
	r := recombine(p, sols, false)
	vd := sols.VDCov()

	white := append([]float64(nil), r.diff...)
	vd.Whiten(white)
	ps := cumulateSigma(p, sols.PSigma, white)
	psNorm := floats.Norm(ps, 2)
	hsig := heaviside(p, psNorm, sols.Niter)
	pc := cumulateCov(p, sols.PC, r.diff, hsig)

	ng := newVDGradient(vd)
	ngd := make([]float64, n)
	ngv := make([]float64, n)

	// Rank-one sample: the evolution path, whitened by D only.
	ypc := append([]float64(nil), pc...)
	floats.Div(ypc, vd.D)
	s, t := ng.direction(ypc)
	floats.AddScaled(ngd, p.C1, s)
	floats.AddScaled(ngv, p.C1, t)

	for i := 0; i < p.Mu; i++ {
		y := append([]float64(nil), r.y[i]...)
		floats.Div(y, vd.D)
		s, t := ng.direction(y)
		floats.AddScaled(ngd, p.CMu*p.Weights[i], s)
		floats.AddScaled(ngv, p.CMu*p.Weights[i], t)
	}

	// Damp the step so that no coordinate of D shrinks by more than vdMaxShrink.
	step := 1.0
	if worst := -floats.Min(ngd); worst > vdMaxShrink {
		step = vdMaxShrink / worst
	}

	d := make([]float64, n)
	v := make([]float64, n)
	normV := math.Sqrt(ng.normV2)
	if normV == 0 {
		normV = 1
	}
	for k := 0; k < n; k++ {
		d[k] = vd.D[k] * (1 + step*ngd[k])
		v[k] = vd.V[k] + step*ngv[k]/normV
	}

	sigma := nextSigma(p, sols.Sigma, psNorm)
	if !finiteAll(r.xmean, ps, pc, d, v) || !validSigma(sigma) || floats.Min(d) <= 0 {
		sols.RunStatus = StatusNumerical
		return
	}

	sols.XMean = r.xmean
	sols.PSigma = ps
	sols.PC = pc
	sols.SepCov = d
	sols.V = v
	sols.Sigma = sigma
}

// vdGradient holds the quantities of the natural gradient that only depend on v.
type vdGradient struct {
	normV2 float64
	gamma  float64
	alpha  float64
	b      float64
	vbar   []float64
	vbar2  []float64
	a      []float64
	invAv2 []float64 // vbar2 ./ a
	denom  float64   // 1 + b <vbar2, invAv2>
}

func newVDGradient(vd VDCov) vdGradient {
	n := len(vd.V)
	g := vdGradient{
		normV2: floats.Dot(vd.V, vd.V),
		vbar:   make([]float64, n),
		vbar2:  make([]float64, n),
		a:      make([]float64, n),
		invAv2: make([]float64, n),
	}
	g.gamma = 1 + g.normV2
	if g.normV2 > 0 {
		floats.ScaleTo(g.vbar, 1/math.Sqrt(g.normV2), vd.V)
	}
	floats.MulTo(g.vbar2, g.vbar, g.vbar)

	maxVbar2 := floats.Max(g.vbar2)
	g.alpha = 1
	if maxVbar2 > 0 {
		g.alpha = math.Sqrt(g.normV2*g.normV2+(2-1/math.Sqrt(g.gamma))*g.gamma/maxVbar2) / (2 + g.normV2)
		g.alpha = math.Min(1, g.alpha)
	}
	alpha2 := g.alpha * g.alpha
	g.b = -(1-alpha2)*g.normV2*g.normV2/g.gamma + 2*alpha2
	for i := range g.a {
		g.a[i] = 2 - (g.b+2*alpha2)*g.vbar2[i]
		g.invAv2[i] = g.vbar2[i] / g.a[i]
	}
	g.denom = 1 + g.b*floats.Dot(g.vbar2, g.invAv2)
	return g
}

// direction returns the natural gradient components (s for D, t for v) contributed
// by one D-whitened sample y.
func (g vdGradient) direction(y []float64) (s, t []float64) {
	n := len(y)
	s = make([]float64, n)
	t = make([]float64, n)
	yv := floats.Dot(y, g.vbar)

	for i := 0; i < n; i++ {
		s[i] = y[i]*y[i] - g.normV2/g.gamma*yv*y[i]*g.vbar[i] - 1
		t[i] = yv*y[i] - 0.5*(yv*yv+g.gamma)*g.vbar[i]
	}

	vt := 0.0
	for i := 0; i < n; i++ {
		vt += g.vbar[i] * t[i]
	}
	for i := 0; i < n; i++ {
		s[i] -= g.alpha / g.gamma * ((2+g.normV2)*g.vbar[i]*t[i] - g.normV2*vt*g.vbar2[i])
	}

	// Sherman-Morrison inverse of diag(a) + b vbar2 vbar2'.
	proj := g.b * floats.Dot(g.invAv2, s) / g.denom
	for i := 0; i < n; i++ {
		s[i] = s[i]/g.a[i] - proj*g.invAv2[i]
	}

	sv2 := floats.Dot(s, g.vbar2)
	for i := 0; i < n; i++ {
		t[i] -= g.alpha * ((2+g.normV2)*g.vbar[i]*s[i] - sv2*g.vbar[i])
	}
	return s, t
}
