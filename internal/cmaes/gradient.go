package cmaes

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// gradientAtMean returns the fitness gradient at the mean, expressed in genotype
// space. Without a user gradient it falls back to central finite differences,
// which cost 2*dim evaluations.
func (st *Strategy) gradientAtMean() []float64 {
	p, sols := st.params, st.sols
	x := sols.XMean
	y := p.GenoPheno.Pheno(x)

	var g []float64
	if p.Gradient != nil {
		g = p.Gradient(y)
	} else {
		g = finiteDifference(st.fitness, y)
		sols.NEvals += 2 * len(y)
	}
	if len(g) != p.Dim {
		return nil
	}
	jac := p.GenoPheno.Jacobian(x)
	out := make([]float64, p.Dim)
	floats.MulTo(out, g, jac)
	for i := range p.FixedP {
		out[i] = 0
	}
	return out
}

// injectGradient replaces the first column of pop with a step of length sigma*sqrt(dim)
// in the metric of the covariance, along the negative natural-gradient direction.
// Nothing is injected when the gradient vanishes.
func (st *Strategy) injectGradient(pop *mat.Dense) {
	g := st.gradientAtMean()
	if g == nil || !finiteAll(g) || floats.Norm(g, 2) == 0 {
		return
	}
	p, sols := st.params, st.sols
	n := float64(p.Dim)
	nx := make([]float64, p.Dim)

	switch p.Representation() {
	case RepFull:
		q := make([]float64, p.Dim)
		st.sampler.SqrtMul(q, g)
		normQ2 := floats.Dot(q, q)
		if normQ2 == 0 {
			return
		}
		cg := mat.NewVecDense(p.Dim, nil)
		cg.MulVec(sols.Cov, mat.NewVecDense(p.Dim, g))
		scale := sols.Sigma * math.Sqrt(n/normQ2)
		for i := range nx {
			nx[i] = sols.XMean[i] - scale*cg.AtVec(i)
		}
	default:
		// Sep and VD both use the diagonal factor: the variances for sep, D for VD.
		diag := sols.SepCov
		var norm float64
		for i, v := range g {
			sq := math.Sqrt(diag[i]) * v
			norm += sq * sq
		}
		if norm == 0 {
			return
		}
		scale := sols.Sigma * math.Sqrt(n) / math.Sqrt(norm)
		for i := range nx {
			nx[i] = sols.XMean[i] - scale*diag[i]*g[i]
		}
	}
	pop.SetCol(0, nx)
}

func finiteDifference(f FitFunc, x []float64) []float64 {
	g := make([]float64, len(x))
	probe := append([]float64(nil), x...)
	for i := range x {
		h := 1e-6 * math.Max(1, math.Abs(x[i]))
		probe[i] = x[i] + h
		fp := f(probe)
		probe[i] = x[i] - h
		fm := f(probe)
		probe[i] = x[i]
		g[i] = (fp - fm) / (2 * h)
	}
	return g
}
