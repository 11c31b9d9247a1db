package cmaes

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// VDCov is the factored covariance C = D(I+vv')D of the linear-time flavor, stored as
// the diagonal scaling D and the auxiliary vector v.
type VDCov struct {
	D []float64
	V []float64
}

// Dense materializes the covariance. It is meant for diagnostics and tests only.
func (c VDCov) Dense() *mat.SymDense {
	n := len(c.D)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := c.D[i] * c.V[i] * c.V[j] * c.D[j]
			if i == j {
				v += c.D[i] * c.D[i]
			}
			cov.SetSym(i, j, v)
		}
	}
	return cov
}

// Diag returns the diagonal of the covariance, D_i^2 (1+v_i^2).
func (c VDCov) Diag() []float64 {
	d := make([]float64, len(c.D))
	for i := range d {
		d[i] = c.D[i] * c.D[i] * (1 + c.V[i]*c.V[i])
	}
	return d
}

// unitV returns v/|v| and |v|^2. A zero v yields a nil direction.
func (c VDCov) unitV() ([]float64, float64) {
	normSq := floats.Dot(c.V, c.V)
	if normSq == 0 {
		return nil, 0
	}
	vbar := make([]float64, len(c.V))
	floats.ScaleTo(vbar, 1/math.Sqrt(normSq), c.V)
	return vbar, normSq
}

// Apply overwrites z with D (I+vv')^{1/2} z.
func (c VDCov) Apply(z []float64) {
	if vbar, normSq := c.unitV(); vbar != nil {
		fact := math.Sqrt(1+normSq) - 1
		floats.AddScaled(z, fact*floats.Dot(vbar, z), vbar)
	}
	floats.Mul(z, c.D)
}

// Whiten overwrites y with (I+vv')^{-1/2} D^{-1} y.
func (c VDCov) Whiten(y []float64) {
	floats.Div(y, c.D)
	if vbar, normSq := c.unitV(); vbar != nil {
		fact := 1/math.Sqrt(1+normSq) - 1
		floats.AddScaled(y, fact*floats.Dot(vbar, y), vbar)
	}
}
