package cmaes

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// historySolutions builds a full-representation state with the given per-generation
// best and median fitness.
func historySolutions(t *testing.T, p *Parameters, best, median []float64) *Solutions {
	t.Helper()
	s := NewSolutions(p)
	for i := range best {
		s.BestHist = append(s.BestHist, Candidate{X: make([]float64, p.Dim), Fitness: best[i]})
		s.MedianHist = append(s.MedianHist, median[i])
		s.KthHist = append(s.KthHist, median[i])
	}
	s.Niter = len(best)
	return s
}

func TestStopIgnoresFirstGeneration(t *testing.T) {
	p := quietParams(t, 2, nil, 1, 0, FlavorFull)
	p.MaxIter = 1
	s := NewSolutions(p)
	assert.Equal(t, Continue, NewStopCriteria().Stop(p, s))
}

func TestStopMaxIterAndFEvals(t *testing.T) {
	p := quietParams(t, 2, nil, 1, 0, FlavorFull)
	p.MaxIter = 5
	s := historySolutions(t, p, []float64{5, 4, 3, 2, 1}, []float64{6, 5, 4, 3, 2})
	assert.Equal(t, MaxIter, NewStopCriteria().Stop(p, s))

	p.MaxIter = 0
	p.MaxFEvals = 10
	s.NEvals = 12
	assert.Equal(t, MaxFEvals, NewStopCriteria().Stop(p, s))
}

func TestStopFTarget(t *testing.T) {
	p := quietParams(t, 2, nil, 1, 0, FlavorFull)
	p.FTarget = 1e-3
	s := historySolutions(t, p, []float64{1, 1e-4}, []float64{2, 1})
	assert.Equal(t, FTarget, NewStopCriteria().Stop(p, s))

	p.FTarget = math.NaN()
	assert.Equal(t, Continue, NewStopCriteria().Stop(p, s))
}

func TestStopFlatFitness(t *testing.T) {
	p := quietParams(t, 2, nil, 1, 0, FlavorFull)
	best := []float64{3, 2, 1, 1, 1, 1}
	median := []float64{4, 2, 1, 1, 1, 1}
	s := historySolutions(t, p, best, median)
	assert.Equal(t, FlatFitness, NewStopCriteria().Stop(p, s))

	p.SetStopCriterion(FlatFitness, false)
	s.KthHist = []float64{9, 9, 9, 9, 9, 9}
	assert.Equal(t, Continue, NewStopCriteria().Stop(p, s))
}

func TestStopTolHistFun(t *testing.T) {
	p := quietParams(t, 2, nil, 1, 6, FlavorFull)
	w := p.histWindow()
	best := make([]float64, w)
	median := make([]float64, w)
	for i := range best {
		best[i] = 1 + 1e-14*float64(i%2)
		median[i] = 2 + float64(i)
	}
	s := historySolutions(t, p, best, median)
	s.KthHist = append([]float64(nil), median...)
	assert.Equal(t, TolHistFun, NewStopCriteria().Stop(p, s))
}

func TestStopTolX(t *testing.T) {
	p := quietParams(t, 2, nil, 1, 0, FlavorFull)
	s := historySolutions(t, p, []float64{2, 1}, []float64{3, 2})
	s.KthHist = []float64{9, 9}
	s.Sigma = 1e-14
	assert.Equal(t, TolX, NewStopCriteria().Stop(p, s))
}

func TestStopTolUpSigma(t *testing.T) {
	p := quietParams(t, 2, nil, 1, 0, FlavorFull)
	s := historySolutions(t, p, []float64{2, 1}, []float64{3, 2})
	s.KthHist = []float64{9, 9}
	s.Sigma = 1e21
	assert.Equal(t, TolUpSigma, NewStopCriteria().Stop(p, s))
	assert.Less(t, int(TolUpSigma), 0)
}

func TestStopConditionCov(t *testing.T) {
	p := quietParams(t, 2, nil, 1, 0, FlavorFull)
	s := historySolutions(t, p, []float64{2, 1}, []float64{3, 2})
	s.KthHist = []float64{9, 9}
	s.EigenValues = []float64{1e-15, 1}
	assert.Equal(t, ConditionCov, NewStopCriteria().Stop(p, s))
}

func TestStopNoEffectCoor(t *testing.T) {
	p := quietParams(t, 2, []float64{1e20, 0}, 1, 0, FlavorSep)
	s := historySolutions(t, p, []float64{2, 1}, []float64{3, 2})
	s.KthHist = []float64{9, 9}
	// Probe axis 1 so that the axis check does not fire on the huge coordinate.
	s.Niter = 3
	assert.Equal(t, NoEffectCoor, NewStopCriteria().Stop(p, s))
}

func TestStopEqualFunVals(t *testing.T) {
	p := quietParams(t, 2, nil, 1, 6, FlavorFull)
	w := p.histWindow()
	require.Equal(t, 20, w)
	best := make([]float64, w)
	median := make([]float64, w)
	for i := range best {
		best[i] = float64(w - i)
		median[i] = best[i] + 1
	}
	s := historySolutions(t, p, best, median)

	// 8 of 20 generations with best == k-th exceeds the 1/3 fraction.
	for i := 0; i < 8; i++ {
		s.KthHist[i] = best[i]
	}
	assert.Equal(t, EqualFunVals, NewStopCriteria().Stop(p, s))

	s.KthHist = append([]float64(nil), median...)
	for i := 0; i < 6; i++ {
		s.KthHist[i] = best[i]
	}
	assert.Equal(t, Continue, NewStopCriteria().Stop(p, s))

	p.Thresholds.EqualFunValsFraction = 0.25
	assert.Equal(t, EqualFunVals, NewStopCriteria().Stop(p, s))
}

func TestStopNoEffectAxis(t *testing.T) {
	c := 1 / math.Sqrt2
	rotated := mat.NewDense(2, 2, []float64{c, -c, c, c})

	t.Run("eigenvectors", func(t *testing.T) {
		p := quietParams(t, 2, []float64{1e20, 1e20}, 1, 0, FlavorFull)
		s := historySolutions(t, p, []float64{2, 1}, []float64{3, 2})
		s.KthHist = []float64{9, 9}
		s.EigenVectors = rotated
		// Niter 2 probes axis 0, the direction (c, c).
		assert.Equal(t, NoEffectAxis, NewStopCriteria().Stop(p, s))

		// The rotated axis moves the small coordinate, so only the coordinate test fires.
		s.XMean = []float64{1e20, 0}
		assert.Equal(t, NoEffectCoor, NewStopCriteria().Stop(p, s))

		// Along the coordinate axis the small coordinate is untouched.
		s.EigenVectors = identityDense(2)
		assert.Equal(t, NoEffectAxis, NewStopCriteria().Stop(p, s))
	})

	t.Run("separable", func(t *testing.T) {
		p := quietParams(t, 2, []float64{1e20, 0}, 1, 0, FlavorSep)
		s := historySolutions(t, p, []float64{2, 1}, []float64{3, 2})
		s.KthHist = []float64{9, 9}
		require.Nil(t, s.EigenVectors)
		assert.Equal(t, NoEffectAxis, NewStopCriteria().Stop(p, s))

		p.SetStopCriterion(NoEffectAxis, false)
		assert.Equal(t, NoEffectCoor, NewStopCriteria().Stop(p, s))
	})
}

func TestStopStagnation(t *testing.T) {
	p := quietParams(t, 2, nil, 1, 6, FlavorFull)
	w := p.stagnationWindow()
	best := make([]float64, w)
	median := make([]float64, w)
	for i := range best {
		// Oscillating, not improving.
		best[i] = 1 + float64(i%3)
		median[i] = 5 + float64(i%4)
	}
	s := historySolutions(t, p, best, median)
	s.KthHist = make([]float64, w)
	for _, code := range []StopCode{TolHistFun, EqualFunVals, FlatFitness} {
		p.SetStopCriterion(code, false)
	}
	assert.Equal(t, Stagnation, NewStopCriteria().Stop(p, s))
}

func TestStopAutoMaxIterDisabledByDefault(t *testing.T) {
	p := quietParams(t, 2, nil, 1, 0, FlavorFull)
	s := historySolutions(t, p, []float64{2, 1}, []float64{3, 2})
	s.KthHist = []float64{9, 9}
	s.Niter = p.autoMaxIter()
	assert.Equal(t, Continue, NewStopCriteria().Stop(p, s))

	p.SetStopCriterion(AutoMaxIter, true)
	assert.Equal(t, AutoMaxIter, NewStopCriteria().Stop(p, s))
}

func TestStopCodeNames(t *testing.T) {
	for code := range stopNames {
		parsed, err := ParseStopCode(code.String())
		require.NoError(t, err)
		assert.Equal(t, code, parsed)
		assert.NotEqual(t, "unknown status", code.Message())
	}
	_, err := ParseStopCode("nope")
	assert.Error(t, err)
	assert.True(t, StatusNumerical.Fatal())
	assert.False(t, ConditionCov.Fatal())
}
