package cmaes

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// StopThresholds are the tunable constants of the stopping criteria.
type StopThresholds struct {
	TolHistFun           float64
	TolX                 float64
	TolUpSigma           float64
	TolCondition         float64
	NoEffectAxisFactor   float64
	NoEffectCoorFactor   float64
	FlatFitnessWindow    int
	EqualFunValsFraction float64
}

// DefaultStopThresholds returns the usual CMA-ES tolerances.
func DefaultStopThresholds() StopThresholds {
	return StopThresholds{
		TolHistFun:           1e-12,
		TolX:                 1e-12,
		TolUpSigma:           1e20,
		TolCondition:         1e14,
		NoEffectAxisFactor:   0.1,
		NoEffectCoorFactor:   0.2,
		FlatFitnessWindow:    5,
		EqualFunValsFraction: 1.0 / 3.0,
	}
}

// DefaultStopCriteria enables every criterion except AutoMaxIter.
func DefaultStopCriteria() map[StopCode]bool {
	return map[StopCode]bool{
		MaxIter:      true,
		MaxFEvals:    true,
		FTarget:      true,
		FlatFitness:  true,
		TolHistFun:   true,
		EqualFunVals: true,
		TolX:         true,
		TolUpSigma:   true,
		Stagnation:   true,
		AutoMaxIter:  false,
		ConditionCov: true,
		NoEffectAxis: true,
		NoEffectCoor: true,
	}
}

type criterion struct {
	code  StopCode
	check func(p *Parameters, s *Solutions) bool
}

// StopCriteria is the bank of numerical health checks run after every generation.
type StopCriteria struct {
	criteria []criterion
}

// NewStopCriteria builds the bank in its evaluation order.
func NewStopCriteria() *StopCriteria {
	return &StopCriteria{criteria: []criterion{
		{MaxIter, stopMaxIter},
		{MaxFEvals, stopMaxFEvals},
		{FTarget, stopFTarget},
		{FlatFitness, stopFlatFitness},
		{TolHistFun, stopTolHistFun},
		{EqualFunVals, stopEqualFunVals},
		{TolX, stopTolX},
		{TolUpSigma, stopTolUpSigma},
		{Stagnation, stopStagnation},
		{AutoMaxIter, stopAutoMaxIter},
		{ConditionCov, stopConditionCov},
		{NoEffectAxis, stopNoEffectAxis},
		{NoEffectCoor, stopNoEffectCoor},
	}}
}

// Stop returns the code of the first active criterion that triggers, or Continue.
func (sc *StopCriteria) Stop(p *Parameters, s *Solutions) StopCode {
	if s.Niter == 0 {
		return Continue
	}
	for _, c := range sc.criteria {
		active, ok := p.StopCriteria[c.code]
		if ok && !active {
			continue
		}
		if !ok && c.code == AutoMaxIter {
			continue
		}
		if c.check(p, s) {
			return c.code
		}
	}
	return Continue
}

func stopMaxIter(p *Parameters, s *Solutions) bool {
	return p.MaxIter > 0 && s.Niter >= p.MaxIter
}

func stopMaxFEvals(p *Parameters, s *Solutions) bool {
	return p.MaxFEvals > 0 && s.NEvals >= p.MaxFEvals
}

func stopFTarget(p *Parameters, s *Solutions) bool {
	return !math.IsNaN(p.FTarget) && s.BestCandidate().Fitness <= p.FTarget
}

// stopFlatFitness triggers when best and median fitness coincided in each of the
// last FlatFitnessWindow generations.
func stopFlatFitness(p *Parameters, s *Solutions) bool {
	w := p.Thresholds.FlatFitnessWindow
	h := len(s.BestHist)
	if w <= 0 || h < w {
		return false
	}
	for i := h - w; i < h; i++ {
		if s.BestHist[i].Fitness != s.MedianHist[i] {
			return false
		}
	}
	return true
}

func stopTolHistFun(p *Parameters, s *Solutions) bool {
	w := p.histWindow()
	h := len(s.BestHist)
	if s.Niter < w || h < w {
		return false
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range s.BestHist[h-w:] {
		lo = math.Min(lo, c.Fitness)
		hi = math.Max(hi, c.Fitness)
	}
	return hi-lo < p.Thresholds.TolHistFun
}

// stopEqualFunVals counts the recent generations whose best fitness equals the
// k-th best one.
func stopEqualFunVals(p *Parameters, s *Solutions) bool {
	w := p.histWindow()
	h := len(s.BestHist)
	start := 0
	if h > w {
		start = h - w
	}
	count := 0
	for i := start; i < h; i++ {
		if s.BestHist[i].Fitness == s.KthHist[i] {
			count++
		}
	}
	return float64(count) > p.Thresholds.EqualFunValsFraction*float64(w)
}

func stopTolX(p *Parameters, s *Solutions) bool {
	tol := p.Thresholds.TolX
	for _, v := range s.PC {
		if s.Sigma*math.Abs(v) >= tol {
			return false
		}
	}
	for _, v := range s.CovDiag() {
		if s.Sigma*math.Sqrt(math.Max(v, 0)) >= tol {
			return false
		}
	}
	return true
}

func stopTolUpSigma(p *Parameters, s *Solutions) bool {
	return s.Sigma/p.Sigma0 > p.Thresholds.TolUpSigma*math.Sqrt(s.MaxEigen())
}

// stopStagnation compares the medians of the oldest and newest 30% of the best and
// median fitness histories over the stagnation window.
func stopStagnation(p *Parameters, s *Solutions) bool {
	w := p.stagnationWindow()
	h := len(s.BestHist)
	if s.Niter < w || h < w {
		return false
	}
	k := int(math.Ceil(0.3 * float64(w)))
	best := make([]float64, w)
	for i, c := range s.BestHist[h-w:] {
		best[i] = c.Fitness
	}
	median := s.MedianHist[len(s.MedianHist)-w:]
	return windowMedian(best[w-k:]) >= windowMedian(best[:k]) &&
		windowMedian(median[w-k:]) >= windowMedian(median[:k])
}

func stopAutoMaxIter(p *Parameters, s *Solutions) bool {
	return s.Niter >= p.autoMaxIter()
}

func stopConditionCov(p *Parameters, s *Solutions) bool {
	return s.ConditionNumber() > p.Thresholds.TolCondition
}

// stopNoEffectAxis perturbs the mean along one principal axis per generation, cycling
// through the axes.
func stopNoEffectAxis(p *Parameters, s *Solutions) bool {
	i := s.Niter % p.Dim
	fact := p.Thresholds.NoEffectAxisFactor * s.Sigma * math.Sqrt(s.EigenValues[i])
	if s.EigenVectors == nil {
		return s.XMean[i]+fact == s.XMean[i]
	}
	for j := 0; j < p.Dim; j++ {
		if s.XMean[j]+fact*s.EigenVectors.At(j, i) != s.XMean[j] {
			return false
		}
	}
	return true
}

func stopNoEffectCoor(p *Parameters, s *Solutions) bool {
	diag := s.CovDiag()
	for j, v := range s.XMean {
		if v+p.Thresholds.NoEffectCoorFactor*s.Sigma*math.Sqrt(math.Max(diag[j], 0)) == v {
			return true
		}
	}
	return false
}

func windowMedian(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if floats.HasNaN(sorted) {
		return math.NaN()
	}
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
