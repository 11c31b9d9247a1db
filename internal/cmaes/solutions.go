package cmaes

import (
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Solutions is the mutable state of a run: the search distribution and the
// per-generation bookkeeping. It is owned by a single Strategy.
type Solutions struct {
	XMean []float64
	Sigma float64

	// Full representation.
	Cov *mat.SymDense
	// Separable: diagonal variances. VD: the diagonal scaling D.
	SepCov []float64
	// VD only.
	V []float64

	PSigma []float64
	PC     []float64

	EigenValues  []float64
	EigenVectors *mat.Dense // nil when the axes are the coordinate axes
	EigenIter    int
	UpdatedEigen bool

	Candidates []Candidate

	BestHist   []Candidate
	MedianHist []float64
	KthHist    []float64

	BestSeen     Candidate
	BestSeenIter int

	InitialCandidate Candidate

	Niter     int
	NEvals    int
	RunStatus StopCode

	ElapsedAsk      time.Duration
	ElapsedEval     time.Duration
	ElapsedTell     time.Duration
	ElapsedStop     time.Duration
	ElapsedLastIter time.Duration

	KL KLDiagnostics

	maxHist int
}

// NewSolutions builds the initial state around the genotype of p.X0.
func NewSolutions(p *Parameters) *Solutions {
	return newSolutions(p, p.GenoPheno.Geno(p.X0))
}

func newSolutions(p *Parameters, xstart []float64) *Solutions {
	n := p.Dim
	s := &Solutions{
		XMean:       append([]float64(nil), xstart...),
		Sigma:       p.Sigma0,
		PSigma:      make([]float64, n),
		PC:          make([]float64, n),
		EigenValues: ones(n),
		BestSeen:    Candidate{Fitness: math.Inf(1)},
		maxHist:     p.maxHist(),
	}
	s.Candidates = make([]Candidate, p.Lambda)

	switch p.Representation() {
	case RepFull:
		if n > p.MaxDenseDim {
			s.RunStatus = StatusCovAlloc
			return s
		}
		s.Cov = identitySym(n)
		s.EigenVectors = identityDense(n)
	case RepSep:
		s.SepCov = ones(n)
	case RepVD:
		s.SepCov = ones(n)
		s.V = make([]float64, n)
		rng := rand.New(rand.NewSource(p.Seed ^ 0x5deece66d))
		scale := 1 / math.Sqrt(float64(n))
		for i := range s.V {
			s.V[i] = (2*rng.Float64() - 1) * scale
		}
	}
	return s
}

// BestCandidate returns the best candidate of the most recent generation.
func (s *Solutions) BestCandidate() Candidate {
	if len(s.BestHist) == 0 {
		return Candidate{Fitness: math.Inf(1)}
	}
	return s.BestHist[len(s.BestHist)-1]
}

// MaxEigen returns the largest cached eigenvalue.
func (s *Solutions) MaxEigen() float64 {
	m := s.EigenValues[0]
	for _, v := range s.EigenValues[1:] {
		m = math.Max(m, v)
	}
	return m
}

// MinEigen returns the smallest cached eigenvalue.
func (s *Solutions) MinEigen() float64 {
	m := s.EigenValues[0]
	for _, v := range s.EigenValues[1:] {
		m = math.Min(m, v)
	}
	return m
}

// CovDiag returns the diagonal of the (implicit) covariance matrix.
func (s *Solutions) CovDiag() []float64 {
	switch {
	case s.Cov != nil:
		n := s.Cov.SymmetricDim()
		d := make([]float64, n)
		for i := range d {
			d[i] = s.Cov.At(i, i)
		}
		return d
	case s.V != nil:
		return s.VDCov().Diag()
	default:
		return append([]float64(nil), s.SepCov...)
	}
}

// StdDevs returns the per-coordinate standard deviations of the distribution,
// excluding the global step size.
func (s *Solutions) StdDevs() []float64 {
	d := s.CovDiag()
	for i := range d {
		d[i] = math.Sqrt(math.Max(d[i], 0))
	}
	return d
}

// EffectiveSigma returns the largest per-coordinate step sigma*sqrt(C_ii) over the
// coordinates not in fixed. It is the step size an identity-covariance restart needs
// to cover the same range.
func (s *Solutions) EffectiveSigma(fixed map[int]float64) float64 {
	maxSD := 0.0
	for i, sd := range s.StdDevs() {
		if _, ok := fixed[i]; ok {
			continue
		}
		maxSD = math.Max(maxSD, sd)
	}
	if maxSD == 0 {
		return s.Sigma
	}
	return s.Sigma * maxSD
}

// VDCov views the factored covariance of a VD run.
func (s *Solutions) VDCov() VDCov {
	return VDCov{D: s.SepCov, V: s.V}
}

// ConditionNumber returns max/min eigenvalue of the covariance.
func (s *Solutions) ConditionNumber() float64 {
	return s.MaxEigen() / s.MinEigen()
}

func (s *Solutions) sortCandidates() {
	sortCandidates(s.Candidates)
}

// updateBestCandidates records the generation's best, median and k-th fitness, and
// replaces the best-seen candidate when strictly improved.
func (s *Solutions) updateBestCandidates(lambda int) {
	best := s.Candidates[0]
	s.BestHist = appendBounded(s.BestHist, NewCandidate(best.Fitness, best.X), s.maxHist)
	s.MedianHist = appendBounded(s.MedianHist, medianFitness(s.Candidates), s.maxHist)
	kth := int(math.Ceil(0.1 + float64(lambda)/4))
	if kth >= len(s.Candidates) {
		kth = len(s.Candidates) - 1
	}
	s.KthHist = appendBounded(s.KthHist, s.Candidates[kth].Fitness, s.maxHist)

	if best.Fitness < s.BestSeen.Fitness {
		s.BestSeen = NewCandidate(best.Fitness, best.X)
		s.BestSeenIter = s.Niter
	}
	if s.InitialCandidate.Valid() && s.InitialCandidate.Fitness < s.BestSeen.Fitness {
		s.BestSeen = NewCandidate(s.InitialCandidate.Fitness, s.InitialCandidate.X)
		s.BestSeenIter = 0
	}
}

func (s *Solutions) updateEigen(values []float64, vectors *mat.Dense) {
	s.EigenValues = append(s.EigenValues[:0], values...)
	if vectors != nil {
		if s.EigenVectors == nil {
			s.EigenVectors = mat.DenseCopyOf(vectors)
		} else {
			s.EigenVectors.Copy(vectors)
		}
	}
}

func medianFitness(cs []Candidate) float64 {
	n := len(cs)
	if n%2 == 1 {
		return cs[n/2].Fitness
	}
	return (cs[n/2-1].Fitness + cs[n/2].Fitness) / 2
}

func appendBounded[T any](hist []T, v T, limit int) []T {
	hist = append(hist, v)
	if limit > 0 && len(hist) > limit {
		hist = append(hist[:0], hist[len(hist)-limit:]...)
	}
	return hist
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func identitySym(n int) *mat.SymDense {
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, 1)
	}
	return m
}

func identityDense(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
