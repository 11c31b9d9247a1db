package cmaes

import (
	"fmt"
	"math"
	"time"
)

// Flavor selects the covariance update algorithm and, through it, the covariance
// representation used for the whole run.
type Flavor int

const (
	FlavorFull Flavor = iota
	FlavorActive
	FlavorSep
	FlavorVD
)

func (f Flavor) String() string {
	switch f {
	case FlavorFull:
		return "full"
	case FlavorActive:
		return "active"
	case FlavorSep:
		return "sep"
	case FlavorVD:
		return "vd"
	default:
		return fmt.Sprintf("flavor(%d)", int(f))
	}
}

// ParseFlavor resolves a flavor name as returned by Flavor.String.
func ParseFlavor(name string) (Flavor, error) {
	switch name {
	case "full", "cmaes", "":
		return FlavorFull, nil
	case "active", "acmaes":
		return FlavorActive, nil
	case "sep", "sepcmaes":
		return FlavorSep, nil
	case "vd", "vdcma":
		return FlavorVD, nil
	default:
		return FlavorFull, fmt.Errorf("unknown flavor: %s", name)
	}
}

// Representation is the covariance storage implied by a flavor.
type Representation int

const (
	RepFull Representation = iota
	RepSep
	RepVD
)

// DefaultMaxDenseDim is the largest dimension for which a dense covariance is allocated.
const DefaultMaxDenseDim = 20000

// Parameters holds the configuration of a run. It is read-only once the strategy is
// constructed, except FixedP which only affects candidate post-processing.
type Parameters struct {
	Dim    int
	Lambda int
	Mu     int
	Flavor Flavor

	// Recombination weights, non-increasing, summing to 1.
	Weights []float64
	MuEff   float64

	CSigma        float64
	CC            float64
	C1            float64
	CMu           float64
	DSigma        float64
	Chi           float64
	FactPS        float64
	FactPC        float64
	CMinus        float64
	AlphaMinusOld float64

	LazyUpdate bool
	LazyValue  int

	Elitist     bool
	MaxRestarts int

	WithGradient bool
	Gradient     GradFunc

	FixedP map[int]float64

	StopCriteria map[StopCode]bool
	Thresholds   StopThresholds

	Seed   int64
	X0     []float64
	Sigma0 float64

	GenoPheno GenoPheno

	MaxIter   int
	MaxFEvals int
	FTarget   float64

	MaxDenseDim int
	Diagnostics bool
	PlotPath    string
	Quiet       bool
}

// NewParameters derives the default strategy parameters for a run of the given flavor.
// lambda <= 0 selects the default population size 4+floor(3 ln dim); seed == 0 draws a
// seed from the clock.
func NewParameters(dim int, x0 []float64, sigma float64, lambda int, seed int64, flavor Flavor) (*Parameters, error) {
	if dim <= 0 {
		return nil, &ParameterError{Field: "Dim", Reason: "must be positive"}
	}
	if sigma <= 0 || math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		return nil, &ParameterError{Field: "Sigma0", Reason: "must be positive and finite"}
	}
	if x0 != nil && len(x0) != dim {
		return nil, &ParameterError{Field: "X0", Reason: fmt.Sprintf("length %d does not match dimension %d", len(x0), dim)}
	}
	if flavor < FlavorFull || flavor > FlavorVD {
		return nil, &ParameterError{Field: "Flavor", Reason: "unknown flavor"}
	}
	if lambda <= 0 {
		lambda = 4 + int(math.Floor(3*math.Log(float64(dim))))
	}
	if lambda < 2 {
		return nil, &ParameterError{Field: "Lambda", Reason: "must be at least 2"}
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	start := make([]float64, dim)
	copy(start, x0)

	p := &Parameters{
		Dim:          dim,
		Lambda:       lambda,
		Mu:           lambda / 2,
		Flavor:       flavor,
		MaxRestarts:  10,
		FixedP:       map[int]float64{},
		StopCriteria: DefaultStopCriteria(),
		Thresholds:   DefaultStopThresholds(),
		Seed:         seed,
		X0:           start,
		Sigma0:       sigma,
		GenoPheno:    IdentityTransform{},
		FTarget:      math.NaN(),
		MaxDenseDim:  DefaultMaxDenseDim,
	}
	p.initWeights()
	p.initRates()
	return p, nil
}

// SetMu changes the number of selected parents and recomputes every rate that depends
// on the recombination weights.
func (p *Parameters) SetMu(mu int) error {
	if mu <= 0 || mu > p.Lambda {
		return &ParameterError{Field: "Mu", Reason: fmt.Sprintf("must be in [1,%d]", p.Lambda)}
	}
	p.Mu = mu
	p.initWeights()
	p.initRates()
	return nil
}

// SetFixed pins coordinate i to value for every sampled candidate.
func (p *Parameters) SetFixed(i int, value float64) error {
	if i < 0 || i >= p.Dim {
		return &ParameterError{Field: "FixedP", Reason: fmt.Sprintf("index %d outside [0,%d)", i, p.Dim)}
	}
	p.FixedP[i] = value
	return nil
}

// SetStopCriterion enables or disables a stopping criterion.
func (p *Parameters) SetStopCriterion(code StopCode, active bool) {
	p.StopCriteria[code] = active
}

// Representation returns the covariance storage used by the run.
func (p *Parameters) Representation() Representation {
	switch p.Flavor {
	case FlavorSep:
		return RepSep
	case FlavorVD:
		return RepVD
	default:
		return RepFull
	}
}

// IsSep reports whether the covariance is restricted to its diagonal.
func (p *Parameters) IsSep() bool { return p.Representation() == RepSep }

// IsVD reports whether the covariance is the factored D(I+vv')D form.
func (p *Parameters) IsVD() bool { return p.Representation() == RepVD }

func (p *Parameters) initWeights() {
	p.Weights = make([]float64, p.Mu)
	var sum float64
	for i := range p.Weights {
		p.Weights[i] = math.Log(float64(p.Mu)+1) - math.Log(float64(i)+1)
		sum += p.Weights[i]
	}
	var sumSq float64
	for i := range p.Weights {
		p.Weights[i] /= sum
		sumSq += p.Weights[i] * p.Weights[i]
	}
	p.MuEff = 1 / sumSq
}

func (p *Parameters) initRates() {
	n := float64(p.Dim)
	mueff := p.MuEff

	p.CSigma = (mueff + 2) / (n + mueff + 5)
	p.CC = (4 + mueff/n) / (n + 4 + 2*mueff/n)
	p.C1 = 2 / ((n+1.3)*(n+1.3) + mueff)
	p.CMu = math.Min(1-p.C1, 2*(mueff-2+1/mueff)/((n+2)*(n+2)+mueff))

	switch p.Representation() {
	case RepSep:
		scale := (n + 1.5) / 3
		p.C1 *= scale
		p.CMu = math.Min(1-p.C1, p.CMu*scale)
	case RepVD:
		scale := math.Max(1, (n-5)/6)
		p.C1 *= scale
		p.CMu = math.Min(1-p.C1, p.CMu*scale)
	}

	p.DSigma = 1 + p.CSigma + 2*math.Max(0, math.Sqrt((mueff-1)/(n+1))-1)
	p.Chi = math.Sqrt(n) * (1 - 1/(4*n) + 1/(21*n*n))
	p.FactPS = math.Sqrt(p.CSigma * (2 - p.CSigma) * mueff)
	p.FactPC = math.Sqrt(p.CC * (2 - p.CC) * mueff)

	p.CMinus = 0
	p.AlphaMinusOld = 0
	if p.Flavor == FlavorActive {
		p.CMinus = (1 - p.CMu) * 0.25 * mueff / (math.Pow(n+2, 1.5) + 2*mueff)
		p.AlphaMinusOld = 0.5
	}

	p.LazyValue = int(math.Ceil(1 / ((p.C1 + p.CMu) * n * 10)))
	if p.LazyValue < 1 {
		p.LazyValue = 1
	}
}

// histWindow is the number of generations over which function value ranges are taken.
func (p *Parameters) histWindow() int {
	return 10 + int(math.Ceil(30*float64(p.Dim)/float64(p.Lambda)))
}

// stagnationWindow is the minimum history length before stagnation can be declared.
func (p *Parameters) stagnationWindow() int {
	return 120 + int(math.Ceil(30*float64(p.Dim)/float64(p.Lambda)))
}

// autoMaxIter is the iteration budget used when AutoMaxIter is enabled.
func (p *Parameters) autoMaxIter() int {
	n := float64(p.Dim)
	return 100 + int(50*(n+3)*(n+3)/math.Sqrt(float64(p.Lambda)))
}

// maxHist bounds the per-generation histories kept in Solutions.
func (p *Parameters) maxHist() int {
	h := p.histWindow()
	if s := p.stagnationWindow(); s > h {
		h = s
	}
	return h
}
