package cmaes

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// ProgressFunc is called once per generation before the stopping criteria. Returning
// true ends the run.
type ProgressFunc func(p *Parameters, s *Solutions) bool

// PlotFunc writes one line of per-generation state to w.
type PlotFunc func(w io.Writer, p *Parameters, s *Solutions) error

// DefaultProgress logs the generation summary through slog.Default and never stops
// the run. Strategies without WithProgress log through their own logger instead.
func DefaultProgress(p *Parameters, s *Solutions) bool {
	return LogProgress(slog.Default())(p, s)
}

// LogProgress returns a progress callback that logs the generation summary at info
// level on l and never stops the run.
func LogProgress(l *slog.Logger) ProgressFunc {
	return func(p *Parameters, s *Solutions) bool {
		if p.Quiet {
			return false
		}
		l.Info("Generation",
			"iter", s.Niter,
			"evals", s.NEvals,
			"fvalue", s.BestCandidate().Fitness,
			"sigma", s.Sigma,
			"last_iter_ms", s.ElapsedLastIter.Milliseconds(),
		)
		return false
	}
}

// DefaultPlot writes a space-separated line:
//
//	|fbest| nevals sigma sqrt(cond) eigenvalues... stddevs... xmean... last_iter_ms
//
// followed by the five KL terms when diagnostics are enabled. The mean is written in
// phenotype space.
func DefaultPlot(w io.Writer, p *Parameters, s *Solutions) error {
	var b strings.Builder
	field := func(v float64) {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', 15, 64))
	}

	best := s.BestCandidate().Fitness
	if best < 0 {
		best = -best
	}
	field(best)
	field(float64(s.NEvals))
	field(s.Sigma)
	field(sqrtCond(s))
	for _, v := range s.EigenValues {
		field(v)
	}
	for _, v := range s.StdDevs() {
		field(v)
	}
	for _, v := range p.GenoPheno.Pheno(s.XMean) {
		field(v)
	}
	field(float64(s.ElapsedLastIter.Milliseconds()))
	if p.Diagnostics {
		field(s.KL.KL)
		field(s.KL.KLDet)
		field(s.KL.KLTrDet)
		field(s.KL.SigmaTerm)
		field(s.KL.Mahalanobis)
	}
	b.WriteByte('\n')

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write plot line: %w", err)
	}
	return nil
}

func sqrtCond(s *Solutions) float64 {
	c := s.ConditionNumber()
	if c < 0 {
		return 0
	}
	return math.Sqrt(c)
}
