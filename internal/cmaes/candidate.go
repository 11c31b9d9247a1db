package cmaes

import (
	"math"
	"sort"
)

// Candidate is an evaluated point of the search. X is kept in genotype space; the
// fitness was computed on its phenotype.
type Candidate struct {
	X       []float64
	Fitness float64
}

// NewCandidate copies x into a fresh candidate.
func NewCandidate(fitness float64, x []float64) Candidate {
	return Candidate{X: append([]float64(nil), x...), Fitness: fitness}
}

// Valid reports whether the candidate has been evaluated.
func (c Candidate) Valid() bool {
	return c.X != nil && !math.IsNaN(c.Fitness)
}

// sortCandidates orders candidates by ascending fitness. NaN fitness sorts last and
// the order of equal values is kept, so identical populations sort identically.
func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i].Fitness, cs[j].Fitness
		if math.IsNaN(a) {
			return false
		}
		if math.IsNaN(b) {
			return true
		}
		return a < b
	})
}
