package cmaes

import (
	"errors"
	"fmt"
)

// StopCode is the run status of a strategy. Zero means the run continues, positive
// values are normal terminations, negative values are terminations that need user
// attention or fatal numerical failures.
type StopCode int

const (
	Continue     StopCode = 0
	TolHistFun   StopCode = 1
	TolX         StopCode = 2
	NoEffectAxis StopCode = 3
	NoEffectCoor StopCode = 4
	EqualFunVals StopCode = 5
	Stagnation   StopCode = 6
	AutoMaxIter  StopCode = 7
	MaxFEvals    StopCode = 8
	MaxIter      StopCode = 9
	FTarget      StopCode = 10
	FlatFitness  StopCode = 11
	TolUpSigma   StopCode = -13
	ConditionCov StopCode = -15

	// Fatal statuses set by the update machinery rather than by a criterion.
	StatusCovAlloc     StopCode = -1
	StatusNumerical    StopCode = -2
	StatusEigenFailure StopCode = -3
)

var stopNames = map[StopCode]string{
	Continue:           "continue",
	TolHistFun:         "tolhistfun",
	TolX:               "tolx",
	NoEffectAxis:       "noeffectaxis",
	NoEffectCoor:       "noeffectcoor",
	EqualFunVals:       "equalfunvals",
	Stagnation:         "stagnation",
	AutoMaxIter:        "automaxiter",
	MaxFEvals:          "maxfevals",
	MaxIter:            "maxiter",
	FTarget:            "ftarget",
	FlatFitness:        "flatfitness",
	TolUpSigma:         "tolupsigma",
	ConditionCov:       "conditioncov",
	StatusCovAlloc:     "covalloc",
	StatusNumerical:    "numerical",
	StatusEigenFailure: "eigenfailure",
}

var stopMessages = map[StopCode]string{
	Continue:           "the optimization has not terminated",
	TolHistFun:         "the optimization has converged",
	TolX:               "optimization stopped because the step is below tolerance",
	NoEffectAxis:       "the optimization has stopped because adding 0.1 standard deviation along a principal axis has no effect on the mean",
	NoEffectCoor:       "the optimization has stopped because adding 0.2 standard deviation in a coordinate has no effect on the mean",
	EqualFunVals:       "the optimization has stopped because too many candidates share the same fitness",
	Stagnation:         "the optimization has stopped because the median and best fitness are stagnating",
	AutoMaxIter:        "the automatically set maximum number of iterations has been reached",
	MaxFEvals:          "the maximum number of function evaluations has been reached",
	MaxIter:            "the maximum number of iterations has been reached",
	FTarget:            "the target fitness value has been reached",
	FlatFitness:        "the fitness landscape looks flat: best and median fitness are equal",
	TolUpSigma:         "the step size is diverging, the initial sigma is probably too small or the objective has no minimum",
	ConditionCov:       "the covariance matrix condition number exceeds the numerical bound",
	StatusCovAlloc:     "the covariance matrix could not be allocated at this dimension",
	StatusNumerical:    "non-finite values entered the search distribution",
	StatusEigenFailure: "the eigen-decomposition of the covariance matrix failed",
}

// String returns the short identifier of the code.
func (c StopCode) String() string {
	if name, ok := stopNames[c]; ok {
		return name
	}
	return fmt.Sprintf("stopcode(%d)", int(c))
}

// Message returns a human-readable explanation of the code.
func (c StopCode) Message() string {
	if msg, ok := stopMessages[c]; ok {
		return msg
	}
	return "unknown status"
}

// Fatal reports whether the code is a numerical or resource failure rather than a
// triggered stopping criterion.
func (c StopCode) Fatal() bool {
	return c == StatusCovAlloc || c == StatusNumerical || c == StatusEigenFailure
}

// ParseStopCode resolves a criterion identifier as returned by String.
func ParseStopCode(name string) (StopCode, error) {
	for code, n := range stopNames {
		if n == name {
			return code, nil
		}
	}
	return Continue, fmt.Errorf("unknown stopping criterion: %s", name)
}

// ErrTermination is matched by errors.Is for every TerminationError.
var ErrTermination = &TerminationError{}

// TerminationError is returned by Optimize when the final run status is negative.
// The exact criterion or failure is kept in Status.
type TerminationError struct {
	Status StopCode
}

func (e *TerminationError) Error() string {
	if e.Status == Continue {
		return "optimization terminated with an error"
	}
	return fmt.Sprintf("optimization terminated with error status %s (%d): %s", e.Status, int(e.Status), e.Status.Message())
}

func (e *TerminationError) Is(target error) bool {
	_, ok := target.(*TerminationError)
	return ok
}

// StatusOf extracts the run status carried by err, if any.
func StatusOf(err error) (StopCode, bool) {
	var te *TerminationError
	if errors.As(err, &te) {
		return te.Status, true
	}
	return Continue, false
}

// ParameterError reports an invalid parameter value.
type ParameterError struct {
	Field  string
	Reason string
}

func (e *ParameterError) Error() string {
	return "invalid parameter: " + e.Field + " " + e.Reason
}
