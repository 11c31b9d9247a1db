package store

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// RunConfig is the configuration of a run, kept with its checkpoint so that a resumed
// run uses compatible settings.
type RunConfig struct {
	Function  string    `json:"function"`
	Dim       int       `json:"dim"`
	Flavor    string    `json:"flavor"`
	Lambda    int       `json:"lambda"`
	Sigma0    float64   `json:"sigma0"`
	Seed      int64     `json:"seed"`
	MaxIter   int       `json:"maxIter,omitempty"`
	MaxFEvals int       `json:"maxFEvals,omitempty"`
	Elitist   bool      `json:"elitist,omitempty"`
	Lower     []float64 `json:"lower,omitempty"`
	Upper     []float64 `json:"upper,omitempty"`

	// Mu is the configured parent count; 0 means lambda/2.
	Mu int `json:"mu,omitempty"`
	// Fixed maps coordinate indices to their pinned phenotype values.
	Fixed      map[int]float64 `json:"fixed,omitempty"`
	LazyUpdate bool            `json:"lazyUpdate,omitempty"`
	Gradient   bool            `json:"gradient,omitempty"`
	Disable    []string        `json:"disable,omitempty"`
	Enable     []string        `json:"enable,omitempty"`
	Thresholds Thresholds      `json:"thresholds"`

	Diagnostics bool   `json:"diagnostics,omitempty"`
	PlotPath    string `json:"plotPath,omitempty"`
}

// Thresholds are the stopping tolerances a run overrode. Zero fields use the default.
type Thresholds struct {
	TolHistFun           float64 `json:"tolHistFun,omitempty"`
	TolX                 float64 `json:"tolX,omitempty"`
	TolUpSigma           float64 `json:"tolUpSigma,omitempty"`
	TolCondition         float64 `json:"tolCondition,omitempty"`
	NoEffectAxisFactor   float64 `json:"noEffectAxis,omitempty"`
	NoEffectCoorFactor   float64 `json:"noEffectCoor,omitempty"`
	FlatFitnessWindow    int     `json:"flatFitnessWindow,omitempty"`
	EqualFunValsFraction float64 `json:"equalFunVals,omitempty"`
}

// Checkpoint is the saved state of a run.
//
// Only the best point and the step size are kept, not the covariance. Resuming
// starts a fresh distribution around BestX with step size Sigma, so the best
// fitness never gets worse but the adapted covariance is lost.
type Checkpoint struct {
	RunID string `json:"runId"`

	// BestX is the best-seen point in phenotype space.
	BestX       []float64 `json:"bestX"`
	BestFitness float64   `json:"bestFitness"`

	// Sigma is the effective step size at checkpoint time, in genotype space: the
	// global step times the largest per-coordinate standard deviation.
	Sigma float64 `json:"sigma"`

	Iteration   int    `json:"iteration"`
	Evaluations int    `json:"evaluations"`
	Restarts    int    `json:"restarts,omitempty"`
	Status      string `json:"status"`

	Timestamp time.Time `json:"timestamp"`
	Config    RunConfig `json:"config"`
}

// CheckpointInfo is the listing view of a checkpoint.
type CheckpointInfo struct {
	RunID       string    `json:"runId"`
	Function    string    `json:"function"`
	Flavor      string    `json:"flavor"`
	Dim         int       `json:"dim"`
	BestFitness float64   `json:"bestFitness"`
	Iteration   int       `json:"iteration"`
	Evaluations int       `json:"evaluations"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	// Size is the stored size in bytes.
	Size int64 `json:"size"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// NewCheckpoint creates a checkpoint stamped with the current time.
func NewCheckpoint(runID string, bestX []float64, bestFitness, sigma float64, iteration, evaluations int, status string, config RunConfig) *Checkpoint {
	return &Checkpoint{
		RunID:       runID,
		BestX:       append([]float64(nil), bestX...),
		BestFitness: bestFitness,
		Sigma:       sigma,
		Iteration:   iteration,
		Evaluations: evaluations,
		Status:      status,
		Timestamp:   time.Now(),
		Config:      config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		RunID:       c.RunID,
		Function:    c.Config.Function,
		Flavor:      c.Config.Flavor,
		Dim:         c.Config.Dim,
		BestFitness: c.BestFitness,
		Iteration:   c.Iteration,
		Evaluations: c.Evaluations,
		Status:      c.Status,
		Timestamp:   c.Timestamp,
	}
}

// Validate checks that the checkpoint can be resumed from.
func (c *Checkpoint) Validate() error {
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if _, err := uuid.Parse(c.RunID); err != nil {
		return &ValidationError{Field: "RunID", Reason: "must be a UUID"}
	}
	if len(c.BestX) == 0 {
		return &ValidationError{Field: "BestX", Reason: "cannot be empty"}
	}
	if c.Config.Dim <= 0 {
		return &ValidationError{Field: "Config.Dim", Reason: "must be positive"}
	}
	if len(c.BestX) != c.Config.Dim {
		return &ValidationError{
			Field:  "BestX",
			Reason: fmt.Sprintf("length mismatch: expected %d coordinates, got %d", c.Config.Dim, len(c.BestX)),
		}
	}
	if math.IsNaN(c.BestFitness) {
		return &ValidationError{Field: "BestFitness", Reason: "cannot be NaN"}
	}
	if !(c.Sigma > 0) || math.IsInf(c.Sigma, 0) {
		return &ValidationError{Field: "Sigma", Reason: "must be positive and finite"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Evaluations < 0 {
		return &ValidationError{Field: "Evaluations", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.Function == "" {
		return &ValidationError{Field: "Config.Function", Reason: "cannot be empty"}
	}
	if c.Config.Flavor == "" {
		return &ValidationError{Field: "Config.Flavor", Reason: "cannot be empty"}
	}
	if len(c.Config.Lower) != len(c.Config.Upper) {
		return &ValidationError{Field: "Config.Lower", Reason: "bounds length mismatch"}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether this checkpoint can be resumed with config.
func (c *Checkpoint) IsCompatible(config RunConfig) error {
	if c.Config.Function != config.Function {
		return &CompatibilityError{Field: "Function", Expected: c.Config.Function, Actual: config.Function}
	}
	if c.Config.Dim != config.Dim {
		return &CompatibilityError{
			Field:    "Dim",
			Expected: fmt.Sprintf("%d", c.Config.Dim),
			Actual:   fmt.Sprintf("%d", config.Dim),
		}
	}
	if c.Config.Flavor != config.Flavor {
		return &CompatibilityError{Field: "Flavor", Expected: c.Config.Flavor, Actual: config.Flavor}
	}
	if c.Config.Lambda != config.Lambda {
		return &CompatibilityError{
			Field:    "Lambda",
			Expected: fmt.Sprintf("%d", c.Config.Lambda),
			Actual:   fmt.Sprintf("%d", config.Lambda),
		}
	}
	if c.Config.Mu != config.Mu {
		return &CompatibilityError{
			Field:    "Mu",
			Expected: fmt.Sprintf("%d", c.Config.Mu),
			Actual:   fmt.Sprintf("%d", config.Mu),
		}
	}
	if !equalFloats(c.Config.Lower, config.Lower) || !equalFloats(c.Config.Upper, config.Upper) {
		return &CompatibilityError{
			Field:    "Bounds",
			Expected: fmt.Sprintf("%v..%v", c.Config.Lower, c.Config.Upper),
			Actual:   fmt.Sprintf("%v..%v", config.Lower, config.Upper),
		}
	}
	if !equalFixed(c.Config.Fixed, config.Fixed) {
		return &CompatibilityError{
			Field:    "Fixed",
			Expected: fmt.Sprintf("%v", c.Config.Fixed),
			Actual:   fmt.Sprintf("%v", config.Fixed),
		}
	}
	return nil
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalFixed(a, b map[int]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if w, ok := b[i]; !ok || w != v {
			return false
		}
	}
	return true
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
