// Package config loads CMA-ES run configurations from YAML files and turns them into
// strategy parameters.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/cmaes/internal/cmaes"
	"github.com/cwbudde/cmaes/internal/fitfunc"
)

var validate = validator.New()

// Config describes a single optimization run.
type Config struct {
	Function string    `yaml:"function" validate:"required"`
	Dim      int       `yaml:"dim" validate:"required,gt=0"`
	Flavor   string    `yaml:"flavor" validate:"omitempty,oneof=full active sep vd"`
	Lambda   int       `yaml:"lambda" validate:"gte=0"`
	Mu       int       `yaml:"mu" validate:"gte=0"`
	Sigma0   float64   `yaml:"sigma0" validate:"gt=0"`
	Seed     int64     `yaml:"seed"`
	X0       []float64 `yaml:"x0,omitempty"`

	// Lower and Upper enable the linear [lower,upper] -> [0,10] scaling. Sigma0 is then
	// expressed in the scaled coordinates.
	Lower []float64 `yaml:"lower,omitempty"`
	Upper []float64 `yaml:"upper,omitempty"`

	MaxIter     int      `yaml:"max_iter" validate:"gte=0"`
	MaxFEvals   int      `yaml:"max_fevals" validate:"gte=0"`
	FTarget     *float64 `yaml:"ftarget,omitempty"`
	Elitist     bool     `yaml:"elitist"`
	MaxRestarts int      `yaml:"max_restarts" validate:"gte=0"`
	Gradient    bool     `yaml:"gradient"`
	LazyUpdate  bool     `yaml:"lazy_update"`

	Fixed       map[int]float64 `yaml:"fixed,omitempty"`
	Disable     []string        `yaml:"disable,omitempty" validate:"dive,required"`
	Enable      []string        `yaml:"enable,omitempty" validate:"dive,required"`
	Thresholds  Thresholds      `yaml:"thresholds"`
	Diagnostics bool            `yaml:"diagnostics"`
	PlotPath    string          `yaml:"plot_path,omitempty"`
	Workers     int             `yaml:"workers" validate:"gte=0"`

	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// Thresholds override the stopping-criteria tolerances. Zero keeps the default.
type Thresholds struct {
	TolHistFun           float64 `yaml:"tol_hist_fun,omitempty" validate:"gte=0"`
	TolX                 float64 `yaml:"tol_x,omitempty" validate:"gte=0"`
	TolUpSigma           float64 `yaml:"tol_up_sigma,omitempty" validate:"gte=0"`
	TolCondition         float64 `yaml:"tol_condition,omitempty" validate:"gte=0"`
	NoEffectAxisFactor   float64 `yaml:"no_effect_axis,omitempty" validate:"gte=0"`
	NoEffectCoorFactor   float64 `yaml:"no_effect_coor,omitempty" validate:"gte=0"`
	FlatFitnessWindow    int     `yaml:"flat_fitness_window,omitempty" validate:"gte=0"`
	EqualFunValsFraction float64 `yaml:"equal_fun_vals,omitempty" validate:"gte=0,lte=1"`
}

func (t Thresholds) apply(dst *cmaes.StopThresholds) {
	set := func(f *float64, v float64) {
		if v > 0 {
			*f = v
		}
	}
	set(&dst.TolHistFun, t.TolHistFun)
	set(&dst.TolX, t.TolX)
	set(&dst.TolUpSigma, t.TolUpSigma)
	set(&dst.TolCondition, t.TolCondition)
	set(&dst.NoEffectAxisFactor, t.NoEffectAxisFactor)
	set(&dst.NoEffectCoorFactor, t.NoEffectCoorFactor)
	set(&dst.EqualFunValsFraction, t.EqualFunValsFraction)
	if t.FlatFitnessWindow > 0 {
		dst.FlatFitnessWindow = t.FlatFitnessWindow
	}
}

// StoreConfig selects the checkpoint backend. Path is the data directory; the sqlite
// backend keeps its database file inside it.
type StoreConfig struct {
	Kind string `yaml:"kind" validate:"omitempty,oneof=fs sqlite"`
	Path string `yaml:"path"`
}

// MetricsConfig controls the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty" validate:"omitempty,hostname_port"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Function:    "sphere",
		Dim:         10,
		Flavor:      "full",
		Sigma0:      1,
		MaxRestarts: 10,
		Store:       StoreConfig{Kind: "fs", Path: "./data"},
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ValidationError reports a configuration field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config field %s: %s", e.Field, e.Message)
}

// Validate checks the struct tags first and then the relations between fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{Field: fe.Namespace(), Message: fmt.Sprintf("failed on %q", fe.Tag())}
		}
		return fmt.Errorf("failed to validate config: %w", err)
	}

	if _, err := fitfunc.Lookup(c.Function); err != nil {
		return &ValidationError{Field: "Function", Message: err.Error()}
	}
	if c.Lambda != 0 && c.Lambda < 2 {
		return &ValidationError{Field: "Lambda", Message: "must be at least 2"}
	}
	if c.Mu > 0 && c.Lambda > 0 && c.Mu > c.Lambda {
		return &ValidationError{Field: "Mu", Message: fmt.Sprintf("%d exceeds lambda %d", c.Mu, c.Lambda)}
	}
	if c.X0 != nil && len(c.X0) != c.Dim {
		return &ValidationError{Field: "X0", Message: fmt.Sprintf("length %d does not match dim %d", len(c.X0), c.Dim)}
	}
	for i := range c.Fixed {
		if i < 0 || i >= c.Dim {
			return &ValidationError{Field: "Fixed", Message: fmt.Sprintf("index %d outside [0,%d)", i, c.Dim)}
		}
	}
	if (c.Lower == nil) != (c.Upper == nil) {
		return &ValidationError{Field: "Lower", Message: "lower and upper must be given together"}
	}
	if c.Lower != nil {
		if len(c.Lower) != c.Dim || len(c.Upper) != c.Dim {
			return &ValidationError{Field: "Lower", Message: fmt.Sprintf("bounds must have %d entries", c.Dim)}
		}
		for i := range c.Lower {
			if !(c.Lower[i] < c.Upper[i]) {
				return &ValidationError{Field: "Upper", Message: fmt.Sprintf("upper[%d] must exceed lower[%d]", i, i)}
			}
		}
	}
	if c.FTarget != nil && math.IsNaN(*c.FTarget) {
		return &ValidationError{Field: "FTarget", Message: "must be a number"}
	}
	for _, name := range append(append([]string{}, c.Disable...), c.Enable...) {
		if _, err := cmaes.ParseStopCode(strings.ToLower(name)); err != nil {
			return &ValidationError{Field: "Disable", Message: err.Error()}
		}
	}
	return nil
}

// Bounds returns the explicit box, or the function's default box expanded to Dim.
func (c *Config) Bounds() (lower, upper []float64, err error) {
	if c.Lower != nil {
		return c.Lower, c.Upper, nil
	}
	fn, err := fitfunc.Lookup(c.Function)
	if err != nil {
		return nil, nil, err
	}
	lower, upper = fn.Bounds(c.Dim)
	return lower, upper, nil
}

// ToParameters validates c and builds the strategy parameters. Without an X0 the run
// starts from the centre of the bounds.
func (c *Config) ToParameters() (*cmaes.Parameters, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	flavor, err := cmaes.ParseFlavor(c.Flavor)
	if err != nil {
		return nil, err
	}

	x0 := c.X0
	if x0 == nil {
		lower, upper, err := c.Bounds()
		if err != nil {
			return nil, err
		}
		x0 = make([]float64, c.Dim)
		for i := range x0 {
			x0[i] = (lower[i] + upper[i]) / 2
		}
	}

	p, err := cmaes.NewParameters(c.Dim, x0, c.Sigma0, c.Lambda, c.Seed, flavor)
	if err != nil {
		return nil, fmt.Errorf("failed to build parameters: %w", err)
	}
	if c.Mu > 0 {
		if err := p.SetMu(c.Mu); err != nil {
			return nil, err
		}
	}
	if c.Lower != nil {
		scaling, err := cmaes.NewLinearScaling(c.Lower, c.Upper)
		if err != nil {
			return nil, fmt.Errorf("failed to build scaling: %w", err)
		}
		p.GenoPheno = scaling
	}
	// Fixed values are given in phenotype space; the strategy pins genotype coordinates.
	pinned := append([]float64(nil), x0...)
	for i, v := range c.Fixed {
		pinned[i] = v
	}
	pinned = p.GenoPheno.Geno(pinned)
	for i := range c.Fixed {
		if err := p.SetFixed(i, pinned[i]); err != nil {
			return nil, err
		}
	}
	for _, name := range c.Disable {
		code, _ := cmaes.ParseStopCode(strings.ToLower(name))
		p.SetStopCriterion(code, false)
	}
	for _, name := range c.Enable {
		code, _ := cmaes.ParseStopCode(strings.ToLower(name))
		p.SetStopCriterion(code, true)
	}

	c.Thresholds.apply(&p.Thresholds)

	p.MaxIter = c.MaxIter
	p.MaxFEvals = c.MaxFEvals
	if c.FTarget != nil {
		p.FTarget = *c.FTarget
	}
	p.Elitist = c.Elitist
	p.MaxRestarts = c.MaxRestarts
	if c.Gradient {
		fn, _ := fitfunc.Lookup(c.Function)
		p.WithGradient = true
		p.Gradient = fn.Grad
	}
	p.LazyUpdate = c.LazyUpdate
	p.Diagnostics = c.Diagnostics
	p.PlotPath = c.PlotPath
	return p, nil
}
