package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cwbudde/cmaes/internal/cmaes"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
function: elli
dim: 4
flavor: sep
lambda: 12
mu: 4
sigma0: 0.5
seed: 9
max_iter: 300
ftarget: 1e-10
elitist: true
fixed:
  2: 1.5
disable: [tolx]
store:
  kind: sqlite
  path: runs.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Function != "elli" || cfg.Dim != 4 || cfg.Flavor != "sep" {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if cfg.MaxRestarts != 10 {
		t.Errorf("Expected default max_restarts 10, got %d", cfg.MaxRestarts)
	}
	if cfg.FTarget == nil || *cfg.FTarget != 1e-10 {
		t.Errorf("Expected ftarget 1e-10, got %v", cfg.FTarget)
	}
	if cfg.Fixed[2] != 1.5 {
		t.Errorf("Expected fixed[2]=1.5, got %v", cfg.Fixed)
	}
	if cfg.Store.Kind != "sqlite" || cfg.Store.Path != "runs.db" {
		t.Errorf("Unexpected store config: %+v", cfg.Store)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeFile(t, "dim: [1, 2\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Function = "rosenbrock"
	cfg.Lower = []float64{-2, -2}
	cfg.Upper = []float64{2, 2}
	cfg.Dim = 2

	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Function != "rosenbrock" || len(loaded.Lower) != 2 || loaded.Upper[1] != 2 {
		t.Errorf("Round trip lost data: %+v", loaded)
	}
}

func TestValidateRejectsDegenerateConfigs(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		field  string
	}{
		"zero dim":         {func(c *Config) { c.Dim = 0 }, "Dim"},
		"negative sigma":   {func(c *Config) { c.Sigma0 = -1 }, "Sigma0"},
		"unknown flavor":   {func(c *Config) { c.Flavor = "diag" }, "Flavor"},
		"unknown function": {func(c *Config) { c.Function = "nope" }, "Function"},
		"lambda one":       {func(c *Config) { c.Lambda = 1 }, "Lambda"},
		"mu above lambda":  {func(c *Config) { c.Lambda = 6; c.Mu = 7 }, "Mu"},
		"x0 length":        {func(c *Config) { c.X0 = []float64{1, 2} }, "X0"},
		"fixed index":      {func(c *Config) { c.Fixed = map[int]float64{10: 1} }, "Fixed"},
		"upper only":       {func(c *Config) { c.Upper = make([]float64, 10) }, "Lower"},
		"inverted bounds": {func(c *Config) {
			c.Lower = make([]float64, 10)
			c.Upper = make([]float64, 10)
		}, "Upper"},
		"unknown criterion": {func(c *Config) { c.Disable = []string{"tolfoo"} }, "Disable"},
		"bad store kind":    {func(c *Config) { c.Store.Kind = "redis" }, "Kind"},
		"nan ftarget": {func(c *Config) {
			v := math.NaN()
			c.FTarget = &v
		}, "FTarget"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %T: %v", err, err)
			}
			if !strings.Contains(verr.Field, tc.field) {
				t.Errorf("Expected field %s, got %s", tc.field, verr.Field)
			}
		})
	}
}

func TestToParametersDefaults(t *testing.T) {
	cfg := Default()
	cfg.Dim = 3

	p, err := cfg.ToParameters()
	if err != nil {
		t.Fatalf("ToParameters failed: %v", err)
	}
	if p.Dim != 3 || p.Flavor != cmaes.FlavorFull {
		t.Errorf("Unexpected parameters: dim=%d flavor=%s", p.Dim, p.Flavor)
	}
	if p.Lambda != 7 {
		t.Errorf("Expected default lambda 7 for dim 3, got %d", p.Lambda)
	}
	if !math.IsNaN(p.FTarget) {
		t.Errorf("Expected disabled ftarget, got %g", p.FTarget)
	}
	// sphere's box is symmetric, so the centre is the origin
	for i, v := range p.X0 {
		if v != 0 {
			t.Errorf("X0[%d] = %g, expected 0", i, v)
		}
	}
}

func TestToParametersAppliesSettings(t *testing.T) {
	target := 1e-9
	cfg := Default()
	cfg.Function = "elli"
	cfg.Dim = 4
	cfg.Flavor = "active"
	cfg.Lambda = 10
	cfg.Mu = 3
	cfg.MaxIter = 50
	cfg.MaxFEvals = 1000
	cfg.FTarget = &target
	cfg.Elitist = true
	cfg.MaxRestarts = 2
	cfg.Gradient = true
	cfg.Disable = []string{"TolX"}
	cfg.Enable = []string{"automaxiter"}
	cfg.Fixed = map[int]float64{1: 0.25}

	p, err := cfg.ToParameters()
	if err != nil {
		t.Fatalf("ToParameters failed: %v", err)
	}
	if p.Flavor != cmaes.FlavorActive || p.Lambda != 10 || p.Mu != 3 || len(p.Weights) != 3 {
		t.Errorf("Unexpected population settings: %s lambda=%d mu=%d", p.Flavor, p.Lambda, p.Mu)
	}
	if p.MaxIter != 50 || p.MaxFEvals != 1000 || p.FTarget != target {
		t.Errorf("Unexpected budgets: %d %d %g", p.MaxIter, p.MaxFEvals, p.FTarget)
	}
	if !p.Elitist || p.MaxRestarts != 2 {
		t.Errorf("Expected elitist with 2 restarts, got %v %d", p.Elitist, p.MaxRestarts)
	}
	if !p.WithGradient || p.Gradient == nil {
		t.Error("Expected the analytic elli gradient to be wired")
	}
	if p.StopCriteria[cmaes.TolX] {
		t.Error("Expected TolX disabled")
	}
	if !p.StopCriteria[cmaes.AutoMaxIter] {
		t.Error("Expected AutoMaxIter enabled")
	}
	if p.FixedP[1] != 0.25 {
		t.Errorf("Expected fixed[1]=0.25, got %v", p.FixedP)
	}
}

func TestToParametersWithBoundsScalesFixedValues(t *testing.T) {
	cfg := Default()
	cfg.Dim = 2
	cfg.Lower = []float64{0, -5}
	cfg.Upper = []float64{10, 5}
	cfg.Fixed = map[int]float64{1: 0}

	p, err := cfg.ToParameters()
	if err != nil {
		t.Fatalf("ToParameters failed: %v", err)
	}
	if _, ok := p.GenoPheno.(*cmaes.LinearScaling); !ok {
		t.Fatalf("Expected LinearScaling, got %T", p.GenoPheno)
	}
	// phenotype 0 on [-5,5] is genotype 5 on [0,10]
	if math.Abs(p.FixedP[1]-5) > 1e-12 {
		t.Errorf("Expected fixed genotype 5, got %g", p.FixedP[1])
	}
	if p.X0[0] != 5 || p.X0[1] != 0 {
		t.Errorf("Expected box centre (5,0), got %v", p.X0)
	}
}

func TestToParametersRejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.Sigma0 = 0
	if _, err := cfg.ToParameters(); err == nil {
		t.Fatal("Expected error for zero sigma")
	}
}

func TestToParametersAppliesThresholds(t *testing.T) {
	path := writeFile(t, `
dim: 5
thresholds:
  tol_x: 1e-9
  tol_condition: 1e10
  flat_fitness_window: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	p, err := cfg.ToParameters()
	if err != nil {
		t.Fatalf("ToParameters failed: %v", err)
	}

	def := cmaes.DefaultStopThresholds()
	got := p.Thresholds
	if got.TolX != 1e-9 || got.TolCondition != 1e10 || got.FlatFitnessWindow != 3 {
		t.Errorf("Overrides not applied: %+v", got)
	}
	if got.TolHistFun != def.TolHistFun || got.NoEffectAxisFactor != def.NoEffectAxisFactor {
		t.Errorf("Expected untouched thresholds to keep defaults: %+v", got)
	}

	cfg.Thresholds.EqualFunValsFraction = 2
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for equal_fun_vals above 1")
	}
}
