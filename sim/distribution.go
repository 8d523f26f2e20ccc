package sim

import (
	"fmt"
	"math"
	"math/rand"
)

// DistSpec parameterizes a latency or order-value distribution.
type DistSpec struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// ValueSampler draws non-negative values (milliseconds, currency units).
type ValueSampler interface {
	// Sample returns a finite value >= 0.
	Sample(rng *rand.Rand) float64
}

// LogNormalSampler draws exp(mu + sigma*Z).
type LogNormalSampler struct {
	mu, sigma float64
}

func (s *LogNormalSampler) Sample(rng *rand.Rand) float64 {
	val := math.Exp(s.mu + s.sigma*rng.NormFloat64())
	// Guard against +Inf from extreme sigma values
	if math.IsInf(val, 0) || math.IsNaN(val) {
		return 0
	}
	return val
}

// NormalSampler draws a Gaussian truncated below at min (min >= 0).
type NormalSampler struct {
	mean, stdDev, min float64
}

func (s *NormalSampler) Sample(rng *rand.Rand) float64 {
	return math.Max(s.min, rng.NormFloat64()*s.stdDev+s.mean)
}

// UniformSampler draws from [min, max).
type UniformSampler struct {
	min, max float64
}

func (s *UniformSampler) Sample(rng *rand.Rand) float64 {
	return s.min + rng.Float64()*(s.max-s.min)
}

// ConstantSampler always returns the same value and consumes no randomness.
type ConstantSampler struct {
	value float64
}

func (s *ConstantSampler) Sample(_ *rand.Rand) float64 {
	return s.value
}

var validDistTypes = map[string]bool{
	"lognormal": true, "normal": true, "uniform": true, "constant": true,
}

// requireParam checks that all required keys exist in a params map.
func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("distribution requires parameter %q", k)
		}
	}
	return nil
}

// NewValueSampler creates a ValueSampler from a DistSpec.
func NewValueSampler(spec DistSpec) (ValueSampler, error) {
	p := spec.Params
	switch spec.Type {
	case "lognormal":
		if err := requireParam(p, "mu", "sigma"); err != nil {
			return nil, err
		}
		return &LogNormalSampler{mu: p["mu"], sigma: p["sigma"]}, nil

	case "normal":
		if err := requireParam(p, "mean", "std_dev"); err != nil {
			return nil, err
		}
		return &NormalSampler{mean: p["mean"], stdDev: p["std_dev"], min: p["min"]}, nil

	case "uniform":
		if err := requireParam(p, "min", "max"); err != nil {
			return nil, err
		}
		return &UniformSampler{min: p["min"], max: p["max"]}, nil

	case "constant":
		if err := requireParam(p, "value"); err != nil {
			return nil, err
		}
		return &ConstantSampler{value: p["value"]}, nil

	default:
		return nil, fmt.Errorf("unknown distribution type %q", spec.Type)
	}
}

// validateDistSpec rejects specs that could produce negative or non-finite values.
func validateDistSpec(param string, d DistSpec) error {
	if !validDistTypes[d.Type] {
		return &ConfigurationError{Param: param + ".type", Constraint: "be one of lognormal, normal, uniform, constant", Value: d.Type}
	}
	for name, val := range d.Params {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return &ConfigurationError{Param: param + ".params." + name, Constraint: "be a finite number", Value: val}
		}
	}
	if _, err := NewValueSampler(d); err != nil {
		return &ConfigurationError{Param: param, Constraint: "be a complete distribution: " + err.Error()}
	}
	p := d.Params
	switch d.Type {
	case "lognormal":
		if p["sigma"] < 0 {
			return &ConfigurationError{Param: param + ".params.sigma", Constraint: "be non-negative", Value: p["sigma"]}
		}
	case "normal":
		if p["std_dev"] < 0 {
			return &ConfigurationError{Param: param + ".params.std_dev", Constraint: "be non-negative", Value: p["std_dev"]}
		}
		if p["min"] < 0 {
			return &ConfigurationError{Param: param + ".params.min", Constraint: "be non-negative", Value: p["min"]}
		}
	case "uniform":
		if p["min"] < 0 || p["max"] < p["min"] {
			return &ConfigurationError{Param: param + ".params", Constraint: "satisfy 0 <= min <= max", Value: fmt.Sprintf("[%g, %g]", p["min"], p["max"])}
		}
	case "constant":
		if p["value"] < 0 {
			return &ConfigurationError{Param: param + ".params.value", Constraint: "be non-negative", Value: p["value"]}
		}
	}
	return nil
}
