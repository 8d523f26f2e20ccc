package sim

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DateLayout is the layout of ExperimentConfig.StartDate.
const DateLayout = "2006-01-02"

// Config is the single immutable configuration threaded into the assignment
// engine, the funnel simulator, the stats engine and the sensitivity analyzer.
// Build it with DefaultConfig or LoadConfig, then call Validate before use.
type Config struct {
	Experiment  ExperimentConfig  `yaml:"experiment"`
	Funnel      FunnelConfig      `yaml:"funnel"`
	Guardrails  []GuardrailConfig `yaml:"guardrails" validate:"dive"`
	Sensitivity SensitivityConfig `yaml:"sensitivity"`
}

// ExperimentConfig groups run identity, population size and decision thresholds.
type ExperimentConfig struct {
	Name           string  `yaml:"name"`
	Salt           string  `yaml:"salt" validate:"required"`
	StartDate      string  `yaml:"start_date" validate:"required,datetime=2006-01-02"`
	Days           int     `yaml:"days" validate:"gte=1"`
	UsersPerDay    int     `yaml:"users_per_day" validate:"gte=1"`
	Uplift         float64 `yaml:"uplift" validate:"gte=0"`
	Seed           int64   `yaml:"seed"`
	TreatmentShare float64 `yaml:"treatment_share" validate:"gt=0,lt=1"`
	Alpha          float64 `yaml:"alpha" validate:"gt=0,lt=1"`
	MDE            float64 `yaml:"mde" validate:"gte=0,lt=1"`
	MinSampleSize  int     `yaml:"min_sample_size" validate:"gte=2"`
	Workers        int     `yaml:"workers" validate:"gte=0"` // 0 = GOMAXPROCS
}

// TransitionConfig parameterizes the edge leaving one funnel state.
// Treatment retention is Retention * (1 + uplift*UpliftScale).
type TransitionConfig struct {
	Retention     float64  `yaml:"retention" validate:"gte=0,lte=1"`
	UpliftScale   float64  `yaml:"uplift_scale"`
	FormErrorRate float64  `yaml:"form_error_rate" validate:"gte=0,lte=1"`
	Latency       DistSpec `yaml:"latency"`
}

// OrderValueConfig holds per-variant order value distributions.
// A nil Treatment reuses Control.
type OrderValueConfig struct {
	Control   DistSpec  `yaml:"control"`
	Treatment *DistSpec `yaml:"treatment,omitempty"`
}

// FunnelConfig holds the transition table parameters, keyed by source state name.
// Every non-terminal state must be present.
type FunnelConfig struct {
	Transitions      map[string]TransitionConfig `yaml:"transitions" validate:"dive"`
	ErrorUpliftScale float64                     `yaml:"error_uplift_scale"`
	OrderValue       OrderValueConfig            `yaml:"order_value"`
	PaymentMethods   []string                    `yaml:"payment_methods" validate:"min=1,dive,required"`
}

// GuardrailConfig binds a tolerance rule to a secondary metric.
type GuardrailConfig struct {
	Name      string  `yaml:"name" validate:"required"`
	Metric    string  `yaml:"metric" validate:"required,oneof=payment_auth_rate aov form_error_rate checkout_start_rate checkout_latency_ms"`
	Rule      string  `yaml:"rule" validate:"required,oneof=max_drop_abs max_drop_pct max_increase_abs max_increase_pct"`
	Tolerance float64 `yaml:"tolerance" validate:"gte=0"`
}

// SensitivityConfig is the default grid for power estimation.
type SensitivityConfig struct {
	SampleSizes []int     `yaml:"sample_sizes" validate:"dive,gte=1"`
	Uplifts     []float64 `yaml:"uplifts" validate:"dive,gte=0"`
	Repeats     int       `yaml:"repeats" validate:"gte=0"`
	Seed        int64     `yaml:"seed"`
	PowerTarget float64   `yaml:"power_target" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the reference checkout experiment: a 67% cart-to-checkout
// rate, 20/15/10/5% per-step abandonment and a 92% authorization rate.
func DefaultConfig() Config {
	stepLatency := DistSpec{Type: "uniform", Params: map[string]float64{"min": 200, "max": 2000}}
	return Config{
		Experiment: ExperimentConfig{
			Name:           "checkout_redesign",
			Salt:           "experiment_v1",
			StartDate:      "2025-02-01",
			Days:           1,
			UsersPerDay:    1000,
			Uplift:         0.02,
			Seed:           42,
			TreatmentShare: 0.5,
			Alpha:          0.05,
			MDE:            0.005,
			MinSampleSize:  30,
		},
		Funnel: FunnelConfig{
			Transitions: map[string]TransitionConfig{
				string(StateAddToCart): {
					Retention: 0.67, UpliftScale: 1.0,
					Latency: DistSpec{Type: "lognormal", Params: map[string]float64{"mu": 5.0, "sigma": 0.4}},
				},
				string(StateBeginCheckout): {
					Retention: 1.0,
					Latency:   DistSpec{Type: "lognormal", Params: map[string]float64{"mu": 5.5, "sigma": 0.4}},
				},
				string(StateAddress):  {Retention: 0.80, UpliftScale: 0.06 / 0.80, FormErrorRate: 0.10, Latency: stepLatency},
				string(StateShipping): {Retention: 0.85, UpliftScale: 0.045 / 0.85, FormErrorRate: 0.10, Latency: stepLatency},
				string(StatePayment):  {Retention: 0.90, UpliftScale: 0.03 / 0.90, FormErrorRate: 0.10, Latency: stepLatency},
				string(StateReview):   {Retention: 0.95, UpliftScale: 0.015 / 0.95, FormErrorRate: 0.10, Latency: stepLatency},
				string(StatePaymentAttempt): {
					Retention: 0.92, UpliftScale: 1.0,
					Latency: DistSpec{Type: "lognormal", Params: map[string]float64{"mu": 6.9, "sigma": 0.3}},
				},
			},
			ErrorUpliftScale: -0.4,
			OrderValue: OrderValueConfig{
				Control: DistSpec{Type: "uniform", Params: map[string]float64{"min": 20, "max": 500}},
			},
			PaymentMethods: []string{"card", "paypal"},
		},
		Guardrails: []GuardrailConfig{
			{Name: "payment_authorization", Metric: "payment_auth_rate", Rule: "max_drop_abs", Tolerance: 0.003},
			{Name: "average_order_value", Metric: "aov", Rule: "max_drop_pct", Tolerance: 1.0},
		},
		Sensitivity: SensitivityConfig{
			SampleSizes: []int{10000, 20000},
			Uplifts:     []float64{0.0, 0.02},
			Repeats:     10,
			Seed:        7,
			PowerTarget: 0.8,
		},
	}
}

// LoadConfig reads a YAML config over DefaultConfig.
// Uses strict parsing: unrecognized keys (typos) are rejected.
// Transitions listed in the file replace the default entry for that state wholesale.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// StartTime returns the parsed start date at midnight UTC.
func (c Config) StartTime() time.Time {
	t, err := time.Parse(DateLayout, c.Experiment.StartDate)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// WithUplift returns a copy of c with a different treatment uplift.
func (c Config) WithUplift(uplift float64) Config {
	c.Experiment.Uplift = uplift
	return c
}

// WithSeed returns a copy of c with a different run seed.
func (c Config) WithSeed(seed int64) Config {
	c.Experiment.Seed = seed
	return c
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field bounds and cross-field rules. Returns the first
// violation as a *ConfigurationError.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fieldErrorToConfigError(fieldErrs[0])
		}
		return fmt.Errorf("validating config: %w", err)
	}
	for _, state := range nonTerminalStates {
		tc, ok := c.Funnel.Transitions[string(state)]
		if !ok {
			return &ConfigurationError{Param: "funnel.transitions." + string(state), Constraint: "be present"}
		}
		if err := validateDistSpec("funnel.transitions."+string(state)+".latency", tc.Latency); err != nil {
			return err
		}
		if tc.FormErrorRate != 0 && !state.IsCheckoutStep() {
			return &ConfigurationError{Param: "funnel.transitions." + string(state) + ".form_error_rate", Constraint: "be 0 outside checkout form steps", Value: tc.FormErrorRate}
		}
	}
	for name := range c.Funnel.Transitions {
		if !isNonTerminal(State(name)) {
			return &ConfigurationError{Param: "funnel.transitions", Constraint: "only name non-terminal states", Value: name}
		}
	}
	if err := validateDistSpec("funnel.order_value.control", c.Funnel.OrderValue.Control); err != nil {
		return err
	}
	if c.Funnel.OrderValue.Treatment != nil {
		if err := validateDistSpec("funnel.order_value.treatment", *c.Funnel.OrderValue.Treatment); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(c.Guardrails))
	for i, g := range c.Guardrails {
		if seen[g.Name] {
			return &ConfigurationError{Param: fmt.Sprintf("guardrails[%d].name", i), Constraint: "be unique", Value: g.Name}
		}
		seen[g.Name] = true
		if math.IsNaN(g.Tolerance) || math.IsInf(g.Tolerance, 0) {
			return &ConfigurationError{Param: fmt.Sprintf("guardrails[%d].tolerance", i), Constraint: "be finite", Value: g.Tolerance}
		}
	}
	return nil
}

func fieldErrorToConfigError(fe validator.FieldError) *ConfigurationError {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	constraint := "satisfy " + fe.Tag()
	if fe.Param() != "" {
		constraint += "=" + fe.Param()
	}
	return &ConfigurationError{Param: ns, Constraint: constraint, Value: fe.Value()}
}
