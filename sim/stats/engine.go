package stats

import (
	"errors"
	"fmt"

	"github.com/checkout-sim/checkout-sim/sim"
)

// Metric names understood by Engine. Guardrail configs reference all but MetricCCR.
const (
	MetricCCR               = "ccr"
	MetricPaymentAuthRate   = "payment_auth_rate"
	MetricAOV               = "aov"
	MetricFormErrorRate     = "form_error_rate"
	MetricCheckoutStartRate = "checkout_start_rate"
	MetricCheckoutLatencyMs = "checkout_latency_ms"
)

var metricKinds = map[string]string{
	MetricCCR:               KindProportion,
	MetricPaymentAuthRate:   KindProportion,
	MetricFormErrorRate:     KindProportion,
	MetricCheckoutStartRate: KindProportion,
	MetricAOV:               KindMean,
	MetricCheckoutLatencyMs: KindMean,
}

// MetricKind reports whether metric is tested as a proportion or a mean.
func MetricKind(metric string) (string, bool) {
	k, ok := metricKinds[metric]
	return k, ok
}

// Engine runs the configured analysis: the CCR primary test plus one test per guardrail.
type Engine struct {
	alpha      float64
	mde        float64
	minSample  int
	guardrails []sim.GuardrailConfig
}

// NewEngine creates an engine from the experiment thresholds and guardrails.
func NewEngine(cfg sim.Config) (*Engine, error) {
	if err := checkAlpha(cfg.Experiment.Alpha); err != nil {
		return nil, err
	}
	minN := cfg.Experiment.MinSampleSize
	if minN <= 0 {
		minN = DefaultMinSampleSize
	}
	for i, g := range cfg.Guardrails {
		if _, ok := metricKinds[g.Metric]; !ok {
			return nil, &sim.ConfigurationError{Param: fmt.Sprintf("guardrails[%d].metric", i), Constraint: "name a known metric", Value: g.Metric}
		}
	}
	return &Engine{
		alpha:      cfg.Experiment.Alpha,
		mde:        cfg.Experiment.MDE,
		minSample:  minN,
		guardrails: cfg.Guardrails,
	}, nil
}

// Alpha is the engine's significance level.
func (e *Engine) Alpha() float64 { return e.alpha }

// Test runs the test appropriate for metric's kind.
func (e *Engine) Test(s Samples, metric string) (TestResult, error) {
	switch metricKinds[metric] {
	case KindProportion:
		c, ok1 := s.Proportion(metric, sim.Control)
		t, ok2 := s.Proportion(metric, sim.Treatment)
		if !ok1 || !ok2 {
			return TestResult{}, fmt.Errorf("no proportion samples for %s", metric)
		}
		return testProportions(metric, c, t, e.alpha, e.minSample)
	case KindMean:
		c, ok1 := s.Mean(metric, sim.Control)
		t, ok2 := s.Mean(metric, sim.Treatment)
		if !ok1 || !ok2 {
			return TestResult{}, fmt.Errorf("no mean samples for %s", metric)
		}
		return testMeans(metric, c, t, e.alpha, e.minSample)
	default:
		return TestResult{}, fmt.Errorf("unknown metric %q", metric)
	}
}

// TestPrimary tests conditional conversion (orders / add-to-cart users).
func (e *Engine) TestPrimary(s Samples) (TestResult, error) {
	return e.Test(s, MetricCCR)
}

// Analysis is the full result of one experiment readout.
type Analysis struct {
	Primary    TestResult
	Guardrails []TestResult // in config order, each with Guardrail set
	Decision   Decision
}

// Analyze runs the primary test and every guardrail, then decides.
// An InsufficientSampleError on the primary metric aborts the analysis.
// On a guardrail metric it fails that guardrail: a check that cannot be
// computed never counts as passed.
func (e *Engine) Analyze(s Samples) (*Analysis, error) {
	primary, err := e.TestPrimary(s)
	if err != nil {
		return nil, fmt.Errorf("primary metric: %w", err)
	}
	a := &Analysis{Primary: primary}
	statuses := make([]GuardrailStatus, 0, len(e.guardrails))
	for _, g := range e.guardrails {
		r, err := e.Test(s, g.Metric)
		var insufficient *sim.InsufficientSampleError
		switch {
		case errors.As(err, &insufficient):
			r = TestResult{Metric: g.Metric, Kind: metricKinds[g.Metric], ControlN: insufficient.ControlN, TreatmentN: insufficient.TreatmentN}
			st := GuardrailStatus{Name: g.Name, Rule: g.Rule, Tolerance: g.Tolerance, Message: insufficient.Error()}
			r.Guardrail = &st
		case err != nil:
			return nil, fmt.Errorf("guardrail %s: %w", g.Name, err)
		default:
			st, err := EvaluateGuardrail(g, r)
			if err != nil {
				return nil, err
			}
			r.Guardrail = &st
		}
		statuses = append(statuses, *r.Guardrail)
		a.Guardrails = append(a.Guardrails, r)
	}
	a.Decision = Decide(primary, e.mde, statuses)
	return a, nil
}

// AnalysisRecord is the flat, storage-agnostic shape of one analyzed metric.
type AnalysisRecord struct {
	Metric          string   `json:"metric"`
	Guardrail       string   `json:"guardrail,omitempty"`
	Control         float64  `json:"control"`
	Treatment       float64  `json:"treatment"`
	AbsDiff         float64  `json:"abs_diff"`
	RelDiff         float64  `json:"rel_diff"`
	CILow           float64  `json:"ci_low"`
	CIHigh          float64  `json:"ci_high"`
	PValue          float64  `json:"p_value"`
	Significant     bool     `json:"significant"`
	GuardrailStatus string   `json:"guardrail_status,omitempty"` // "pass", "fail" or empty for the primary
	Decision        Decision `json:"decision"`
}

// Records flattens the analysis: the primary metric first, then guardrails.
func (a *Analysis) Records() []AnalysisRecord {
	out := make([]AnalysisRecord, 0, 1+len(a.Guardrails))
	out = append(out, toRecord(a.Primary, a.Decision))
	for _, g := range a.Guardrails {
		out = append(out, toRecord(g, a.Decision))
	}
	return out
}

func toRecord(r TestResult, d Decision) AnalysisRecord {
	rec := AnalysisRecord{
		Metric:      r.Metric,
		Control:     r.Control,
		Treatment:   r.Treatment,
		AbsDiff:     r.AbsDiff,
		RelDiff:     r.RelDiff,
		CILow:       r.CILow,
		CIHigh:      r.CIHigh,
		PValue:      r.PValue,
		Significant: r.Significant,
		Decision:    d,
	}
	if r.Guardrail != nil {
		rec.Guardrail = r.Guardrail.Name
		rec.GuardrailStatus = "fail"
		if r.Guardrail.Passed {
			rec.GuardrailStatus = "pass"
		}
	}
	return rec
}
