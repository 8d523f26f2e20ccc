package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkout-sim/checkout-sim/sim"
)

func TestEvaluateGuardrail_Rules(t *testing.T) {
	tests := []struct {
		name      string
		rule      string
		tolerance float64
		control   float64
		treatment float64
		wantPass  bool
		wantDelta float64
	}{
		{"abs drop within", RuleMaxDropAbs, 0.003, 0.920, 0.918, true, 0.002},
		{"abs drop breached", RuleMaxDropAbs, 0.003, 0.920, 0.910, false, 0.010},
		{"abs drop improvement", RuleMaxDropAbs, 0.003, 0.920, 0.940, true, -0.020},
		{"pct drop within", RuleMaxDropPct, 1.0, 250, 248, true, 0.8},
		{"pct drop breached", RuleMaxDropPct, 1.0, 250, 245, false, 2.0},
		{"abs increase breached", RuleMaxIncreaseAbs, 50, 800, 900, false, 100},
		{"pct increase within", RuleMaxIncreasePct, 5, 0.10, 0.104, true, 4.0},
		{"pct drop zero baseline", RuleMaxDropPct, 1.0, 0, 0.1, false, 0},
		{"pct increase zero baseline", RuleMaxIncreasePct, 1.0, 0, 0, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := sim.GuardrailConfig{Name: "g", Metric: MetricAOV, Rule: tt.rule, Tolerance: tt.tolerance}
			r := TestResult{Control: tt.control, Treatment: tt.treatment}

			st, err := EvaluateGuardrail(g, r)

			require.NoError(t, err)
			assert.Equal(t, tt.wantPass, st.Passed)
			assert.InDelta(t, tt.wantDelta, st.Delta, 1e-9)
			assert.NotEmpty(t, st.Message)
		})
	}
}

func TestEvaluateGuardrail_IndependentOfSignificance(t *testing.T) {
	g := sim.GuardrailConfig{Name: "auth", Metric: MetricPaymentAuthRate, Rule: RuleMaxDropAbs, Tolerance: 0.003}
	insignificant := TestResult{Control: 0.92, Treatment: 0.905, PValue: 0.4}

	st, err := EvaluateGuardrail(g, insignificant)

	require.NoError(t, err)
	assert.False(t, st.Passed, "a breach fails even when the drop is not significant")
}

func TestEvaluateGuardrail_UnknownRule(t *testing.T) {
	_, err := EvaluateGuardrail(sim.GuardrailConfig{Name: "x", Rule: "max_wobble"}, TestResult{})
	var cfgErr *sim.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestDecide(t *testing.T) {
	pass := GuardrailStatus{Name: "a", Passed: true}
	fail := GuardrailStatus{Name: "b", Passed: false}
	sigLift := TestResult{Significant: true, AbsDiff: 0.02}

	tests := []struct {
		name       string
		primary    TestResult
		guardrails []GuardrailStatus
		want       Decision
	}{
		{"significant lift, guardrails pass", sigLift, []GuardrailStatus{pass}, Ship},
		{"no guardrails configured", sigLift, nil, Ship},
		{"failed guardrail dominates", sigLift, []GuardrailStatus{pass, fail}, NoShip},
		{"not significant", TestResult{Significant: false, AbsDiff: 0.02}, []GuardrailStatus{pass}, Inconclusive},
		{"significant but below mde", TestResult{Significant: true, AbsDiff: 0.004}, []GuardrailStatus{pass}, Inconclusive},
		{"significant drop", TestResult{Significant: true, AbsDiff: -0.02}, []GuardrailStatus{pass}, Inconclusive},
		{"inconclusive with failed guardrail", TestResult{}, []GuardrailStatus{fail}, NoShip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.primary, 0.005, tt.guardrails))
		})
	}
}

func TestDecision_ExitCode(t *testing.T) {
	assert.Equal(t, 0, Ship.ExitCode())
	assert.Equal(t, 1, NoShip.ExitCode())
	assert.Equal(t, 1, Inconclusive.ExitCode())
}
