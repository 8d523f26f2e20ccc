package stats

import (
	"fmt"

	"github.com/checkout-sim/checkout-sim/sim"
)

// Guardrail rules. Absolute tolerances are in metric units (rate or mean);
// percent tolerances are percentages of the control value.
const (
	RuleMaxDropAbs     = "max_drop_abs"
	RuleMaxDropPct     = "max_drop_pct"
	RuleMaxIncreaseAbs = "max_increase_abs"
	RuleMaxIncreasePct = "max_increase_pct"
)

// GuardrailStatus is the verdict of one guardrail rule.
type GuardrailStatus struct {
	Name      string  `json:"name"`
	Rule      string  `json:"rule"`
	Tolerance float64 `json:"tolerance"`
	Delta     float64 `json:"delta"` // drop or increase in the rule's units
	Passed    bool    `json:"passed"`
	Message   string  `json:"message"`
}

// EvaluateGuardrail applies a bounded-difference rule to a test result.
// Pass/fail depends only on the point estimates, never on significance.
// Percent rules fail when the control value is 0.
func EvaluateGuardrail(g sim.GuardrailConfig, r TestResult) (GuardrailStatus, error) {
	st := GuardrailStatus{Name: g.Name, Rule: g.Rule, Tolerance: g.Tolerance}
	base, treat := r.Control, r.Treatment
	switch g.Rule {
	case RuleMaxDropAbs:
		st.Delta = base - treat
		st.Message = fmt.Sprintf("drop of %.4f (control %.4f, treatment %.4f), tolerance %.4f", st.Delta, base, treat, g.Tolerance)
	case RuleMaxIncreaseAbs:
		st.Delta = treat - base
		st.Message = fmt.Sprintf("increase of %.4f (control %.4f, treatment %.4f), tolerance %.4f", st.Delta, base, treat, g.Tolerance)
	case RuleMaxDropPct, RuleMaxIncreasePct:
		if base == 0 {
			st.Message = "cannot compute percent change with control = 0"
			return st, nil
		}
		if g.Rule == RuleMaxDropPct {
			st.Delta = (base - treat) / base * 100
			st.Message = fmt.Sprintf("drop of %.2f%% (control %.2f, treatment %.2f), tolerance %.2f%%", st.Delta, base, treat, g.Tolerance)
		} else {
			st.Delta = (treat - base) / base * 100
			st.Message = fmt.Sprintf("increase of %.2f%% (control %.2f, treatment %.2f), tolerance %.2f%%", st.Delta, base, treat, g.Tolerance)
		}
	default:
		return st, &sim.ConfigurationError{Param: "guardrail " + g.Name + " rule", Constraint: "be a known rule", Value: g.Rule}
	}
	st.Passed = st.Delta <= g.Tolerance
	return st, nil
}
