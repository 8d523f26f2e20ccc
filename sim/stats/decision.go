package stats

// Decision is the closed set of experiment outcomes.
type Decision string

const (
	Ship         Decision = "ship"
	NoShip       Decision = "no_ship"
	Inconclusive Decision = "inconclusive"
)

// Decide combines the primary test with guardrail verdicts. A failed
// guardrail dominates: NoShip regardless of the primary result. Ship requires
// a significant primary lift of at least mde with every guardrail passing.
func Decide(primary TestResult, mde float64, guardrails []GuardrailStatus) Decision {
	for _, g := range guardrails {
		if !g.Passed {
			return NoShip
		}
	}
	if primary.Significant && primary.AbsDiff >= mde {
		return Ship
	}
	return Inconclusive
}

// ExitCode maps a decision to the analyze command's process exit status.
func (d Decision) ExitCode() int {
	if d == Ship {
		return 0
	}
	return 1
}
