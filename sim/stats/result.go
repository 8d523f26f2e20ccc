package stats

// Test kinds reported in TestResult.Kind.
const (
	KindProportion = "proportion"
	KindMean       = "mean"
)

// TestResult is the outcome of a two-sample test, treatment minus control.
type TestResult struct {
	Metric     string  `json:"metric"`
	Kind       string  `json:"kind"`
	Control    float64 `json:"control"`   // control rate or mean
	Treatment  float64 `json:"treatment"` // treatment rate or mean
	ControlN   int     `json:"control_n"`
	TreatmentN int     `json:"treatment_n"`
	AbsDiff    float64 `json:"abs_diff"`
	// RelDiff is AbsDiff/Control; 0 when Control is 0.
	RelDiff     float64          `json:"rel_diff"`
	CILow       float64          `json:"ci_low"`
	CIHigh      float64          `json:"ci_high"`
	Confidence  float64          `json:"confidence"`
	PValue      float64          `json:"p_value"`
	Statistic   float64          `json:"statistic"` // z or Welch t
	DF          float64          `json:"df,omitempty"`
	Significant bool             `json:"significant"`
	Guardrail   *GuardrailStatus `json:"guardrail,omitempty"`
}

// Interval is a two-sided confidence interval around a point estimate.
type Interval struct {
	Estimate float64 `json:"estimate"`
	Low      float64 `json:"low"`
	High     float64 `json:"high"`
}

func relDiff(control, diff float64) float64 {
	if control == 0 {
		return 0
	}
	return diff / control
}
