package metrics

import "github.com/checkout-sim/checkout-sim/sim"

// StepMetric describes one checkout step for one variant.
type StepMetric struct {
	Variant       sim.Variant `json:"variant"`
	Step          string      `json:"step"`
	Views         int         `json:"views"`
	ReachRate     float64     `json:"reach_rate"`      // views / checkout starters
	FormErrorRate float64     `json:"form_error_rate"` // form errors / views
	MeanLatencyMs float64     `json:"mean_latency_ms"`
}

// StepFunnel returns per-step metrics for v in funnel order.
func (s *Summary) StepFunnel(v sim.Variant) []StepMetric {
	vs := s.Variant(v)
	if vs == nil {
		return nil
	}
	out := make([]StepMetric, 0, len(sim.CheckoutSteps))
	for _, state := range sim.CheckoutSteps {
		m := StepMetric{Variant: v, Step: string(state)}
		if st, ok := vs.Steps[string(state)]; ok {
			m.Views = st.Views
			m.MeanLatencyMs = st.Latency.Mean()
			if st.Views > 0 {
				m.FormErrorRate = float64(st.FormErrors) / float64(st.Views)
			}
		}
		if vs.CheckoutStarters > 0 {
			m.ReachRate = float64(m.Views) / float64(vs.CheckoutStarters)
		}
		out = append(out, m)
	}
	return out
}
