// Package metrics reduces event records into per-variant counts and sums.
//
// Aggregate is a pure function over a record set; Summary implements
// stats.Samples so the stats engine can consume it directly.
package metrics

import (
	"github.com/checkout-sim/checkout-sim/sim"
	"github.com/checkout-sim/checkout-sim/sim/stats"
)

// VariantSummary holds one variant's reduced counts. User-level counts are
// distinct users; event-level counts are raw event totals.
type VariantSummary struct {
	Variant sim.Variant

	Adders           int // distinct users with add_to_cart
	CheckoutStarters int // distinct users with begin_checkout
	Orderers         int // distinct users with order_completed

	StepViews       int // checkout_step_view events
	FormErrors      int // form_error events on checkout steps
	PaymentAttempts int
	Authorized      int

	OrderValue      stats.MeanSample // over order_completed events
	CheckoutLatency stats.MeanSample // over checkout_step_view events

	Steps          map[string]*StepSummary
	PaymentMethods map[string]int
}

// StepSummary holds per-checkout-step counts.
type StepSummary struct {
	Views      int
	FormErrors int
	Latency    stats.MeanSample
}

// Summary is the aggregate of one record set.
type Summary struct {
	Records  int
	Sessions int
	Unknown  int // records whose variant is neither control nor treatment
	variants map[sim.Variant]*VariantSummary
}

// Aggregate reduces records into per-variant summaries.
func Aggregate(records []sim.EventRecord) *Summary {
	s := &Summary{variants: make(map[sim.Variant]*VariantSummary, len(sim.Variants))}
	for _, v := range sim.Variants {
		s.variants[v] = newVariantSummary(v)
	}
	type userKey struct {
		variant sim.Variant
		user    string
	}
	adders := make(map[userKey]struct{})
	starters := make(map[userKey]struct{})
	orderers := make(map[userKey]struct{})
	sessions := make(map[string]struct{})

	for _, r := range records {
		s.Records++
		vs, ok := s.variants[r.Variant]
		if !ok {
			s.Unknown++
			continue
		}
		sessions[r.SessionID] = struct{}{}
		key := userKey{r.Variant, r.UserID}
		switch r.EventType {
		case sim.EventAddToCart:
			adders[key] = struct{}{}
		case sim.EventBeginCheckout:
			starters[key] = struct{}{}
		case sim.EventCheckoutStepView:
			vs.StepViews++
			step := vs.step(r.StepName)
			step.Views++
			if r.LatencyMs != nil {
				vs.CheckoutLatency.Add(*r.LatencyMs)
				step.Latency.Add(*r.LatencyMs)
			}
		case sim.EventFormError:
			// The rate's denominator is checkout step views.
			if !sim.State(r.StepName).IsCheckoutStep() {
				continue
			}
			vs.FormErrors++
			vs.step(r.StepName).FormErrors++
		case sim.EventPaymentAttempt:
			vs.PaymentAttempts++
			if r.Authorized != nil && *r.Authorized {
				vs.Authorized++
			}
			if r.PaymentMethod != "" {
				vs.PaymentMethods[r.PaymentMethod]++
			}
		case sim.EventOrderCompleted:
			orderers[key] = struct{}{}
			if r.OrderValue != nil {
				vs.OrderValue.Add(*r.OrderValue)
			}
		}
	}
	for k := range adders {
		s.variants[k.variant].Adders++
	}
	for k := range starters {
		s.variants[k.variant].CheckoutStarters++
	}
	for k := range orderers {
		s.variants[k.variant].Orderers++
	}
	s.Sessions = len(sessions)
	return s
}

// FromSessions aggregates the flattened records of sessions.
func FromSessions(sessions []*sim.CheckoutSession) *Summary {
	var records []sim.EventRecord
	for _, session := range sessions {
		records = append(records, session.Records()...)
	}
	return Aggregate(records)
}

func newVariantSummary(v sim.Variant) *VariantSummary {
	return &VariantSummary{
		Variant:        v,
		Steps:          make(map[string]*StepSummary, len(sim.CheckoutSteps)),
		PaymentMethods: make(map[string]int),
	}
}

func (vs *VariantSummary) step(name string) *StepSummary {
	st, ok := vs.Steps[name]
	if !ok {
		st = &StepSummary{}
		vs.Steps[name] = st
	}
	return st
}

// Variant returns the summary for v. Never nil for control or treatment.
func (s *Summary) Variant(v sim.Variant) *VariantSummary {
	return s.variants[v]
}

// Assignments returns distinct add-to-cart users per variant, the exposure
// population used for balance checks.
func (s *Summary) Assignments() map[sim.Variant]int {
	out := make(map[sim.Variant]int, len(s.variants))
	for v, vs := range s.variants {
		out[v] = vs.Adders
	}
	return out
}

// Proportion implements stats.Samples.
func (s *Summary) Proportion(metric string, v sim.Variant) (stats.ProportionSample, bool) {
	vs, ok := s.variants[v]
	if !ok {
		return stats.ProportionSample{}, false
	}
	switch metric {
	case stats.MetricCCR:
		return stats.ProportionSample{Successes: vs.Orderers, Trials: vs.Adders}, true
	case stats.MetricCheckoutStartRate:
		return stats.ProportionSample{Successes: vs.CheckoutStarters, Trials: vs.Adders}, true
	case stats.MetricPaymentAuthRate:
		return stats.ProportionSample{Successes: vs.Authorized, Trials: vs.PaymentAttempts}, true
	case stats.MetricFormErrorRate:
		return stats.ProportionSample{Successes: vs.FormErrors, Trials: vs.StepViews}, true
	}
	return stats.ProportionSample{}, false
}

// Mean implements stats.Samples.
func (s *Summary) Mean(metric string, v sim.Variant) (stats.MeanSample, bool) {
	vs, ok := s.variants[v]
	if !ok {
		return stats.MeanSample{}, false
	}
	switch metric {
	case stats.MetricAOV:
		return vs.OrderValue, true
	case stats.MetricCheckoutLatencyMs:
		return vs.CheckoutLatency, true
	}
	return stats.MeanSample{}, false
}

var _ stats.Samples = (*Summary)(nil)
