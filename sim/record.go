package sim

import "time"

// Event types emitted to external sinks.
const (
	EventAddToCart        = "add_to_cart"
	EventBeginCheckout    = "begin_checkout"
	EventCheckoutStepView = "checkout_step_view"
	EventFormError        = "form_error"
	EventPaymentAttempt   = "payment_attempt"
	EventOrderCompleted   = "order_completed"
	EventAbandoned        = "abandoned"
)

// EventRecord is the flat, storage-agnostic shape of one funnel event.
// Optional fields are nil/empty when not applicable to EventType.
type EventRecord struct {
	EventType     string    `json:"event_type"`
	UserID        string    `json:"user_id"`
	SessionID     string    `json:"session_id"`
	Variant       Variant   `json:"variant"`
	StepName      string    `json:"step_name,omitempty"`
	StepIndex     *int      `json:"step_index,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	LatencyMs     *float64  `json:"latency_ms,omitempty"`
	Error         bool      `json:"error,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	FieldName     string    `json:"field_name,omitempty"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	Authorized    *bool     `json:"authorized,omitempty"`
	OrderValue    *float64  `json:"order_value,omitempty"`
}

// Records flattens the session into event records in occurrence order.
// Checkout form steps become checkout_step_view (plus form_error when flagged);
// the terminal state becomes order_completed or abandoned.
func (s *CheckoutSession) Records() []EventRecord {
	out := make([]EventRecord, 0, len(s.Events)+2)
	for _, ev := range s.Events {
		idx := ev.Index
		latency := ev.LatencyMs
		base := EventRecord{
			UserID:    s.UserID,
			SessionID: s.SessionID,
			Variant:   s.Variant,
			StepName:  string(ev.Step),
			StepIndex: &idx,
			Timestamp: ev.Timestamp,
		}
		switch {
		case ev.Step == StateAddToCart:
			base.EventType = EventAddToCart
			base.LatencyMs = &latency
		case ev.Step == StateBeginCheckout:
			base.EventType = EventBeginCheckout
			base.LatencyMs = &latency
		case ev.Step.IsCheckoutStep():
			base.EventType = EventCheckoutStepView
			base.LatencyMs = &latency
			base.Error = ev.Error
		case ev.Step == StatePaymentAttempt:
			authorized := s.Payment == PaymentAuthorized
			base.EventType = EventPaymentAttempt
			base.LatencyMs = &latency
			base.PaymentMethod = s.PaymentMethod
			base.Authorized = &authorized
		case ev.Step == StateOrderCompleted:
			base.EventType = EventOrderCompleted
			base.OrderValue = s.OrderValue
		case ev.Step == StateAbandoned:
			base.EventType = EventAbandoned
			base.StepName = string(s.LastStep())
		}
		out = append(out, base)

		if ev.Error {
			out = append(out, EventRecord{
				EventType: EventFormError,
				UserID:    s.UserID,
				SessionID: s.SessionID,
				Variant:   s.Variant,
				StepName:  string(ev.Step),
				StepIndex: &idx,
				Timestamp: ev.Timestamp,
				Error:     true,
				ErrorCode: ev.ErrorCode,
				FieldName: ev.Field,
			})
		}
	}
	return out
}
