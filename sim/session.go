package sim

import (
	"fmt"
	"time"
)

// PaymentOutcome records what happened at payment_attempt.
type PaymentOutcome string

const (
	PaymentNotAttempted PaymentOutcome = "not_attempted"
	PaymentAuthorized   PaymentOutcome = "authorized"
	PaymentDeclined     PaymentOutcome = "declined"
)

// StepEvent is one visited funnel state. Immutable once appended.
type StepEvent struct {
	Step      State
	Index     int
	Timestamp time.Time
	LatencyMs float64
	Error     bool
	ErrorCode string // set iff Error
	Field     string // set iff Error
}

// CheckoutSession is one user's walk through the funnel.
// Variant is copied from the UserAssignment at creation and never re-derived.
type CheckoutSession struct {
	SessionID     string
	UserID        string
	Variant       Variant
	ExposedAt     time.Time
	Events        []StepEvent
	Outcome       State    // StateOrderCompleted or StateAbandoned
	OrderValue    *float64 // non-nil iff Outcome == StateOrderCompleted
	Payment       PaymentOutcome
	PaymentMethod string // set iff payment was attempted
}

func (s *CheckoutSession) append(ev StepEvent) {
	s.Events = append(s.Events, ev)
}

// Reached reports whether the session visited state.
func (s *CheckoutSession) Reached(state State) bool {
	for _, ev := range s.Events {
		if ev.Step == state {
			return true
		}
	}
	return false
}

// Completed reports whether the session ended in an order.
func (s *CheckoutSession) Completed() bool {
	return s.Outcome == StateOrderCompleted
}

// LastStep is the furthest non-terminal state visited.
func (s *CheckoutSession) LastStep() State {
	for i := len(s.Events) - 1; i >= 0; i-- {
		if !s.Events[i].Step.Terminal() {
			return s.Events[i].Step
		}
	}
	return ""
}

// Validate checks the session invariants: strictly increasing step index,
// non-decreasing timestamps, non-negative latency, exactly one terminal event
// in last position matching Outcome, and an order value iff completed.
func (s *CheckoutSession) Validate() error {
	if len(s.Events) == 0 {
		return fmt.Errorf("session %s: no events", s.SessionID)
	}
	terminals := 0
	for i, ev := range s.Events {
		if i > 0 {
			prev := s.Events[i-1]
			if ev.Index <= prev.Index {
				return fmt.Errorf("session %s: step index %d after %d", s.SessionID, ev.Index, prev.Index)
			}
			if ev.Timestamp.Before(prev.Timestamp) {
				return fmt.Errorf("session %s: timestamp of %s precedes %s", s.SessionID, ev.Step, prev.Step)
			}
		}
		if ev.LatencyMs < 0 {
			return fmt.Errorf("session %s: negative latency %.3f at %s", s.SessionID, ev.LatencyMs, ev.Step)
		}
		if ev.Step.Terminal() {
			terminals++
		}
	}
	last := s.Events[len(s.Events)-1]
	if terminals != 1 || !last.Step.Terminal() {
		return fmt.Errorf("session %s: want exactly one terminal event in last position, got %d", s.SessionID, terminals)
	}
	if last.Step != s.Outcome {
		return fmt.Errorf("session %s: outcome %s does not match terminal event %s", s.SessionID, s.Outcome, last.Step)
	}
	if s.Completed() != (s.OrderValue != nil) {
		return fmt.Errorf("session %s: order value presence does not match outcome %s", s.SessionID, s.Outcome)
	}
	return nil
}
