package sim

import (
	"errors"
	"fmt"
)

// ErrAllIdentifiersInvalid is returned by a batch when every user identifier was rejected.
var ErrAllIdentifiersInvalid = errors.New("all user identifiers are invalid")

// ConfigurationError reports an invalid setup parameter. Fatal: nothing is simulated.
type ConfigurationError struct {
	Param      string
	Constraint string
	Value      any
}

func (e *ConfigurationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid configuration: %s must %s", e.Param, e.Constraint)
	}
	return fmt.Sprintf("invalid configuration: %s must %s, got %v", e.Param, e.Constraint, e.Value)
}

// SimulationConfigError reports a per-step probability that left [0,1]
// after the treatment uplift was applied. The simulator never clamps.
type SimulationConfigError struct {
	Transition  string
	Variant     Variant
	Probability float64
}

func (e *SimulationConfigError) Error() string {
	return fmt.Sprintf("simulation config: %s probability for %s is %.6f, must be within [0, 1]",
		e.Transition, e.Variant, e.Probability)
}

// InvalidIdentifierError rejects a single user identifier.
type InvalidIdentifierError struct {
	UserID string
	Reason string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid user identifier %q: %s", e.UserID, e.Reason)
}

// InsufficientSampleError refuses a statistical test whose denominators are too small.
type InsufficientSampleError struct {
	Metric     string
	ControlN   int
	TreatmentN int
	Min        int
	Reason     string
}

func (e *InsufficientSampleError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("insufficient sample for %s: %s (control n=%d, treatment n=%d)",
			e.metric(), e.Reason, e.ControlN, e.TreatmentN)
	}
	return fmt.Sprintf("insufficient sample for %s: control n=%d, treatment n=%d, need at least %d per variant",
		e.metric(), e.ControlN, e.TreatmentN, e.Min)
}

func (e *InsufficientSampleError) metric() string {
	if e.Metric == "" {
		return "test"
	}
	return e.Metric
}
