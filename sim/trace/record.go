// Package trace provides data-quality recording for simulation runs.
// It stores pure data types and does not import sim.
package trace

// SkipRecord captures one user that was skipped during generation.
type SkipRecord struct {
	UserID string
	Day    string // YYYY-MM-DD of the simulated day
	Reason string
}

// CheckRecord captures the outcome of one data-quality check.
type CheckRecord struct {
	Name    string
	Passed  bool
	Message string
}
