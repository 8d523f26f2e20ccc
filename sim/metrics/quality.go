package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/checkout-sim/checkout-sim/sim"
	"github.com/checkout-sim/checkout-sim/sim/stats"
	"github.com/checkout-sim/checkout-sim/sim/trace"
)

// Quality check names recorded into a trace.QualityTrace.
const (
	CheckBalance = "randomization_balance"
	CheckSRM     = "sample_ratio_mismatch"
	CheckAA      = "aa_validity"
)

// Balance band for the treatment share, in percent.
const (
	balanceLowPct  = 48.0
	balanceHighPct = 52.0
)

// SRMAlpha is the chi-square threshold below which assignment counts are
// treated as a sample ratio mismatch.
const SRMAlpha = 0.001

// BalanceResult is the outcome of the randomization checks.
type BalanceResult struct {
	Control        int
	Treatment      int
	TreatmentShare float64 // observed
	ExpectedShare  float64
	ChiSquare      float64
	PValue         float64
	WithinBand     bool // observed share within 48-52% (only meaningful for an even split)
	SRM            bool // chi-square p < SRMAlpha
}

// CheckAssignmentBalance runs a one-degree-of-freedom chi-square
// goodness-of-fit test of the assignment counts against expectedShare.
func CheckAssignmentBalance(counts map[sim.Variant]int, expectedShare float64) (BalanceResult, error) {
	c, t := counts[sim.Control], counts[sim.Treatment]
	n := c + t
	if n == 0 {
		return BalanceResult{}, &sim.InsufficientSampleError{Metric: CheckBalance, Min: 1}
	}
	if !(expectedShare > 0 && expectedShare < 1) {
		return BalanceResult{}, &sim.ConfigurationError{Param: "treatment_share", Constraint: "be within (0, 1)", Value: expectedShare}
	}
	expT := float64(n) * expectedShare
	expC := float64(n) - expT
	dc, dt := float64(c)-expC, float64(t)-expT
	chi := dc*dc/expC + dt*dt/expT
	p := distuv.ChiSquared{K: 1}.Survival(chi)
	share := float64(t) / float64(n)
	pct := share * 100
	return BalanceResult{
		Control:        c,
		Treatment:      t,
		TreatmentShare: share,
		ExpectedShare:  expectedShare,
		ChiSquare:      chi,
		PValue:         p,
		WithinBand:     pct >= balanceLowPct && pct <= balanceHighPct,
		SRM:            p < SRMAlpha,
	}, nil
}

// RecordQualityChecks runs the balance and SRM checks on summary and, when
// aaMode is set, the A/A validity check: the primary test must not be
// significant. Results are appended to qt. The returned bool is true when
// every check passed.
func RecordQualityChecks(qt *trace.QualityTrace, summary *Summary, cfg sim.Config, aaMode bool) (bool, error) {
	bal, err := CheckAssignmentBalance(summary.Assignments(), cfg.Experiment.TreatmentShare)
	if err != nil {
		return false, err
	}
	allPassed := true
	record := func(name string, passed bool, msg string) {
		qt.RecordCheck(trace.CheckRecord{Name: name, Passed: passed, Message: msg})
		allPassed = allPassed && passed
	}

	if cfg.Experiment.TreatmentShare == 0.5 {
		record(CheckBalance, bal.WithinBand, fmt.Sprintf("control=%d treatment=%d treatment share %.2f%% (expected %.0f-%.0f%%)",
			bal.Control, bal.Treatment, bal.TreatmentShare*100, balanceLowPct, balanceHighPct))
	}
	record(CheckSRM, !bal.SRM, fmt.Sprintf("chi-square %.3f, p=%.4g against expected share %.3f", bal.ChiSquare, bal.PValue, bal.ExpectedShare))

	if aaMode {
		engine, err := stats.NewEngine(cfg)
		if err != nil {
			return false, err
		}
		r, err := engine.TestPrimary(summary)
		if err != nil {
			return false, err
		}
		msg := fmt.Sprintf("control %.4f vs treatment %.4f, p=%.4f", r.Control, r.Treatment, r.PValue)
		record(CheckAA, !r.Significant, msg)
	}
	return allPassed, nil
}
