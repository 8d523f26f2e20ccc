// Package stats turns per-variant samples into hypothesis tests, confidence
// intervals, guardrail verdicts and a ship decision.
//
// Every function is pure: inputs are counts and sums, outputs are immutable
// values. Degenerate inputs (small or empty denominators, zero variance) are
// refused with *sim.InsufficientSampleError instead of producing NaN or Inf.
package stats

import (
	"math"

	"github.com/checkout-sim/checkout-sim/sim"
)

// DefaultMinSampleSize is the per-variant denominator below which tests refuse to run.
const DefaultMinSampleSize = 30

// ProportionSample is a numerator/denominator pair for one variant.
type ProportionSample struct {
	Successes int `json:"successes"`
	Trials    int `json:"trials"`
}

// Rate returns Successes/Trials, or 0 for an empty sample.
func (p ProportionSample) Rate() float64 {
	if p.Trials == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Trials)
}

// MeanSample accumulates count, sum and sum of squares of a continuous metric.
type MeanSample struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	SumSq float64 `json:"sum_sq"`
}

// Add folds one observation into the sample.
func (m *MeanSample) Add(x float64) {
	m.Count++
	m.Sum += x
	m.SumSq += x * x
}

// Merge folds another sample into m.
func (m *MeanSample) Merge(o MeanSample) {
	m.Count += o.Count
	m.Sum += o.Sum
	m.SumSq += o.SumSq
}

// Mean returns the sample mean, or 0 for an empty sample.
func (m MeanSample) Mean() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / float64(m.Count)
}

// Variance returns the unbiased sample variance, or 0 when Count < 2.
func (m MeanSample) Variance() float64 {
	if m.Count < 2 {
		return 0
	}
	n := float64(m.Count)
	v := (m.SumSq - m.Sum*m.Sum/n) / (n - 1)
	// Cancellation can leave a tiny negative residue for constant samples.
	return math.Max(v, 0)
}

// Samples supplies per-variant samples by metric name. ok is false when the
// metric is unknown to the provider.
type Samples interface {
	Proportion(metric string, v sim.Variant) (ProportionSample, bool)
	Mean(metric string, v sim.Variant) (MeanSample, bool)
}
