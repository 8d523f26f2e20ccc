package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/checkout-sim/checkout-sim/sim"
)

// TestProportions runs a pooled two-proportion z-test of treatment (ts/tn)
// against control (cs/cn) with the default minimum sample size. The CI is for
// the absolute difference at 1-alpha confidence using the unpooled Wald SE.
func TestProportions(cs, cn, ts, tn int, alpha float64) (TestResult, error) {
	return testProportions("", ProportionSample{cs, cn}, ProportionSample{ts, tn}, alpha, DefaultMinSampleSize)
}

func testProportions(metric string, c, t ProportionSample, alpha float64, minN int) (TestResult, error) {
	if err := checkAlpha(alpha); err != nil {
		return TestResult{}, err
	}
	for _, s := range []struct {
		name string
		p    ProportionSample
	}{{"control", c}, {"treatment", t}} {
		if s.p.Trials < 0 {
			return TestResult{}, &sim.ConfigurationError{Param: s.name + " trials", Constraint: "be non-negative", Value: s.p.Trials}
		}
		if s.p.Successes < 0 || s.p.Successes > s.p.Trials {
			return TestResult{}, &sim.ConfigurationError{
				Param:      s.name + " successes",
				Constraint: fmt.Sprintf("be within [0, %d]", s.p.Trials),
				Value:      s.p.Successes,
			}
		}
	}
	if c.Trials == 0 || t.Trials == 0 || c.Trials < minN || t.Trials < minN {
		return TestResult{}, &sim.InsufficientSampleError{Metric: metric, ControlN: c.Trials, TreatmentN: t.Trials, Min: minN}
	}

	p1, p2 := c.Rate(), t.Rate()
	n1, n2 := float64(c.Trials), float64(t.Trials)
	diff := p2 - p1

	pooled := float64(c.Successes+t.Successes) / (n1 + n2)
	sePooled := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	z, p := 0.0, 1.0
	if sePooled > 0 {
		z = diff / sePooled
		p = 2 * distuv.UnitNormal.CDF(-math.Abs(z))
	}

	zCrit := distuv.UnitNormal.Quantile(1 - alpha/2)
	seDiff := math.Sqrt(p1*(1-p1)/n1 + p2*(1-p2)/n2)

	return TestResult{
		Metric:      metric,
		Kind:        KindProportion,
		Control:     p1,
		Treatment:   p2,
		ControlN:    c.Trials,
		TreatmentN:  t.Trials,
		AbsDiff:     diff,
		RelDiff:     relDiff(p1, diff),
		CILow:       diff - zCrit*seDiff,
		CIHigh:      diff + zCrit*seDiff,
		Confidence:  1 - alpha,
		PValue:      p,
		Statistic:   z,
		Significant: p < alpha,
	}, nil
}

// ProportionCI returns the Wald interval for a single rate, clipped to [0, 1].
func ProportionCI(successes, trials int, alpha float64) (Interval, error) {
	if err := checkAlpha(alpha); err != nil {
		return Interval{}, err
	}
	if trials <= 0 {
		return Interval{}, &sim.InsufficientSampleError{ControlN: trials, Min: 1}
	}
	if successes < 0 || successes > trials {
		return Interval{}, &sim.ConfigurationError{Param: "successes", Constraint: fmt.Sprintf("be within [0, %d]", trials), Value: successes}
	}
	rate := float64(successes) / float64(trials)
	half := distuv.UnitNormal.Quantile(1-alpha/2) * math.Sqrt(rate*(1-rate)/float64(trials))
	return Interval{
		Estimate: rate,
		Low:      math.Max(0, rate-half),
		High:     math.Min(1, rate+half),
	}, nil
}

func checkAlpha(alpha float64) error {
	if !(alpha > 0 && alpha < 1) {
		return &sim.ConfigurationError{Param: "alpha", Constraint: "be within (0, 1)", Value: alpha}
	}
	return nil
}
