package stats

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/checkout-sim/checkout-sim/sim"
)

// TestMeans runs Welch's unequal-variance t-test of treatment against control
// with Welch-Satterthwaite degrees of freedom and a Student-t CI for the
// difference in means.
func TestMeans(c, t MeanSample, alpha float64) (TestResult, error) {
	return testMeans("", c, t, alpha, DefaultMinSampleSize)
}

func testMeans(metric string, c, t MeanSample, alpha float64, minN int) (TestResult, error) {
	if err := checkAlpha(alpha); err != nil {
		return TestResult{}, err
	}
	if minN < 2 {
		minN = 2
	}
	if c.Count < minN || t.Count < minN {
		return TestResult{}, &sim.InsufficientSampleError{Metric: metric, ControlN: c.Count, TreatmentN: t.Count, Min: minN}
	}

	n1, n2 := float64(c.Count), float64(t.Count)
	m1, m2 := c.Mean(), t.Mean()
	a, b := c.Variance()/n1, t.Variance()/n2
	se := math.Sqrt(a + b)
	if se == 0 {
		return TestResult{}, &sim.InsufficientSampleError{
			Metric: metric, ControlN: c.Count, TreatmentN: t.Count, Min: minN,
			Reason: "zero variance in both variants",
		}
	}
	df := (a + b) * (a + b) / (a*a/(n1-1) + b*b/(n2-1))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}

	diff := m2 - m1
	stat := diff / se
	p := 2 * dist.CDF(-math.Abs(stat))
	tCrit := dist.Quantile(1 - alpha/2)

	return TestResult{
		Metric:      metric,
		Kind:        KindMean,
		Control:     m1,
		Treatment:   m2,
		ControlN:    c.Count,
		TreatmentN:  t.Count,
		AbsDiff:     diff,
		RelDiff:     relDiff(m1, diff),
		CILow:       diff - tCrit*se,
		CIHigh:      diff + tCrit*se,
		Confidence:  1 - alpha,
		PValue:      p,
		Statistic:   stat,
		DF:          df,
		Significant: p < alpha,
	}, nil
}

// MeanCI returns the Student-t interval for a single mean.
func MeanCI(m MeanSample, alpha float64) (Interval, error) {
	if err := checkAlpha(alpha); err != nil {
		return Interval{}, err
	}
	if m.Count < 2 {
		return Interval{}, &sim.InsufficientSampleError{ControlN: m.Count, Min: 2}
	}
	mean := m.Mean()
	se := math.Sqrt(m.Variance() / float64(m.Count))
	tCrit := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(m.Count - 1)}.Quantile(1 - alpha/2)
	return Interval{Estimate: mean, Low: mean - tCrit*se, High: mean + tCrit*se}, nil
}
