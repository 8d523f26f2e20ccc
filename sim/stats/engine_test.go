package stats

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkout-sim/checkout-sim/sim"
)

// fakeSamples is a fixed Samples provider keyed by metric then variant.
type fakeSamples struct {
	props map[string][2]ProportionSample
	means map[string][2]MeanSample
}

func (f fakeSamples) Proportion(metric string, v sim.Variant) (ProportionSample, bool) {
	p, ok := f.props[metric]
	if !ok {
		return ProportionSample{}, false
	}
	if v == sim.Treatment {
		return p[1], true
	}
	return p[0], true
}

func (f fakeSamples) Mean(metric string, v sim.Variant) (MeanSample, bool) {
	m, ok := f.means[metric]
	if !ok {
		return MeanSample{}, false
	}
	if v == sim.Treatment {
		return m[1], true
	}
	return m[0], true
}

func readoutSamples() fakeSamples {
	return fakeSamples{
		props: map[string][2]ProportionSample{
			MetricCCR:             {{1750, 5000}, {1855, 5000}},
			MetricPaymentAuthRate: {{1610, 1750}, {1710, 1855}},
		},
		means: map[string][2]MeanSample{
			MetricAOV: {{Count: 40, Sum: 10000, SumSq: 2535100}, {Count: 35, Sum: 9275, SumSq: 2526725}},
		},
	}
}

func TestEngineAnalyze_ShipWhenGuardrailsHold(t *testing.T) {
	// GIVEN a significant 2.1pp CCR lift and healthy guardrails
	e, err := NewEngine(sim.DefaultConfig())
	require.NoError(t, err)

	// WHEN analyzed
	a, err := e.Analyze(readoutSamples())

	// THEN the experiment ships
	require.NoError(t, err)
	assert.True(t, a.Primary.Significant)
	require.Len(t, a.Guardrails, 2)
	for _, g := range a.Guardrails {
		require.NotNil(t, g.Guardrail)
		assert.True(t, g.Guardrail.Passed, g.Guardrail.Message)
	}
	assert.Equal(t, Ship, a.Decision)
}

func TestEngineAnalyze_GuardrailBreach_NoShip(t *testing.T) {
	// GIVEN the same primary lift but authorization dropping 2pp
	s := readoutSamples()
	s.props[MetricPaymentAuthRate] = [2]ProportionSample{{1610, 1750}, {1670, 1855}}
	e, err := NewEngine(sim.DefaultConfig())
	require.NoError(t, err)

	a, err := e.Analyze(s)

	// THEN the failed guardrail dominates the significant primary
	require.NoError(t, err)
	assert.True(t, a.Primary.Significant)
	assert.Equal(t, NoShip, a.Decision)
}

func TestEngineAnalyze_PrimaryInsufficient(t *testing.T) {
	s := readoutSamples()
	s.props[MetricCCR] = [2]ProportionSample{{3, 10}, {4, 10}}
	e, err := NewEngine(sim.DefaultConfig())
	require.NoError(t, err)

	_, err = e.Analyze(s)

	var insufficient *sim.InsufficientSampleError
	assert.True(t, errors.As(err, &insufficient), "error = %v", err)
}

func TestEngineAnalyze_GuardrailInsufficient_Fails(t *testing.T) {
	// GIVEN too few orders to test AOV
	s := readoutSamples()
	s.means[MetricAOV] = [2]MeanSample{{Count: 5, Sum: 1000, SumSq: 210000}, {Count: 5, Sum: 1100, SumSq: 250000}}
	e, err := NewEngine(sim.DefaultConfig())
	require.NoError(t, err)

	a, err := e.Analyze(s)

	// THEN the guardrail cannot pass and the decision is NoShip
	require.NoError(t, err)
	assert.False(t, a.Guardrails[1].Guardrail.Passed)
	assert.Equal(t, NoShip, a.Decision)
}

func TestAnalysis_Records(t *testing.T) {
	e, err := NewEngine(sim.DefaultConfig())
	require.NoError(t, err)
	a, err := e.Analyze(readoutSamples())
	require.NoError(t, err)

	recs := a.Records()

	require.Len(t, recs, 3)
	assert.Equal(t, MetricCCR, recs[0].Metric)
	assert.Empty(t, recs[0].GuardrailStatus)
	assert.Equal(t, "payment_authorization", recs[1].Guardrail)
	assert.Equal(t, MetricPaymentAuthRate, recs[1].Metric)
	assert.Equal(t, "pass", recs[1].GuardrailStatus)
	for _, r := range recs {
		assert.Equal(t, Ship, r.Decision)
	}
}

func TestNewEngine_UnknownGuardrailMetric(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.Guardrails = append(cfg.Guardrails, sim.GuardrailConfig{Name: "x", Metric: "bounce", Rule: RuleMaxDropAbs})
	_, err := NewEngine(cfg)
	var cfgErr *sim.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
