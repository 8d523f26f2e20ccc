package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkout-sim/checkout-sim/sim/trace"
)

func newTestSimulator(t *testing.T, mutate func(*Config)) *FunnelSimulator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Experiment.UsersPerDay = 500
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewFunnelSimulator(cfg)
	require.NoError(t, err)
	return s
}

func TestRun_SameSeed_IdenticalPopulation(t *testing.T) {
	// GIVEN two simulators with identical config and seed
	a := newTestSimulator(t, nil)
	b := newTestSimulator(t, func(c *Config) { c.Experiment.Workers = 1 })

	// WHEN both run (different parallelism)
	popA, err := a.Run(context.Background())
	require.NoError(t, err)
	popB, err := b.Run(context.Background())
	require.NoError(t, err)

	// THEN sessions are identical in content and order
	require.Equal(t, len(popA.Sessions), len(popB.Sessions))
	for i := range popA.Sessions {
		assert.Equal(t, popA.Sessions[i], popB.Sessions[i], "session %d", i)
	}
}

func TestRun_DifferentSeed_DifferentSessions(t *testing.T) {
	popA, err := newTestSimulator(t, nil).Run(context.Background())
	require.NoError(t, err)
	popB, err := newTestSimulator(t, func(c *Config) { c.Experiment.Seed = 43 }).Run(context.Background())
	require.NoError(t, err)

	same := 0
	for i := range popA.Sessions {
		if popA.Sessions[i].Outcome == popB.Sessions[i].Outcome &&
			len(popA.Sessions[i].Events) == len(popB.Sessions[i].Events) &&
			popA.Sessions[i].ExposedAt.Equal(popB.Sessions[i].ExposedAt) {
			same++
		}
	}
	assert.Less(t, same, len(popA.Sessions)/10)
}

func TestRun_AddingUsers_LeavesExistingSessionsUnchanged(t *testing.T) {
	small, err := newTestSimulator(t, func(c *Config) { c.Experiment.UsersPerDay = 100 }).Run(context.Background())
	require.NoError(t, err)
	large, err := newTestSimulator(t, func(c *Config) {
		c.Experiment.UsersPerDay = 300
		c.Experiment.Days = 2
	}).Run(context.Background())
	require.NoError(t, err)

	for i, s := range small.Sessions {
		assert.Equal(t, s, large.Sessions[i], "user %s", s.UserID)
	}
}

func TestRun_SessionInvariants(t *testing.T) {
	pop, err := newTestSimulator(t, func(c *Config) { c.Experiment.Days = 2 }).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, pop.Sessions, 1000)

	for _, s := range pop.Sessions {
		require.NoError(t, s.Validate())

		// Monotonic: a later state is only reached if every earlier one was.
		reached := true
		for _, state := range NonTerminalStates() {
			if s.Reached(state) && !reached {
				t.Fatalf("session %s reached %s after skipping an earlier state", s.SessionID, state)
			}
			reached = s.Reached(state)
		}
		assert.True(t, s.Reached(StateAddToCart))
		if s.Completed() {
			assert.Equal(t, PaymentAuthorized, s.Payment)
			assert.NotEmpty(t, s.PaymentMethod)
			assert.GreaterOrEqual(t, *s.OrderValue, 20.0)
			assert.Less(t, *s.OrderValue, 500.0)
		}
		if s.Reached(StatePaymentAttempt) && !s.Completed() {
			assert.Equal(t, PaymentDeclined, s.Payment)
		}
		for _, ev := range s.Events {
			if ev.Error {
				assert.True(t, ev.Step.IsCheckoutStep(), "form error outside checkout steps at %s", ev.Step)
				assert.NotEmpty(t, ev.ErrorCode)
				assert.NotEmpty(t, ev.Field)
			}
			assert.False(t, ev.Timestamp.Before(s.ExposedAt))
		}
	}
}

func TestRun_NoVariantCrossover(t *testing.T) {
	s := newTestSimulator(t, func(c *Config) { c.Experiment.Days = 3 })
	pop, err := s.Run(context.Background())
	require.NoError(t, err)

	for _, session := range pop.Sessions {
		want, err := Assign(session.UserID, s.Config().Experiment.Salt)
		require.NoError(t, err)
		assert.Equal(t, want, session.Variant, session.UserID)
		for _, rec := range session.Records() {
			assert.Equal(t, want, rec.Variant)
		}
	}
}

func TestRun_ConversionMatchesExpectation(t *testing.T) {
	// GIVEN a large zero-uplift population
	s := newTestSimulator(t, func(c *Config) {
		c.Experiment.UsersPerDay = 20000
		c.Experiment.Uplift = 0
	})
	pop, err := s.Run(context.Background())
	require.NoError(t, err)

	completed := 0
	for _, session := range pop.Sessions {
		if session.Completed() {
			completed++
		}
	}

	// THEN conversion is close to the product of retentions (~0.367)
	got := float64(completed) / float64(len(pop.Sessions))
	assert.InDelta(t, s.Table().ExpectedConversion(Control), got, 0.015)
}

func TestSimulateSession_MatchesSimulateUser(t *testing.T) {
	s := newTestSimulator(t, nil)
	day := s.Config().StartTime()

	viaUser, err := s.SimulateUser("user_x", day)
	require.NoError(t, err)
	a := UserAssignment{UserID: "user_x", Variant: viaUser.Variant, ExposedAt: viaUser.ExposedAt}

	assert.Equal(t, viaUser, s.SimulateSession(a))
}

func TestRunUsers_SkipsInvalidIdentifiers(t *testing.T) {
	// GIVEN a batch with two malformed identifiers
	obs := &countingObserver{}
	cfg := DefaultConfig()
	s, err := NewFunnelSimulator(cfg, WithObserver(obs), WithTraceConfig(trace.TraceConfig{Level: trace.TraceLevelRecords}))
	require.NoError(t, err)
	ids := []string{"user_a", "", "user_b", "bad id", "user_c"}

	// WHEN simulated
	pop, err := s.RunUsers(context.Background(), ids, cfg.StartTime())

	// THEN valid users are simulated in order and the rest tallied
	require.NoError(t, err)
	require.Len(t, pop.Sessions, 3)
	assert.Equal(t, "user_a", pop.Sessions[0].UserID)
	assert.Equal(t, "user_c", pop.Sessions[2].UserID)
	assert.Equal(t, 2, pop.Skipped)
	assert.Len(t, pop.Quality.Skips(), 2)
	assert.Equal(t, 2, trace.Summarize(pop.Quality).Skipped)
	assert.Equal(t, 3, obs.sessions)
	assert.Equal(t, 2, obs.skips)
}

func TestRunUsers_AllInvalid(t *testing.T) {
	s := newTestSimulator(t, nil)

	_, err := s.RunUsers(context.Background(), []string{"", " "}, time.Now())

	assert.True(t, errors.Is(err, ErrAllIdentifiersInvalid), "error = %v", err)
}

func TestRunUsers_CancelledContext(t *testing.T) {
	s := newTestSimulator(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.RunUsers(ctx, []string{"user_a", "user_b"}, time.Now())

	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFunnelSimulator_RejectsBadUplift(t *testing.T) {
	cfg := DefaultConfig().WithUplift(0.1)
	_, err := NewFunnelSimulator(cfg)
	var simErr *SimulationConfigError
	assert.ErrorAs(t, err, &simErr)
}

func TestPopulation_Assignments(t *testing.T) {
	pop, err := newTestSimulator(t, nil).Run(context.Background())
	require.NoError(t, err)

	counts := pop.Assignments()
	assert.Equal(t, len(pop.Sessions), counts[Control]+counts[Treatment])
	assert.Greater(t, counts[Control], 200)
	assert.Greater(t, counts[Treatment], 200)
}

type countingObserver struct {
	mu       sync.Mutex
	sessions int
	skips    int
}

func (o *countingObserver) ObserveSession(*CheckoutSession) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions++
}

func (o *countingObserver) ObserveSkip(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skips++
}
