package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/checkout-sim/checkout-sim/sim/trace"
)

// sessionNamespace scopes deterministic session UUIDs.
var sessionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("checkout-sim/session"))

// Observer receives generation outcomes. Implementations must be safe for
// concurrent use; sim/telemetry provides the Prometheus-backed one.
type Observer interface {
	ObserveSession(s *CheckoutSession)
	ObserveSkip(reason string)
}

// Population is the output of one simulation run.
type Population struct {
	Sessions []*CheckoutSession // in (day, user) order
	Skipped  int                // identifiers rejected and skipped
	Quality  *trace.QualityTrace
}

// Assignments returns the number of sessions per variant.
func (p *Population) Assignments() map[Variant]int {
	counts := make(map[Variant]int, len(Variants))
	for _, s := range p.Sessions {
		counts[s.Variant]++
	}
	return counts
}

// Records flattens every session into event records.
func (p *Population) Records() []EventRecord {
	var out []EventRecord
	for _, s := range p.Sessions {
		out = append(out, s.Records()...)
	}
	return out
}

// FunnelSimulator generates checkout sessions for one experiment configuration.
// It holds no mutable state after construction; every session draws from its
// own stream keyed by (seed, user id).
type FunnelSimulator struct {
	cfg      Config
	table    *TransitionTable
	assigner *AssignmentEngine
	rng      *PartitionedRNG
	observer Observer
	traceCfg trace.TraceConfig
}

// Option customizes a FunnelSimulator.
type Option func(*FunnelSimulator)

// WithObserver attaches a generation observer.
func WithObserver(o Observer) Option {
	return func(s *FunnelSimulator) { s.observer = o }
}

// WithTraceConfig sets the data-quality trace level for runs.
func WithTraceConfig(tc trace.TraceConfig) Option {
	return func(s *FunnelSimulator) { s.traceCfg = tc }
}

// NewFunnelSimulator validates cfg and derives the transition table.
// Returns *ConfigurationError or *SimulationConfigError before anything is generated.
func NewFunnelSimulator(cfg Config, opts ...Option) (*FunnelSimulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table, err := NewTransitionTable(cfg)
	if err != nil {
		return nil, err
	}
	assigner, err := NewAssignmentEngine(cfg)
	if err != nil {
		return nil, err
	}
	s := &FunnelSimulator{
		cfg:      cfg,
		table:    table,
		assigner: assigner,
		rng:      NewPartitionedRNG(NewSimulationKey(cfg.Experiment.Seed)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the configuration the simulator was built with.
func (s *FunnelSimulator) Config() Config { return s.cfg }

// Table returns the derived transition table.
func (s *FunnelSimulator) Table() *TransitionTable { return s.table }

// UserID formats the synthetic identifier of the i-th user on day.
func UserID(day time.Time, i int) string {
	return fmt.Sprintf("user_%s_%06d", day.Format(DateLayout), i)
}

// SimulateUser assigns userID and walks its session on the given day.
// Returns *InvalidIdentifierError for malformed identifiers.
func (s *FunnelSimulator) SimulateUser(userID string, day time.Time) (*CheckoutSession, error) {
	rng := s.rng.StreamFor(UserStream(userID))
	exposedAt := day.Add(time.Duration(rng.Float64() * float64(24*time.Hour)))
	a, err := s.assigner.Assign(userID, exposedAt)
	if err != nil {
		return nil, err
	}
	return s.walk(a, rng), nil
}

// SimulateSession walks the funnel for an existing assignment.
// The same assignment, seed and config always produce the same session.
func (s *FunnelSimulator) SimulateSession(a UserAssignment) *CheckoutSession {
	rng := s.rng.StreamFor(UserStream(a.UserID))
	rng.Float64() // exposure draw, keeps streams aligned with SimulateUser
	return s.walk(a, rng)
}

func (s *FunnelSimulator) walk(a UserAssignment, rng *rand.Rand) *CheckoutSession {
	session := &CheckoutSession{
		SessionID: uuid.NewSHA1(sessionNamespace, []byte(fmt.Sprintf("%d/%s", s.cfg.Experiment.Seed, a.UserID))).String(),
		UserID:    a.UserID,
		Variant:   a.Variant,
		ExposedAt: a.ExposedAt,
		Payment:   PaymentNotAttempted,
	}

	state := StateAddToCart
	ts := a.ExposedAt
	index := 0
	for !state.Terminal() {
		edge, _ := s.table.Edge(state)
		ev := StepEvent{
			Step:      state,
			Index:     index,
			Timestamp: ts,
			LatencyMs: edge.Latency.Sample(rng),
		}
		if p := edge.FormErrorRate(a.Variant); p > 0 && rng.Float64() < p {
			ev.Error = true
			ev.ErrorCode = formErrorCodes[rng.Intn(len(formErrorCodes))]
			fields := stepFields[state]
			ev.Field = "unknown_field"
			if len(fields) > 0 {
				ev.Field = fields[rng.Intn(len(fields))]
			}
		}
		session.append(ev)

		if state == StatePaymentAttempt {
			session.PaymentMethod = s.table.paymentMethods[rng.Intn(len(s.table.paymentMethods))]
		}
		next := StateAbandoned
		if rng.Float64() < edge.Retention(a.Variant) {
			next = edge.To
		}
		if state == StatePaymentAttempt {
			if next == StateOrderCompleted {
				session.Payment = PaymentAuthorized
				value := s.table.orderValue[variantIndex(a.Variant)].Sample(rng)
				session.OrderValue = &value
			} else {
				session.Payment = PaymentDeclined
			}
		}

		gap := gapHours[next]
		hours := gap[0] + rng.Float64()*(gap[1]-gap[0])
		ts = ts.Add(time.Duration(ev.LatencyMs*float64(time.Millisecond)) + time.Duration(hours*float64(time.Hour)))
		state = next
		index++
	}
	session.append(StepEvent{Step: state, Index: index, Timestamp: ts})
	session.Outcome = state
	return session
}

// Run simulates cfg.Experiment.Days days of cfg.Experiment.UsersPerDay users each.
func (s *FunnelSimulator) Run(ctx context.Context) (*Population, error) {
	start := s.cfg.StartTime()
	pop := &Population{Quality: trace.NewQualityTrace(s.traceCfg)}
	for d := 0; d < s.cfg.Experiment.Days; d++ {
		day := start.AddDate(0, 0, d)
		ids := make([]string, s.cfg.Experiment.UsersPerDay)
		for i := range ids {
			ids[i] = UserID(day, i)
		}
		sessions, err := s.runUsers(ctx, ids, day, pop.Quality)
		if err != nil {
			return nil, fmt.Errorf("simulating %s: %w", day.Format(DateLayout), err)
		}
		pop.Sessions = append(pop.Sessions, sessions...)
		pop.Skipped += len(ids) - len(sessions)

		completed := 0
		for _, session := range sessions {
			if session.Completed() {
				completed++
			}
		}
		logrus.Infof("Day %s: %d sessions, %d orders, uplift=%.2f%%",
			day.Format(DateLayout), len(sessions), completed, s.cfg.Experiment.Uplift*100)
	}
	return pop, nil
}

// RunUsers simulates one session per identifier on day. Generation is
// parallel across users; output order follows userIDs. Malformed identifiers
// are skipped and tallied; the batch fails only if all of them are malformed.
func (s *FunnelSimulator) RunUsers(ctx context.Context, userIDs []string, day time.Time) (*Population, error) {
	pop := &Population{Quality: trace.NewQualityTrace(s.traceCfg)}
	sessions, err := s.runUsers(ctx, userIDs, day, pop.Quality)
	if err != nil {
		return nil, err
	}
	pop.Sessions = sessions
	pop.Skipped = len(userIDs) - len(sessions)
	return pop, nil
}

func (s *FunnelSimulator) runUsers(ctx context.Context, userIDs []string, day time.Time, qt *trace.QualityTrace) ([]*CheckoutSession, error) {
	dayStr := day.Format(DateLayout)
	slots := make([]*CheckoutSession, len(userIDs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers())
	for i, id := range userIDs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			session, err := s.SimulateUser(id, day)
			var idErr *InvalidIdentifierError
			switch {
			case errors.As(err, &idErr):
				qt.RecordSkip(trace.SkipRecord{UserID: id, Day: dayStr, Reason: idErr.Reason})
				if s.observer != nil {
					s.observer.ObserveSkip(idErr.Reason)
				}
				return nil
			case err != nil:
				return err
			}
			slots[i] = session
			if s.observer != nil {
				s.observer.ObserveSession(session)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sessions := make([]*CheckoutSession, 0, len(slots))
	for _, session := range slots {
		if session != nil {
			sessions = append(sessions, session)
		}
	}
	if len(userIDs) > 0 && len(sessions) == 0 {
		return nil, fmt.Errorf("%d identifiers on %s: %w", len(userIDs), dayStr, ErrAllIdentifiersInvalid)
	}
	if skipped := len(userIDs) - len(sessions); skipped > 0 {
		logrus.Warnf("Skipped %d of %d users on %s (invalid identifiers)", skipped, len(userIDs), dayStr)
	}
	return sessions, nil
}

func (s *FunnelSimulator) workers() int {
	if s.cfg.Experiment.Workers > 0 {
		return s.cfg.Experiment.Workers
	}
	return runtime.GOMAXPROCS(0)
}
