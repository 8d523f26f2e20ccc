package sim

import "fmt"

// State is a node of the checkout funnel state machine.
type State string

const (
	StateAddToCart      State = "add_to_cart"
	StateBeginCheckout  State = "begin_checkout"
	StateAddress        State = "address"
	StateShipping       State = "shipping"
	StatePayment        State = "payment"
	StateReview         State = "review"
	StatePaymentAttempt State = "payment_attempt"
	StateOrderCompleted State = "order_completed"
	StateAbandoned      State = "abandoned"
)

// nonTerminalStates lists the funnel in walk order. Each has exactly one
// forward edge; Abandoned is reachable from all of them.
var nonTerminalStates = []State{
	StateAddToCart,
	StateBeginCheckout,
	StateAddress,
	StateShipping,
	StatePayment,
	StateReview,
	StatePaymentAttempt,
}

// CheckoutSteps are the form steps between begin_checkout and payment_attempt.
var CheckoutSteps = []State{StateAddress, StateShipping, StatePayment, StateReview}

// NonTerminalStates returns the funnel states in walk order.
func NonTerminalStates() []State {
	out := make([]State, len(nonTerminalStates))
	copy(out, nonTerminalStates)
	return out
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateOrderCompleted || s == StateAbandoned
}

// IsCheckoutStep reports whether s is one of the four form steps.
func (s State) IsCheckoutStep() bool {
	switch s {
	case StateAddress, StateShipping, StatePayment, StateReview:
		return true
	}
	return false
}

// CheckoutStepIndex returns the 0-based position of s among CheckoutSteps, or -1.
func (s State) CheckoutStepIndex() int {
	for i, step := range CheckoutSteps {
		if step == s {
			return i
		}
	}
	return -1
}

func isNonTerminal(s State) bool {
	for _, n := range nonTerminalStates {
		if n == s {
			return true
		}
	}
	return false
}

// nextState returns the forward successor of a non-terminal state.
// The successor of payment_attempt is order_completed (authorization succeeded).
func nextState(s State) State {
	for i, n := range nonTerminalStates {
		if n == s {
			if i+1 < len(nonTerminalStates) {
				return nonTerminalStates[i+1]
			}
			return StateOrderCompleted
		}
	}
	return StateAbandoned
}

// gapHours is the [min, max) think time before entering a state, in hours.
var gapHours = map[State][2]float64{
	StateBeginCheckout:  {0.01, 0.1},
	StateAddress:        {0.005, 0.02},
	StateShipping:       {0.005, 0.02},
	StatePayment:        {0.005, 0.02},
	StateReview:         {0.005, 0.02},
	StatePaymentAttempt: {0.01, 0.03},
	StateOrderCompleted: {0.001, 0.01},
	StateAbandoned:      {0.001, 0.01},
}

// Form error vocabulary for diagnostic events.
var (
	formErrorCodes = []string{"invalid", "declined", "timeout"}
	stepFields     = map[State][]string{
		StateAddress:  {"street", "city", "state", "zip", "country"},
		StateShipping: {"method", "instructions"},
		StatePayment:  {"card_number", "cvv", "expiry", "billing_zip"},
		StateReview:   {"terms_acceptance", "newsletter_opt_in"},
	}
)

// Transition is one forward edge of the funnel with variant-dependent parameters.
type Transition struct {
	From      State
	To        State
	retention [2]float64 // indexed by variantIndex
	formError [2]float64
	Latency   ValueSampler
}

// Retention is the probability of taking the forward edge instead of abandoning.
// For payment_attempt it is the authorization probability.
func (t *Transition) Retention(v Variant) float64 { return t.retention[variantIndex(v)] }

// FormErrorRate is the per-visit probability of a diagnostic form error.
func (t *Transition) FormErrorRate(v Variant) float64 { return t.formError[variantIndex(v)] }

// Name renders the edge as "from->to".
func (t *Transition) Name() string { return fmt.Sprintf("%s->%s", t.From, t.To) }

func variantIndex(v Variant) int {
	if v == Treatment {
		return 1
	}
	return 0
}

// TransitionTable is the immutable, fully-derived funnel for one uplift.
type TransitionTable struct {
	edges          map[State]*Transition
	orderValue     [2]ValueSampler
	paymentMethods []string
	uplift         float64
}

// NewTransitionTable derives treatment probabilities from the config.
// Returns *SimulationConfigError if any derived probability leaves [0,1].
func NewTransitionTable(cfg Config) (*TransitionTable, error) {
	uplift := cfg.Experiment.Uplift
	if uplift < 0 {
		return nil, &ConfigurationError{Param: "experiment.uplift", Constraint: "be non-negative", Value: uplift}
	}
	table := &TransitionTable{
		edges:          make(map[State]*Transition, len(nonTerminalStates)),
		paymentMethods: cfg.Funnel.PaymentMethods,
		uplift:         uplift,
	}
	for _, state := range nonTerminalStates {
		tc, ok := cfg.Funnel.Transitions[string(state)]
		if !ok {
			return nil, &ConfigurationError{Param: "funnel.transitions." + string(state), Constraint: "be present"}
		}
		latency, err := NewValueSampler(tc.Latency)
		if err != nil {
			return nil, &ConfigurationError{Param: "funnel.transitions." + string(state) + ".latency", Constraint: err.Error()}
		}
		edge := &Transition{From: state, To: nextState(state), Latency: latency}
		edge.retention[0] = tc.Retention
		edge.retention[1] = tc.Retention * (1 + uplift*tc.UpliftScale)
		edge.formError[0] = tc.FormErrorRate
		edge.formError[1] = tc.FormErrorRate * (1 + uplift*cfg.Funnel.ErrorUpliftScale)
		for i, v := range Variants {
			if !isProbability(edge.retention[i]) {
				return nil, &SimulationConfigError{Transition: edge.Name(), Variant: v, Probability: edge.retention[i]}
			}
			if !isProbability(edge.formError[i]) {
				return nil, &SimulationConfigError{Transition: string(state) + " form_error", Variant: v, Probability: edge.formError[i]}
			}
		}
		table.edges[state] = edge
	}

	control, err := NewValueSampler(cfg.Funnel.OrderValue.Control)
	if err != nil {
		return nil, &ConfigurationError{Param: "funnel.order_value.control", Constraint: err.Error()}
	}
	treatment := control
	if spec := cfg.Funnel.OrderValue.Treatment; spec != nil {
		if treatment, err = NewValueSampler(*spec); err != nil {
			return nil, &ConfigurationError{Param: "funnel.order_value.treatment", Constraint: err.Error()}
		}
	}
	table.orderValue = [2]ValueSampler{control, treatment}
	if len(table.paymentMethods) == 0 {
		return nil, &ConfigurationError{Param: "funnel.payment_methods", Constraint: "list at least one method"}
	}
	return table, nil
}

// Edge returns the forward edge leaving s; ok is false for terminal states.
func (t *TransitionTable) Edge(s State) (*Transition, bool) {
	e, ok := t.edges[s]
	return e, ok
}

// Uplift is the treatment uplift the table was derived with.
func (t *TransitionTable) Uplift() float64 { return t.uplift }

// ExpectedConversion is the product of retentions along the funnel: the
// expected completed-orders / add-to-cart ratio for a variant.
func (t *TransitionTable) ExpectedConversion(v Variant) float64 {
	p := 1.0
	for _, s := range nonTerminalStates {
		p *= t.edges[s].Retention(v)
	}
	return p
}

func isProbability(p float64) bool {
	return p >= 0 && p <= 1
}
