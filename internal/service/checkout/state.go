package checkout

import (
	"fmt"

	"imi-storefront/internal/domain"
)

// State is a checkout step.
type State string

const (
	StateAddress      State = "address"
	StatePayment      State = "payment"
	StateRedirecting  State = "redirect"
	StateCodConfirmed State = "cod-confirmed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateRedirecting || s == StateCodConfirmed
}

// Event drives a transition.
type Event string

const (
	EventAddressAccepted Event = "address-accepted"
	EventBack            Event = "back"
	EventRedirected      Event = "redirected"
	EventCodConfirmed    Event = "cod-confirmed"
)

var transitions = map[State]map[Event]State{
	StateAddress: {
		EventAddressAccepted: StatePayment,
	},
	StatePayment: {
		EventBack:         StateAddress,
		EventRedirected:   StateRedirecting,
		EventCodConfirmed: StateCodConfirmed,
	},
}

// Transition returns the state reached from s on ev. Skipping steps and
// leaving a terminal state are errors wrapping domain.ErrInvalidTransition.
func Transition(s State, ev Event) (State, error) {
	if next, ok := transitions[s][ev]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s on %s", domain.ErrInvalidTransition, ev, s)
}
