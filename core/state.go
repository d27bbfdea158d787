package core

// RequestState tracks a request through its dispatch lifecycle. A request
// moves strictly forward through the success path and may drop into
// StateErrored from any non-terminal state; the two terminal states are
// StateResponded and StateErrored.
type RequestState int

const (
	// StateReceived is the initial state of a consumed request envelope.
	StateReceived RequestState = iota
	// StateValidated means arguments passed schema validation and coercion.
	StateValidated
	// StateInvoking means the tool handler is executing.
	StateInvoking
	// StateMerged means the session context absorbed the invocation outcome.
	StateMerged
	// StateResponded means the response envelope has been produced.
	StateResponded
	// StateErrored is the terminal failure state.
	StateErrored
)

// String returns the state name.
func (s RequestState) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateValidated:
		return "VALIDATED"
	case StateInvoking:
		return "INVOKING"
	case StateMerged:
		return "MERGED"
	case StateResponded:
		return "RESPONDED"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are allowed.
func (s RequestState) Terminal() bool {
	return s == StateResponded || s == StateErrored
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step: one step forward along the success path, or into StateErrored from
// any non-terminal state.
func (s RequestState) CanTransition(next RequestState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateErrored {
		return true
	}
	return next == s+1
}
