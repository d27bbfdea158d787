package core

import "testing"

func TestRequestState_SuccessPath(t *testing.T) {
	path := []RequestState{StateReceived, StateValidated, StateInvoking, StateMerged, StateResponded}
	for i := 0; i < len(path)-1; i++ {
		if !path[i].CanTransition(path[i+1]) {
			t.Errorf("expected %s -> %s to be legal", path[i], path[i+1])
		}
	}
}

func TestRequestState_ErroredFromAnyNonTerminal(t *testing.T) {
	for _, s := range []RequestState{StateReceived, StateValidated, StateInvoking, StateMerged} {
		if !s.CanTransition(StateErrored) {
			t.Errorf("expected %s -> ERRORED to be legal", s)
		}
	}
}

func TestRequestState_TerminalStatesAreFinal(t *testing.T) {
	for _, s := range []RequestState{StateResponded, StateErrored} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
		for _, next := range []RequestState{StateReceived, StateValidated, StateInvoking, StateMerged, StateResponded, StateErrored} {
			if s.CanTransition(next) {
				t.Errorf("terminal %s should not transition to %s", s, next)
			}
		}
	}
}

func TestRequestState_NoSkippingForward(t *testing.T) {
	if StateReceived.CanTransition(StateInvoking) {
		t.Error("RECEIVED must not skip VALIDATED")
	}
	if StateValidated.CanTransition(StateMerged) {
		t.Error("VALIDATED must not skip INVOKING")
	}
	if StateInvoking.CanTransition(StateReceived) {
		t.Error("lifecycle must not move backwards")
	}
}
