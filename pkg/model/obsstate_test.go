package model

import "testing"

func TestObsStateTransitions(t *testing.T) {
	tests := []struct {
		from, to ObsState
		want     bool
	}{
		{ObsStateEmpty, ObsStateResourcing, true},
		{ObsStateResourcing, ObsStateIdle, true},
		{ObsStateResourcing, ObsStateEmpty, true},
		{ObsStateIdle, ObsStateConfiguring, true},
		{ObsStateConfiguring, ObsStateReady, true},
		{ObsStateConfiguring, ObsStateIdle, true},
		{ObsStateConfiguring, ObsStateFault, true},
		{ObsStateReady, ObsStateScanning, true},
		{ObsStateReady, ObsStateConfiguring, true},
		{ObsStateScanning, ObsStateReady, true},
		{ObsStateScanning, ObsStateAborting, true},
		{ObsStateAborting, ObsStateAborted, true},
		{ObsStateAborted, ObsStateResetting, true},
		{ObsStateAborted, ObsStateRestarting, true},
		{ObsStateResetting, ObsStateIdle, true},
		{ObsStateRestarting, ObsStateEmpty, true},
		{ObsStateFault, ObsStateRestarting, true},

		{ObsStateEmpty, ObsStateConfiguring, false},
		{ObsStateIdle, ObsStateScanning, false},
		{ObsStateScanning, ObsStateIdle, false},
		{ObsStateAborted, ObsStateIdle, false},
		{ObsStateFault, ObsStateResetting, false},
		{ObsStateFault, ObsStateIdle, false},
	}

	for _, tc := range tests {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestObsStateOrdinal(t *testing.T) {
	for i, st := range ObsStates {
		if got := st.Ordinal(); got != i {
			t.Errorf("%s.Ordinal() = %d, want %d", st, got, i)
		}
	}
	if got := ObsState("NOPE").Ordinal(); got != -1 {
		t.Errorf("unknown state ordinal = %d, want -1", got)
	}
}

func TestObsStateIsTransient(t *testing.T) {
	transient := map[ObsState]bool{
		ObsStateResourcing: true,
		ObsStateConfiguring: true,
		ObsStateAborting:   true,
		ObsStateResetting:  true,
		ObsStateRestarting: true,
	}
	for _, st := range ObsStates {
		if got := st.IsTransient(); got != transient[st] {
			t.Errorf("%s.IsTransient() = %v, want %v", st, got, transient[st])
		}
	}
}
