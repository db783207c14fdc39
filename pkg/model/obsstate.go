package model

// ObsState represents the observation lifecycle state of a subarray.
type ObsState string

const (
	ObsStateEmpty       ObsState = "EMPTY"
	ObsStateResourcing  ObsState = "RESOURCING"
	ObsStateIdle        ObsState = "IDLE"
	ObsStateConfiguring ObsState = "CONFIGURING"
	ObsStateReady       ObsState = "READY"
	ObsStateScanning    ObsState = "SCANNING"
	ObsStateAborting    ObsState = "ABORTING"
	ObsStateAborted     ObsState = "ABORTED"
	ObsStateResetting   ObsState = "RESETTING"
	ObsStateRestarting  ObsState = "RESTARTING"
	ObsStateFault       ObsState = "FAULT"
)

// ObsStates lists every state in a fixed order. The position of a state in
// this slice is its numeric encoding for metrics and wire payloads.
var ObsStates = []ObsState{
	ObsStateEmpty,
	ObsStateResourcing,
	ObsStateIdle,
	ObsStateConfiguring,
	ObsStateReady,
	ObsStateScanning,
	ObsStateAborting,
	ObsStateAborted,
	ObsStateResetting,
	ObsStateRestarting,
	ObsStateFault,
}

// String returns the string representation of the observation state.
func (s ObsState) String() string {
	return string(s)
}

// Ordinal returns the numeric encoding of the state, or -1 if unknown.
func (s ObsState) Ordinal() int {
	for i, st := range ObsStates {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTransient returns true for states that a subarray passes through while
// a lifecycle command executes and never rests in.
func (s ObsState) IsTransient() bool {
	switch s {
	case ObsStateResourcing, ObsStateConfiguring, ObsStateAborting,
		ObsStateResetting, ObsStateRestarting:
		return true
	}
	return false
}

// ValidObsTransitions defines the allowed observation state transitions.
var ValidObsTransitions = map[ObsState][]ObsState{
	ObsStateEmpty:       {ObsStateResourcing},
	ObsStateResourcing:  {ObsStateIdle, ObsStateEmpty},
	ObsStateIdle:        {ObsStateResourcing, ObsStateConfiguring, ObsStateAborting},
	ObsStateConfiguring: {ObsStateReady, ObsStateIdle, ObsStateAborting, ObsStateFault},
	ObsStateReady:       {ObsStateScanning, ObsStateIdle, ObsStateConfiguring, ObsStateAborting},
	ObsStateScanning:    {ObsStateReady, ObsStateAborting},
	ObsStateAborting:    {ObsStateAborted},
	ObsStateAborted:     {ObsStateResetting, ObsStateRestarting},
	ObsStateResetting:   {ObsStateIdle},
	ObsStateRestarting:  {ObsStateEmpty},
	ObsStateFault:       {ObsStateRestarting},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s ObsState) CanTransitionTo(next ObsState) bool {
	for _, allowed := range ValidObsTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
