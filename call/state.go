package call

import "fmt"

// State represents the lifecycle state of a call session.
type State uint8

const (
	// StateIdle indicates no call activity.
	StateIdle State = iota
	// StateDialing indicates an outbound DIAL_REQUEST awaits an answer.
	StateDialing
	// StateRinging indicates an inbound DIAL_REQUEST awaits a decision.
	StateRinging
	// StateActive indicates audio is flowing.
	StateActive
	// StateEnded is the terminal state after teardown.
	StateEnded
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDialing:
		return "DIALING"
	case StateRinging:
		return "RINGING"
	case StateActive:
		return "ACTIVE"
	case StateEnded:
		return "ENDED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// validTransitions defines which state transitions are allowed
var validTransitions = map[State][]State{
	StateIdle:    {StateDialing, StateRinging},
	StateDialing: {StateActive, StateIdle},
	StateRinging: {StateActive, StateIdle},
	StateActive:  {StateEnded},
	StateEnded:   {},
}

// CanTransitionTo checks if a transition from s to next is valid.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state.
func (s State) IsTerminal() bool {
	return s == StateEnded
}

// EndReason explains why an active call ended.
type EndReason uint8

const (
	// ReasonLocalHangup means the local user hung up.
	ReasonLocalHangup EndReason = iota
	// ReasonRemoteHangup means the peer sent CALL_END.
	ReasonRemoteHangup
	// ReasonRemoteDisconnect means the signaling connection dropped.
	ReasonRemoteDisconnect
	// ReasonTransportError means the audio socket failed.
	ReasonTransportError
	// ReasonShutdown means the local endpoint shut down.
	ReasonShutdown
)

// String returns the string representation of the end reason.
func (r EndReason) String() string {
	switch r {
	case ReasonLocalHangup:
		return "LocalHangup"
	case ReasonRemoteHangup:
		return "RemoteHangup"
	case ReasonRemoteDisconnect:
		return "RemoteDisconnect"
	case ReasonTransportError:
		return "TransportError"
	case ReasonShutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("EndReason(%d)", uint8(r))
	}
}

// InitiatedByRemote reports whether the peer caused the call to end.
func (r EndReason) InitiatedByRemote() bool {
	return r == ReasonRemoteHangup || r == ReasonRemoteDisconnect
}
