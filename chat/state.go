package chat

import "fmt"

// State represents the lifecycle of a chat session.
type State uint8

const (
	// StateClosed means no chat exists.
	StateClosed State = iota
	// StateRequesting means a request is awaiting an answer, in either direction.
	StateRequesting
	// StateOpen means messages may be exchanged.
	StateOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateRequesting:
		return "REQUESTING"
	case StateOpen:
		return "OPEN"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}
