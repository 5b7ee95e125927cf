package event

import (
	"fmt"
	"time"
)

// Type identifies the kind of notification.
type Type uint8

const (
	// TypeIncomingCall reports a DIAL_REQUEST awaiting a decision.
	TypeIncomingCall Type = iota
	// TypeCallActive reports that a call reached the active state.
	TypeCallActive
	// TypeCallEnded reports that an active call was torn down.
	TypeCallEnded
	// TypeCallFailed reports an outbound dial that never became active.
	TypeCallFailed
	// TypeAudioDetected reports the first voiced frame of a call.
	TypeAudioDetected
	// TypeAudioDegraded reports that the audio device is unavailable for a call.
	TypeAudioDegraded
	// TypeIncomingChat reports a CHAT_REQUEST awaiting a decision.
	TypeIncomingChat
	// TypeChatOpened reports that a chat session is open.
	TypeChatOpened
	// TypeChatMessage carries a received chat message.
	TypeChatMessage
	// TypeChatClosed reports that a chat session closed.
	TypeChatClosed
	// TypeVoiceMessageReceived reports a stored voice message.
	TypeVoiceMessageReceived
)

// String returns the string representation of the event type.
func (t Type) String() string {
	switch t {
	case TypeIncomingCall:
		return "IncomingCall"
	case TypeCallActive:
		return "CallActive"
	case TypeCallEnded:
		return "CallEnded"
	case TypeCallFailed:
		return "CallFailed"
	case TypeAudioDetected:
		return "AudioDetected"
	case TypeAudioDegraded:
		return "AudioDegraded"
	case TypeIncomingChat:
		return "IncomingChat"
	case TypeChatOpened:
		return "ChatOpened"
	case TypeChatMessage:
		return "ChatMessage"
	case TypeChatClosed:
		return "ChatClosed"
	case TypeVoiceMessageReceived:
		return "VoiceMessageReceived"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Event is one notification. Only the fields relevant to Type are set.
type Event struct {
	Type      Type
	Remote    string
	Time      time.Time
	SessionID string

	// Call fields.
	InitiatedByRemote bool
	Reason            string
	Degraded          bool
	Err               error

	// Chat fields.
	Text string

	// Voice message fields.
	FileName   string
	StoredPath string
	Declared   int64
	Received   int64
	Complete   bool
}

// String returns a short human-readable description.
func (e Event) String() string {
	switch e.Type {
	case TypeCallEnded:
		return fmt.Sprintf("%s remote=%s byRemote=%t reason=%s", e.Type, e.Remote, e.InitiatedByRemote, e.Reason)
	case TypeCallFailed:
		return fmt.Sprintf("%s remote=%s err=%v", e.Type, e.Remote, e.Err)
	case TypeChatMessage:
		return fmt.Sprintf("%s remote=%s text=%q", e.Type, e.Remote, e.Text)
	case TypeVoiceMessageReceived:
		return fmt.Sprintf("%s remote=%s file=%s %d/%d complete=%t", e.Type, e.Remote, e.FileName, e.Received, e.Declared, e.Complete)
	default:
		return fmt.Sprintf("%s remote=%s", e.Type, e.Remote)
	}
}
