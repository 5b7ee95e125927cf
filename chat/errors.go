package chat

import "errors"

// Request errors.
var (
	// ErrChatBusy indicates a chat is already being negotiated or is open.
	ErrChatBusy = errors.New("chat already in progress")

	// ErrChatRejected indicates the peer answered CHAT_REJECT.
	ErrChatRejected = errors.New("chat rejected by peer")

	// ErrChatTimeout indicates the peer did not answer in time.
	ErrChatTimeout = errors.New("chat request timed out")

	// ErrChatFailed indicates a transport failure while connecting or chatting.
	ErrChatFailed = errors.New("chat transport failed")

	// ErrProtocol indicates the peer sent an unexpected line.
	ErrProtocol = errors.New("chat protocol error")
)

// Session errors.
var (
	// ErrChatNotOpen indicates there is no open chat to use.
	ErrChatNotOpen = errors.New("no open chat")
)
