package voicemsg

import "errors"

// Header errors.
var (
	// ErrProtocol indicates a malformed voice message header.
	ErrProtocol = errors.New("voice message protocol error")

	// ErrDirectoryTraversal indicates an attempt to access files outside the store directory.
	ErrDirectoryTraversal = errors.New("path contains directory traversal")
)

// Transfer errors.
var (
	// ErrIncomplete indicates the stream ended before the declared size arrived.
	ErrIncomplete = errors.New("voice message incomplete")

	// ErrSourceShort indicates the sender's source ended before the declared size.
	ErrSourceShort = errors.New("voice message source shorter than declared size")
)
