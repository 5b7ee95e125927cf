// Package limits provides centralized size limits for the lanphone wire protocols.
// This ensures consistent validation across the call, chat and voice message paths.
package limits

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxLineLength is the longest protocol line accepted from a peer, excluding
	// the terminating newline.
	MaxLineLength = 8 * 1024

	// MaxChatText is the maximum size of a single chat message body in bytes.
	MaxChatText = 4096

	// MaxFileNameLength is the maximum length of a voice message file name.
	MaxFileNameLength = 255

	// MaxVoiceMessageSize is the largest declared voice message payload (64 MiB).
	// Larger declarations are treated as protocol errors so a peer cannot make
	// the receiver stream an unbounded amount of data to disk.
	MaxVoiceMessageSize = 64 * 1024 * 1024

	// MaxAudioDatagram is the largest audio frame carried in one UDP datagram.
	MaxAudioDatagram = 1024

	// MaxConnectionsPerListener bounds concurrently served connections on each
	// signaling listener.
	MaxConnectionsPerListener = 64
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrLineBreak indicates a value that must fit on one protocol line contains a line break
	ErrLineBreak = errors.New("value contains line break")

	// ErrInvalidFileName indicates a file name that cannot be stored safely
	ErrInvalidFileName = errors.New("invalid file name")

	// ErrInvalidSize indicates a negative or oversized declared payload size
	ErrInvalidSize = errors.New("invalid declared size")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateChatText validates a chat message body. The text is sent on a single
// protocol line, so it must be non-empty, within MaxChatText and free of line breaks.
func ValidateChatText(text string) error {
	if err := ValidateMessageSize([]byte(text), MaxChatText); err != nil {
		return err
	}
	if strings.ContainsAny(text, "\r\n") {
		return ErrLineBreak
	}
	return nil
}

// ValidateFileName validates a voice message file name as sent on the wire.
// Path separators, parent references and control characters are rejected.
func ValidateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidFileName)
	}
	if len(name) > MaxFileNameLength {
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrInvalidFileName, len(name), MaxFileNameLength)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: control character in %q", ErrInvalidFileName, name)
		}
	}
	return nil
}

// ValidateVoiceMessageSize validates a declared voice message payload size.
func ValidateVoiceMessageSize(size int64) error {
	if size < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if size > MaxVoiceMessageSize {
		return fmt.Errorf("%w: %d exceeds limit %d", ErrInvalidSize, size, MaxVoiceMessageSize)
	}
	return nil
}
