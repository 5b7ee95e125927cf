package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Protocol errors.
var (
	// ErrLineTooLong indicates a peer sent a line longer than limits.MaxLineLength.
	ErrLineTooLong = errors.New("protocol line too long")

	// ErrUnexpectedVerb indicates a peer sent a verb that is not valid at this point.
	ErrUnexpectedVerb = errors.New("unexpected verb")

	// ErrConnectionClosed indicates the connection has been closed locally.
	ErrConnectionClosed = errors.New("connection closed")
)

// OpError represents a network error with the operation and peer address
// that produced it.
type OpError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *OpError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("wire %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("wire %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// newOpError creates a new OpError
func newOpError(op, addr string, err error) *OpError {
	return &OpError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}

// IsTimeout reports whether err was caused by a deadline or timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsClosed reports whether err came from using a connection after Close.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, ErrConnectionClosed)
}
