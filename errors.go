package lanphone

import "errors"

// Phone lifecycle errors.
var (
	// ErrNotStarted indicates an operation that needs the listeners running.
	ErrNotStarted = errors.New("phone not started")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("phone already started")

	// ErrKilled indicates the phone has been shut down.
	ErrKilled = errors.New("phone has been killed")
)

// Option errors.
var (
	// ErrInvalidOptions indicates options that cannot be used.
	ErrInvalidOptions = errors.New("invalid options")
)
