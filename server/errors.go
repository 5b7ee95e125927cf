package server

import "errors"

var (
	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("server already started")

	// ErrNoHandler indicates a listener has no handler configured.
	ErrNoHandler = errors.New("listener has no handler")

	// ErrBind indicates a listener could not bind its port.
	ErrBind = errors.New("cannot bind listener")
)
