package call

import "errors"

// Dial errors. Each outcome is distinguishable with errors.Is.
var (
	// ErrBusy indicates a call is already being dialed, ringing or active.
	ErrBusy = errors.New("call already in progress")

	// ErrDialRejected indicates the peer answered DIAL_REJECT.
	ErrDialRejected = errors.New("call rejected by peer")

	// ErrDialTimeout indicates the peer did not answer in time.
	ErrDialTimeout = errors.New("call request timed out")

	// ErrDialFailed indicates a transport failure while dialing.
	ErrDialFailed = errors.New("call transport failed")

	// ErrDialCollision indicates the dial was abandoned in favor of a
	// simultaneous inbound call from the same peer.
	ErrDialCollision = errors.New("call superseded by simultaneous inbound call")

	// ErrDialCancelled indicates the dial was cancelled locally.
	ErrDialCancelled = errors.New("call dial cancelled")

	// ErrProtocol indicates the peer sent an unexpected verb.
	ErrProtocol = errors.New("call protocol error")
)

// Call control errors.
var (
	// ErrNoActiveCall indicates there is no call to act on.
	ErrNoActiveCall = errors.New("no active call")

	// ErrInvalidTransition indicates an invalid state transition.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Manager state errors.
var (
	// ErrManagerClosed indicates the manager has been shut down.
	ErrManagerClosed = errors.New("call manager is closed")
)
