package audio

import "errors"

// Device errors.
var (
	// ErrDeviceUnavailable indicates the capture or playback device cannot be opened.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrDeviceClosed indicates use of a capture or playback stream after Close.
	ErrDeviceClosed = errors.New("audio device closed")
)

// Engine errors.
var (
	// ErrInvalidConfig indicates an engine was configured without a socket or remote address.
	ErrInvalidConfig = errors.New("invalid audio engine configuration")

	// ErrEngineStarted indicates Start was called twice.
	ErrEngineStarted = errors.New("audio engine already started")
)

// Processing errors.
var (
	// ErrInvalidGain indicates a gain outside the supported range.
	ErrInvalidGain = errors.New("invalid gain")
)
