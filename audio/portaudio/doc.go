// Package portaudio provides an audio.Device backed by the host's default
// PortAudio input and output.
//
// Real hardware support requires cgo, the PortAudio C library and the
// "portaudio" build tag:
//
//	go build -tags portaudio ./cmd/lanphone
//
// Without the tag, New returns a device that reports audio.ErrDeviceUnavailable,
// so calls run in degraded mode.
package portaudio
