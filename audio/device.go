package audio

import (
	"fmt"
	"sync"
	"time"
)

// Capture yields recorded frames. ReadFrame fills p with up to one frame and
// must return within about one frame duration.
type Capture interface {
	ReadFrame(p []byte) (int, error)
	Close() error
}

// Playback consumes frames. WriteFrame must not retain p after returning.
type Playback interface {
	WriteFrame(p []byte) error
	Close() error
}

// Device opens capture and playback streams in DefaultFormat.
type Device interface {
	OpenCapture() (Capture, error)
	OpenPlayback() (Playback, error)
}

// NullDevice captures paced silence and discards playback.
type NullDevice struct{}

// OpenCapture returns a silent capture stream paced at real time.
func (NullDevice) OpenCapture() (Capture, error) {
	return &silentCapture{
		ticker: time.NewTicker(FrameDuration),
		done:   make(chan struct{}),
	}, nil
}

// OpenPlayback returns a playback stream that discards frames.
func (NullDevice) OpenPlayback() (Playback, error) {
	return discardPlayback{}, nil
}

type silentCapture struct {
	ticker *time.Ticker
	once   sync.Once
	done   chan struct{}
}

func (s *silentCapture) ReadFrame(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, ErrDeviceClosed
	case <-s.ticker.C:
	}
	n := min(len(p), FrameBytes)
	clear(p[:n])
	return n, nil
}

func (s *silentCapture) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
	return nil
}

type discardPlayback struct{}

func (discardPlayback) WriteFrame([]byte) error { return nil }
func (discardPlayback) Close() error            { return nil }

// UnavailableDevice fails to open either stream. It models hosts without
// sound hardware.
type UnavailableDevice struct {
	Reason string
}

// OpenCapture always fails with ErrDeviceUnavailable.
func (u UnavailableDevice) OpenCapture() (Capture, error) {
	return nil, u.err("capture")
}

// OpenPlayback always fails with ErrDeviceUnavailable.
func (u UnavailableDevice) OpenPlayback() (Playback, error) {
	return nil, u.err("playback")
}

func (u UnavailableDevice) err(kind string) error {
	if u.Reason == "" {
		return fmt.Errorf("%s: %w", kind, ErrDeviceUnavailable)
	}
	return fmt.Errorf("%s: %w: %s", kind, ErrDeviceUnavailable, u.Reason)
}

// CheckCapture reports whether d can open a capture stream. The stream is
// closed immediately.
func CheckCapture(d Device) error {
	c, err := d.OpenCapture()
	if err != nil {
		return err
	}
	return c.Close()
}
