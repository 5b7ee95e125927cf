//go:build portaudio

package portaudio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/opd-ai/lanphone/audio"
	"github.com/sirupsen/logrus"
)

// Available reports whether this build drives real hardware.
const Available = true

// Device opens the default PortAudio streams in audio.DefaultFormat.
type Device struct {
	mu    sync.Mutex
	users int
}

// New returns a PortAudio device. The library is initialized lazily on the
// first open and terminated when the last stream closes.
func New() audio.Device {
	return &Device{}
}

func (d *Device) acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.users == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
		}
	}
	d.users++
	return nil
}

func (d *Device) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users--
	if d.users == 0 {
		if err := portaudio.Terminate(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Device.release",
				"error":    err.Error(),
			}).Warn("PortAudio terminate failed")
		}
	}
}

// OpenCapture opens the default input device.
func (d *Device) OpenCapture() (audio.Capture, error) {
	if err := d.acquire(); err != nil {
		return nil, err
	}
	s := &stream{dev: d, buf: make([]int16, audio.FrameSamples)}
	f := audio.DefaultFormat
	pa, err := portaudio.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), audio.FrameSamples, s.buf)
	if err != nil {
		d.release()
		return nil, fmt.Errorf("%w: open input: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := pa.Start(); err != nil {
		pa.Close()
		d.release()
		return nil, fmt.Errorf("%w: start input: %v", audio.ErrDeviceUnavailable, err)
	}
	s.pa = pa
	logrus.WithField("function", "Device.OpenCapture").Info("PortAudio capture opened")
	return s, nil
}

// OpenPlayback opens the default output device.
func (d *Device) OpenPlayback() (audio.Playback, error) {
	if err := d.acquire(); err != nil {
		return nil, err
	}
	s := &stream{dev: d, buf: make([]int16, audio.FrameSamples)}
	f := audio.DefaultFormat
	pa, err := portaudio.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), audio.FrameSamples, s.buf)
	if err != nil {
		d.release()
		return nil, fmt.Errorf("%w: open output: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := pa.Start(); err != nil {
		pa.Close()
		d.release()
		return nil, fmt.Errorf("%w: start output: %v", audio.ErrDeviceUnavailable, err)
	}
	s.pa = pa
	logrus.WithField("function", "Device.OpenPlayback").Info("PortAudio playback opened")
	return s, nil
}

type stream struct {
	dev *Device
	pa  *portaudio.Stream
	buf []int16

	mu     sync.Mutex
	closed bool
}

func (s *stream) ReadFrame(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, audio.ErrDeviceClosed
	}
	if err := s.pa.Read(); err != nil && err != portaudio.InputOverflowed {
		return 0, err
	}
	return audio.PutSamples(p, s.buf), nil
}

func (s *stream) WriteFrame(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrDeviceClosed
	}
	clear(s.buf)
	copy(s.buf, audio.Samples(p))
	if err := s.pa.Write(); err != nil && err != portaudio.OutputUnderflowed {
		return err
	}
	return nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pa.Stop()
	err := s.pa.Close()
	s.dev.release()
	return err
}
