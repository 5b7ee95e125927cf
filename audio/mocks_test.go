package audio

import (
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/opd-ai/lanphone/event"
)

// toneFrame returns a frame whose samples alternate between +amp and -amp.
func toneFrame(amp int16) []byte {
	samples := make([]int16, FrameSamples)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amp
		} else {
			samples[i] = -amp
		}
	}
	frame := make([]byte, FrameBytes)
	PutSamples(frame, samples)
	return frame
}

// scriptedCapture returns the scripted frames, then paced silence.
type scriptedCapture struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	reads  int
}

func (c *scriptedCapture) ReadFrame(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrDeviceClosed
	}
	c.reads++
	if len(c.frames) > 0 {
		f := c.frames[0]
		c.frames = c.frames[1:]
		c.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		return copy(p, f), nil
	}
	c.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	return 0, nil
}

func (c *scriptedCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptedCapture) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// sinkPlayback records every frame it is given.
type sinkPlayback struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (s *sinkPlayback) WriteFrame(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), p...))
	return nil
}

func (s *sinkPlayback) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *sinkPlayback) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type fakeDevice struct {
	capture    *scriptedCapture
	playback   *sinkPlayback
	captureErr error
}

func (d *fakeDevice) OpenCapture() (Capture, error) {
	if d.captureErr != nil {
		return nil, d.captureErr
	}
	return d.capture, nil
}

func (d *fakeDevice) OpenPlayback() (Playback, error) {
	return d.playback, nil
}

// collector is an event.Publisher that keeps every event.
type collector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *collector) Publish(e event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) ofType(t event.Type) []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []event.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// flakyConn fails the first failures writes, or every write when failures
// is negative, then delegates to the wrapped socket.
type flakyConn struct {
	net.PacketConn

	mu       sync.Mutex
	failures int
	failed   int
}

func (c *flakyConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	if c.failures < 0 || c.failed < c.failures {
		c.failed++
		c.mu.Unlock()
		return 0, &net.OpError{Op: "write", Net: "udp", Addr: addr, Err: syscall.EHOSTUNREACH}
	}
	c.mu.Unlock()
	return c.PacketConn.WriteTo(p, addr)
}

func (c *flakyConn) failedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}
