package lanphone

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opd-ai/lanphone/audio"
	"github.com/opd-ai/lanphone/event"
	"github.com/stretchr/testify/require"
)

// toneDevice captures loud frames paced a few milliseconds apart and
// counts played frames.
type toneDevice struct {
	amp    int16
	played atomic.Int64
}

func (d *toneDevice) OpenCapture() (audio.Capture, error) {
	samples := make([]int16, audio.FrameSamples)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = d.amp
		} else {
			samples[i] = -d.amp
		}
	}
	frame := make([]byte, audio.FrameBytes)
	audio.PutSamples(frame, samples)
	return &toneCapture{frame: frame, done: make(chan struct{})}, nil
}

func (d *toneDevice) OpenPlayback() (audio.Playback, error) {
	return &countingPlayback{played: &d.played}, nil
}

type toneCapture struct {
	frame []byte
	once  sync.Once
	done  chan struct{}
}

func (c *toneCapture) ReadFrame(p []byte) (int, error) {
	select {
	case <-c.done:
		return 0, audio.ErrDeviceClosed
	case <-time.After(5 * time.Millisecond):
	}
	return copy(p, c.frame), nil
}

func (c *toneCapture) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type countingPlayback struct {
	played *atomic.Int64
}

func (p *countingPlayback) WriteFrame([]byte) error {
	p.played.Add(1)
	return nil
}

func (p *countingPlayback) Close() error { return nil }

// recordingListener collects notifications delivered by event.Dispatch.
type recordingListener struct {
	mu            sync.Mutex
	active        []string
	ended         []bool
	failed        []error
	detected      int
	chatOpened    int
	chatMessages  []string
	chatClosed    int
	voiceMessages []string
}

func (l *recordingListener) OnCallActive(remote string, _ bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = append(l.active, remote)
}

func (l *recordingListener) OnCallEnded(_ string, byRemote bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended = append(l.ended, byRemote)
}

func (l *recordingListener) OnCallFailed(_ string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, err)
}

func (l *recordingListener) OnAudioDetected(string, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detected++
}

func (l *recordingListener) OnChatOpened(string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chatOpened++
}

func (l *recordingListener) OnChatMessage(_, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chatMessages = append(l.chatMessages, text)
}

func (l *recordingListener) OnChatClosed(string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chatClosed++
}

func (l *recordingListener) OnVoiceMessageReceived(fileName, _ string, complete bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if complete {
		l.voiceMessages = append(l.voiceMessages, fileName)
	}
}

// view runs f with the listener locked.
func (l *recordingListener) view(f func(l *recordingListener)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f(l)
}

// countingDecider accepts everything and counts how often it was asked.
type countingDecider struct {
	calls atomic.Int32
	chats atomic.Int32
}

func (d *countingDecider) DecideCall(context.Context, string) bool {
	d.calls.Add(1)
	return true
}

func (d *countingDecider) DecideChat(context.Context, string) bool {
	d.chats.Add(1)
	return true
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).Port
}

var _ event.Listener = (*recordingListener)(nil)
