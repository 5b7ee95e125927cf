package lanphone

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/lanphone/audio"
	"github.com/opd-ai/lanphone/call"
	"github.com/opd-ai/lanphone/chat"
	"github.com/opd-ai/lanphone/event"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

type testPhone struct {
	*Phone
	listener *recordingListener
	device   *toneDevice
}

// startPhone starts a phone on 127.0.0.1 with ephemeral signaling ports.
func startPhone(t *testing.T, audioPort int, peers Ports, decider event.Decider, amp int16) *testPhone {
	t.Helper()
	opts := NewOptions()
	opts.LocalAddress = "127.0.0.1"
	opts.BindAddress = "127.0.0.1"
	opts.Ports = Ports{Audio: audioPort}
	opts.PeerPorts = peers
	opts.Decider = decider
	opts.Fs = afero.NewMemMapFs()
	opts.CallResponseTimeout = waitFor
	opts.DecisionTimeout = 2 * time.Second

	tp := &testPhone{listener: &recordingListener{}, device: &toneDevice{amp: amp}}
	opts.Device = tp.device

	p, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Kill)
	tp.Phone = p

	go func() { _ = event.Dispatch(context.Background(), p.Events(), tp.listener) }()
	return tp
}

// phonePair starts b, then a configured to reach b.
func phonePair(t *testing.T, bDecider event.Decider) (a, b *testPhone) {
	t.Helper()
	aAudio, bAudio := freeUDPPort(t), freeUDPPort(t)
	b = startPhone(t, bAudio, Ports{Audio: aAudio}, bDecider, 0)
	peers := b.Ports()
	peers.Audio = bAudio
	a = startPhone(t, aAudio, peers, event.RejectAll(), 1000)
	return a, b
}

func TestCallEndToEnd(t *testing.T) {
	decider := &countingDecider{}
	a, b := phonePair(t, decider)

	require.NoError(t, a.Dial(context.Background(), "127.0.0.1"))
	assert.Equal(t, call.StateActive, a.CallState())
	require.Eventually(t, func() bool { return b.CallState() == call.StateActive }, waitFor, 10*time.Millisecond)

	// Audio flows from a to b and speech is reported once.
	require.Eventually(t, func() bool { return b.device.played.Load() >= 5 }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		n := 0
		b.listener.view(func(l *recordingListener) { n = l.detected })
		return n == 1
	}, waitFor, 10*time.Millisecond)
	played := b.device.played.Load()
	require.Eventually(t, func() bool { return b.device.played.Load() >= played+5 }, waitFor, 10*time.Millisecond)
	b.listener.view(func(l *recordingListener) { assert.Equal(t, 1, l.detected) })

	info, ok := b.Call()
	require.True(t, ok)
	assert.True(t, info.Inbound)
	assert.Equal(t, "127.0.0.1", info.Remote)
	assert.Positive(t, info.Stats.FramesReceived)

	require.NoError(t, a.Hangup())
	assert.Equal(t, call.StateIdle, a.CallState())
	require.Eventually(t, func() bool { return b.CallState() == call.StateIdle }, waitFor, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		var aEnded, bEnded []bool
		a.listener.view(func(l *recordingListener) { aEnded = append(aEnded, l.ended...) })
		b.listener.view(func(l *recordingListener) { bEnded = append(bEnded, l.ended...) })
		return len(aEnded) == 1 && len(bEnded) == 1 && !aEnded[0] && bEnded[0]
	}, waitFor, 10*time.Millisecond)

	assert.Equal(t, int32(1), decider.calls.Load())
}

func TestSecondInboundCallIsRejected(t *testing.T) {
	decider := &countingDecider{}
	a, b := phonePair(t, decider)
	require.NoError(t, a.Dial(context.Background(), "127.0.0.1"))
	require.Eventually(t, func() bool { return b.CallState() == call.StateActive }, waitFor, 10*time.Millisecond)

	peers := b.Ports()
	peers.Audio = freeUDPPort(t)
	c := startPhone(t, freeUDPPort(t), peers, event.RejectAll(), 0)

	err := c.Dial(context.Background(), "127.0.0.1")
	assert.ErrorIs(t, err, call.ErrDialRejected)
	assert.Equal(t, call.StateIdle, c.CallState())
	assert.Equal(t, call.StateActive, b.CallState())
	assert.Equal(t, int32(1), decider.calls.Load())

	// A busy caller refuses to place a second call.
	assert.ErrorIs(t, a.Dial(context.Background(), "127.0.0.1"), call.ErrBusy)
}

func TestChatBetweenPhones(t *testing.T) {
	decider := &countingDecider{}
	a, b := phonePair(t, decider)

	require.NoError(t, a.RequestChat(context.Background(), "127.0.0.1"))
	assert.Equal(t, chat.StateOpen, a.ChatState())
	require.Eventually(t, func() bool { return b.ChatState() == chat.StateOpen }, waitFor, 10*time.Millisecond)

	require.NoError(t, a.SendChat("hello b"))
	require.Eventually(t, func() bool {
		var got []string
		b.listener.view(func(l *recordingListener) { got = append(got, l.chatMessages...) })
		return len(got) == 1 && got[0] == "hello b"
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, a.CloseChat())
	require.Eventually(t, func() bool {
		n := 0
		b.listener.view(func(l *recordingListener) { n = l.chatClosed })
		return n == 1
	}, waitFor, 10*time.Millisecond)
	assert.ErrorIs(t, a.SendChat("late"), chat.ErrChatNotOpen)
}

func TestVoiceMessageBetweenPhones(t *testing.T) {
	a, b := phonePair(t, event.RejectAll())

	payload := bytes.Repeat([]byte{0x5a}, 10_000)
	n, err := a.SendVoiceMessageData(context.Background(), "127.0.0.1", "note.wav", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	require.Eventually(t, func() bool {
		var got []string
		b.listener.view(func(l *recordingListener) { got = append(got, l.voiceMessages...) })
		return len(got) == 1 && got[0] == "note.wav"
	}, waitFor, 10*time.Millisecond)

	stored, err := b.VoiceMessages()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, strings.HasSuffix(stored[0], "_note.wav"))
}

func TestRecordAndSendVoiceMessage(t *testing.T) {
	a, b := phonePair(t, event.RejectAll())

	path, recorded, err := a.RecordVoiceMessage(context.Background(), "memo.wav", 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(3200), recorded)
	assert.True(t, strings.HasSuffix(path, "memo.wav"))

	names, err := a.Recordings()
	require.NoError(t, err)
	assert.Equal(t, []string{"memo.wav"}, names)

	sent, err := a.SendVoiceMessage(context.Background(), "127.0.0.1", "memo.wav")
	require.NoError(t, err)
	assert.Greater(t, sent, recorded)

	require.Eventually(t, func() bool {
		stored, err := b.VoiceMessages()
		return err == nil && len(stored) == 1
	}, waitFor, 10*time.Millisecond)
}

func TestPhoneLifecycle(t *testing.T) {
	opts := NewOptions()
	opts.LocalAddress = "127.0.0.1"
	opts.BindAddress = "127.0.0.1"
	opts.Ports = Ports{Audio: freeUDPPort(t)}
	opts.Fs = afero.NewMemMapFs()

	p, err := New(opts)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Dial(context.Background(), "127.0.0.1"), ErrNotStarted)
	assert.ErrorIs(t, p.RequestChat(context.Background(), "127.0.0.1"), ErrNotStarted)

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
	assert.NotZero(t, p.Ports().Call)
	assert.Equal(t, "127.0.0.1", p.LocalAddress())
	assert.NoError(t, p.MicrophoneAvailable())
	assert.ErrorIs(t, p.Hangup(), call.ErrNoActiveCall)

	p.Kill()
	p.Kill()
	assert.ErrorIs(t, p.Start(context.Background()), ErrKilled)

	select {
	case _, ok := <-p.Events():
		assert.False(t, ok)
	case <-time.After(waitFor):
		t.Fatal("event stream not closed after Kill")
	}
}

func TestDegradedWithoutMicrophone(t *testing.T) {
	opts := NewOptions()
	opts.Device = audio.UnavailableDevice{Reason: "no sound card"}
	opts.Fs = afero.NewMemMapFs()

	p, err := New(opts)
	require.NoError(t, err)
	assert.ErrorIs(t, p.MicrophoneAvailable(), audio.ErrDeviceUnavailable)
}

func TestInvalidOptions(t *testing.T) {
	opts := NewOptions()
	opts.PlaybackGain = 10
	_, err := New(opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
