package lanphone

import (
	"context"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/opd-ai/lanphone/audio"
	"github.com/opd-ai/lanphone/audio/portaudio"
	"github.com/opd-ai/lanphone/call"
	"github.com/opd-ai/lanphone/chat"
	"github.com/opd-ai/lanphone/config"
	"github.com/opd-ai/lanphone/event"
	"github.com/opd-ai/lanphone/metrics"
	"github.com/opd-ai/lanphone/netaddr"
	"github.com/opd-ai/lanphone/server"
	"github.com/opd-ai/lanphone/voicemsg"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// OutboxDir is the subdirectory of the message directory that holds
// recordings made for sending.
const OutboxDir = "outgoing"

// Ports groups the endpoint's four ports.
type Ports struct {
	Call         int
	VoiceMessage int
	Chat         int
	Audio        int
}

// DefaultPorts returns the well-known ports.
func DefaultPorts() Ports {
	return Ports{Call: 8081, VoiceMessage: 8182, Chat: 8283, Audio: 9091}
}

// Options contains configuration for a Phone.
type Options struct {
	// LocalAddress is announced to peers. Empty auto-detects it.
	LocalAddress string
	// BindAddress restricts listeners and the audio socket to one local IP.
	BindAddress string

	// Ports are bound locally. TCP ports may be 0 for an ephemeral port.
	Ports Ports
	// PeerPorts are used to reach other endpoints.
	PeerPorts Ports

	// Device supplies capture and playback. Nil selects audio.NullDevice.
	Device audio.Device
	// Threshold is the voice detection threshold.
	Threshold float64
	// PlaybackGain scales received audio, 1.0 leaves it unchanged.
	PlaybackGain float64

	// Decider answers inbound call and chat requests. Nil rejects them.
	Decider event.Decider

	// Fs holds voice messages. Nil selects the OS filesystem.
	Fs afero.Fs
	// MessagesDir is where received voice messages are stored.
	MessagesDir string

	// MaxConnections bounds concurrent connections per listener.
	MaxConnections int64

	CallConnectTimeout  time.Duration
	CallResponseTimeout time.Duration
	DecisionTimeout     time.Duration
	HeaderTimeout       time.Duration
	StallTimeout        time.Duration

	// Metrics receives counters. Nil creates a private set.
	Metrics *metrics.Metrics
}

// NewOptions creates a new Options with default values.
func NewOptions() *Options {
	return &Options{
		Ports:               DefaultPorts(),
		PeerPorts:           DefaultPorts(),
		Device:              audio.NullDevice{},
		Threshold:           audio.DefaultThreshold,
		PlaybackGain:        1.0,
		Decider:             event.RejectAll(),
		MessagesDir:         voicemsg.DefaultDir,
		MaxConnections:      64,
		CallConnectTimeout:  call.DefaultConnectTimeout,
		CallResponseTimeout: call.DefaultResponseTimeout,
		DecisionTimeout:     event.DefaultDecisionTimeout,
		HeaderTimeout:       server.DefaultHeaderTimeout,
		StallTimeout:        voicemsg.DefaultStallTimeout,
	}
}

// OptionsFromConfig converts a loaded configuration into Options. Inbound
// requests are answered by the auto-accept settings; callers that prompt the
// user replace Decider.
func OptionsFromConfig(cfg *config.Config) *Options {
	opts := NewOptions()
	opts.LocalAddress = cfg.LocalAddress
	opts.BindAddress = cfg.BindAddress
	opts.Ports = Ports{
		Call:         cfg.Ports.Call,
		VoiceMessage: cfg.Ports.VoiceMessage,
		Chat:         cfg.Ports.Chat,
		Audio:        cfg.Ports.Audio,
	}
	opts.PeerPorts = Ports{
		Call:         cfg.PeerPorts.Call,
		VoiceMessage: cfg.PeerPorts.VoiceMessage,
		Chat:         cfg.PeerPorts.Chat,
		Audio:        cfg.PeerPorts.Audio,
	}
	if cfg.Audio.Device == config.DevicePortAudio {
		opts.Device = portaudio.New()
	}
	opts.Threshold = cfg.Audio.Threshold
	opts.PlaybackGain = cfg.Audio.Gain
	opts.Decider = event.Static{AcceptCalls: cfg.AutoAccept.Call, AcceptChats: cfg.AutoAccept.Chat}
	opts.Fs = afero.NewOsFs()
	opts.MessagesDir = cfg.VoiceMessages.Dir
	opts.MaxConnections = cfg.MaxConnections
	opts.CallConnectTimeout = cfg.Timeouts.CallConnect
	opts.CallResponseTimeout = cfg.Timeouts.CallResponse
	opts.DecisionTimeout = cfg.Timeouts.Decision
	opts.HeaderTimeout = cfg.Timeouts.Header
	opts.StallTimeout = cfg.VoiceMessages.StallTimeout
	return opts
}

// Phone is one LAN calling endpoint.
type Phone struct {
	options  *Options
	resolver *netaddr.Resolver
	bus      *event.Bus
	metrics  *metrics.Metrics
	gain     *audio.Gain

	server   *server.Server
	calls    *call.Manager
	chats    *chat.Manager
	inbox    *voicemsg.Store
	outbox   *voicemsg.Store
	receiver *voicemsg.Receiver
	recorder *audio.Recorder

	mu      sync.Mutex
	running bool
	killed  bool
}

// New creates a Phone. Nothing is bound until Start.
//
// Parameters:
//   - options: Endpoint configuration, nil for NewOptions()
//
// Returns:
//   - *Phone: The unstarted phone
//   - error: Invalid options
func New(options *Options) (*Phone, error) {
	if options == nil {
		options = NewOptions()
	}
	if options.Device == nil {
		options.Device = audio.NullDevice{}
	}
	if options.Fs == nil {
		options.Fs = afero.NewOsFs()
	}
	if options.Metrics == nil {
		options.Metrics = metrics.New()
	}
	gain, err := audio.NewGain(options.PlaybackGain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if options.Threshold < 0 {
		return nil, fmt.Errorf("%w: negative threshold", ErrInvalidOptions)
	}

	p := &Phone{
		options:  options,
		resolver: netaddr.NewResolver(options.LocalAddress),
		bus:      event.NewBus(),
		metrics:  options.Metrics,
		gain:     gain,
	}

	p.calls = call.NewManager(call.Config{
		LocalAddress:    p.resolver.LocalAddress,
		BindAddress:     options.BindAddress,
		CallPort:        options.Ports.Call,
		PeerCallPort:    options.PeerPorts.Call,
		AudioPort:       options.Ports.Audio,
		PeerAudioPort:   options.PeerPorts.Audio,
		Device:          options.Device,
		Threshold:       options.Threshold,
		Gain:            gain,
		Decider:         options.Decider,
		Events:          p.bus,
		Observer:        p.metrics,
		ConnectTimeout:  options.CallConnectTimeout,
		ResponseTimeout: options.CallResponseTimeout,
		DecisionTimeout: options.DecisionTimeout,
		HeaderTimeout:   options.HeaderTimeout,
	})
	p.chats = chat.NewManager(chat.Config{
		LocalAddress:    p.resolver.LocalAddress,
		PeerPort:        options.PeerPorts.Chat,
		Decider:         options.Decider,
		Events:          p.bus,
		Observer:        p.metrics,
		DecisionTimeout: options.DecisionTimeout,
		HeaderTimeout:   options.HeaderTimeout,
	})

	p.inbox = voicemsg.NewStore(options.Fs, options.MessagesDir)
	p.outbox = voicemsg.NewStore(options.Fs, filepath.Join(p.inbox.Dir(), OutboxDir))
	p.receiver = voicemsg.NewReceiver(p.inbox, p.bus)
	p.receiver.Observer = p.metrics
	p.receiver.StallTimeout = options.StallTimeout
	p.recorder = audio.NewRecorder(options.Device)

	p.server = server.New(server.Config{
		BindAddress:      options.BindAddress,
		CallPort:         options.Ports.Call,
		VoiceMessagePort: options.Ports.VoiceMessage,
		ChatPort:         options.Ports.Chat,
		Call:             p.calls,
		VoiceMessage:     p.receiver,
		Chat:             p.chats,
		HeaderTimeout:    options.HeaderTimeout,
		MaxConnections:   options.MaxConnections,
		Observer:         p.metrics,
	})
	return p, nil
}

// Start binds the signaling listeners.
func (p *Phone) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.killed:
		return ErrKilled
	case p.running:
		return ErrAlreadyStarted
	}

	logger := logrus.WithFields(logrus.Fields{
		"function":      "Phone.Start",
		"local_address": p.resolver.LocalAddress(),
	})

	if err := p.server.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start signaling server")
		return err
	}
	if err := p.MicrophoneAvailable(); err != nil {
		logger.WithError(err).Warn("No microphone, calls will only receive audio")
	}
	p.running = true

	callPort, vmPort, chatPort := p.server.Ports()
	logger.WithFields(logrus.Fields{
		"call_port":          callPort,
		"voice_message_port": vmPort,
		"chat_port":          chatPort,
		"audio_port":         p.options.Ports.Audio,
	}).Info("Phone started")
	return nil
}

// Kill ends any call and chat, stops the listeners and closes the event
// stream. It is safe to call more than once.
func (p *Phone) Kill() {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return
	}
	p.killed = true
	p.running = false
	p.mu.Unlock()

	p.calls.Close()
	p.chats.Shutdown()
	if err := p.server.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Phone.Kill",
			"error":    err.Error(),
		}).Warn("Signaling server stopped with error")
	}
	p.bus.Close()

	logrus.WithFields(logrus.Fields{
		"function": "Phone.Kill",
	}).Info("Phone stopped")
}

func (p *Phone) checkRunning() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.killed:
		return ErrKilled
	case !p.running:
		return ErrNotStarted
	}
	return nil
}

// Events returns the notification stream. Callers must keep reading it;
// undelivered events queue in memory. After Kill it is closed once pending
// events are delivered, or after event.DefaultDrainTimeout if nobody reads.
func (p *Phone) Events() <-chan event.Event {
	return p.bus.C()
}

// Ports returns the bound TCP ports and the configured audio port.
func (p *Phone) Ports() Ports {
	callPort, vmPort, chatPort := p.server.Ports()
	return Ports{Call: callPort, VoiceMessage: vmPort, Chat: chatPort, Audio: p.options.Ports.Audio}
}

// LocalAddress returns the address announced to peers.
func (p *Phone) LocalAddress() string {
	return p.resolver.LocalAddress()
}

// Metrics returns the phone's collectors.
func (p *Phone) Metrics() *metrics.Metrics {
	return p.metrics
}

// MicrophoneAvailable returns nil if the capture device can be opened.
func (p *Phone) MicrophoneAvailable() error {
	return audio.CheckCapture(p.options.Device)
}

// Dial calls remote and blocks until the call is active or has failed.
func (p *Phone) Dial(ctx context.Context, remote string) error {
	if err := p.checkRunning(); err != nil {
		return err
	}
	return p.calls.Dial(ctx, remote)
}

// Hangup ends or cancels the current call.
func (p *Phone) Hangup() error {
	return p.calls.Hangup()
}

// SetMuted mutes or unmutes the microphone.
func (p *Phone) SetMuted(muted bool) {
	p.calls.SetMuted(muted)
}

// Muted reports whether the microphone is muted.
func (p *Phone) Muted() bool {
	return p.calls.Muted()
}

// SetPlaybackGain changes the volume of received audio.
func (p *Phone) SetPlaybackGain(gain float64) error {
	return p.gain.Set(gain)
}

// CallState returns the state of the current call.
func (p *Phone) CallState() call.State {
	return p.calls.State()
}

// Call returns a snapshot of the current call, if any.
func (p *Phone) Call() (call.Info, bool) {
	return p.calls.Current()
}

// RequestChat asks remote for a chat session.
func (p *Phone) RequestChat(ctx context.Context, remote string) error {
	if err := p.checkRunning(); err != nil {
		return err
	}
	return p.chats.Request(ctx, remote)
}

// SendChat sends text on the open chat.
func (p *Phone) SendChat(text string) error {
	return p.chats.Send(text)
}

// CloseChat closes the open chat.
func (p *Phone) CloseChat() error {
	return p.chats.Close()
}

// ChatState returns the state of the chat session.
func (p *Phone) ChatState() chat.State {
	return p.chats.State()
}

// RecordVoiceMessage records from the capture device into the outbox file
// name, for at most maxDuration or until ctx is done. It returns the stored
// path and the number of PCM bytes recorded.
func (p *Phone) RecordVoiceMessage(ctx context.Context, name string, maxDuration time.Duration) (string, int64, error) {
	clean, err := voicemsg.SanitizeName(name)
	if err != nil {
		return "", 0, err
	}
	f, err := p.outbox.Create(clean)
	if err != nil {
		return "", 0, err
	}
	path := filepath.Join(p.outbox.Dir(), clean)

	n, err := p.recorder.Record(ctx, f, maxDuration)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = p.outbox.Fs().Remove(path)
		return "", 0, err
	}
	logrus.WithFields(logrus.Fields{
		"function": "Phone.RecordVoiceMessage",
		"path":     path,
		"bytes":    n,
	}).Info("Voice message recorded")
	return path, n, nil
}

// SendVoiceMessage sends the outbox file name to remote.
func (p *Phone) SendVoiceMessage(ctx context.Context, remote, name string) (int64, error) {
	return voicemsg.SendFile(ctx, p.voiceAddr(remote), p.outbox, name)
}

// SendVoiceMessageData sends size bytes from r to remote as name.
func (p *Phone) SendVoiceMessageData(ctx context.Context, remote, name string, r io.Reader, size int64) (int64, error) {
	return voicemsg.Send(ctx, p.voiceAddr(remote), name, r, size)
}

// VoiceMessages lists received voice messages, oldest first.
func (p *Phone) VoiceMessages() ([]string, error) {
	return p.inbox.List()
}

// Recordings lists recorded messages waiting in the outbox.
func (p *Phone) Recordings() ([]string, error) {
	return p.outbox.List()
}

func (p *Phone) voiceAddr(remote string) string {
	return net.JoinHostPort(remote, strconv.Itoa(p.options.PeerPorts.VoiceMessage))
}
