package call

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/opd-ai/lanphone/audio"
	"github.com/opd-ai/lanphone/event"
	"github.com/opd-ai/lanphone/wire"
	"github.com/sirupsen/logrus"
)

// Timeouts applied when none are configured.
const (
	DefaultConnectTimeout   = 8 * time.Second
	DefaultResponseTimeout  = 20 * time.Second
	DefaultHeaderTimeout    = 30 * time.Second
	DefaultHangupAckTimeout = 2 * time.Second
)

// Observer receives call counters. metrics.Metrics implements it.
type Observer interface {
	audio.Observer
	CallAttempt(direction, outcome string)
	CallEnded(reason string, duration time.Duration)
	SetActiveCalls(n int)
}

// Config configures a Manager.
type Config struct {
	// LocalAddress returns this host's address as peers see it. It is used
	// to break dial collisions.
	LocalAddress func() string
	// BindAddress is the local IP for the audio socket. Empty binds all interfaces.
	BindAddress string

	// CallPort is the local call signaling port.
	CallPort int
	// PeerCallPort is the call signaling port dialed on peers.
	PeerCallPort int
	// AudioPort is the local UDP audio port.
	AudioPort int
	// PeerAudioPort is the UDP audio port on peers.
	PeerAudioPort int

	// Device supplies capture and playback. Nil selects audio.NullDevice.
	Device audio.Device
	// Threshold is the voice detection threshold. Zero selects audio.DefaultThreshold.
	Threshold float64
	// Gain scales received audio. Optional.
	Gain *audio.Gain

	// Decider answers inbound calls. Nil rejects them.
	Decider event.Decider
	// Events receives call and audio notifications.
	Events event.Publisher
	// Observer receives counters. Optional.
	Observer Observer

	ConnectTimeout   time.Duration
	ResponseTimeout  time.Duration
	DecisionTimeout  time.Duration
	HeaderTimeout    time.Duration
	HangupAckTimeout time.Duration
	PollInterval     time.Duration
}

// Manager owns at most one call session.
type Manager struct {
	cfg      Config
	detector *audio.Detector

	mu      sync.Mutex
	session *Session
	muted   bool
	closed  bool
}

// NewManager creates a call manager.
//
// Parameters:
//   - cfg: Ports, collaborators and timeouts
//
// Returns:
//   - *Manager: Manager in the idle state
func NewManager(cfg Config) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.DecisionTimeout <= 0 {
		cfg.DecisionTimeout = event.DefaultDecisionTimeout
	}
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = DefaultHeaderTimeout
	}
	if cfg.HangupAckTimeout <= 0 {
		cfg.HangupAckTimeout = DefaultHangupAckTimeout
	}
	if cfg.Device == nil {
		cfg.Device = audio.NullDevice{}
	}
	if cfg.Decider == nil {
		cfg.Decider = event.RejectAll()
	}
	if cfg.LocalAddress == nil {
		cfg.LocalAddress = func() string { return "" }
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewManager",
		"call_port":  cfg.CallPort,
		"audio_port": cfg.AudioPort,
	}).Debug("Creating call manager")

	return &Manager{
		cfg:      cfg,
		detector: audio.NewDetector(cfg.Threshold),
	}
}

// State returns the state of the current session, StateIdle if there is none.
func (m *Manager) State() State {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return StateIdle
	}
	return s.State()
}

// Current returns a snapshot of the current session and whether one exists.
func (m *Manager) Current() (Info, bool) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return Info{State: StateIdle}, false
	}
	return s.info(), true
}

// Session returns the current session, or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// SetMuted mutes or unmutes outbound audio for the current and later calls.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	s := m.session
	m.mu.Unlock()

	if s != nil {
		s.mu.Lock()
		if s.engine != nil {
			s.engine.SetMuted(muted)
		}
		s.mu.Unlock()
	}
	logrus.WithFields(logrus.Fields{
		"function": "Manager.SetMuted",
		"muted":    muted,
	}).Info("Microphone mute changed")
}

// Muted reports whether outbound audio is muted.
func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// release frees the slot if s still holds it.
func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == s {
		m.session = nil
	}
}

// abandon returns a session that never became active to IDLE and frees its slot.
func (m *Manager) abandon(s *Session) {
	s.mu.Lock()
	if s.state == StateDialing || s.state == StateRinging {
		_ = s.transition(StateIdle)
	}
	s.mu.Unlock()
	m.release(s)
}

// Dial calls remote and blocks until the call is active or has failed.
// remote is a host name or IP address; the peer's call port comes from Config.
func (m *Manager) Dial(ctx context.Context, remote string) error {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Manager.Dial",
		"remote":   remote,
	})
	logger.Info("Dialing")

	host, err := resolveHost(ctx, remote)
	if err != nil {
		m.failed(remote, "failed", err)
		return fmt.Errorf("%w: resolve %s: %v", ErrDialFailed, remote, err)
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := newSession(host, false)
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrManagerClosed
	case m.session != nil:
		state := m.session.State()
		m.mu.Unlock()
		logger.WithField("state", state).Warn("Dial refused, call in progress")
		m.observeAttempt("outbound", "busy")
		return fmt.Errorf("%w: current call is %s", ErrBusy, state)
	}
	_ = s.transition(StateDialing)
	s.cancel = cancel
	m.session = s
	m.mu.Unlock()

	conn, err := m.request(dialCtx, s)
	if err != nil {
		m.abandon(s)
		err = m.classifyDialError(ctx, s, err)
		m.failed(host, outcomeOf(err), err)
		logger.WithError(err).Warn("Dial failed")
		return err
	}

	udp, err := m.listenAudio()
	if err != nil {
		_ = conn.WriteLine(wire.VerbCallEnd)
		conn.Close()
		m.abandon(s)
		err = fmt.Errorf("%w: audio socket: %v", ErrDialFailed, err)
		m.failed(host, "failed", err)
		return err
	}

	if err := m.activate(s, conn, udp); err != nil {
		_ = conn.WriteLine(wire.VerbCallEnd)
		conn.Close()
		udp.Close()
		m.abandon(s)
		err = m.classifyDialError(ctx, s, err)
		m.failed(host, outcomeOf(err), err)
		return err
	}

	m.observeAttempt("outbound", "accepted")
	logger.Info("Call active")
	return nil
}

// request performs the DIAL_REQUEST exchange and returns the connection on DIAL_ACCEPT.
func (m *Manager) request(ctx context.Context, s *Session) (*wire.Conn, error) {
	addr := net.JoinHostPort(s.remote, strconv.Itoa(m.cfg.PeerCallPort))
	conn, err := wire.Dial(ctx, addr, m.cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	reply, err := conn.Request(m.cfg.ResponseTimeout, wire.VerbDialRequest)
	if !stop() {
		conn.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	switch reply {
	case wire.VerbDialAccept:
		return conn, nil
	case wire.VerbDialReject:
		conn.Close()
		return nil, ErrDialRejected
	default:
		conn.Close()
		return nil, fmt.Errorf("%w: reply %q", ErrProtocol, reply)
	}
}

func (m *Manager) classifyDialError(parent context.Context, s *Session, err error) error {
	s.mu.Lock()
	collided := s.collided
	s.mu.Unlock()

	switch {
	case collided:
		return ErrDialCollision
	case errors.Is(err, ErrDialRejected), errors.Is(err, ErrProtocol):
		return err
	case parent.Err() != nil && !errors.Is(parent.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrDialCancelled, parent.Err())
	case errors.Is(err, context.Canceled):
		return ErrDialCancelled
	case wire.IsTimeout(err):
		return fmt.Errorf("%w: %v", ErrDialTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrDialFailed, err)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrDialRejected):
		return "rejected"
	case errors.Is(err, ErrDialTimeout):
		return "timeout"
	case errors.Is(err, ErrDialCollision):
		return "collision"
	case errors.Is(err, ErrDialCancelled):
		return "cancelled"
	default:
		return "failed"
	}
}

func (m *Manager) failed(remote, outcome string, err error) {
	m.observeAttempt("outbound", outcome)
	if m.cfg.Events != nil {
		m.cfg.Events.Publish(event.Event{Type: event.TypeCallFailed, Remote: remote, Reason: outcome, Err: err})
	}
}

func (m *Manager) listenAudio() (*net.UDPConn, error) {
	var ip net.IP
	if m.cfg.BindAddress != "" {
		ip = net.ParseIP(m.cfg.BindAddress)
	}
	return net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: m.cfg.AudioPort})
}

// activate moves s to ACTIVE and starts its engine and signaling reader.
func (m *Manager) activate(s *Session, conn *wire.Conn, udp *net.UDPConn) error {
	m.mu.Lock()
	if m.session != s || m.closed {
		m.mu.Unlock()
		return ErrDialCancelled
	}
	muted := m.muted
	m.mu.Unlock()

	s.mu.Lock()
	if s.collided {
		s.mu.Unlock()
		return ErrDialCollision
	}
	if err := s.transition(StateActive); err != nil {
		s.mu.Unlock()
		return err
	}
	s.conn = conn
	s.audioConn = udp
	s.started = time.Now()
	s.cancel = nil
	m.detector.Reset()

	engine, err := audio.NewEngine(audio.EngineConfig{
		Conn:         udp,
		Remote:       &net.UDPAddr{IP: net.ParseIP(s.remote), Port: m.cfg.PeerAudioPort},
		Device:       m.cfg.Device,
		Detector:     m.detector,
		Gain:         m.cfg.Gain,
		Events:       m.cfg.Events,
		Observer:     m.cfg.Observer,
		SessionID:    s.id,
		PollInterval: m.cfg.PollInterval,
		OnFailure: func(err error) {
			go m.terminate(s, ReasonTransportError)
		},
	})
	if err == nil {
		engine.SetMuted(muted)
		err = engine.Start(context.Background())
	}
	if err != nil {
		s.mu.Unlock()
		// The session is ACTIVE; tear it down like any other active call.
		close(s.readerDone)
		m.terminate(s, ReasonTransportError)
		return fmt.Errorf("%w: audio engine: %v", ErrDialFailed, err)
	}
	s.engine = engine
	s.degraded = engine.Degraded()
	s.mu.Unlock()

	go m.readLoop(s)

	if m.cfg.Observer != nil {
		m.cfg.Observer.SetActiveCalls(1)
	}
	if m.cfg.Events != nil {
		m.cfg.Events.Publish(event.Event{
			Type:      event.TypeCallActive,
			Remote:    s.remote,
			SessionID: s.id,
			Degraded:  engine.Degraded(),
		})
	}
	logrus.WithFields(logrus.Fields{
		"function": "Manager.activate",
		"remote":   s.remote,
		"session":  s.id,
		"inbound":  s.inbound,
		"degraded": engine.Degraded(),
	}).Info("Call session active")
	return nil
}

// readLoop watches the signaling connection of an active session.
func (m *Manager) readLoop(s *Session) {
	reason := ReasonRemoteDisconnect
	defer func() {
		close(s.readerDone)
		m.terminate(s, reason)
	}()

	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			if s.hangupSent.Load() {
				reason = ReasonLocalHangup
			}
			logrus.WithFields(logrus.Fields{
				"function": "Manager.readLoop",
				"remote":   s.remote,
				"error":    err.Error(),
			}).Debug("Signaling connection ended")
			return
		}

		switch wire.Verb(line) {
		case wire.VerbCallEnd:
			s.hangupReceived.Store(true)
			if err := s.conn.WriteLine(wire.VerbCallEndAck); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Manager.readLoop",
					"remote":   s.remote,
					"error":    err.Error(),
				}).Debug("Could not acknowledge CALL_END")
			}
			// Both sides hung up at once; ours went first locally.
			if s.hangupSent.Load() {
				reason = ReasonLocalHangup
			} else {
				reason = ReasonRemoteHangup
			}
			return
		case wire.VerbCallEndAck:
			if s.hangupSent.Load() {
				reason = ReasonLocalHangup
				return
			}
		default:
			logrus.WithFields(logrus.Fields{
				"function": "Manager.readLoop",
				"remote":   s.remote,
				"line":     line,
			}).Debug("Ignoring unexpected line on active call")
		}
	}
}

// terminate tears down an active session exactly once. Calls for sessions
// that never became active are ignored.
func (m *Manager) terminate(s *Session, reason EndReason) {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		if s.state != StateActive {
			s.mu.Unlock()
			return
		}
		_ = s.transition(StateEnded)
		s.reason = reason
		s.ended = time.Now()
		s.endedByLocal.Store(!reason.InitiatedByRemote())
		engine, conn := s.engine, s.conn
		duration := s.ended.Sub(s.started)
		s.mu.Unlock()

		if engine != nil {
			engine.Stop()
		} else if s.audioConn != nil {
			s.audioConn.Close()
		}
		conn.Close()
		<-s.readerDone
		m.release(s)

		logrus.WithFields(logrus.Fields{
			"function":  "Manager.terminate",
			"remote":    s.remote,
			"session":   s.id,
			"reason":    reason.String(),
			"by_remote": reason.InitiatedByRemote(),
			"duration":  duration,
		}).Info("Call ended")

		if m.cfg.Observer != nil {
			m.cfg.Observer.CallEnded(reason.String(), duration)
			m.cfg.Observer.SetActiveCalls(0)
		}
		if m.cfg.Events != nil {
			m.cfg.Events.Publish(event.Event{
				Type:              event.TypeCallEnded,
				Remote:            s.remote,
				SessionID:         s.id,
				InitiatedByRemote: reason.InitiatedByRemote(),
				Reason:            reason.String(),
			})
		}
		close(s.done)
	})
}

// Hangup ends the current call. An active call sends CALL_END once and
// waits briefly for the acknowledgement; a dial or pending inbound decision
// is cancelled. Hangup on an ended session is a no-op.
func (m *Manager) Hangup() error {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return ErrNoActiveCall
	}
	return m.hangup(s, ReasonLocalHangup, m.cfg.HangupAckTimeout)
}

func (m *Manager) hangup(s *Session, reason EndReason, ackWait time.Duration) error {
	s.mu.Lock()
	state, cancel := s.state, s.cancel
	conn := s.conn
	s.mu.Unlock()

	logger := logrus.WithFields(logrus.Fields{
		"function": "Manager.hangup",
		"remote":   s.remote,
		"state":    state.String(),
	})

	switch state {
	case StateDialing, StateRinging:
		if cancel != nil {
			cancel()
		}
		logger.Info("Cancelled pending call")
		return nil
	case StateActive:
	default:
		return nil
	}

	if s.hangupSent.CompareAndSwap(false, true) {
		if err := conn.WriteLine(wire.VerbCallEnd); err != nil {
			logger.WithError(err).Debug("Sending CALL_END failed")
		} else {
			logger.Info("Sent CALL_END")
		}
	}

	select {
	case <-s.readerDone:
	case <-time.After(ackWait):
		logger.Debug("No CALL_END_ACK, closing")
	}
	m.terminate(s, reason)
	<-s.done
	return nil
}

// ServeConn handles an inbound connection on the call port whose first line
// has already been read. It takes ownership of conn.
func (m *Manager) ServeConn(conn *wire.Conn, first string) {
	switch wire.Verb(first) {
	case wire.VerbDialRequest:
		m.handleDialRequest(conn)
	case wire.VerbCallEnd:
		m.handleCallEnd(conn)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Manager.ServeConn",
			"remote":   conn.RemoteHost(),
			"line":     first,
		}).Warn("Unexpected verb on call port")
		conn.Close()
	}
}

// handleCallEnd acknowledges a CALL_END that arrives on a new connection and
// ends the active call if it comes from the call's peer.
func (m *Manager) handleCallEnd(conn *wire.Conn) {
	remote := conn.RemoteHost()
	_ = conn.WriteLine(wire.VerbCallEndAck)
	conn.Close()

	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil || s.State() != StateActive || !wire.SameHost(s.remote, remote) {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "Manager.handleCallEnd",
		"remote":   remote,
	}).Info("Peer ended call on a new connection")
	s.hangupReceived.Store(true)
	m.terminate(s, ReasonRemoteHangup)
}

func (m *Manager) handleDialRequest(conn *wire.Conn) {
	remote := conn.RemoteHost()
	logger := logrus.WithFields(logrus.Fields{
		"function": "Manager.handleDialRequest",
		"remote":   remote,
	})

	reject := func(why string) {
		logger.WithField("why", why).Info("Rejecting call")
		_ = conn.WriteLine(wire.VerbDialReject)
		conn.Close()
		m.observeAttempt("inbound", why)
	}

	s := newSession(remote, true)
	autoAccept := false

	m.mu.Lock()
	cur := m.session
	switch {
	case m.closed:
		m.mu.Unlock()
		reject("shutdown")
		return
	case cur == nil:
	case cur.State() == StateDialing && wire.SameHost(cur.remote, remote):
		if m.localWins(remote) {
			m.mu.Unlock()
			reject("collision")
			return
		}
		cur.mu.Lock()
		cur.collided = true
		cancelDial := cur.cancel
		cur.mu.Unlock()
		if cancelDial != nil {
			cancelDial()
		}
		autoAccept = true
		logger.Info("Dial collision, yielding to inbound call")
	default:
		state := cur.State()
		m.mu.Unlock()
		reject("busy:" + state.String())
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.transition(StateRinging)
	s.cancel = cancel
	m.session = s
	m.mu.Unlock()

	if m.cfg.Events != nil {
		m.cfg.Events.Publish(event.Event{Type: event.TypeIncomingCall, Remote: remote, SessionID: s.id})
	}

	accepted := autoAccept || event.Decide(ctx, m.cfg.DecisionTimeout, func(ctx context.Context) bool {
		return m.cfg.Decider.DecideCall(ctx, remote)
	})
	if !accepted || ctx.Err() != nil {
		m.abandon(s)
		reject("rejected")
		return
	}

	udp, err := m.listenAudio()
	if err != nil {
		logger.WithError(err).Error("Cannot open audio socket")
		m.abandon(s)
		reject("failed")
		return
	}
	if err := conn.WriteLine(wire.VerbDialAccept); err != nil {
		logger.WithError(err).Warn("Could not send DIAL_ACCEPT")
		udp.Close()
		conn.Close()
		m.abandon(s)
		m.observeAttempt("inbound", "failed")
		return
	}
	if err := m.activate(s, conn, udp); err != nil {
		logger.WithError(err).Warn("Could not activate inbound call")
		conn.Close()
		udp.Close()
		m.abandon(s)
		m.observeAttempt("inbound", "failed")
		return
	}
	m.observeAttempt("inbound", "accepted")
}

// localWins reports whether this endpoint keeps its own dial when remote
// dials it at the same time.
func (m *Manager) localWins(remote string) bool {
	return compareEndpoints(m.cfg.LocalAddress(), m.cfg.CallPort, remote, m.cfg.PeerCallPort) < 0
}

// compareEndpoints orders two host:port endpoints, comparing IP addresses
// numerically when both parse.
func compareEndpoints(hostA string, portA int, hostB string, portB int) int {
	a, errA := netip.ParseAddr(hostA)
	b, errB := netip.ParseAddr(hostB)
	var c int
	if errA == nil && errB == nil {
		c = a.Unmap().Compare(b.Unmap())
	} else {
		c = cmp.Compare(hostA, hostB)
	}
	if c != 0 {
		return c
	}
	return cmp.Compare(portA, portB)
}

func resolveHost(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return a.IP.String(), nil
		}
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}
	return addrs[0].IP.String(), nil
}

// Close ends any call with ReasonShutdown and refuses new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	s := m.session
	m.mu.Unlock()

	if s != nil {
		_ = m.hangup(s, ReasonShutdown, 0)
	}
}

func (m *Manager) observeAttempt(direction, outcome string) {
	if m.cfg.Observer != nil {
		m.cfg.Observer.CallAttempt(direction, outcome)
	}
}
