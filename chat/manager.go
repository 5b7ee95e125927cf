package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/lanphone/event"
	"github.com/opd-ai/lanphone/limits"
	"github.com/opd-ai/lanphone/wire"
	"github.com/sirupsen/logrus"
)

// Timeouts applied when none are configured.
const (
	DefaultConnectTimeout  = 5 * time.Second
	DefaultResponseTimeout = 10 * time.Second
	DefaultHeaderTimeout   = 30 * time.Second
)

// Observer receives chat counters. metrics.Metrics implements it.
type Observer interface {
	ChatMessage(outbound bool)
	ChatSession(outcome string)
}

// Config configures a Manager.
type Config struct {
	// LocalAddress returns the address announced in CHAT_REQUEST.
	LocalAddress func() string
	// PeerPort is the chat port dialed on remote peers.
	PeerPort int
	// Decider answers inbound requests. Nil rejects them.
	Decider event.Decider
	// Events receives chat notifications.
	Events event.Publisher
	// Observer receives counters. Optional.
	Observer Observer

	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	DecisionTimeout time.Duration
	HeaderTimeout   time.Duration
}

// Info is a snapshot of the current chat.
type Info struct {
	ID      string
	Remote  string
	State   State
	Inbound bool
	Opened  time.Time
}

type session struct {
	id      string
	remote  string
	inbound bool
	state   State
	opened  time.Time

	conn   *wire.Conn
	cancel context.CancelFunc

	closeOnce  sync.Once
	readerDone chan struct{}
}

// Manager owns at most one chat session.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	session *session
	closed  bool
}

// NewManager creates a chat manager.
//
// Parameters:
//   - cfg: Ports, collaborators and timeouts
//
// Returns:
//   - *Manager: Manager with no open chat
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
	if cfg.Decider == nil {
		cfg.Decider = event.RejectAll()
	}
	if cfg.LocalAddress == nil {
		cfg.LocalAddress = func() string { return "" }
	}
	return &Manager{cfg: cfg}
}

// State returns the state of the current chat, StateClosed if there is none.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return StateClosed
	}
	return m.session.state
}

// Current returns a snapshot of the current chat and whether one exists.
func (m *Manager) Current() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session
	if s == nil {
		return Info{State: StateClosed}, false
	}
	return Info{ID: s.id, Remote: s.remote, State: s.state, Inbound: s.inbound, Opened: s.opened}, true
}

// reserve claims the session slot for a new session.
func (m *Manager) reserve(remote string, inbound bool) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, net.ErrClosed
	}
	if m.session != nil {
		return nil, ErrChatBusy
	}
	s := &session{
		id:         uuid.NewString(),
		remote:     remote,
		inbound:    inbound,
		state:      StateRequesting,
		readerDone: make(chan struct{}),
	}
	m.session = s
	return s, nil
}

// release frees the slot if s still holds it.
func (m *Manager) release(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.state = StateClosed
	if m.session == s {
		m.session = nil
	}
}

// Request asks remote for a chat and blocks until it is answered.
// On success the chat is open when Request returns.
func (m *Manager) Request(ctx context.Context, remote string) error {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Manager.Request",
		"remote":   remote,
	})
	logger.Info("Requesting chat")

	s, err := m.reserve(remote, false)
	if err != nil {
		logger.WithError(err).Warn("Chat request refused locally")
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	s.cancel = cancel
	m.mu.Unlock()

	addr := net.JoinHostPort(remote, strconv.Itoa(m.cfg.PeerPort))
	conn, err := wire.Dial(ctx, addr, m.cfg.ConnectTimeout)
	if err != nil {
		m.release(s)
		m.observe("failed")
		if wire.IsTimeout(err) {
			return fmt.Errorf("%w: connect %s: %v", ErrChatTimeout, addr, err)
		}
		return fmt.Errorf("%w: %v", ErrChatFailed, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	reply, err := conn.Request(m.cfg.ResponseTimeout, wire.VerbChatRequest, m.cfg.LocalAddress())
	stop()
	if err != nil {
		conn.Close()
		m.release(s)
		switch {
		case ctx.Err() != nil:
			m.observe("cancelled")
			return ctx.Err()
		case wire.IsTimeout(err):
			m.observe("timeout")
			logger.Warn("Chat request timed out")
			return fmt.Errorf("%w: %v", ErrChatTimeout, err)
		default:
			m.observe("failed")
			return fmt.Errorf("%w: %v", ErrChatFailed, err)
		}
	}

	switch reply {
	case wire.VerbChatAccept:
		m.open(s, conn)
		logger.Info("Chat accepted")
		return nil
	case wire.VerbChatReject:
		conn.Close()
		m.release(s)
		m.observe("rejected")
		logger.Info("Chat rejected by peer")
		return ErrChatRejected
	default:
		conn.Close()
		m.release(s)
		m.observe("failed")
		return fmt.Errorf("%w: reply %q", ErrProtocol, reply)
	}
}

// ServeConn handles an inbound chat connection whose first line has been read.
func (m *Manager) ServeConn(conn *wire.Conn, first string) {
	remote := conn.RemoteHost()
	logger := logrus.WithFields(logrus.Fields{
		"function": "Manager.ServeConn",
		"remote":   remote,
	})

	if wire.Verb(first) != wire.VerbChatRequest {
		logger.WithField("line", first).Warn("Unexpected first line on chat port")
		conn.Close()
		return
	}
	announced, err := conn.ReadLineTimeout(m.cfg.HeaderTimeout)
	if err != nil {
		logger.WithError(err).Warn("Chat request without sender address")
		conn.Close()
		return
	}
	logger = logger.WithField("announced", wire.Verb(announced))

	s, err := m.reserve(remote, true)
	if err != nil {
		logger.WithError(err).Info("Rejecting chat request while busy")
		_ = conn.WriteLine(wire.VerbChatReject)
		conn.Close()
		m.observe("busy")
		return
	}

	if m.cfg.Events != nil {
		m.cfg.Events.Publish(event.Event{Type: event.TypeIncomingChat, Remote: remote, SessionID: s.id})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.mu.Lock()
	s.cancel = cancel
	m.mu.Unlock()

	accepted := event.Decide(ctx, m.cfg.DecisionTimeout, func(ctx context.Context) bool {
		return m.cfg.Decider.DecideChat(ctx, remote)
	})
	if !accepted || ctx.Err() != nil {
		m.release(s)
		_ = conn.WriteLine(wire.VerbChatReject)
		conn.Close()
		m.observe("rejected")
		logger.Info("Chat request rejected")
		return
	}

	if err := conn.WriteLine(wire.VerbChatAccept); err != nil {
		conn.Close()
		m.release(s)
		m.observe("failed")
		logger.WithError(err).Warn("Could not accept chat")
		return
	}
	m.open(s, conn)
	logger.Info("Chat accepted")
}

func (m *Manager) open(s *session, conn *wire.Conn) {
	m.mu.Lock()
	s.conn = conn
	s.state = StateOpen
	s.opened = time.Now()
	s.cancel = nil
	m.mu.Unlock()

	m.observe("opened")
	if m.cfg.Events != nil {
		m.cfg.Events.Publish(event.Event{Type: event.TypeChatOpened, Remote: s.remote, SessionID: s.id})
	}
	go m.readLoop(s)
}

func (m *Manager) readLoop(s *session) {
	defer close(s.readerDone)
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			if !wire.IsClosed(err) {
				logrus.WithFields(logrus.Fields{
					"function": "Manager.readLoop",
					"remote":   s.remote,
					"error":    err.Error(),
				}).Debug("Chat connection ended")
			}
			m.teardown(s, true)
			return
		}

		if text, ok := wire.ParseChatMessage(line); ok {
			if m.cfg.Observer != nil {
				m.cfg.Observer.ChatMessage(false)
			}
			if m.cfg.Events != nil {
				m.cfg.Events.Publish(event.Event{
					Type:      event.TypeChatMessage,
					Remote:    s.remote,
					SessionID: s.id,
					Text:      text,
				})
			}
			continue
		}

		if wire.Verb(line) == wire.VerbChatClose {
			m.teardown(s, true)
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "Manager.readLoop",
			"remote":   s.remote,
			"line":     line,
		}).Debug("Ignoring unknown chat line")
	}
}

// teardown closes s exactly once.
func (m *Manager) teardown(s *session, byRemote bool) {
	s.closeOnce.Do(func() {
		s.conn.Close()
		m.release(s)

		logrus.WithFields(logrus.Fields{
			"function":  "Manager.teardown",
			"remote":    s.remote,
			"by_remote": byRemote,
		}).Info("Chat closed")
		m.observe("closed")
		if m.cfg.Events != nil {
			m.cfg.Events.Publish(event.Event{
				Type:              event.TypeChatClosed,
				Remote:            s.remote,
				SessionID:         s.id,
				InitiatedByRemote: byRemote,
			})
		}
	})
}

// Send sends text on the open chat.
func (m *Manager) Send(text string) error {
	if err := limits.ValidateChatText(text); err != nil {
		return err
	}

	m.mu.Lock()
	s := m.session
	if s == nil || s.state != StateOpen {
		m.mu.Unlock()
		return ErrChatNotOpen
	}
	m.mu.Unlock()

	if err := s.conn.WriteLine(wire.ChatMessage(text)); err != nil {
		m.teardown(s, true)
		return fmt.Errorf("%w: %v", ErrChatFailed, err)
	}
	if m.cfg.Observer != nil {
		m.cfg.Observer.ChatMessage(true)
	}
	return nil
}

// Close ends the current chat, sending CHAT_CLOSE if it is open, and waits
// for its reader to stop. A pending outbound request is cancelled.
func (m *Manager) Close() error {
	m.mu.Lock()
	s := m.session
	var cancel context.CancelFunc
	var state State
	if s != nil {
		cancel = s.cancel
		state = s.state
	}
	m.mu.Unlock()

	if s == nil {
		return ErrChatNotOpen
	}
	if state != StateOpen {
		if cancel != nil {
			cancel()
		}
		return nil
	}

	if err := s.conn.WriteLine(wire.VerbChatClose); err != nil && !errors.Is(err, net.ErrClosed) {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Close",
			"remote":   s.remote,
			"error":    err.Error(),
		}).Debug("Sending CHAT_CLOSE failed")
	}
	m.teardown(s, false)
	<-s.readerDone
	return nil
}

// Shutdown closes any chat and refuses new ones.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	_ = m.Close()
}

func (m *Manager) observe(outcome string) {
	if m.cfg.Observer != nil {
		m.cfg.Observer.ChatSession(outcome)
	}
}
