package call

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/lanphone/audio"
	"github.com/opd-ai/lanphone/wire"
)

// Session is one call with one peer. The signaling connection and the
// audio socket belong to the session from activation until teardown.
type Session struct {
	id      string
	remote  string
	inbound bool

	mu       sync.Mutex
	state    State
	reason   EndReason
	started  time.Time
	ended    time.Time
	degraded bool
	collided bool
	cancel   context.CancelFunc

	conn      *wire.Conn
	audioConn *net.UDPConn
	engine    *audio.Engine

	hangupSent     atomic.Bool
	hangupReceived atomic.Bool
	endedByLocal   atomic.Bool

	teardownOnce sync.Once
	readerDone   chan struct{}
	done         chan struct{}
}

func newSession(remote string, inbound bool) *Session {
	return &Session{
		id:         uuid.NewString(),
		remote:     remote,
		inbound:    inbound,
		state:      StateIdle,
		readerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// transition moves the session to next. The caller must hold s.mu.
func (s *Session) transition(next State) error {
	if !s.state.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, next)
	}
	s.state = next
	return nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Remote returns the peer's IP address.
func (s *Session) Remote() string {
	return s.remote
}

// Inbound reports whether the peer placed the call.
func (s *Session) Inbound() bool {
	return s.inbound
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EndReason returns why the session ended. It is meaningful once State is StateEnded.
func (s *Session) EndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// HangupSent reports whether CALL_END was sent on this session.
func (s *Session) HangupSent() bool {
	return s.hangupSent.Load()
}

// HangupReceived reports whether CALL_END was received on this session.
func (s *Session) HangupReceived() bool {
	return s.hangupReceived.Load()
}

// EndedByLocal reports whether the local side ended the session.
func (s *Session) EndedByLocal() bool {
	return s.endedByLocal.Load()
}

// Done is closed once teardown has finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Info is a snapshot of a session.
type Info struct {
	ID       string
	Remote   string
	State    State
	Inbound  bool
	Started  time.Time
	Ended    time.Time
	Reason   EndReason
	Degraded bool
	Muted    bool
	Stats    audio.Stats
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := Info{
		ID:       s.id,
		Remote:   s.remote,
		State:    s.state,
		Inbound:  s.inbound,
		Started:  s.started,
		Ended:    s.ended,
		Reason:   s.reason,
		Degraded: s.degraded,
	}
	if s.engine != nil {
		i.Muted = s.engine.Muted()
		i.Stats = s.engine.Stats()
	}
	return i
}
