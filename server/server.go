package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/lanphone/limits"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Listener names.
const (
	ListenerCall         = "call"
	ListenerVoiceMessage = "voice_message"
	ListenerChat         = "chat"
)

// DefaultHeaderTimeout bounds the wait for a connection's first line.
const DefaultHeaderTimeout = 30 * time.Second

// BindError reports a listener that could not bind its port.
type BindError struct {
	Listener string
	Addr     string
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s listener on %s: %v", e.Listener, e.Addr, e.Err)
}

func (e *BindError) Unwrap() []error {
	return []error{ErrBind, e.Err}
}

// Config configures a Server. A port of 0 binds an ephemeral port.
type Config struct {
	BindAddress string

	CallPort         int
	VoiceMessagePort int
	ChatPort         int

	Call         Handler
	VoiceMessage Handler
	Chat         Handler

	// HeaderTimeout overrides DefaultHeaderTimeout.
	HeaderTimeout time.Duration
	// MaxConnections is the per-listener ceiling on connections being
	// dispatched. Zero selects limits.MaxConnectionsPerListener.
	MaxConnections int64
	Observer       Observer
}

// Server owns the three signaling listeners.
type Server struct {
	cfg Config

	mu        sync.Mutex
	listeners []*Listener
	group     *errgroup.Group
	cancel    context.CancelFunc
	started   bool
	closed    bool
}

// New creates a server. Nothing is bound until Start.
//
// Parameters:
//   - cfg: Ports and handlers for the three listeners
//
// Returns:
//   - *Server: The unstarted server
func New(cfg Config) *Server {
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = DefaultHeaderTimeout
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = limits.MaxConnectionsPerListener
	}
	return &Server{cfg: cfg}
}

// Start binds all three listeners and begins accepting. If any port cannot
// be bound, the ones already bound are released and the error names the
// failing listener.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	entries := []struct {
		name    string
		port    int
		handler Handler
	}{
		{ListenerCall, s.cfg.CallPort, s.cfg.Call},
		{ListenerVoiceMessage, s.cfg.VoiceMessagePort, s.cfg.VoiceMessage},
		{ListenerChat, s.cfg.ChatPort, s.cfg.Chat},
	}

	var bound []*Listener
	for _, e := range entries {
		if e.handler == nil {
			closeAll(bound)
			return fmt.Errorf("%w: %s", ErrNoHandler, e.name)
		}
		l, err := listen(e.name, s.cfg.BindAddress, e.port, e.handler, s.cfg.HeaderTimeout, s.cfg.MaxConnections, s.cfg.Observer)
		if err != nil {
			closeAll(bound)
			logrus.WithFields(logrus.Fields{
				"function": "Server.Start",
				"listener": e.name,
				"port":     e.port,
				"error":    err.Error(),
			}).Error("Failed to bind listener")
			return err
		}
		bound = append(bound, l)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gCtx := errgroup.WithContext(runCtx)
	for _, l := range bound {
		l := l
		g.Go(func() error { return l.serve(gCtx) })
	}
	// Closing the listeners is what unblocks Accept.
	g.Go(func() error {
		<-gCtx.Done()
		closeAll(bound)
		return nil
	})

	s.listeners = bound
	s.group = g
	s.cancel = cancel
	s.started = true

	logrus.WithFields(logrus.Fields{
		"function":           "Server.Start",
		"call_port":          bound[0].Port(),
		"voice_message_port": bound[1].Port(),
		"chat_port":          bound[2].Port(),
	}).Info("Signaling server started")
	return nil
}

func closeAll(ls []*Listener) {
	for _, l := range ls {
		if err := l.close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "closeAll",
				"listener": l.name,
				"error":    err.Error(),
			}).Debug("Closing listener")
		}
	}
}

// Wait blocks until the listeners stop and returns the first accept error.
func (s *Server) Wait() error {
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Close stops all listeners and waits for in-flight dispatches. Connections
// already handed to handlers are theirs to close.
func (s *Server) Close() error {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, g := s.cancel, s.group
	s.mu.Unlock()

	cancel()
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logrus.WithFields(logrus.Fields{
		"function": "Server.Close",
	}).Info("Signaling server stopped")
	return err
}

// Listener returns the named listener, or nil before Start.
func (s *Server) Listener(name string) *Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		if l.name == name {
			return l
		}
	}
	return nil
}

// Ports returns the bound call, voice message and chat ports.
func (s *Server) Ports() (call, voiceMessage, chat int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) != 3 {
		return 0, 0, 0
	}
	return s.listeners[0].Port(), s.listeners[1].Port(), s.listeners[2].Port()
}
