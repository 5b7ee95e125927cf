package server

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/opd-ai/lanphone/wire"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Listener accepts connections on one signaling port.
type Listener struct {
	name          string
	handler       Handler
	headerTimeout time.Duration
	observer      Observer
	slots         *semaphore.Weighted

	ln net.Listener

	mu      sync.Mutex
	clients map[*wire.Conn]struct{}
	wg      sync.WaitGroup
}

func listen(name, bind string, port int, handler Handler, headerTimeout time.Duration, maxConns int64, observer Observer) (*Listener, error) {
	addr := net.JoinHostPort(bind, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &BindError{Listener: name, Addr: addr, Err: err}
	}
	return &Listener{
		name:          name,
		handler:       handler,
		headerTimeout: headerTimeout,
		observer:      observer,
		slots:         semaphore.NewWeighted(maxConns),
		ln:            ln,
		clients:       make(map[*wire.Conn]struct{}),
	}, nil
}

// Name returns the listener's name.
func (l *Listener) Name() string {
	return l.name
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Port returns the bound port.
func (l *Listener) Port() int {
	if a, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// serve accepts connections until the listener is closed.
func (l *Listener) serve(ctx context.Context) error {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Listener.serve",
		"listener": l.name,
		"addr":     l.ln.Addr().String(),
	})
	logger.Info("Listening")

	for {
		raw, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				logger.Debug("Listener closed")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			logger.WithError(err).Error("Accept failed")
			return err
		}

		if !l.slots.TryAcquire(1) {
			logger.WithField("remote", raw.RemoteAddr().String()).Warn("Connection ceiling reached, refusing connection")
			if l.observer != nil {
				l.observer.ConnectionRefused(l.name)
			}
			raw.Close()
			continue
		}
		if l.observer != nil {
			l.observer.ConnectionAccepted(l.name)
		}

		conn := wire.NewConn(raw)
		l.track(conn)
		l.wg.Add(1)
		go l.handle(conn)
	}
}

// handle reads the first line and passes the connection on.
func (l *Listener) handle(conn *wire.Conn) {
	defer l.wg.Done()
	defer l.slots.Release(1)
	defer l.untrack(conn)

	first, err := conn.ReadLineTimeout(l.headerTimeout)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Listener.handle",
			"listener": l.name,
			"remote":   conn.RemoteHost(),
			"error":    err.Error(),
		}).Debug("No request line, closing")
		conn.Close()
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Listener.handle",
		"listener": l.name,
		"remote":   conn.RemoteHost(),
		"verb":     wire.Verb(first),
	}).Debug("Dispatching connection")
	l.handler.ServeConn(conn, first)
}

func (l *Listener) track(conn *wire.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients[conn] = struct{}{}
}

func (l *Listener) untrack(conn *wire.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, conn)
}

// close stops accepting, closes connections still being dispatched and
// waits for their handlers to return.
func (l *Listener) close() error {
	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	l.mu.Lock()
	for conn := range l.clients {
		conn.Close()
	}
	l.mu.Unlock()

	l.wg.Wait()
	return err
}
