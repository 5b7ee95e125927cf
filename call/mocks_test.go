package call

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opd-ai/lanphone/event"
	"github.com/opd-ai/lanphone/wire"
	"github.com/stretchr/testify/require"
)

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

type recordingObserver struct {
	mu       sync.Mutex
	attempts map[string]int
	ended    map[string]int
	active   int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{attempts: map[string]int{}, ended: map[string]int{}}
}

func (o *recordingObserver) FrameSent(int)     {}
func (o *recordingObserver) FrameReceived(int) {}
func (o *recordingObserver) StrayDatagram()    {}

func (o *recordingObserver) CallAttempt(direction, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts[direction+"/"+outcome]++
}

func (o *recordingObserver) CallEnded(reason string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended[reason]++
}

func (o *recordingObserver) SetActiveCalls(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = n
}

func (o *recordingObserver) attempt(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts[key]
}

// blockingDecider answers calls only when released or when ctx ends.
type blockingDecider struct {
	release chan bool
}

func (d *blockingDecider) DecideCall(ctx context.Context, _ string) bool {
	select {
	case ok := <-d.release:
		return ok
	case <-ctx.Done():
		return false
	}
}

func (d *blockingDecider) DecideChat(context.Context, string) bool { return false }

// switchDecider answers calls with whatever accept holds.
type switchDecider struct {
	accept atomic.Bool
}

func (d *switchDecider) DecideCall(context.Context, string) bool { return d.accept.Load() }
func (d *switchDecider) DecideChat(context.Context, string) bool { return false }

// freeUDPPort returns a UDP port that was free a moment ago.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).Port
}

// serve accepts connections on ln and hands each one to handle after
// reading the first line.
func serve(ln net.Listener, handle func(*wire.Conn, string)) {
	for {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			conn := wire.NewConn(raw)
			first, err := conn.ReadLineTimeout(time.Second)
			if err != nil {
				conn.Close()
				return
			}
			handle(conn, first)
		}()
	}
}

// fakePeer listens on 127.0.0.1 and runs handle for every connection.
func fakePeer(t *testing.T, handle func(*wire.Conn, string)) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go serve(ln, handle)
	return ln.Addr().(*net.TCPAddr).Port
}

// dialFakePeer points p's outbound calls at a fakePeer running handle and at a
// bound UDP socket that swallows p's audio. It returns the fake call port.
func dialFakePeer(t *testing.T, p *peer, handle func(*wire.Conn, string)) int {
	t.Helper()
	sink, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	port := fakePeer(t, handle)
	p.mgr.cfg.PeerCallPort = port
	p.mgr.cfg.PeerAudioPort = sink.LocalAddr().(*net.UDPAddr).Port
	return port
}
