package audio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/opd-ai/lanphone/event"
	"github.com/opd-ai/lanphone/limits"
	"github.com/sirupsen/logrus"
)

// DefaultPollInterval bounds how long the receive loop blocks before
// re-checking for shutdown.
const DefaultPollInterval = 250 * time.Millisecond

// MaxConsecutiveSendErrors is how many frames in a row may fail to send before
// the socket is reported as failed. Isolated send errors drop the frame.
const MaxConsecutiveSendErrors = 25

// Observer receives per-frame counters. metrics.Metrics implements it.
type Observer interface {
	FrameSent(bytes int)
	FrameReceived(bytes int)
	StrayDatagram()
}

// EngineConfig configures one Engine.
type EngineConfig struct {
	// Conn is the call's bound UDP socket. The engine closes it on Stop.
	Conn net.PacketConn
	// Remote is where outbound frames go. Inbound frames are accepted only
	// from Remote's IP.
	Remote *net.UDPAddr
	// Device supplies capture and playback. Nil selects NullDevice.
	Device Device
	// Detector runs on received frames. Nil creates one with DefaultThreshold.
	Detector *Detector
	// Gain scales received frames before playback. Nil leaves them unchanged.
	Gain *Gain
	// Events receives AudioDetected and AudioDegraded notifications.
	Events event.Publisher
	// Observer receives frame counters. Optional.
	Observer Observer
	// SessionID tags published events.
	SessionID string
	// OnFailure is called once, from a loop goroutine, if the socket fails
	// while the engine runs. It must not call Stop synchronously.
	OnFailure func(error)
	// PollInterval overrides DefaultPollInterval.
	PollInterval time.Duration
}

// Stats is a snapshot of engine counters.
type Stats struct {
	FramesSent     uint64
	BytesSent      uint64
	FramesReceived uint64
	BytesReceived  uint64
	StrayDatagrams uint64
}

// Engine runs the send and receive loops of one active call.
type Engine struct {
	cfg EngineConfig

	muted    atomic.Bool
	degraded atomic.Bool

	mu       sync.Mutex
	started  bool
	capture  Capture
	playback Playback
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	stopOnce sync.Once
	failOnce sync.Once

	framesSent     atomic.Uint64
	bytesSent      atomic.Uint64
	framesReceived atomic.Uint64
	bytesReceived  atomic.Uint64
	stray          atomic.Uint64
}

// NewEngine validates cfg and creates an idle engine.
//
// Parameters:
//   - cfg: Socket, remote address and collaborators for the call
//
// Returns:
//   - *Engine: Engine ready to Start
//   - error: ErrInvalidConfig if the socket or remote address is missing
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Conn == nil || cfg.Remote == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Device == nil {
		cfg.Device = NullDevice{}
	}
	if cfg.Detector == nil {
		cfg.Detector = NewDetector(DefaultThreshold)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Engine{cfg: cfg}, nil
}

// Start opens the devices and launches both loops. A capture failure puts
// the engine in degraded mode without outbound audio; a playback failure
// discards received frames. Neither is returned as an error.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrEngineStarted
	}
	e.started = true

	logger := logrus.WithFields(logrus.Fields{
		"function": "Engine.Start",
		"remote":   e.cfg.Remote.String(),
		"session":  e.cfg.SessionID,
	})

	capture, err := e.cfg.Device.OpenCapture()
	if err != nil {
		e.degraded.Store(true)
		logger.WithError(err).Warn("Capture unavailable, continuing without outbound audio")
		e.publish(event.Event{
			Type:     event.TypeAudioDegraded,
			Degraded: true,
			Reason:   "capture unavailable",
			Err:      err,
		})
	}
	playback, err := e.cfg.Device.OpenPlayback()
	if err != nil {
		logger.WithError(err).Warn("Playback unavailable, received audio will be discarded")
		e.publish(event.Event{
			Type:   event.TypeAudioDegraded,
			Reason: "playback unavailable",
			Err:    err,
		})
	}
	e.capture = capture
	e.playback = playback

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if capture != nil {
		e.wg.Add(1)
		go e.sendLoop(loopCtx, capture)
	}
	e.wg.Add(1)
	go e.receiveLoop(loopCtx, playback)

	logger.WithField("degraded", e.degraded.Load()).Info("Audio engine started")
	return nil
}

// Stop ends both loops, closes the socket and devices and waits until the
// loops have returned. It is safe to call more than once and before Start.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		cancel := e.cancel
		e.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if err := e.cfg.Conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.Stop",
				"error":    err.Error(),
			}).Debug("Closing audio socket")
		}
		e.wg.Wait()

		e.mu.Lock()
		if e.capture != nil {
			e.capture.Close()
		}
		if e.playback != nil {
			e.playback.Close()
		}
		e.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function":        "Engine.Stop",
			"session":         e.cfg.SessionID,
			"frames_sent":     e.framesSent.Load(),
			"frames_received": e.framesReceived.Load(),
		}).Info("Audio engine stopped")
	})
}

// SetMuted stops or resumes outbound audio. Capture is drained either way.
func (e *Engine) SetMuted(muted bool) {
	e.muted.Store(muted)
}

// Muted reports whether outbound audio is muted.
func (e *Engine) Muted() bool {
	return e.muted.Load()
}

// Degraded reports whether the engine runs without a capture device.
func (e *Engine) Degraded() bool {
	return e.degraded.Load()
}

// LocalAddr returns the address of the audio socket.
func (e *Engine) LocalAddr() net.Addr {
	return e.cfg.Conn.LocalAddr()
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		FramesSent:     e.framesSent.Load(),
		BytesSent:      e.bytesSent.Load(),
		FramesReceived: e.framesReceived.Load(),
		BytesReceived:  e.bytesReceived.Load(),
		StrayDatagrams: e.stray.Load(),
	}
}

func (e *Engine) sendLoop(ctx context.Context, capture Capture) {
	defer e.wg.Done()

	buf := make([]byte, FrameBytes)
	sendErrors := 0
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := capture.ReadFrame(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.degraded.Store(true)
			logrus.WithFields(logrus.Fields{
				"function": "Engine.sendLoop",
				"session":  e.cfg.SessionID,
				"error":    err.Error(),
			}).Warn("Capture failed, outbound audio stopped")
			e.publish(event.Event{
				Type:     event.TypeAudioDegraded,
				Degraded: true,
				Reason:   "capture failed",
				Err:      err,
			})
			return
		}
		if n == 0 || e.muted.Load() {
			continue
		}

		if _, err := e.cfg.Conn.WriteTo(buf[:n], e.cfg.Remote); err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if errors.Is(err, syscall.ECONNREFUSED) {
				continue
			}
			sendErrors++
			if sendErrors >= MaxConsecutiveSendErrors {
				e.fail(fmt.Errorf("audio send: %d consecutive failures: %w", sendErrors, err))
				return
			}
			if sendErrors == 1 {
				logrus.WithFields(logrus.Fields{
					"function": "Engine.sendLoop",
					"session":  e.cfg.SessionID,
					"error":    err.Error(),
				}).Debug("Dropping audio frame")
			}
			continue
		}
		sendErrors = 0
		e.framesSent.Add(1)
		e.bytesSent.Add(uint64(n))
		if e.cfg.Observer != nil {
			e.cfg.Observer.FrameSent(n)
		}
	}
}

func (e *Engine) receiveLoop(ctx context.Context, playback Playback) {
	defer e.wg.Done()

	buf := make([]byte, 2*FrameBytes)
	for {
		if ctx.Err() != nil {
			return
		}

		if err := e.cfg.Conn.SetReadDeadline(time.Now().Add(e.cfg.PollInterval)); err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			e.fail(fmt.Errorf("audio deadline: %w", err))
			return
		}

		n, from, err := e.cfg.Conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, syscall.ECONNREFUSED) {
				continue
			}
			e.fail(fmt.Errorf("audio receive: %w", err))
			return
		}

		if !e.fromRemote(from) || n > limits.MaxAudioDatagram {
			e.stray.Add(1)
			if e.cfg.Observer != nil {
				e.cfg.Observer.StrayDatagram()
			}
			continue
		}

		frame := buf[:n&^1]
		e.framesReceived.Add(1)
		e.bytesReceived.Add(uint64(len(frame)))
		if e.cfg.Observer != nil {
			e.cfg.Observer.FrameReceived(len(frame))
		}

		if e.cfg.Detector.Observe(frame) {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.receiveLoop",
				"remote":   e.cfg.Remote.IP.String(),
				"session":  e.cfg.SessionID,
				"level":    Level(frame),
			}).Info("Audio detected from remote peer")
			e.publish(event.Event{Type: event.TypeAudioDetected})
		}

		if playback == nil {
			continue
		}
		if e.cfg.Gain != nil {
			e.cfg.Gain.Apply(frame)
		}
		if err := playback.WriteFrame(frame); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.receiveLoop",
				"session":  e.cfg.SessionID,
				"error":    err.Error(),
			}).Warn("Playback failed, discarding received audio")
			playback = nil
		}
	}
}

func (e *Engine) fromRemote(addr net.Addr) bool {
	udp, ok := addr.(*net.UDPAddr)
	if !ok {
		return false
	}
	return udp.IP.Equal(e.cfg.Remote.IP)
}

func (e *Engine) fail(err error) {
	e.failOnce.Do(func() {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.fail",
			"session":  e.cfg.SessionID,
			"error":    err.Error(),
		}).Error("Audio transport failed")
		if e.cfg.OnFailure != nil {
			e.cfg.OnFailure(err)
		}
	})
}

func (e *Engine) publish(ev event.Event) {
	if e.cfg.Events == nil {
		return
	}
	ev.Remote = e.cfg.Remote.IP.String()
	ev.SessionID = e.cfg.SessionID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.cfg.Events.Publish(ev)
}
