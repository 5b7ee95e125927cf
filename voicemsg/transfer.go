package voicemsg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/opd-ai/lanphone/event"
	"github.com/opd-ai/lanphone/limits"
	"github.com/opd-ai/lanphone/wire"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultConnectTimeout bounds the sender's TCP connect.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultStallTimeout is the longest gap between reads or writes before
	// a transfer is abandoned.
	DefaultStallTimeout = 30 * time.Second
)

// Header describes a voice message before its payload.
type Header struct {
	FileName string
	Size     int64
}

// Lines returns the header as protocol lines.
func (h Header) Lines() []string {
	return []string{wire.VerbAudioMessage, h.FileName, strconv.FormatInt(h.Size, 10)}
}

// ReadHeader completes a header whose first line has already been read.
// The first line is either AUDIO_MESSAGE or, in the older form, the file name.
func ReadHeader(conn *wire.Conn, first string, timeout time.Duration) (Header, error) {
	name := first
	if wire.Verb(first) == wire.VerbAudioMessage {
		line, err := conn.ReadLineTimeout(timeout)
		if err != nil {
			return Header{}, fmt.Errorf("%w: reading file name: %v", ErrProtocol, err)
		}
		name = line
	}

	clean, err := SanitizeName(name)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	sizeLine, err := conn.ReadLineTimeout(timeout)
	if err != nil {
		return Header{}, fmt.Errorf("%w: reading size: %v", ErrProtocol, err)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 10, 64)
	if err != nil {
		return Header{}, fmt.Errorf("%w: bad size %q", ErrProtocol, sizeLine)
	}
	if err := limits.ValidateVoiceMessageSize(size); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return Header{FileName: clean, Size: size}, nil
}

// Send delivers size bytes from r to the voice message port at addr and
// returns the number of payload bytes written.
func Send(ctx context.Context, addr, name string, r io.Reader, size int64) (int64, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function":  "Send",
		"addr":      addr,
		"file_name": name,
		"size":      size,
	})

	if err := limits.ValidateFileName(name); err != nil {
		return 0, err
	}
	if err := limits.ValidateVoiceMessageSize(size); err != nil {
		return 0, err
	}

	conn, err := wire.Dial(ctx, addr, DefaultConnectTimeout)
	if err != nil {
		logger.WithError(err).Warn("Voice message connect failed")
		return 0, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	h := Header{FileName: name, Size: size}
	if err := conn.WriteLines(h.Lines()...); err != nil {
		return 0, err
	}

	sent, err := io.CopyN(&deadlineWriter{conn: conn, timeout: DefaultStallTimeout}, r, size)
	if err != nil {
		if errors.Is(err, io.EOF) {
			logger.WithField("sent", sent).Warn("Voice message source ended early")
			return sent, fmt.Errorf("%w: %d of %d bytes", ErrSourceShort, sent, size)
		}
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		return sent, err
	}
	if err := conn.CloseWrite(); err != nil {
		logger.WithError(err).Debug("Half-close after payload failed")
	}

	logger.WithField("sent", sent).Info("Voice message sent")
	return sent, nil
}

// SendFile sends the stored file name from store to addr.
func SendFile(ctx context.Context, addr string, store *Store, name string) (int64, error) {
	f, size, err := store.Open(name)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return Send(ctx, addr, baseName(name), f, size)
}

func baseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

type deadlineWriter struct {
	conn    *wire.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return 0, err
	}
	return w.conn.Write(p)
}

type deadlineReader struct {
	conn    *wire.Conn
	timeout time.Duration
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, err
	}
	return r.conn.Body().Read(p)
}

// Result is the outcome of one received voice message.
type Result struct {
	FileName   string
	StoredPath string
	Remote     string
	Declared   int64
	Received   int64
	Complete   bool
}

// Observer receives per-message counters. metrics.Metrics implements it.
type Observer interface {
	VoiceMessageReceived(complete bool, bytes int64)
}

// Receiver accepts voice messages into a Store.
type Receiver struct {
	Store        *Store
	Events       event.Publisher
	Observer     Observer
	StallTimeout time.Duration
}

// NewReceiver creates a receiver for store that publishes to events.
func NewReceiver(store *Store, events event.Publisher) *Receiver {
	return &Receiver{
		Store:        store,
		Events:       events,
		StallTimeout: DefaultStallTimeout,
	}
}

// ServeConn handles one accepted voice message connection and closes it.
func (r *Receiver) ServeConn(conn *wire.Conn, first string) {
	_, _ = r.Receive(conn, first)
}

// Receive reads one voice message whose first line has already been read,
// stores it and closes conn. A short transfer returns a Result with
// Complete == false and an error wrapping ErrIncomplete.
func (r *Receiver) Receive(conn *wire.Conn, first string) (Result, error) {
	defer conn.Close()

	timeout := r.StallTimeout
	if timeout <= 0 {
		timeout = DefaultStallTimeout
	}
	remote := conn.RemoteHost()
	logger := logrus.WithFields(logrus.Fields{
		"function": "Receiver.Receive",
		"remote":   remote,
	})

	h, err := ReadHeader(conn, first, timeout)
	if err != nil {
		logger.WithError(err).Warn("Rejected voice message header")
		return Result{Remote: remote}, err
	}

	res := Result{FileName: h.FileName, Remote: remote, Declared: h.Size}
	path, received, err := r.Store.Save(h.FileName, &deadlineReader{conn: conn, timeout: timeout}, h.Size)
	res.StoredPath = path
	res.Received = received
	res.Complete = err == nil

	if path == "" {
		logger.WithError(err).Error("Voice message could not be stored")
		return res, err
	}

	if r.Observer != nil {
		r.Observer.VoiceMessageReceived(res.Complete, received)
	}
	if r.Events != nil {
		r.Events.Publish(event.Event{
			Type:       event.TypeVoiceMessageReceived,
			Remote:     remote,
			FileName:   h.FileName,
			StoredPath: path,
			Declared:   h.Size,
			Received:   received,
			Complete:   res.Complete,
		})
	}
	return res, err
}
