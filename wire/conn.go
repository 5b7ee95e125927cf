package wire

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/lanphone/limits"
	"github.com/sirupsen/logrus"
)

// Conn is a protocol connection. Reads are expected from a single goroutine;
// writes may come from any goroutine and are serialized.
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// NewConn wraps an established network connection.
func NewConn(raw net.Conn) *Conn {
	return &Conn{
		raw:    raw,
		reader: bufio.NewReaderSize(raw, 4096),
		closed: make(chan struct{}),
	}
}

// Dial opens a TCP connection to addr, bounded by timeout and ctx.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"addr":     addr,
		"timeout":  timeout,
	}).Debug("Dialing peer")

	dialer := net.Dialer{Timeout: timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newOpError("dial", addr, err)
	}
	return NewConn(raw), nil
}

// ReadLine reads one line, stripping the line terminator. A final line
// without terminator is returned before io.EOF.
func (c *Conn) ReadLine() (string, error) {
	var line []byte
	for {
		chunk, err := c.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > limits.MaxLineLength+2 {
			return "", ErrLineTooLong
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			break
		}
		return "", c.wrap("read", err)
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

// ReadLineTimeout reads one line with a read deadline of d. The deadline is
// cleared afterwards.
func (c *Conn) ReadLineTimeout(d time.Duration) (string, error) {
	if err := c.raw.SetReadDeadline(time.Now().Add(d)); err != nil {
		return "", c.wrap("read", err)
	}
	defer c.raw.SetReadDeadline(time.Time{})
	return c.ReadLine()
}

// WriteLine writes line followed by "\n".
func (c *Conn) WriteLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := io.WriteString(c.raw, line+"\n"); err != nil {
		return c.wrap("write", err)
	}
	return nil
}

// WriteLines writes each line in order under one lock.
func (c *Conn) WriteLines(lines ...string) error {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := io.WriteString(c.raw, b.String()); err != nil {
		return c.wrap("write", err)
	}
	return nil
}

// Request writes lines and waits up to timeout for a single reply verb.
func (c *Conn) Request(timeout time.Duration, lines ...string) (string, error) {
	if err := c.WriteLines(lines...); err != nil {
		return "", err
	}
	reply, err := c.ReadLineTimeout(timeout)
	if err != nil {
		return "", err
	}
	return Verb(reply), nil
}

// Write writes raw payload bytes, serialized with line writes.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	n, err := c.raw.Write(p)
	if err != nil {
		return n, c.wrap("write", err)
	}
	return n, nil
}

// Body returns a reader for raw payload following the header lines. It
// includes any bytes already buffered while reading lines.
func (c *Conn) Body() io.Reader {
	return c.reader
}

// SetReadDeadline sets the read deadline on the underlying connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.raw.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline on the underlying connection.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.raw.SetWriteDeadline(t)
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// RemoteHost returns the peer's IP address without port.
func (c *Conn) RemoteHost() string {
	return HostOf(c.raw.RemoteAddr())
}

// CloseWrite half-closes the connection when the transport supports it,
// signalling end of payload to the peer.
func (c *Conn) CloseWrite() error {
	if tc, ok := c.raw.(interface{ CloseWrite() error }); ok {
		return tc.CloseWrite()
	}
	return nil
}

// Close closes the connection. Subsequent calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

func (c *Conn) wrap(op string, err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	select {
	case <-c.closed:
		return newOpError(op, c.raw.RemoteAddr().String(), ErrConnectionClosed)
	default:
	}
	return newOpError(op, c.raw.RemoteAddr().String(), err)
}

// HostOf returns the IP portion of a TCP or UDP address.
func HostOf(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	case nil:
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// SameHost reports whether two host strings name the same IP address.
func SameHost(a, b string) bool {
	ipa, ipb := net.ParseIP(a), net.ParseIP(b)
	if ipa == nil || ipb == nil {
		return a == b
	}
	return ipa.Equal(ipb)
}
