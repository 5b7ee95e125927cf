package voicemsg

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/lanphone/event"
	"github.com/opd-ai/lanphone/wire"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedTime struct{ t time.Time }

func (f fixedTime) Now() time.Time { return f.t }

var receivedAt = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

func newTestStore() *Store {
	s := NewStore(afero.NewMemMapFs(), "inbox")
	s.SetTimeProvider(fixedTime{receivedAt})
	return s
}

type collector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *collector) Publish(e event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

type countingObserver struct {
	complete, incomplete int
}

func (o *countingObserver) VoiceMessageReceived(complete bool, _ int64) {
	if complete {
		o.complete++
	} else {
		o.incomplete++
	}
}

// serveOnce accepts one connection, reads its first line and hands it to rcv.
func serveOnce(t *testing.T, rcv *Receiver) (string, <-chan Result, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	results := make(chan Result, 1)
	errs := make(chan error, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			errs <- err
			return
		}
		conn := wire.NewConn(raw)
		first, err := conn.ReadLineTimeout(time.Second)
		if err != nil {
			conn.Close()
			errs <- err
			return
		}
		res, err := rcv.Receive(conn, first)
		results <- res
		errs <- err
	}()
	return ln.Addr().String(), results, errs
}

func rawSend(t *testing.T, addr string, payload string) {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = io.WriteString(c, payload)
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestSendReceiveRoundTrip(t *testing.T) {
	store := newTestStore()
	events := &collector{}
	obs := &countingObserver{}
	rcv := NewReceiver(store, events)
	rcv.Observer = obs
	addr, results, errs := serveOnce(t, rcv)

	payload := make([]byte, 100_000)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	sent, err := Send(context.Background(), addr, "greeting.wav", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), sent)

	res := <-results
	require.NoError(t, <-errs)
	assert.True(t, res.Complete)
	assert.Equal(t, "greeting.wav", res.FileName)
	assert.Equal(t, "127.0.0.1", res.Remote)
	assert.Equal(t, int64(len(payload)), res.Declared)
	assert.Equal(t, int64(len(payload)), res.Received)
	assert.Equal(t, "inbox/20240305_140709_greeting.wav", res.StoredPath)

	stored, err := afero.ReadFile(store.Fs(), res.StoredPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, stored), "stored bytes differ from sent bytes")

	require.Len(t, events.events, 1)
	assert.Equal(t, event.TypeVoiceMessageReceived, events.events[0].Type)
	assert.True(t, events.events[0].Complete)
	assert.Equal(t, 1, obs.complete)
}

func TestReceiveShortTransfer(t *testing.T) {
	store := newTestStore()
	events := &collector{}
	addr, results, errs := serveOnce(t, NewReceiver(store, events))

	rawSend(t, addr, "AUDIO_MESSAGE\nshort.wav\n100\n"+strings.Repeat("x", 40))

	res := <-results
	err := <-errs
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.False(t, res.Complete)
	assert.Equal(t, int64(100), res.Declared)
	assert.Equal(t, int64(40), res.Received)
	assert.True(t, strings.HasSuffix(res.StoredPath, PartialSuffix))

	stored, err := afero.ReadFile(store.Fs(), res.StoredPath)
	require.NoError(t, err)
	assert.Len(t, stored, 40)

	require.Len(t, events.events, 1)
	assert.False(t, events.events[0].Complete)
}

func TestReceiveNeverReadsPastDeclaredSize(t *testing.T) {
	store := newTestStore()
	addr, results, errs := serveOnce(t, NewReceiver(store, nil))

	rawSend(t, addr, "AUDIO_MESSAGE\nexact.wav\n10\n0123456789EXTRA-BYTES")

	res := <-results
	require.NoError(t, <-errs)
	assert.True(t, res.Complete)
	assert.Equal(t, int64(10), res.Received)

	stored, err := afero.ReadFile(store.Fs(), res.StoredPath)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(stored))
}

func TestReceiveLegacyHeader(t *testing.T) {
	store := newTestStore()
	addr, results, errs := serveOnce(t, NewReceiver(store, nil))

	rawSend(t, addr, "legacy.wav\r\n5\r\nhello")

	res := <-results
	require.NoError(t, <-errs)
	assert.Equal(t, "legacy.wav", res.FileName)

	stored, err := afero.ReadFile(store.Fs(), res.StoredPath)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(stored))
}

func TestReceiveProtocolErrors(t *testing.T) {
	cases := map[string]string{
		"bad size":      "AUDIO_MESSAGE\nx.wav\nlots\n",
		"negative size": "AUDIO_MESSAGE\nx.wav\n-5\n",
		"oversized":     "AUDIO_MESSAGE\nx.wav\n999999999999\n",
		"dot name":      "AUDIO_MESSAGE\n..\n5\nhello",
		"missing size":  "AUDIO_MESSAGE\nx.wav\n",
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			store := newTestStore()
			events := &collector{}
			addr, results, errs := serveOnce(t, NewReceiver(store, events))

			rawSend(t, addr, payload)

			res := <-results
			err := <-errs
			assert.ErrorIs(t, err, ErrProtocol)
			assert.Empty(t, res.StoredPath)
			assert.Empty(t, events.events)

			names, err := store.List()
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestReceiveStripsDirectories(t *testing.T) {
	store := newTestStore()
	addr, results, errs := serveOnce(t, NewReceiver(store, nil))

	rawSend(t, addr, "AUDIO_MESSAGE\n../../etc/passwd\n3\nabc")

	res := <-results
	require.NoError(t, <-errs)
	assert.Equal(t, "passwd", res.FileName)
	assert.Equal(t, "inbox/20240305_140709_passwd", res.StoredPath)
}

func TestSendSourceShort(t *testing.T) {
	store := newTestStore()
	addr, results, errs := serveOnce(t, NewReceiver(store, nil))

	sent, err := Send(context.Background(), addr, "cut.wav", strings.NewReader("abc"), 10)
	assert.ErrorIs(t, err, ErrSourceShort)
	assert.Equal(t, int64(3), sent)

	res := <-results
	assert.ErrorIs(t, <-errs, ErrIncomplete)
	assert.Equal(t, int64(3), res.Received)
	assert.False(t, res.Complete)
}

func TestSendValidation(t *testing.T) {
	_, err := Send(context.Background(), "127.0.0.1:1", "a/b.wav", strings.NewReader(""), 0)
	assert.Error(t, err)

	_, err = Send(context.Background(), "127.0.0.1:1", "ok.wav", strings.NewReader(""), -1)
	assert.Error(t, err)
}

func TestSendConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Send(context.Background(), addr, "x.wav", strings.NewReader("abc"), 3)
	var opErr *wire.OpError
	assert.True(t, errors.As(err, &opErr))
}

func TestSaveSameNameWithinOneSecond(t *testing.T) {
	store := newTestStore()

	var paths []string
	for _, body := range []string{"first", "second", "third"} {
		path, n, err := store.Save("hello.wav", strings.NewReader(body), int64(len(body)))
		require.NoError(t, err)
		assert.Equal(t, int64(len(body)), n)
		paths = append(paths, path)
	}
	assert.Equal(t, []string{
		filepath.Join("inbox", "20240305_140709_hello.wav"),
		filepath.Join("inbox", "20240305_140709_hello_1.wav"),
		filepath.Join("inbox", "20240305_140709_hello_2.wav"),
	}, paths)

	data, err := afero.ReadFile(store.Fs(), paths[1])
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	// A partial transfer keeps its slot; the next message skips it.
	partial, _, err := store.Save("cut.wav", strings.NewReader("ab"), 10)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, filepath.Join("inbox", "20240305_140709_cut.wav"+PartialSuffix), partial)
	next, _, err := store.Save("cut.wav", strings.NewReader("abc"), 3)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("inbox", "20240305_140709_cut_1.wav"), next)
}

func TestReceiveSameNameTwice(t *testing.T) {
	store := newTestStore()
	events := &collector{}
	rcv := NewReceiver(store, events)

	for i := 0; i < 2; i++ {
		addr, results, errs := serveOnce(t, rcv)
		rawSend(t, addr, "AUDIO_MESSAGE\nhello.wav\n5\nhello")
		res := <-results
		require.NoError(t, <-errs)
		assert.True(t, res.Complete)
	}

	names, err := store.List()
	require.NoError(t, err)
	assert.Len(t, names, 2)
	events.mu.Lock()
	defer events.mu.Unlock()
	assert.Len(t, events.events, 2)
}

func TestStoreCreateOpenList(t *testing.T) {
	store := newTestStore()

	f, err := store.Create("memo.wav")
	require.NoError(t, err)
	_, err = f.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = store.Create("memo.wav")
	assert.Error(t, err, "Create must not overwrite")

	r, size, err := store.Open("memo.wav")
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
	r.Close()

	_, _, err = store.Open("../secret")
	assert.ErrorIs(t, err, ErrDirectoryTraversal)

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"memo.wav"}, names)

	empty := NewStore(afero.NewMemMapFs(), "")
	assert.Equal(t, DefaultDir, empty.Dir())
	names, err = empty.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSendFile(t *testing.T) {
	outbox := NewStore(afero.NewMemMapFs(), "outbox")
	require.NoError(t, afero.WriteFile(outbox.Fs(), "outbox/note.wav", []byte("voice-bytes"), 0o644))

	inbox := newTestStore()
	addr, results, errs := serveOnce(t, NewReceiver(inbox, nil))

	n, err := SendFile(context.Background(), addr, outbox, "note.wav")
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	res := <-results
	require.NoError(t, <-errs)
	assert.Equal(t, "note.wav", res.FileName)
	assert.True(t, res.Complete)
}

func TestValidatePath(t *testing.T) {
	p, err := ValidatePath("a/./b.wav")
	require.NoError(t, err)
	assert.Equal(t, "a/b.wav", p)

	_, err = ValidatePath("a/../../b.wav")
	assert.ErrorIs(t, err, ErrDirectoryTraversal)
}
