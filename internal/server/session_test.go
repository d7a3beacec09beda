package server

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// pipeTransport is a Transport whose writes go to a channel.
type pipeTransport struct {
	written  chan []byte
	writeErr error
	pings    chan struct{}

	mu     sync.Mutex
	closed bool
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{
		written: make(chan []byte, 16),
		pings:   make(chan struct{}, 16),
	}
}

func (p *pipeTransport) ReadDatagram() (protocol.Datagram, error) {
	return nil, protocol.ErrIO
}

func (p *pipeTransport) WriteFrame(frame []byte) error {
	if p.writeErr != nil {
		return p.writeErr
	}
	p.written <- frame
	return nil
}

func (p *pipeTransport) Ping() error {
	select {
	case p.pings <- struct{}{}:
	default:
	}
	return nil
}

func (p *pipeTransport) SetReadDeadline(time.Time) error { return nil }

func (p *pipeTransport) RemoteAddr() string { return "pipe" }

func (p *pipeTransport) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *pipeTransport) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func testSession(t *testing.T, tr Transport, cfg Config, onWriteError func(string)) *Session {
	t.Helper()
	s := newSession("id-1", "alice", tr, sanitizeConfig(cfg), zerolog.Nop(), onWriteError)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionWritesFramesInOrder(t *testing.T) {
	tr := newPipeTransport()
	s := testSession(t, tr, DefaultConfig(), nil)
	go s.writePump()

	for _, frame := range []string{"one", "two", "three"} {
		require.NoError(t, s.Enqueue([]byte(frame)))
	}
	for _, want := range []string{"one", "two", "three"} {
		select {
		case got := <-tr.written:
			assert.Equal(t, want, string(got))
		case <-time.After(time.Second):
			t.Fatalf("frame %q was not written", want)
		}
	}
}

func TestSessionQueueFullIsAnEnqueueFailure(t *testing.T) {
	tr := newPipeTransport()
	cfg := DefaultConfig()
	cfg.OutboundQueueSize = 2
	s := testSession(t, tr, cfg, nil)

	require.NoError(t, s.Enqueue([]byte("1")))
	require.NoError(t, s.Enqueue([]byte("2")))
	assert.ErrorIs(t, s.Enqueue([]byte("3")), ErrQueueFull)
}

func TestSessionEnqueueAfterClose(t *testing.T) {
	tr := newPipeTransport()
	s := testSession(t, tr, DefaultConfig(), nil)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, tr.isClosed())
	assert.ErrorIs(t, s.Enqueue([]byte("late")), ErrSessionClosed)

	select {
	case <-s.Done():
	default:
		t.Fatal("Done is not closed after Close")
	}
}

func TestSessionWriteErrorClosesAndReports(t *testing.T) {
	tr := newPipeTransport()
	tr.writeErr = errors.New("write: connection refused")

	reported := make(chan string, 1)
	s := testSession(t, tr, DefaultConfig(), func(id string) { reported <- id })

	done := make(chan struct{})
	go func() {
		s.writePump()
		close(done)
	}()
	require.NoError(t, s.Enqueue([]byte("frame")))

	select {
	case id := <-reported:
		assert.Equal(t, "id-1", id)
	case <-time.After(time.Second):
		t.Fatal("write error was not reported")
	}
	<-done
	assert.True(t, tr.isClosed())
	assert.ErrorIs(t, s.Enqueue([]byte("again")), ErrSessionClosed)
}

func TestSessionPingsTransportsThatSupportIt(t *testing.T) {
	tr := newPipeTransport()
	cfg := DefaultConfig()
	cfg.PingInterval = 10 * time.Millisecond
	s := testSession(t, tr, cfg, nil)
	go s.writePump()

	select {
	case <-tr.pings:
	case <-time.After(time.Second):
		t.Fatal("no ping was sent")
	}
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "unauthenticated", stateUnauthenticated.String())
	assert.Equal(t, "authenticated", stateAuthenticated.String())
	assert.Equal(t, "closed", stateClosed.String())
	assert.Equal(t, "connState(7)", connState(7).String())
}
