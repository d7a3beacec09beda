package server

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// fakeOutbound records enqueued frames and can be told to fail.
type fakeOutbound struct {
	mu       sync.Mutex
	frames   [][]byte
	fail     bool
	closed   int
	attempts int
}

func (f *fakeOutbound) Enqueue(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.fail {
		return errors.New("broken pipe")
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeOutbound) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeOutbound) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func (f *fakeOutbound) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeOutbound) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestRegistry() *Registry {
	return NewRegistry(zerolog.Nop(), nil)
}

func TestBroadcastReachesEveryoneButTheAuthor(t *testing.T) {
	r := newTestRegistry()
	alice, bob, carol := &fakeOutbound{}, &fakeOutbound{}, &fakeOutbound{}
	r.Add("a", "alice", alice)
	r.Add("b", "bob", bob)
	r.Add("c", "carol", carol)

	msg := protocol.ChatMessage{Sender: "alice", Content: protocol.Text("hi")}
	require.NoError(t, r.Broadcast("a", msg))

	want, err := protocol.EncodeFrame(protocol.Message{ChatMessage: msg})
	require.NoError(t, err)

	assert.Empty(t, alice.received())
	assert.Equal(t, [][]byte{want}, bob.received())
	assert.Equal(t, [][]byte{want}, carol.received())
	assert.Equal(t, float64(2), testutil.ToFloat64(r.metrics.deliveries))
}

func TestBroadcastEvictsFailedRecipients(t *testing.T) {
	r := newTestRegistry()
	alice, bob, carol := &fakeOutbound{}, &fakeOutbound{fail: true}, &fakeOutbound{}
	r.Add("a", "alice", alice)
	r.Add("b", "bob", bob)
	r.Add("c", "carol", carol)

	require.NoError(t, r.Broadcast("a", protocol.ChatMessage{Sender: "alice", Content: protocol.Text("one")}))

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 1, bob.closeCount())
	assert.Len(t, carol.received(), 1, "a failed recipient must not stop the others")
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.evictions))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.metrics.sessions))

	require.NoError(t, r.Broadcast("c", protocol.ChatMessage{Sender: "carol", Content: protocol.Text("two")}))
	assert.Len(t, alice.received(), 1, "alice wrote the first message")
	assert.Len(t, carol.received(), 1, "carol wrote the second message")
	assert.Empty(t, bob.received())
	assert.Equal(t, 1, bob.attemptCount(), "an evicted session is not written to again")
	assert.Equal(t, 1, bob.closeCount())
}

func TestBroadcastRejectsUnencodableMessages(t *testing.T) {
	r := newTestRegistry()
	bob := &fakeOutbound{}
	r.Add("b", "bob", bob)

	err := r.Broadcast("a", protocol.ChatMessage{Sender: "alice"})
	require.ErrorIs(t, err, protocol.ErrMalformed)
	assert.Empty(t, bob.received())
	assert.Equal(t, 1, r.Len())
}

func TestAddReplacesAndClosesPreviousHandle(t *testing.T) {
	r := newTestRegistry()
	first, second := &fakeOutbound{}, &fakeOutbound{}

	r.Add("a", "alice", first)
	r.Add("a", "alice", first)
	assert.Equal(t, 0, first.closeCount(), "re-adding the same handle keeps it open")

	r.Add("a", "alice", second)
	assert.Equal(t, 1, first.closeCount())
	assert.Equal(t, 1, r.Len())

	require.NoError(t, r.Broadcast("x", protocol.ChatMessage{Sender: "x", Content: protocol.Text("hi")}))
	assert.Empty(t, first.received())
	assert.Len(t, second.received(), 1)
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	r.Add("a", "alice", &fakeOutbound{})

	r.Remove("a")
	r.Remove("a")
	r.Remove("never-added")
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, float64(0), testutil.ToFloat64(r.metrics.sessions))
}

func TestCloseAllClosesEverySession(t *testing.T) {
	r := newTestRegistry()
	outs := []*fakeOutbound{{}, {}, {}}
	for i, out := range outs {
		r.Add(string(rune('a'+i)), "user", out)
	}

	assert.Equal(t, 3, r.CloseAll())
	assert.Equal(t, 0, r.Len())
	for _, out := range outs {
		assert.Equal(t, 1, out.closeCount())
	}
}

func TestConcurrentAddRemoveAndBroadcast(t *testing.T) {
	r := newTestRegistry()
	listener := &fakeOutbound{}
	r.Add("listener", "listener", listener)

	const workers, rounds = 8, 50
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + w))
			for range rounds {
				r.Add(id, id, &fakeOutbound{})
				assert.NoError(t, r.Broadcast(id, protocol.ChatMessage{Sender: id, Content: protocol.Text("x")}))
				r.Remove(id)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
	assert.Len(t, listener.received(), workers*rounds)
}

func TestLockedHelpersPanicWithoutTheLock(t *testing.T) {
	r := newTestRegistry()
	assert.Panics(t, func() { r.removeLocked("a") })
	assert.Panics(t, func() { r.countLocked() })
}
