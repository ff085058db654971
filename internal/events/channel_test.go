// internal/events/channel_test.go
package events

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmarket-client/internal/common/config"
	"jobmarket-client/internal/common/logger"
	"jobmarket-client/internal/models"
)

type fakeConn struct {
	frames chan []byte

	mu     sync.Mutex
	writes [][]byte

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(frame string) {
	c.frames <- []byte(frame)
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

type fakeResolver struct {
	mu      sync.Mutex
	current string
}

func (r *fakeResolver) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *fakeResolver) Discover(context.Context) (string, error) {
	return r.Current(), nil
}

func (r *fakeResolver) set(url string) {
	r.mu.Lock()
	r.current = url
	r.mu.Unlock()
}

// dialScript records every dial attempt and hands out fake connections,
// failing the attempts its fail predicate selects.
type dialScript struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	fail  func(attempt int) bool
}

func (d *dialScript) dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.urls = append(d.urls, url)
	if d.fail != nil && d.fail(len(d.urls)) {
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *dialScript) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *dialScript) attemptURL(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.urls[i]
}

func (d *dialScript) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *dialScript) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func testChannelConfig() config.ChannelConfig {
	return config.ChannelConfig{
		Endpoint:             "/ws",
		MaxReconnectAttempts: 3,
		ReconnectDelay:       10,
		HandshakeTimeout:     1000,
		LogSuppressAfter:     3,
	}
}

func newTestChannel(t *testing.T, script *dialScript, resolver *fakeResolver) *Channel {
	t.Helper()
	ch := NewChannel(testChannelConfig(), resolver, newTestDispatcher(t), script.dial, logger.NewTestLogger(t))
	t.Cleanup(func() { _ = ch.Teardown() })
	return ch
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond, msg)
}

func TestChannelDeliversFramesToDispatcher(t *testing.T) {
	script := &dialScript{}
	resolver := &fakeResolver{current: "http://backend-a:3000"}
	ch := newTestChannel(t, script, resolver)

	received := make(chan string, 8)
	ch.Dispatcher().Subscribe(models.EventNewApplication, func(payload json.RawMessage) {
		received <- string(payload)
	})

	require.NoError(t, ch.Connect(context.Background()))
	assert.Equal(t, StateConnected, ch.State())
	assert.Equal(t, "ws://backend-a:3000/ws", script.attemptURL(0))

	script.conn(0).push(`{"event":"newApplication","payload":{"application":{"id":"app-1"}}}`)

	select {
	case payload := <-received:
		assert.Contains(t, payload, "app-1")
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the handler")
	}
}

func TestReconnectFollowsRediscoveredEndpoint(t *testing.T) {
	script := &dialScript{}
	resolver := &fakeResolver{current: "http://backend-a:3000"}
	ch := newTestChannel(t, script, resolver)

	received := make(chan string, 8)
	ch.Dispatcher().Subscribe(models.EventNewApplication, func(payload json.RawMessage) {
		received <- string(payload)
	})

	require.NoError(t, ch.Connect(context.Background()))

	// Discovery resolves a new address; the old connection drops.
	resolver.set("http://backend-b:3000")
	script.conn(0).Close()

	waitFor(t, func() bool { return script.connCount() == 2 }, "channel never redialed")
	assert.Equal(t, "ws://backend-b:3000/ws", script.attemptURL(script.attempts()-1))
	waitFor(t, func() bool { return ch.State() == StateConnected }, "channel never recovered")

	// Subscriptions survive the switch untouched.
	assert.Equal(t, 1, ch.Dispatcher().HandlerCount(models.EventNewApplication))

	script.conn(1).push(`{"event":"newApplication","payload":{"application":{"id":"app-2"}}}`)

	select {
	case payload := <-received:
		assert.Contains(t, payload, "app-2")
	case <-time.After(2 * time.Second):
		t.Fatal("event after reconnect never reached the handler")
	}
	assert.Empty(t, received, "no duplicate deliveries after reconnect")
}

func TestEndpointWatcherForcesReconnect(t *testing.T) {
	script := &dialScript{}
	resolver := &fakeResolver{current: "http://backend-a:3000"}
	ch := newTestChannel(t, script, resolver)

	require.NoError(t, ch.Connect(context.Background()))

	// Only the resolved address changes; nothing closes the connection from
	// the outside. The watcher must notice and force the redial itself.
	resolver.set("http://backend-b:3000")

	waitFor(t, func() bool { return script.connCount() == 2 }, "watcher never forced a reconnect")
	assert.Equal(t, "ws://backend-b:3000/ws", script.attemptURL(script.attempts()-1))
}

func TestConnectGivesUpAfterAttemptBudget(t *testing.T) {
	script := &dialScript{fail: func(int) bool { return true }}
	resolver := &fakeResolver{current: "http://backend-a:3000"}
	ch := newTestChannel(t, script, resolver)

	err := ch.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, ch.State())
	assert.Equal(t, 3, script.attempts())
}

func TestReconnectExhaustionDisconnects(t *testing.T) {
	script := &dialScript{fail: func(attempt int) bool { return attempt > 1 }}
	resolver := &fakeResolver{current: "http://backend-a:3000"}
	ch := newTestChannel(t, script, resolver)

	require.NoError(t, ch.Connect(context.Background()))
	script.conn(0).Close()

	waitFor(t, func() bool { return ch.State() == StateDisconnected }, "channel never gave up")
	// Initial dial plus a full fresh reconnect budget.
	assert.Equal(t, 4, script.attempts())
}

// endpointWatchers counts live endpoint-watch goroutines across the process.
func endpointWatchers() int {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	return strings.Count(string(buf[:n]), "watchEndpoint")
}

func TestEndpointWatcherStopsWithReadLoop(t *testing.T) {
	// Initial dial succeeds, the full reconnect budget fails, a later
	// Connect succeeds again.
	script := &dialScript{fail: func(attempt int) bool { return attempt > 1 && attempt <= 4 }}
	resolver := &fakeResolver{current: "http://backend-a:3000"}
	ch := newTestChannel(t, script, resolver)

	require.NoError(t, ch.Connect(context.Background()))
	script.conn(0).Close()
	waitFor(t, func() bool { return ch.State() == StateDisconnected }, "channel never gave up")

	// Exhausting the budget must stop the watcher along with the read loop.
	waitFor(t, func() bool { return endpointWatchers() == 0 }, "watcher outlived the read loop")

	require.NoError(t, ch.Connect(context.Background()))
	require.NoError(t, ch.Teardown())
	waitFor(t, func() bool { return endpointWatchers() == 0 }, "watcher outlived teardown")
}

func TestTeardownDuringRedialStaysDisconnected(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	gate := make(chan struct{})
	var dials atomic.Int32

	dialer := func(context.Context, string) (Conn, error) {
		if dials.Add(1) == 1 {
			return first, nil
		}
		<-gate
		return second, nil
	}

	resolver := &fakeResolver{current: "http://backend-a:3000"}
	ch := NewChannel(testChannelConfig(), resolver, newTestDispatcher(t), dialer, logger.NewTestLogger(t))
	t.Cleanup(func() { _ = ch.Teardown() })

	require.NoError(t, ch.Connect(context.Background()))
	first.Close()
	waitFor(t, func() bool { return dials.Load() == 2 }, "channel never redialed")

	// Let the redial complete only once teardown is already underway.
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(gate)
	}()
	require.NoError(t, ch.Teardown())

	assert.Equal(t, StateDisconnected, ch.State())
	select {
	case <-second.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection dialed after teardown never closed")
	}
}

func TestJoinReplayedAfterReconnect(t *testing.T) {
	script := &dialScript{}
	resolver := &fakeResolver{current: "http://backend-a:3000"}
	ch := newTestChannel(t, script, resolver)

	require.NoError(t, ch.Connect(context.Background()))
	require.NoError(t, ch.Join(context.Background(), "user-9"))

	script.conn(0).Close()
	waitFor(t, func() bool { return script.connCount() == 2 }, "channel never redialed")
	waitFor(t, func() bool { return len(script.conn(1).written()) > 0 }, "join never replayed")

	var env models.Envelope
	require.NoError(t, json.Unmarshal(script.conn(1).written()[0], &env))
	assert.Equal(t, models.EmitJoin, env.Event)
	assert.Contains(t, string(env.Payload), "user-9")
}

func TestSendMessageRequiresConnection(t *testing.T) {
	script := &dialScript{}
	resolver := &fakeResolver{current: "http://backend-a:3000"}
	ch := newTestChannel(t, script, resolver)

	err := ch.SendMessage(context.Background(), models.ChatMessage{Message: "hi"})
	require.Error(t, err)

	require.NoError(t, ch.Connect(context.Background()))
	require.NoError(t, ch.SendMessage(context.Background(), models.ChatMessage{
		SenderID:   "user-1",
		ReceiverID: "user-2",
		Message:    "hi",
	}))

	writes := script.conn(0).written()
	require.Len(t, writes, 1)

	var env models.Envelope
	require.NoError(t, json.Unmarshal(writes[0], &env))
	assert.Equal(t, models.EmitSendMessage, env.Event)
}

func TestMalformedFramesDropped(t *testing.T) {
	script := &dialScript{}
	resolver := &fakeResolver{current: "http://backend-a:3000"}
	ch := newTestChannel(t, script, resolver)

	received := make(chan string, 8)
	ch.Dispatcher().Subscribe(models.EventNewMessage, func(payload json.RawMessage) {
		received <- string(payload)
	})

	require.NoError(t, ch.Connect(context.Background()))

	script.conn(0).push(`not json at all`)
	script.conn(0).push(`{"payload":{"no":"event"}}`)
	script.conn(0).push(`{"event":"newMessage","payload":{"message":"hello"}}`)

	select {
	case payload := <-received:
		assert.Contains(t, payload, "hello")
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after malformed ones never delivered")
	}
	assert.Empty(t, received)
}

func TestTeardownIsIdempotent(t *testing.T) {
	script := &dialScript{}
	resolver := &fakeResolver{current: "http://backend-a:3000"}
	ch := newTestChannel(t, script, resolver)

	require.NoError(t, ch.Connect(context.Background()))

	require.NoError(t, ch.Teardown())
	require.NoError(t, ch.Teardown())
	assert.Equal(t, StateDisconnected, ch.State())

	// A torn-down channel stays down.
	require.Error(t, ch.Connect(context.Background()))
	assert.Equal(t, 1, script.attempts())
}

func TestTeardownBeforeConnectIsNoop(t *testing.T) {
	script := &dialScript{}
	resolver := &fakeResolver{current: "http://backend-a:3000"}
	ch := newTestChannel(t, script, resolver)

	require.NoError(t, ch.Teardown())
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestValidateEnvelope(t *testing.T) {
	assert.NoError(t, ValidateEnvelope([]byte(`{"event":"newApplication","payload":{}}`)))
	assert.NoError(t, ValidateEnvelope([]byte(`{"event":"userTyping"}`)))
	assert.Error(t, ValidateEnvelope([]byte(`{"payload":{}}`)))
	assert.Error(t, ValidateEnvelope([]byte(`{"event":""}`)))
	assert.Error(t, ValidateEnvelope([]byte(`[]`)))
	assert.Error(t, ValidateEnvelope([]byte(`garbage`)))
}
