// internal/events/channel.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"jobmarket-client/internal/common/config"
	"jobmarket-client/internal/common/logger"
	"jobmarket-client/internal/common/metrics"
	"jobmarket-client/internal/models"
)

// ConnState is the lifecycle state of the push channel.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Conn is a single established push connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer establishes a Conn against a ws:// or wss:// URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "teardown")
}

// WebsocketDialer dials real websocket connections with a handshake timeout.
func WebsocketDialer(handshakeTimeout time.Duration) Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
		defer cancel()

		ws, _, err := websocket.Dial(dialCtx, url, nil)
		if err != nil {
			return nil, err
		}
		return &wsConn{ws: ws}, nil
	}
}

// EndpointResolver supplies the base HTTP URL of the entity store. The
// request layer's Discoverer satisfies this, so both layers follow the same
// resolved address.
type EndpointResolver interface {
	Current() string
	Discover(ctx context.Context) (string, error)
}

// Channel maintains the persistent push connection: bounded reconnection with
// increasing delay, transparent reconnect when endpoint discovery resolves a
// new address, and rate-limited error logging. Subscriptions live in the
// Dispatcher and survive every reconnect untouched.
type Channel struct {
	dialer        Dialer
	resolver      EndpointResolver
	dispatcher    *Dispatcher
	logger        logger.Logger
	path          string
	maxAttempts   int
	baseDelay     time.Duration
	suppressAfter int64

	errCount atomic.Int64

	mu       sync.Mutex
	state    ConnState
	conn     Conn
	endpoint string
	userID   string
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewChannel builds a Channel. A nil dialer means real websocket dialing.
func NewChannel(cfg config.ChannelConfig, resolver EndpointResolver, dispatcher *Dispatcher, dialer Dialer, log logger.Logger) *Channel {
	if dialer == nil {
		dialer = WebsocketDialer(config.GetDuration(cfg.HandshakeTimeout))
	}
	path := cfg.Endpoint
	if path == "" {
		path = "/ws"
	}
	return &Channel{
		dialer:        dialer,
		resolver:      resolver,
		dispatcher:    dispatcher,
		logger:        log.WithFields(map[string]interface{}{"component": "channel"}),
		path:          path,
		maxAttempts:   cfg.MaxReconnectAttempts,
		baseDelay:     config.GetDuration(cfg.ReconnectDelay),
		suppressAfter: int64(cfg.LogSuppressAfter),
	}
}

// Dispatcher returns the event dispatcher the channel feeds.
func (c *Channel) Dispatcher() *Dispatcher {
	return c.dispatcher
}

func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the push connection, retrying up to the configured
// attempt budget, then starts the read and endpoint-watch loops. Calling
// Connect while already connected is a no-op. When the budget is spent the
// channel is left disconnected and the returned error is advisory; State is
// the contract, and a later Connect starts over with a fresh budget.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("push channel is torn down")
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, err := c.dialWithRetry(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return fmt.Errorf("push channel is torn down")
	}
	c.conn = conn
	c.cancel = cancel
	c.done = done
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.replayJoin(runCtx, conn)

	go c.run(runCtx, cancel, conn, done)
	go c.watchEndpoint(runCtx)
	return nil
}

// Teardown closes the connection and stops all loops. Safe to call any
// number of times, in any state.
func (c *Channel) Teardown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	done := c.done
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			c.logger.Warn("read loop did not stop in time", nil)
		}
	}
	return nil
}

// Join announces the user to the push server. The identity is remembered and
// replayed automatically after every reconnect.
func (c *Channel) Join(ctx context.Context, userID string) error {
	c.mu.Lock()
	c.userID = userID
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		return nil
	}
	return c.emit(ctx, conn, models.EmitJoin, models.JoinPayload{UserID: userID})
}

// SendMessage emits a chat message over the push connection.
func (c *Channel) SendMessage(ctx context.Context, msg models.ChatMessage) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		return fmt.Errorf("push channel not connected")
	}
	return c.emit(ctx, conn, models.EmitSendMessage, msg)
}

func (c *Channel) emit(ctx context.Context, conn Conn, event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(models.Envelope{Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return conn.Write(ctx, frame)
}

// wsEndpoint maps the resolver's HTTP base URL onto the websocket endpoint.
func (c *Channel) wsEndpoint() string {
	base := c.resolver.Current()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + c.path
}

// dialWithRetry dials with a fresh attempt budget and linearly increasing
// delay. The target URL is re-resolved between attempts so a rediscovered
// endpoint is picked up mid-retry.
func (c *Channel) dialWithRetry(ctx context.Context) (Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		target := c.wsEndpoint()

		conn, err := c.dialer(ctx, target)
		if err == nil {
			c.setEndpoint(target)
			c.resetErrors()
			return conn, nil
		}
		lastErr = err

		c.logError("dial failed", err, map[string]interface{}{
			"attempt":  attempt,
			"endpoint": target,
		})

		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.baseDelay * time.Duration(attempt)):
		}
	}
	return nil, fmt.Errorf("push channel: %d connection attempts exhausted: %w", c.maxAttempts, lastErr)
}

// run reads frames until teardown. A lost connection gets a full fresh
// reconnect budget; only after that budget is exhausted does the channel go
// permanently disconnected. The run context is cancelled on exit so the
// endpoint watcher from the same Connect never outlives the read loop.
func (c *Channel) run(ctx context.Context, cancel context.CancelFunc, conn Conn, done chan struct{}) {
	defer cancel()
	defer close(done)

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if c.isClosed() || ctx.Err() != nil {
				return
			}

			c.logError("connection lost, reconnecting", err, nil)
			c.setState(StateConnecting)

			next, derr := c.dialWithRetry(ctx)
			if derr != nil {
				if !c.isClosed() {
					c.logger.Error("push channel gave up reconnecting", map[string]interface{}{
						"error": derr.Error(),
					})
				}
				c.setState(StateDisconnected)
				return
			}
			if !c.adopt(next) {
				_ = next.Close()
				return
			}
			metrics.ChannelReconnects.Inc()
			conn = next
			c.replayJoin(ctx, next)
			continue
		}

		c.resetErrors()
		c.handleFrame(data)
	}
}

// watchEndpoint notices when endpoint discovery has resolved a different
// address and forces a reconnect by closing the current connection. The read
// loop then redials against the new target; subscriptions are unaffected.
func (c *Channel) watchEndpoint(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			target := c.wsEndpoint()

			c.mu.Lock()
			stale := c.state == StateConnected && c.endpoint != "" && c.endpoint != target
			conn := c.conn
			c.mu.Unlock()

			if stale && conn != nil {
				c.logger.Info("endpoint changed, reconnecting push channel", map[string]interface{}{
					"endpoint": target,
				})
				_ = conn.Close()
			}
		}
	}
}

func (c *Channel) handleFrame(data []byte) {
	if err := ValidateEnvelope(data); err != nil {
		metrics.EventsDropped.WithLabelValues("invalid_envelope").Inc()
		c.logError("dropping malformed frame", err, nil)
		return
	}

	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.EventsDropped.WithLabelValues("invalid_envelope").Inc()
		c.logError("dropping undecodable frame", err, nil)
		return
	}

	c.dispatcher.Dispatch(env.Event, env.Payload)
}

func (c *Channel) replayJoin(ctx context.Context, conn Conn) {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()

	if userID == "" {
		return
	}
	if err := c.emit(ctx, conn, models.EmitJoin, models.JoinPayload{UserID: userID}); err != nil {
		c.logError("join emission failed", err, nil)
	}
}

// adopt installs a freshly dialed connection unless teardown won the race.
// Connection and state change under one lock so a concurrent Teardown can
// never be followed by a stale connected state.
func (c *Channel) adopt(conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	c.setStateLocked(StateConnected)
	return true
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) setEndpoint(endpoint string) {
	c.mu.Lock()
	c.endpoint = endpoint
	c.mu.Unlock()
}

// setState ignores transitions after teardown so a racing reconnect can never
// overwrite the terminal disconnected state.
func (c *Channel) setState(state ConnState) {
	c.mu.Lock()
	if !c.closed {
		c.setStateLocked(state)
	}
	c.mu.Unlock()
}

func (c *Channel) setStateLocked(state ConnState) {
	c.state = state
	metrics.ChannelState.Set(float64(state))
}

// logError logs until the consecutive-error threshold is crossed, then
// suppresses everything until the channel recovers.
func (c *Channel) logError(msg string, err error, fields map[string]interface{}) {
	n := c.errCount.Add(1)
	if n == c.suppressAfter+1 {
		c.logger.Warn("suppressing further channel errors", map[string]interface{}{
			"consecutive": n,
		})
	}
	if n > c.suppressAfter {
		return
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["error"] = err.Error()
	c.logger.Error(msg, fields)
}

func (c *Channel) resetErrors() {
	if c.errCount.Swap(0) > c.suppressAfter {
		c.logger.Info("push channel recovered, error logging resumed", nil)
	}
}
