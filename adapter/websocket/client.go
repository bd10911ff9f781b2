package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	webull "github.com/bjoelf/webull-adapter/adapter"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	eventSendTimeout            = time.Second
	writeWait                   = 10 * time.Second
	defaultMaxReconnectAttempts = 5
	defaultEventBuffer          = 100
)

// errSessionClosed ends a session without counting as a transport failure.
var errSessionClosed = errors.New("session closed")

// State is the supervisor state reported by StreamingClient.State.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateConnected    State = "CONNECTED"
	StateFailed       State = "FAILED"
)

// TokenProvider supplies the bearer token for the handshake. *webull.AuthManager
// satisfies it.
type TokenProvider interface {
	GetToken(ctx context.Context) (webull.AccessToken, error)
}

// Conn is the duplex frame stream of one websocket session. *websocket.Conn
// satisfies it. Close and WriteControl may be called concurrently with the
// other methods; WriteMessage calls are serialized by the client.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPingHandler(h func(appData string) error)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens a session.
type Dialer interface {
	DialContext(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Config configures the connection supervisor.
type Config struct {
	URL                  string
	HeartbeatInterval    time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	EventBuffer          int
}

// ConfigFrom derives the streaming configuration from the client configuration.
func ConfigFrom(cfg webull.Config) Config {
	return Config{
		URL:                  cfg.StreamingURL(),
		HeartbeatInterval:    cfg.Streaming.HeartbeatInterval,
		MaxReconnectAttempts: cfg.Streaming.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Streaming.ReconnectDelay,
		EventBuffer:          cfg.Streaming.EventBuffer,
	}
}

// StreamingClient supervises one websocket connection: it dials, delivers
// inbound events on a channel, keeps the session alive with heartbeats and
// reconnects with a fixed delay until MaxReconnectAttempts consecutive
// attempts failed.
type StreamingClient struct {
	cfg     Config
	tokens  TokenProvider
	dialer  Dialer
	metrics *webull.Metrics
	logger  *slog.Logger

	mu            sync.Mutex
	state         State
	attempts      int
	running       bool
	stopped       bool
	stop          chan struct{}
	conn          Conn
	stream        *eventStream
	subscriptions map[string]SubscriptionRequest

	writeMu sync.Mutex
}

// Option customizes NewStreamingClient.
type Option func(*StreamingClient)

func WithLogger(logger *slog.Logger) Option {
	return func(c *StreamingClient) { c.logger = logger }
}

// WithDialer replaces the gorilla dialer, e.g. with a fake in tests.
func WithDialer(d Dialer) Option {
	return func(c *StreamingClient) { c.dialer = d }
}

// WithHTTPClient makes the default dialer reuse the TLS configuration of
// httpClient's transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *StreamingClient) { c.dialer = NewGorillaDialer(httpClient) }
}

func WithMetrics(m *webull.Metrics) Option {
	return func(c *StreamingClient) { c.metrics = m }
}

// NewStreamingClient creates a disconnected client. A MaxReconnectAttempts
// below 1 uses the default of 5, so the first dial always happens.
func NewStreamingClient(cfg Config, tokens TokenProvider, opts ...Option) *StreamingClient {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.MaxReconnectAttempts < 1 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}

	c := &StreamingClient{
		cfg:           cfg,
		tokens:        tokens,
		state:         StateDisconnected,
		subscriptions: make(map[string]SubscriptionRequest),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewGorillaDialer(nil)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// State returns the current supervisor state.
func (c *StreamingClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the supervisor and returns the event channel immediately.
// The channel is closed when the supervisor stops, after a terminal FAILED or
// DISCONNECTED event. Cancelling ctx stops the supervisor like Disconnect.
func (c *StreamingClient) Connect(ctx context.Context) (<-chan Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil, invalid("streaming client is already running")
	}

	stream := newEventStream(c.cfg.EventBuffer)
	c.running = true
	c.stopped = false
	c.attempts = 0
	c.state = StateReconnecting
	c.stop = make(chan struct{})
	c.stream = stream

	c.logger.Info("Starting streaming supervisor",
		"function", "Connect",
		"url", c.cfg.URL,
		"max_reconnect_attempts", c.cfg.MaxReconnectAttempts)

	go c.supervise(ctx, stream, c.stop)
	return stream.events, nil
}

// Disconnect stops the supervisor. The current socket is closed so a blocked
// read returns promptly; no reconnect follows.
func (c *StreamingClient) Disconnect() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.attempts = c.cfg.MaxReconnectAttempts + 1
	conn := c.conn
	if c.running && !c.stopped {
		c.stopped = true
		close(c.stop)
	}
	c.mu.Unlock()

	c.logger.Info("Disconnect requested", "function", "Disconnect")
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
}

// Subscribe sends a SUBSCRIBE control message. The subscription is restored
// after every reconnect until Unsubscribe.
func (c *StreamingClient) Subscribe(ctx context.Context, req SubscriptionRequest) error {
	if err := c.sendControl(ctx, "SUBSCRIBE", req); err != nil {
		return err
	}

	key := subscriptionKey(req)
	c.mu.Lock()
	c.subscriptions[key] = req
	stream := c.stream
	c.mu.Unlock()

	c.emit(stream, subscriptionEvent(key, SubscriptionSubscribed))
	return nil
}

// Unsubscribe sends an UNSUBSCRIBE control message.
func (c *StreamingClient) Unsubscribe(ctx context.Context, req SubscriptionRequest) error {
	if err := c.sendControl(ctx, "UNSUBSCRIBE", req); err != nil {
		return err
	}

	key := subscriptionKey(req)
	c.mu.Lock()
	delete(c.subscriptions, key)
	stream := c.stream
	c.mu.Unlock()

	c.emit(stream, subscriptionEvent(key, SubscriptionUnsubscribed))
	return nil
}

func (c *StreamingClient) sendControl(ctx context.Context, action string, req SubscriptionRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		return webull.ErrNotConnected
	}
	return c.writeControl(conn, action, req)
}

func (c *StreamingClient) writeControl(conn Conn, action string, req SubscriptionRequest) error {
	data, err := json.Marshal(controlMessage{Action: action, Request: req})
	if err != nil {
		return &webull.SerializationError{Err: err}
	}
	if err := c.write(conn, data); err != nil {
		return &webull.NetworkError{Op: "websocket " + action, Err: err}
	}

	c.logger.Debug("Sent control message",
		"function", "writeControl",
		"action", action,
		"subscription", subscriptionKey(req))
	return nil
}

func (c *StreamingClient) write(conn Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ============================================================================
// SUPERVISOR
// ============================================================================

func (c *StreamingClient) supervise(parent context.Context, stream *eventStream, stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	var lastStatus ConnectionState

	emitStatus := func(status ConnectionState, connectionID, message string) {
		lastStatus = status
		c.emit(stream, connectionEvent(status, connectionID, message))
	}

	defer func() {
		c.mu.Lock()
		c.running = false
		c.conn = nil
		c.mu.Unlock()
		stream.close()
		c.logger.Info("Streaming supervisor stopped", "function", "supervise")
	}()

	for {
		c.mu.Lock()
		stopped := c.stopped || ctx.Err() != nil
		if stopped || c.attempts >= c.cfg.MaxReconnectAttempts {
			attempts := c.attempts
			if stopped {
				c.state = StateDisconnected
			} else {
				c.state = StateFailed
			}
			c.mu.Unlock()

			if stopped {
				if lastStatus != ConnectionDisconnected {
					emitStatus(ConnectionDisconnected, "", "disconnected by client")
				}
				return
			}
			c.logger.Error("Max reconnection attempts reached, giving up",
				"function", "supervise",
				"attempts", attempts)
			emitStatus(ConnectionFailed, "", fmt.Sprintf("giving up after %d attempts", attempts))
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		token, err := c.tokens.GetToken(ctx)
		if err != nil {
			c.logger.Warn("No token for streaming connection",
				"function", "supervise",
				"attempt", attempt,
				"error", err)
			c.emit(stream, errorEvent(ErrCodeAuth, err.Error()))
			c.sleep(ctx)
			continue
		}

		header := http.Header{}
		header.Set("Authorization", "Bearer "+token.Token)

		conn, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
		if err != nil && ctx.Err() != nil {
			continue
		}
		if err != nil {
			c.logger.Warn("WebSocket dial failed",
				"function", "supervise",
				"attempt", attempt,
				"max_attempts", c.cfg.MaxReconnectAttempts,
				"error", err)
			c.emit(stream, errorEvent(ErrCodeConnect, err.Error()))
		} else if c.attach(conn) {
			connectionID := uuid.NewString()
			c.logger.Info("WebSocket connection established",
				"function", "supervise",
				"connection_id", connectionID)
			emitStatus(ConnectionConnected, connectionID, "")
			c.restoreSubscriptions(conn, stream)

			err := c.runSession(ctx, conn, stream)

			c.detach(conn)
			conn.Close()
			c.logger.Info("WebSocket session ended",
				"function", "supervise",
				"connection_id", connectionID,
				"reason", err)
			emitStatus(ConnectionDisconnected, connectionID, sessionEndMessage(err))
		} else {
			// Disconnect raced the dial
			conn.Close()
			continue
		}

		if ctx.Err() != nil || !c.transition(StateReconnecting) {
			continue
		}
		c.metrics.StreamReconnect()
		emitStatus(ConnectionReconnecting, "", fmt.Sprintf("retrying in %s", c.cfg.ReconnectDelay))
		c.sleep(ctx)
	}
}

// attach publishes conn as the live session unless Disconnect ran meanwhile.
func (c *StreamingClient) attach(conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return false
	}
	c.conn = conn
	c.attempts = 0
	c.state = StateConnected
	return true
}

func (c *StreamingClient) detach(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		c.conn = nil
	}
}

// transition sets the state unless the client was stopped.
func (c *StreamingClient) transition(s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return false
	}
	c.state = s
	return true
}

func (c *StreamingClient) restoreSubscriptions(conn Conn, stream *eventStream) {
	c.mu.Lock()
	subs := make([]SubscriptionRequest, 0, len(c.subscriptions))
	for _, req := range c.subscriptions {
		subs = append(subs, req)
	}
	c.mu.Unlock()

	for _, req := range subs {
		if err := c.writeControl(conn, "SUBSCRIBE", req); err != nil {
			c.logger.Warn("Resubscription failed",
				"function", "restoreSubscriptions",
				"subscription", subscriptionKey(req),
				"error", err)
			c.emit(stream, Event{
				Type:      EventSubscription,
				Timestamp: time.Now().UTC(),
				Subscription: &SubscriptionStatus{
					SubscriptionID: subscriptionKey(req),
					Status:         SubscriptionFailed,
					Message:        err.Error(),
				},
			})
		}
	}
	if len(subs) > 0 {
		c.logger.Info("Restored subscriptions",
			"function", "restoreSubscriptions",
			"count", len(subs))
	}
}

func (c *StreamingClient) sleep(ctx context.Context) {
	timer := time.NewTimer(c.cfg.ReconnectDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func sessionEndMessage(err error) string {
	if err == nil || errors.Is(err, errSessionClosed) {
		return "connection closed"
	}
	return err.Error()
}

// ============================================================================
// SESSION
// ============================================================================

// runSession runs the reader and the heartbeat until either fails, the peer
// closes or ctx is done. Disconnect cancels ctx.
func (c *StreamingClient) runSession(ctx context.Context, conn Conn, stream *eventStream) error {
	var lastActivity atomic.Int64
	touch := func() { lastActivity.Store(time.Now().UnixNano()) }
	touch()

	conn.SetPongHandler(func(string) error {
		touch()
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		touch()
		if err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait)); err != nil {
			c.emit(stream, errorEvent(ErrCodePong, err.Error()))
		}
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.readLoop(gctx, conn, stream, touch)
	})

	g.Go(func() error {
		return c.heartbeatLoop(gctx, conn, stream, &lastActivity)
	})

	// unblocks the reader once the session is over for any reason
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, errSessionClosed) {
		return nil
	}
	return err
}

func (c *StreamingClient) readLoop(ctx context.Context, conn Conn, stream *eventStream, touch func()) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.isStopped() {
				return errSessionClosed
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.logger.Info("WebSocket closed by server",
					"function", "readLoop",
					"code", closeErr.Code,
					"reason", closeErr.Text)
				return errSessionClosed
			}
			c.logger.Error("ReadMessage error",
				"function", "readLoop",
				"error", err,
				"error_type", fmt.Sprintf("%T", err))
			c.emit(stream, errorEvent(ErrCodeRead, err.Error()))
			return err
		}
		touch()

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			c.handleFrame(stream, data)
		}
	}
}

func (c *StreamingClient) handleFrame(stream *eventStream, data []byte) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.Warn("Unable to parse streaming message",
			"function", "handleFrame",
			"size", len(data),
			"error", err)
		c.emit(stream, errorEvent(ErrCodeParse, err.Error()))
		return
	}
	c.emit(stream, event)
}

// heartbeatLoop pings the server whenever the session was idle for a full
// interval.
func (c *StreamingClient) heartbeatLoop(ctx context.Context, conn Conn, stream *eventStream, lastActivity *atomic.Int64) error {
	if c.cfg.HeartbeatInterval <= 0 {
		<-ctx.Done()
		return errSessionClosed
	}

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errSessionClosed
		case <-ticker.C:
			idle := time.Since(time.Unix(0, lastActivity.Load()))
			if idle < c.cfg.HeartbeatInterval {
				continue
			}

			id := uuid.NewString()
			if err := c.sendHeartbeat(conn, id); err != nil {
				c.emit(stream, errorEvent(ErrCodeHeartbeat, err.Error()))
				return err
			}
			c.emit(stream, heartbeatEvent(id))
		}
	}
}

func (c *StreamingClient) sendHeartbeat(conn Conn, id string) error {
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	data, err := json.Marshal(map[string]string{"type": string(EventHeartbeat), "id": id})
	if err != nil {
		return err
	}
	if err := c.write(conn, data); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func (c *StreamingClient) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// emit delivers ev, dropping it if the consumer does not read within
// eventSendTimeout.
func (c *StreamingClient) emit(stream *eventStream, ev Event) {
	if stream == nil {
		return
	}
	delivered, open := stream.send(ev, eventSendTimeout)
	if delivered {
		c.metrics.StreamEvent(string(ev.Type))
		return
	}
	if !open {
		return
	}
	c.logger.Warn("Event channel full, dropping event",
		"function", "emit",
		"type", ev.Type)
}

func subscriptionEvent(key string, status SubscriptionState) Event {
	return Event{
		Type:         EventSubscription,
		Timestamp:    time.Now().UTC(),
		Subscription: &SubscriptionStatus{SubscriptionID: key, Status: status},
	}
}

// eventStream guards the event channel so late senders never write to it
// after it was closed.
type eventStream struct {
	mu     sync.RWMutex
	events chan Event
	closed bool
}

func newEventStream(buffer int) *eventStream {
	return &eventStream{events: make(chan Event, buffer)}
}

func (s *eventStream) send(ev Event, timeout time.Duration) (delivered, open bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, false
	}

	select {
	case s.events <- ev:
		return true, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.events <- ev:
		return true, true
	case <-timer.C:
		return false, true
	}
}

func (s *eventStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.events)
	}
}
