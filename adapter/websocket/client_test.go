package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	webull "github.com/bjoelf/webull-adapter/adapter"
	"github.com/bjoelf/webull-adapter/adapter/websocket/mocktesting"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// ============================================================================
// HELPERS
// ============================================================================

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) GetToken(context.Context) (webull.AccessToken, error) {
	if s.err != nil {
		return webull.AccessToken{}, s.err
	}
	return webull.AccessToken{Token: s.token, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type failingDialer struct {
	calls atomic.Int32
}

func (d *failingDialer) DialContext(context.Context, string, http.Header) (Conn, error) {
	d.calls.Add(1)
	return nil, errors.New("connection refused")
}

func newTestStreamingClient(t *testing.T, server *mocktesting.MockWebullWebSocketServer, cfg Config) *StreamingClient {
	t.Helper()
	cfg.URL = server.GetWebSocketURL()
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = 3
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 10 * time.Millisecond
	}
	client := NewStreamingClient(cfg, staticTokens{token: "test-token"}, WithHTTPClient(server.GetHTTPClient()))
	t.Cleanup(client.Disconnect)
	return client
}

// waitForEvent reads events until match accepts one.
func waitForEvent(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("Event channel closed before the expected event")
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("Timeout waiting for event")
		}
	}
}

// drain reads events until the channel is closed.
func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var all []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return all
			}
			all = append(all, ev)
		case <-deadline:
			t.Fatalf("Timeout waiting for event channel to close, got %d events", len(all))
		}
	}
}

func isConnection(status ConnectionState) func(Event) bool {
	return func(ev Event) bool {
		return ev.Type == EventConnection && ev.Connection.Status == status
	}
}

func connectAndWait(t *testing.T, client *StreamingClient, server *mocktesting.MockWebullWebSocketServer) <-chan Event {
	t.Helper()
	events, err := client.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForEvent(t, events, isConnection(ConnectionConnected))
	if err := server.WaitForConnection(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	return events
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ============================================================================
// CONNECTION
// ============================================================================

func TestStreamingClient_ConnectAndReceiveQuote(t *testing.T) {
	server := mocktesting.NewMockWebullWebSocketServer()
	defer server.Close()
	server.ExpectToken("test-token")

	client := newTestStreamingClient(t, server, Config{})

	events, err := client.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	connected := waitForEvent(t, events, isConnection(ConnectionConnected))
	if connected.Connection.ConnectionID == "" {
		t.Error("Expected a connection id on the CONNECTED event")
	}
	if client.State() != StateConnected {
		t.Errorf("Expected state %s, got %s", StateConnected, client.State())
	}
	if err := server.WaitForConnection(5 * time.Second); err != nil {
		t.Fatal(err)
	}

	headers := server.AuthHeaders()
	if len(headers) != 1 || headers[0] != "Bearer test-token" {
		t.Errorf("Expected one bearer handshake, got %v", headers)
	}

	if err := server.SendQuote("AAPL", "180.5"); err != nil {
		t.Fatalf("SendQuote failed: %v", err)
	}

	ev := waitForEvent(t, events, func(ev Event) bool { return ev.Type == EventQuote })
	if ev.Quote == nil {
		t.Fatal("Expected quote payload")
	}
	if ev.Quote.Symbol != "AAPL" {
		t.Errorf("Expected symbol AAPL, got %s", ev.Quote.Symbol)
	}
	if !ev.Quote.LastPrice.Equal(decimal.RequireFromString("180.5")) {
		t.Errorf("Expected last price 180.5, got %s", ev.Quote.LastPrice)
	}
	if len(ev.Raw) == 0 {
		t.Error("Expected the raw frame to be kept")
	}
}

func TestStreamingClient_OrderUpdate(t *testing.T) {
	server := mocktesting.NewMockWebullWebSocketServer()
	defer server.Close()

	client := newTestStreamingClient(t, server, Config{})
	events := connectAndWait(t, client, server)

	if err := server.SendOrderUpdate("ord-1", "FILLED"); err != nil {
		t.Fatalf("SendOrderUpdate failed: %v", err)
	}

	ev := waitForEvent(t, events, func(ev Event) bool { return ev.Type == EventOrder })
	if ev.Order == nil || ev.Order.ID != "ord-1" || ev.Order.Status != webull.OrderStatusFilled {
		t.Errorf("Unexpected order payload: %+v", ev.Order)
	}
}

func TestStreamingClient_ConnectTwice(t *testing.T) {
	server := mocktesting.NewMockWebullWebSocketServer()
	defer server.Close()

	client := newTestStreamingClient(t, server, Config{})
	connectAndWait(t, client, server)

	if _, err := client.Connect(context.Background()); !errors.Is(err, webull.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for a second Connect, got %v", err)
	}
}

func TestStreamingClient_Disconnect(t *testing.T) {
	server := mocktesting.NewMockWebullWebSocketServer()
	defer server.Close()

	client := newTestStreamingClient(t, server, Config{})
	events := connectAndWait(t, client, server)

	client.Disconnect()

	rest := drain(t, events)
	var disconnected int
	for _, ev := range rest {
		if ev.Type != EventConnection {
			continue
		}
		switch ev.Connection.Status {
		case ConnectionDisconnected:
			disconnected++
		case ConnectionReconnecting:
			t.Error("Expected no reconnect after Disconnect")
		}
	}
	if disconnected != 1 {
		t.Errorf("Expected exactly one DISCONNECTED event, got %d", disconnected)
	}
	if client.State() != StateDisconnected {
		t.Errorf("Expected state %s, got %s", StateDisconnected, client.State())
	}

	// a stopped client can be started again
	events = connectAndWait(t, client, server)
	client.Disconnect()
	drain(t, events)
}

func TestStreamingClient_ContextCancelStops(t *testing.T) {
	server := mocktesting.NewMockWebullWebSocketServer()
	defer server.Close()

	client := newTestStreamingClient(t, server, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	events, err := client.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForEvent(t, events, isConnection(ConnectionConnected))

	cancel()

	rest := drain(t, events)
	if len(rest) == 0 {
		t.Fatal("Expected a DISCONNECTED event")
	}
	last := rest[len(rest)-1]
	if last.Type != EventConnection || last.Connection.Status != ConnectionDisconnected {
		t.Errorf("Expected last event DISCONNECTED, got %+v", last)
	}
	if client.State() != StateDisconnected {
		t.Errorf("Expected state %s, got %s", StateDisconnected, client.State())
	}
}

// ============================================================================
// RECONNECT
// ============================================================================

func TestStreamingClient_ReconnectCeiling(t *testing.T) {
	dialer := &failingDialer{}
	client := NewStreamingClient(Config{
		URL:                  "wss://stream.invalid/ws",
		MaxReconnectAttempts: 5,
		ReconnectDelay:       10 * time.Millisecond,
	}, staticTokens{token: "test-token"}, WithDialer(dialer))

	events, err := client.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	all := drain(t, events)

	var reconnecting, connectErrors int
	for _, ev := range all {
		switch {
		case ev.Type == EventConnection && ev.Connection.Status == ConnectionReconnecting:
			reconnecting++
		case ev.Type == EventError && ev.Error.Code == ErrCodeConnect:
			connectErrors++
		}
	}

	if reconnecting != 5 {
		t.Errorf("Expected 5 RECONNECTING events, got %d", reconnecting)
	}
	if connectErrors != 5 {
		t.Errorf("Expected 5 %s events, got %d", ErrCodeConnect, connectErrors)
	}
	if calls := dialer.calls.Load(); calls != 5 {
		t.Errorf("Expected 5 dial attempts, got %d", calls)
	}

	last := all[len(all)-1]
	if last.Type != EventConnection || last.Connection.Status != ConnectionFailed {
		t.Errorf("Expected last event FAILED, got %+v", last)
	}
	if client.State() != StateFailed {
		t.Errorf("Expected state %s, got %s", StateFailed, client.State())
	}
}

func TestStreamingClient_ZeroCeilingUsesDefault(t *testing.T) {
	dialer := &failingDialer{}
	client := NewStreamingClient(Config{
		URL:            "wss://stream.invalid/ws",
		ReconnectDelay: 5 * time.Millisecond,
	}, staticTokens{token: "test-token"}, WithDialer(dialer))

	events, err := client.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	drain(t, events)

	if calls := dialer.calls.Load(); calls != defaultMaxReconnectAttempts {
		t.Errorf("Expected %d dial attempts, got %d", defaultMaxReconnectAttempts, calls)
	}
}

func TestStreamingClient_ServerCloseFrameEndsSessionCleanly(t *testing.T) {
	server := mocktesting.NewMockWebullWebSocketServer()
	defer server.Close()

	client := newTestStreamingClient(t, server, Config{})
	events := connectAndWait(t, client, server)

	server.SendClose(websocket.CloseInternalServerErr)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("Event channel closed before DISCONNECTED")
			}
			if ev.Type == EventError {
				t.Errorf("Expected no error event for a close frame, got %s", ev.Error.Code)
			}
			if isConnection(ConnectionDisconnected)(ev) {
				if ev.Connection.Message != "connection closed" {
					t.Errorf("Expected a clean session end, got %q", ev.Connection.Message)
				}
				// the supervisor still reconnects after a server close
				waitForEvent(t, events, isConnection(ConnectionConnected))
				return
			}
		case <-deadline:
			t.Fatal("Timeout waiting for DISCONNECTED")
		}
	}
}

func TestStreamingClient_HandshakeRejected(t *testing.T) {
	server := mocktesting.NewMockWebullWebSocketServer()
	defer server.Close()
	server.RejectHandshakes(http.StatusServiceUnavailable)

	client := newTestStreamingClient(t, server, Config{MaxReconnectAttempts: 2})

	events, err := client.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	all := drain(t, events)
	var sawStatus bool
	for _, ev := range all {
		if ev.Type == EventError && ev.Error.Code == ErrCodeConnect && strings.Contains(ev.Error.Message, "503") {
			sawStatus = true
		}
	}
	if !sawStatus {
		t.Error("Expected a connect error naming the handshake status")
	}
	if n := server.HandshakeCount(); n != 2 {
		t.Errorf("Expected 2 handshakes, got %d", n)
	}
}

func TestStreamingClient_ReconnectRestoresSubscriptions(t *testing.T) {
	server := mocktesting.NewMockWebullWebSocketServer()
	defer server.Close()

	client := newTestStreamingClient(t, server, Config{})
	events := connectAndWait(t, client, server)

	if err := client.Subscribe(context.Background(), QuoteSubscription("AAPL")); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	eventually(t, "subscribe message", func() bool { return len(server.GetControlMessages()) == 1 })

	server.CloseClients()

	waitForEvent(t, events, isConnection(ConnectionReconnecting))
	waitForEvent(t, events, isConnection(ConnectionConnected))
	eventually(t, "resubscribe message", func() bool { return len(server.GetControlMessages()) == 2 })

	restored := server.GetControlMessages()[1]
	if restored.Action != "SUBSCRIBE" || restored.Request["type"] != "QUOTE" {
		t.Errorf("Unexpected restored subscription: %+v", restored)
	}
}

func TestStreamingClient_AuthError(t *testing.T) {
	client := NewStreamingClient(Config{
		URL:                  "wss://stream.invalid/ws",
		MaxReconnectAttempts: 1,
		ReconnectDelay:       10 * time.Millisecond,
	}, staticTokens{err: webull.ErrUnauthorized}, WithDialer(&failingDialer{}))

	events, err := client.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	all := drain(t, events)
	if len(all) != 2 {
		t.Fatalf("Expected AUTH_ERROR and FAILED, got %d events", len(all))
	}
	if all[0].Type != EventError || all[0].Error.Code != ErrCodeAuth {
		t.Errorf("Expected %s first, got %+v", ErrCodeAuth, all[0])
	}
	if all[1].Type != EventConnection || all[1].Connection.Status != ConnectionFailed {
		t.Errorf("Expected FAILED last, got %+v", all[1])
	}
}

// ============================================================================
// SUBSCRIPTIONS
// ============================================================================

func TestStreamingClient_SubscribeRequiresConnection(t *testing.T) {
	client := NewStreamingClient(Config{URL: "wss://stream.invalid/ws"}, staticTokens{token: "t"})

	err := client.Subscribe(context.Background(), QuoteSubscription("AAPL"))
	if !errors.Is(err, webull.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if !errors.Is(err, webull.ErrInvalidRequest) {
		t.Errorf("Expected ErrNotConnected to be an invalid request, got %v", err)
	}

	if err := client.Subscribe(context.Background(), QuoteSubscription()); !errors.Is(err, webull.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for an empty quote subscription, got %v", err)
	}
}

func TestStreamingClient_SubscribeAndUnsubscribe(t *testing.T) {
	server := mocktesting.NewMockWebullWebSocketServer()
	defer server.Close()

	client := newTestStreamingClient(t, server, Config{})
	events := connectAndWait(t, client, server)

	if err := client.Subscribe(context.Background(), QuoteSubscription("MSFT", "AAPL")); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ev := waitForEvent(t, events, func(ev Event) bool { return ev.Type == EventSubscription })
	if ev.Subscription.SubscriptionID != "QUOTE:AAPL,MSFT" || ev.Subscription.Status != SubscriptionSubscribed {
		t.Errorf("Unexpected subscription event: %+v", ev.Subscription)
	}

	eventually(t, "subscribe message", func() bool { return len(server.GetControlMessages()) == 1 })
	msg := server.GetControlMessages()[0]
	if msg.Action != "SUBSCRIBE" {
		t.Errorf("Expected SUBSCRIBE, got %s", msg.Action)
	}
	if msg.Request["type"] != "QUOTE" {
		t.Errorf("Expected QUOTE request, got %v", msg.Request["type"])
	}
	symbols, _ := msg.Request["symbols"].([]any)
	if len(symbols) != 2 || symbols[0] != "MSFT" || symbols[1] != "AAPL" {
		t.Errorf("Unexpected symbols: %v", msg.Request["symbols"])
	}

	if err := client.Unsubscribe(context.Background(), QuoteSubscription("AAPL", "MSFT")); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	ev = waitForEvent(t, events, func(ev Event) bool { return ev.Type == EventSubscription })
	if ev.Subscription.Status != SubscriptionUnsubscribed {
		t.Errorf("Expected UNSUBSCRIBED, got %s", ev.Subscription.Status)
	}

	eventually(t, "unsubscribe message", func() bool { return len(server.GetControlMessages()) == 2 })
	if action := server.GetControlMessages()[1].Action; action != "UNSUBSCRIBE" {
		t.Errorf("Expected UNSUBSCRIBE, got %s", action)
	}
}

func TestSubscriptionRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     SubscriptionRequest
		wantErr bool
	}{
		{"quote", QuoteSubscription("AAPL"), false},
		{"quote without symbols", QuoteSubscription(), true},
		{"order", OrderSubscription("acc-1"), false},
		{"order without account", OrderSubscription(""), true},
		{"account", AccountSubscription("acc-1"), false},
		{"trade", TradeSubscription("acc-1"), false},
		{"trade without account", TradeSubscription(""), true},
		{"unknown type", SubscriptionRequest{Type: "NEWS"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, webull.ErrInvalidRequest) {
				t.Errorf("Expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestSubscriptionKey(t *testing.T) {
	if a, b := subscriptionKey(QuoteSubscription("MSFT", "AAPL")), subscriptionKey(QuoteSubscription("AAPL", "MSFT")); a != b {
		t.Errorf("Expected symbol order to be ignored, got %q and %q", a, b)
	}
	if key := subscriptionKey(OrderSubscription("acc-1")); key != "ORDER:acc-1" {
		t.Errorf("Expected ORDER:acc-1, got %q", key)
	}
}

// ============================================================================
// FRAMES
// ============================================================================

func TestStreamingClient_ParseError(t *testing.T) {
	server := mocktesting.NewMockWebullWebSocketServer()
	defer server.Close()

	client := newTestStreamingClient(t, server, Config{})
	events := connectAndWait(t, client, server)

	if err := server.SendRaw([]byte("not json")); err != nil {
		t.Fatalf("SendRaw failed: %v", err)
	}
	ev := waitForEvent(t, events, func(ev Event) bool { return ev.Type == EventError })
	if ev.Error.Code != ErrCodeParse {
		t.Errorf("Expected %s, got %s", ErrCodeParse, ev.Error.Code)
	}

	// the session survives a bad frame
	if err := server.SendQuote("MSFT", "410.25"); err != nil {
		t.Fatalf("SendQuote failed: %v", err)
	}
	waitForEvent(t, events, func(ev Event) bool { return ev.Type == EventQuote })
}

func TestStreamingClient_Heartbeat(t *testing.T) {
	server := mocktesting.NewMockWebullWebSocketServer()
	defer server.Close()

	client := newTestStreamingClient(t, server, Config{HeartbeatInterval: 50 * time.Millisecond})
	events := connectAndWait(t, client, server)

	ev := waitForEvent(t, events, func(ev Event) bool { return ev.Type == EventHeartbeat })
	if ev.Heartbeat.ID == "" {
		t.Error("Expected a heartbeat id")
	}
	eventually(t, "heartbeat frame", func() bool { return server.HeartbeatCount() > 0 })
}

func TestEvent_UnmarshalJSON(t *testing.T) {
	t.Run("unknown type keeps raw frame", func(t *testing.T) {
		var ev Event
		frame := `{"type":"NEWS","timestamp":"2024-01-02T15:04:05Z","headline":"x"}`
		if err := ev.UnmarshalJSON([]byte(frame)); err != nil {
			t.Fatalf("UnmarshalJSON failed: %v", err)
		}
		if ev.Type != "NEWS" || string(ev.Raw) != frame {
			t.Errorf("Unexpected event: %+v", ev)
		}
		if ev.Quote != nil || ev.Order != nil || ev.Error != nil {
			t.Error("Expected no decoded payload")
		}
		if ev.Timestamp.IsZero() {
			t.Error("Expected timestamp to be decoded")
		}
	})

	t.Run("account events carry raw only", func(t *testing.T) {
		var ev Event
		if err := ev.UnmarshalJSON([]byte(`{"type":"ACCOUNT","cash":"10"}`)); err != nil {
			t.Fatalf("UnmarshalJSON failed: %v", err)
		}
		if ev.Type != EventAccount || len(ev.Raw) == 0 {
			t.Errorf("Unexpected event: %+v", ev)
		}
	})

	t.Run("missing type", func(t *testing.T) {
		var ev Event
		if err := ev.UnmarshalJSON([]byte(`{"symbol":"AAPL"}`)); err == nil {
			t.Error("Expected an error for a frame without type")
		}
	})

	t.Run("flattened marshal", func(t *testing.T) {
		data, err := connectionEvent(ConnectionConnected, "c-1", "").MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON failed: %v", err)
		}
		for _, want := range []string{`"type":"CONNECTION"`, `"status":"CONNECTED"`, `"connection_id":"c-1"`} {
			if !strings.Contains(string(data), want) {
				t.Errorf("Expected %s in %s", want, data)
			}
		}
	})
}
