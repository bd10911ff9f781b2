package mocktesting

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MockWebullWebSocketServer is a TLS websocket server speaking the streaming
// protocol: it expects a bearer token on the handshake, records the control
// messages clients send and lets tests push events to every connected client.
type MockWebullWebSocketServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*sync.Mutex

	mu            sync.Mutex
	messages      []ControlMessage
	heartbeats    int
	handshakes    int
	authHeaders   []string
	rejectStatus  int
	expectedToken string
	connected     chan struct{}
}

// ControlMessage is a SUBSCRIBE or UNSUBSCRIBE frame received from a client.
type ControlMessage struct {
	Action  string         `json:"action"`
	Request map[string]any `json:"request"`
}

// NewMockWebullWebSocketServer starts the server. The websocket endpoint is /ws.
func NewMockWebullWebSocketServer() *MockWebullWebSocketServer {
	mock := &MockWebullWebSocketServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]*sync.Mutex),
		connected: make(chan struct{}, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", mock.handleWebSocket)
	mock.server = httptest.NewTLSServer(mux)
	return mock
}

// GetWebSocketURL returns the wss:// endpoint.
func (m *MockWebullWebSocketServer) GetWebSocketURL() string {
	return strings.Replace(m.server.URL, "https://", "wss://", 1) + "/ws"
}

// GetHTTPClient returns a client trusting the server's self-signed certificate.
func (m *MockWebullWebSocketServer) GetHTTPClient() *http.Client {
	return m.server.Client()
}

// ExpectToken makes the handshake fail with 401 unless the bearer token matches.
func (m *MockWebullWebSocketServer) ExpectToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expectedToken = token
}

// RejectHandshakes makes every following handshake fail with status; 0 accepts again.
func (m *MockWebullWebSocketServer) RejectHandshakes(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectStatus = status
}

// WaitForConnection blocks until a client completed the handshake.
func (m *MockWebullWebSocketServer) WaitForConnection(timeout time.Duration) error {
	select {
	case <-m.connected:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("no client connected within %s", timeout)
	}
}

func (m *MockWebullWebSocketServer) Close() {
	m.CloseClients()
	m.server.Close()
}

// CloseClients drops every client connection without a close frame.
func (m *MockWebullWebSocketServer) CloseClients() {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	for conn := range m.clients {
		conn.Close()
	}
	m.clients = make(map[*websocket.Conn]*sync.Mutex)
}

// SendEvent writes event as JSON to every client.
func (m *MockWebullWebSocketServer) SendEvent(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return m.SendRaw(data)
}

// SendQuote pushes a QUOTE event.
func (m *MockWebullWebSocketServer) SendQuote(symbol, lastPrice string) error {
	return m.SendEvent(map[string]any{
		"type":       "QUOTE",
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"symbol":     symbol,
		"last_price": lastPrice,
	})
}

// SendOrderUpdate pushes an ORDER event.
func (m *MockWebullWebSocketServer) SendOrderUpdate(orderID, status string) error {
	return m.SendEvent(map[string]any{
		"type":      "ORDER",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"id":        orderID,
		"status":    status,
	})
}

// SendRaw writes data as a text frame to every client.
func (m *MockWebullWebSocketServer) SendRaw(data []byte) error {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()

	for conn, writeMu := range m.clients {
		writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to send test message: %w", err)
		}
	}
	return nil
}

// SendClose sends a close frame with code to every client.
func (m *MockWebullWebSocketServer) SendClose(code int) {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()

	for conn := range m.clients {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
	}
}

// SendPing sends a ping frame to every client.
func (m *MockWebullWebSocketServer) SendPing() error {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()

	for conn := range m.clients {
		if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
			return err
		}
	}
	return nil
}

// GetControlMessages returns the SUBSCRIBE and UNSUBSCRIBE frames received so far.
func (m *MockWebullWebSocketServer) GetControlMessages() []ControlMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ControlMessage(nil), m.messages...)
}

// HeartbeatCount returns how many HEARTBEAT messages clients sent.
func (m *MockWebullWebSocketServer) HeartbeatCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeats
}

// HandshakeCount returns how many handshakes were attempted, rejected ones included.
func (m *MockWebullWebSocketServer) HandshakeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handshakes
}

// AuthHeaders returns the Authorization header of every handshake.
func (m *MockWebullWebSocketServer) AuthHeaders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.authHeaders...)
}

func (m *MockWebullWebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")

	m.mu.Lock()
	m.handshakes++
	m.authHeaders = append(m.authHeaders, authHeader)
	reject, expected := m.rejectStatus, m.expectedToken
	m.mu.Unlock()

	if reject != 0 {
		http.Error(w, "handshake rejected", reject)
		return
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		http.Error(w, "Missing or invalid Authorization header", http.StatusUnauthorized)
		return
	}
	if expected != "" && strings.TrimPrefix(authHeader, "Bearer ") != expected {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	m.clientsMu.Lock()
	m.clients[conn] = &sync.Mutex{}
	m.clientsMu.Unlock()

	defer func() {
		m.clientsMu.Lock()
		delete(m.clients, conn)
		m.clientsMu.Unlock()
	}()

	select {
	case m.connected <- struct{}{}:
	default:
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		m.record(data)
	}
}

func (m *MockWebullWebSocketServer) record(data []byte) {
	var frame struct {
		Action  string         `json:"action"`
		Type    string         `json:"type"`
		Request map[string]any `json:"request"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case frame.Action != "":
		m.messages = append(m.messages, ControlMessage{Action: frame.Action, Request: frame.Request})
	case frame.Type == "HEARTBEAT":
		m.heartbeats++
	}
}
