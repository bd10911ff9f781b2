package webull

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockWebullServer is an httptest server answering with canned responses keyed
// by "METHOD /path". It records every request for verification.
type MockWebullServer struct {
	server *httptest.Server

	mu        sync.Mutex
	responses map[string]MockResponse
	requests  []MockRequest
}

// MockResponse is one configured answer. Body is JSON encoded unless it is a
// string, which is written as is.
type MockResponse struct {
	StatusCode int
	Body       any
	Headers    map[string]string
}

// MockRequest is a captured request.
type MockRequest struct {
	Method  string
	Path    string
	Query   string
	Body    string
	Headers map[string]string
}

// NewMockWebullServer starts a mock server with successful passport responses.
func NewMockWebullServer() *MockWebullServer {
	mock := &MockWebullServer{
		responses: make(map[string]MockResponse),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handleRequest))
	mock.setDefaultResponses()
	return mock
}

func (m *MockWebullServer) Close() {
	m.server.Close()
}

// GetBaseURL returns the server URL, usable as Config.BaseURL.
func (m *MockWebullServer) GetBaseURL() string {
	return m.server.URL
}

// SetResponse configures the answer for method and path.
func (m *MockWebullServer) SetResponse(method, path string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if resp.Headers == nil {
		resp.Headers = map[string]string{"Content-Type": "application/json"}
	}
	m.responses[method+" "+path] = resp
}

// SetEnvelope answers method and path with a successful envelope around data.
func (m *MockWebullServer) SetEnvelope(method, path string, data any) {
	m.SetResponse(method, path, MockResponse{
		StatusCode: http.StatusOK,
		Body:       Envelope[any]{Success: true, Data: &data},
	})
}

// SetEnvelopeError answers with HTTP 200 and a failed envelope.
func (m *MockWebullServer) SetEnvelopeError(method, path, code, message string) {
	m.SetResponse(method, path, MockResponse{
		StatusCode: http.StatusOK,
		Body:       Envelope[any]{Success: false, Code: code, Message: message},
	})
}

// SetLoginResponse configures the login endpoint.
func (m *MockWebullServer) SetLoginResponse(accessToken, refreshToken string, expiresIn int64, statusCode int) {
	m.SetResponse(http.MethodPost, loginPath, MockResponse{
		StatusCode: statusCode,
		Body: loginResponse{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			TokenType:    "Bearer",
			ExpiresIn:    expiresIn,
		},
	})
}

// SetRefreshResponse configures the refresh endpoint.
func (m *MockWebullServer) SetRefreshResponse(accessToken, refreshToken string, expiresIn int64, statusCode int) {
	m.SetResponse(http.MethodPost, refreshPath, MockResponse{
		StatusCode: statusCode,
		Body: loginResponse{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			TokenType:    "Bearer",
			ExpiresIn:    expiresIn,
		},
	})
}

// GetRequests returns a copy of the captured requests.
func (m *MockWebullServer) GetRequests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]MockRequest(nil), m.requests...)
}

// CountRequests returns how many requests hit method and path.
func (m *MockWebullServer) CountRequests(method, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range m.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (m *MockWebullServer) ClearRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = nil
}

func (m *MockWebullServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	headers := make(map[string]string)
	for key, values := range r.Header {
		headers[key] = strings.Join(values, ", ")
	}

	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Body:    string(body),
		Headers: headers,
	})
	response, exists := m.responses[fmt.Sprintf("%s %s", r.Method, r.URL.Path)]
	m.mu.Unlock()

	if !exists {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "not_found",
			"message": "Endpoint not found",
		})
		return
	}

	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(response.StatusCode)

	switch b := response.Body.(type) {
	case nil:
	case string:
		io.WriteString(w, b)
	default:
		json.NewEncoder(w).Encode(b)
	}
}

func (m *MockWebullServer) setDefaultResponses() {
	m.SetLoginResponse("mock_access_token", "mock_refresh_token", 3600, http.StatusOK)
	m.SetRefreshResponse("mock_refreshed_token", "mock_refresh_token_2", 3600, http.StatusOK)
	m.SetResponse(http.MethodPost, mfaPath, MockResponse{
		StatusCode: http.StatusOK,
		Body: loginResponse{
			AccessToken:  "mock_mfa_token",
			RefreshToken: "mock_refresh_token",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
		},
	})
	m.SetResponse(http.MethodPost, logoutPath, MockResponse{StatusCode: http.StatusOK, Body: map[string]bool{"success": true}})
}
