package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type haMessage struct {
	ID        int             `json:"id,omitempty"`
	Type      string          `json:"type"`
	Success   *bool           `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *haError        `json:"error,omitempty"`
	HAVersion string          `json:"ha_version,omitempty"`
}

type haError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type haRequest struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	AccessToken string                 `json:"access_token"`
	Domain      string                 `json:"domain"`
	Service     string                 `json:"service"`
	ServiceData map[string]interface{} `json:"service_data"`
}

// MockHAServer simulates the Home Assistant websocket API: the auth
// handshake and call_service. Calls are recorded for inspection.
type MockHAServer struct {
	server *httptest.Server
	token  string

	mu          sync.Mutex
	calls       []ServiceCall
	failDomains map[string]string
	conns       []*websocket.Conn
	logins      int
}

// NewMockHAServer starts a fake HA accepting token. Call Close when done.
func NewMockHAServer(token string) *MockHAServer {
	s := &MockHAServer{
		token:       token,
		failDomains: make(map[string]string),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	return s
}

// URL is the websocket endpoint.
func (s *MockHAServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/api/websocket"
}

// Close drops every connection and stops the server.
func (s *MockHAServer) Close() {
	s.DropConnections()
	s.server.Close()
}

// DropConnections closes open sockets, as a restarting HA would.
func (s *MockHAServer) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// FailDomain makes calls to domain fail with code.
func (s *MockHAServer) FailDomain(domain, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDomains[domain] = code
}

// Logins is the number of successful handshakes.
func (s *MockHAServer) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// GetServiceCalls returns a copy of the recorded calls.
func (s *MockHAServer) GetServiceCalls() []ServiceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ServiceCall(nil), s.calls...)
}

// CountServiceCalls counts calls to domain.service.
func (s *MockHAServer) CountServiceCalls(domain, service string) int {
	return len(FilterServiceCalls(s.GetServiceCalls(), domain, service))
}

func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(haMessage{Type: "auth_required", HAVersion: "2024.6.0"}); err != nil {
		return
	}

	var auth haRequest
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.Type != "auth" || auth.AccessToken != s.token {
		conn.WriteJSON(haMessage{Type: "auth_invalid"})
		return
	}
	if err := conn.WriteJSON(haMessage{Type: "auth_ok", HAVersion: "2024.6.0"}); err != nil {
		return
	}

	s.mu.Lock()
	s.logins++
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		var req haRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if err := conn.WriteJSON(s.handleRequest(req)); err != nil {
			return
		}
	}
}

func (s *MockHAServer) handleRequest(req haRequest) haMessage {
	success := true
	if req.Type != "call_service" {
		success = false
		return haMessage{ID: req.ID, Type: "result", Success: &success,
			Error: &haError{Code: "unknown_command", Message: "Unknown command."}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.failDomains[req.Domain]; ok {
		success = false
		return haMessage{ID: req.ID, Type: "result", Success: &success,
			Error: &haError{Code: code, Message: "Service call failed"}}
	}
	s.calls = append(s.calls, ServiceCall{
		Timestamp:   time.Now(),
		Domain:      req.Domain,
		Service:     req.Service,
		ServiceData: req.ServiceData,
	})
	return haMessage{ID: req.ID, Type: "result", Success: &success}
}
