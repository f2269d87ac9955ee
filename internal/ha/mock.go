package ha

import (
	"context"
	"sync"
	"time"
)

// ServiceCall records a call made through MockClient.
type ServiceCall struct {
	Timestamp time.Time
	Domain    string
	Service   string
	Data      map[string]interface{}
}

// MockClient is an in-memory HAClient for tests.
type MockClient struct {
	mu        sync.Mutex
	connected bool
	calls     []ServiceCall
	// Err is returned by every call when set.
	Err error
}

// NewMockClient creates a disconnected mock.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.connected = true
	return nil
}

func (m *MockClient) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockClient) CallService(_ context.Context, domain, service string, data map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.calls = append(m.calls, ServiceCall{
		Timestamp: time.Now(),
		Domain:    domain,
		Service:   service,
		Data:      data,
	})
	return nil
}

func (m *MockClient) Notify(ctx context.Context, title, message string) error {
	return m.CallService(ctx, "persistent_notification", "create", map[string]interface{}{
		"title":           title,
		"message":         message,
		"notification_id": NotificationID(title),
	})
}

// GetServiceCalls returns a copy of the recorded calls.
func (m *MockClient) GetServiceCalls() []ServiceCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ServiceCall(nil), m.calls...)
}

// ClearServiceCalls forgets the recorded calls.
func (m *MockClient) ClearServiceCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ HAClient = (*Client)(nil)
var _ HAClient = (*MockClient)(nil)
