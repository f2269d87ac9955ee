package ha

import (
	"context"
	"encoding/json"
)

// Message is a websocket frame from Home Assistant.
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	// HAVersion is sent with auth_required.
	HAVersion string `json:"ha_version,omitempty"`
	Reason    string `json:"message,omitempty"`
}

// Error is the error body of a failed result.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage answers auth_required.
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// CallServiceRequest invokes a service.
type CallServiceRequest struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	Domain      string                 `json:"domain"`
	Service     string                 `json:"service"`
	ServiceData map[string]interface{} `json:"service_data,omitempty"`
}

// HAClient is the part of the client the bridge uses.
type HAClient interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	CallService(ctx context.Context, domain, service string, data map[string]interface{}) error
	Notify(ctx context.Context, title, message string) error
}

// NotificationID derives a stable persistent_notification id from a title so
// repeated failures replace each other instead of piling up.
func NotificationID(title string) string {
	out := make([]byte, 0, len(title)+8)
	out = append(out, "teslafi_"...)
	last := byte('_')
	for i := 0; i < len(title); i++ {
		c := title[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c >= 'A' && c <= 'Z':
			c += 'a' - 'A'
		default:
			c = '_'
		}
		if c == '_' && last == '_' {
			continue
		}
		out = append(out, c)
		last = c
	}
	if len(out) > 0 && out[len(out)-1] == '_' {
		out = out[:len(out)-1]
	}
	return string(out)
}
