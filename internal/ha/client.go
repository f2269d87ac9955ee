// Package ha talks to the Home Assistant websocket API. The bridge only needs
// it to raise persistent notifications.
package ha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by calls made while the socket is down.
	ErrNotConnected = errors.New("not connected to Home Assistant")
	// ErrAuthFailed is returned when the token is rejected.
	ErrAuthFailed = errors.New("authentication failed")
)

const defaultCallTimeout = 10 * time.Second

// Client is a Home Assistant websocket client.
type Client struct {
	url      string
	token    string
	logger   *zap.Logger
	readOnly bool
	timeout  time.Duration

	conn      *websocket.Conn
	connMu    sync.RWMutex
	connected bool
	writeMu   sync.Mutex

	msgID   int
	msgIDMu sync.Mutex

	pending   map[int]chan Message
	pendingMu sync.Mutex

	done chan struct{}
}

// NewClient creates a client. In read-only mode service calls are logged
// and never sent.
func NewClient(url, token string, logger *zap.Logger, readOnly bool) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:      url,
		token:    token,
		logger:   logger.Named("ha"),
		readOnly: readOnly,
		timeout:  defaultCallTimeout,
		pending:  make(map[int]chan Message),
	}
}

// Connect dials and authenticates.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.connected {
		return nil
	}

	c.logger.Info("Connecting to Home Assistant", zap.String("url", c.url))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		conn.Close()
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if msg.Type != "auth_required" {
		conn.Close()
		return fmt.Errorf("expected auth_required, got %s", msg.Type)
	}

	if err := conn.WriteJSON(AuthMessage{Type: "auth", AccessToken: c.token}); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send auth: %w", err)
	}

	if err := conn.ReadJSON(&msg); err != nil {
		conn.Close()
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	if msg.Type != "auth_ok" {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrAuthFailed, msg.Type)
	}

	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})

	go c.receiveMessages(conn, c.done)

	c.logger.Info("Connected to Home Assistant", zap.String("version", msg.HAVersion))
	return nil
}

// Disconnect closes the socket.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false
	close(c.done)
	return c.conn.Close()
}

// IsConnected reports whether the socket is up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// CallService calls a service and waits for its result.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]interface{}) error {
	if c.readOnly {
		c.logger.Info("READ-ONLY: would call service",
			zap.String("domain", domain),
			zap.String("service", service),
			zap.Any("data", data))
		return nil
	}

	req := &CallServiceRequest{
		ID:          c.nextMsgID(),
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	}
	_, err := c.send(ctx, req.ID, req)
	return err
}

// Notify raises a persistent notification. It connects on demand.
func (c *Client) Notify(ctx context.Context, title, message string) error {
	if !c.readOnly && !c.IsConnected() {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}
	return c.CallService(ctx, "persistent_notification", "create", map[string]interface{}{
		"title":           title,
		"message":         message,
		"notification_id": NotificationID(title),
	})
}

func (c *Client) send(ctx context.Context, id int, msg interface{}) (*Message, error) {
	c.connMu.RLock()
	if !c.connected {
		c.connMu.RUnlock()
		return nil, ErrNotConnected
	}
	conn, done := c.conn, c.done
	c.connMu.RUnlock()

	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, errors.New("request failed")
		}
		return &resp, nil
	case <-timer.C:
		return nil, errors.New("timeout waiting for response")
	case <-done:
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) receiveMessages(conn *websocket.Conn, done chan struct{}) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-done:
			default:
				c.logger.Warn("Connection lost", zap.Error(err))
				c.dropConnection(conn)
			}
			return
		}

		if msg.ID == 0 {
			continue
		}
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.ID]; ok {
			select {
			case ch <- msg:
			default:
				c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
			}
		}
		c.pendingMu.Unlock()
	}
}

// dropConnection marks the client disconnected so the next Notify redials.
func (c *Client) dropConnection(conn *websocket.Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != conn || !c.connected {
		return
	}
	c.connected = false
	close(c.done)
	conn.Close()
}
