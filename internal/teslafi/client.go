// Package teslafi is a client for the TeslaFi feed API
// (https://www.teslafi.com/api.php).
package teslafi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"teslafi/internal/metrics"
	"teslafi/internal/vehicle"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the single feed endpoint every command goes through.
	DefaultBaseURL = "https://www.teslafi.com/feed.php"

	// RequestTimeout is the base request timeout. A wake parameter adds its
	// seconds on top.
	RequestTimeout = 5 * time.Second

	// CommandLastGood returns the last data point with charge data.
	CommandLastGood = "lastGood"

	// ParamWake asks TeslaFi to wake the car and wait that many seconds.
	ParamWake = "wake"

	textNotEnabled  = "This command is not enabled"
	textNotReady    = "Vehicle is asleep or unavailable"
	requestCounters = "tesla_request_counter"
)

// Params are the extra query parameters of a command.
type Params map[string]any

// Client talks to the feed endpoint with a bearer API key.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// NewClient creates a client. The http.Client is shared with the rest of the
// process and is not owned by the TeslaFi client.
func NewClient(apiKey string, httpClient *http.Client, logger *zap.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: httpClient,
		logger:     logger.Named("teslafi"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LastGood returns the most recent data point with charge data.
func (c *Client) LastGood(ctx context.Context) (vehicle.Snapshot, error) {
	resp, err := c.Command(ctx, CommandLastGood, nil)
	if err != nil {
		return nil, err
	}
	obj := resp.Object()
	if obj == nil {
		return nil, &ParseError{Body: string(resp.Raw), Err: fmt.Errorf("expected a json object")}
	}
	return vehicle.Snapshot(obj), nil
}

// Command executes a TeslaFi command, e.g. "door_lock" or "set_temps".
func (c *Client) Command(ctx context.Context, command string, params Params) (Response, error) {
	start := time.Now()
	resp, err := c.request(ctx, command, params)

	metrics.APIRequestLatency.WithLabelValues(command).Observe(time.Since(start).Seconds())
	metrics.APIRequestsTotal.WithLabelValues(command, Outcome(err)).Inc()
	return resp, err
}

func (c *Client) request(ctx context.Context, command string, params Params) (Response, error) {
	query := url.Values{}
	query.Set("command", command)
	for k, v := range params {
		query.Set(k, formatParam(v))
	}

	timeout := RequestTimeout + wakeSeconds(params)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.logger.Debug("Executing command",
		zap.String("command", command),
		zap.Any("params", params),
		zap.Duration("timeout", timeout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, &TransportError{Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, &TransportError{StatusCode: httpResp.StatusCode, Err: err}
	}

	c.logger.Debug("Command response",
		zap.String("command", command),
		zap.Int("status", httpResp.StatusCode),
		zap.ByteString("body", body))

	if httpResp.StatusCode >= http.StatusBadRequest {
		return Response{}, &TransportError{StatusCode: httpResp.StatusCode, Body: string(body)}
	}

	return c.classify(body)
}

// classify turns a 2xx/3xx body into a result or one of the typed errors.
func (c *Client) classify(body []byte) (Response, error) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		text := string(body)
		switch {
		case strings.HasPrefix(text, textNotEnabled):
			return Response{}, &PermissionError{Message: text}
		case strings.HasPrefix(text, textNotReady):
			return Response{}, &VehicleNotReadyError{Message: text}
		}
		c.logger.Warn("Error reading response as json", zap.String("body", truncate(text, 500)), zap.Error(err))
		return Response{}, &ParseError{Body: text, Err: err}
	}

	resp := Response{Raw: body, Data: data}
	obj, ok := data.(map[string]any)
	if !ok {
		return resp, nil
	}

	if code := obj["error"]; vehicle.Truthy(code) {
		return Response{}, &APIError{
			Code:        fmt.Sprint(code),
			Description: fmt.Sprint(obj["error_description"]),
		}
	}

	inner, _ := obj["response"].(map[string]any)
	result, hasResult := inner["result"]
	if result == "unauthorized" {
		return Response{}, &PermissionError{
			Message: fmt.Sprintf("TeslaFi response unauthorized for api key %s: %s", redact(c.apiKey), body),
		}
	}
	if hasResult && !vehicle.Truthy(result) {
		reason := firstTruthy(inner["reason"], inner["string"])
		if reason == "" {
			reason = fmt.Sprintf("Unexpected response: %s", body)
		}
		return Response{}, &CommandRejectedError{Reason: reason}
	}

	return resp, nil
}

// Response is a successful reply: any JSON value, usually an object.
type Response struct {
	Raw  json.RawMessage
	Data any
}

// Object returns the reply as an object, or nil for arrays and scalars.
func (r Response) Object() map[string]any {
	obj, _ := r.Data.(map[string]any)
	return obj
}

// Empty reports whether the reply carried nothing.
func (r Response) Empty() bool {
	return !vehicle.Truthy(r.Data)
}

// RequestCounter returns the tesla_request_counter object TeslaFi attaches
// to command replies.
func (r Response) RequestCounter() (vehicle.Snapshot, bool) {
	counter, ok := r.Object()[requestCounters].(map[string]any)
	if !ok {
		return nil, false
	}
	return vehicle.Snapshot(counter), true
}

func wakeSeconds(params Params) time.Duration {
	v, ok := params[ParamWake]
	if !ok {
		return 0
	}
	f := vehicle.ToFloat(v)
	if f == nil || *f <= 0 {
		return 0
	}
	return time.Duration(*f * float64(time.Second))
}

func formatParam(v any) string {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Duration:
		return strconv.Itoa(int(t.Seconds()))
	default:
		return fmt.Sprint(v)
	}
}

func firstTruthy(values ...any) string {
	for _, v := range values {
		if vehicle.Truthy(v) {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func redact(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
