package teslafi

import (
	"errors"
	"fmt"
)

// Sentinels for classifying feed failures with errors.Is.
var (
	ErrTransport       = errors.New("teslafi transport error")
	ErrParse           = errors.New("teslafi response is not json")
	ErrPermission      = errors.New("teslafi permission denied")
	ErrVehicleNotReady = errors.New("vehicle is asleep or unavailable")
	ErrAPI             = errors.New("teslafi api error")
	ErrCommandRejected = errors.New("teslafi command rejected")
)

// TransportError is an HTTP status >= 400 or a failed round trip.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("teslafi request failed: %v", e.Err)
	}
	return fmt.Sprintf("teslafi returned HTTP %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ParseError is a body that is neither JSON nor a known plain-text reply.
type ParseError struct {
	Body string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse teslafi response %q: %v", truncate(e.Body, 120), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// PermissionError means the command is disabled for this key or the key is
// not authorized.
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string { return e.Message }

func (e *PermissionError) Is(target error) bool { return target == ErrPermission }

// VehicleNotReadyError is TeslaFi's plain-text reply for a sleeping car.
type VehicleNotReadyError struct {
	Message string
}

func (e *VehicleNotReadyError) Error() string { return e.Message }

func (e *VehicleNotReadyError) Is(target error) bool { return target == ErrVehicleNotReady }

// APIError is a top-level {"error": ..., "error_description": ...} reply.
type APIError struct {
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *APIError) Is(target error) bool { return target == ErrAPI }

// CommandRejectedError is a reply whose response.result is falsy. Reason is
// the vehicle's explanation, e.g. "already closed".
type CommandRejectedError struct {
	Reason string
}

func (e *CommandRejectedError) Error() string { return e.Reason }

func (e *CommandRejectedError) Is(target error) bool {
	return target == ErrCommandRejected || target == ErrAPI
}

// Outcome names an error class for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrVehicleNotReady):
		return "not_ready"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrCommandRejected):
		return "rejected"
	case errors.Is(err, ErrAPI):
		return "api"
	case errors.Is(err, ErrParse):
		return "parse"
	default:
		return "transport"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
