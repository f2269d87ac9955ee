// Package testutil provides testing utilities for the TeslaFi bridge.
// It contains a fake TeslaFi feed endpoint, a fake Home Assistant websocket
// server and helpers for inspecting what they received.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// CannedResponse is a raw reply served for a command instead of the
// built-in behavior.
type CannedResponse struct {
	Status int
	Body   string
	// Once removes the response after it has been served.
	Once bool
}

// MockTeslaFiServer simulates feed.php. lastGood serves the configured
// vehicle data; known commands update it the way the car would and reply
// with a request counter.
type MockTeslaFiServer struct {
	server *httptest.Server
	apiKey string

	mu            sync.Mutex
	lastGood      map[string]any
	canned        map[string][]CannedResponse
	requests      []FeedRequest
	applyCommands bool
	commands      int
	wakes         int
	latency       time.Duration
}

// NewMockTeslaFiServer starts a fake feed accepting apiKey. Call Close when
// done.
func NewMockTeslaFiServer(apiKey string) *MockTeslaFiServer {
	s := &MockTeslaFiServer{
		apiKey:        apiKey,
		lastGood:      make(map[string]any),
		canned:        make(map[string][]CannedResponse),
		applyCommands: true,
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL is the feed endpoint to pass to the client.
func (s *MockTeslaFiServer) URL() string {
	return s.server.URL + "/feed.php"
}

// Server exposes the underlying httptest server, e.g. for its Client.
func (s *MockTeslaFiServer) Server() *httptest.Server {
	return s.server
}

// Close stops the server.
func (s *MockTeslaFiServer) Close() {
	s.server.Close()
}

// SetLatency delays every reply.
func (s *MockTeslaFiServer) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// SetApplyCommands controls whether commands change the served vehicle
// data. Disable it to simulate a car that has not caught up yet.
func (s *MockTeslaFiServer) SetApplyCommands(apply bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyCommands = apply
}

// SetLastGood replaces the served vehicle data.
func (s *MockTeslaFiServer) SetLastGood(data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastGood = make(map[string]any, len(data))
	for k, v := range data {
		s.lastGood[k] = v
	}
}

// UpdateLastGood sets individual fields of the served vehicle data.
func (s *MockTeslaFiServer) UpdateLastGood(fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range fields {
		s.lastGood[k] = v
	}
}

// LastGood returns a copy of the served vehicle data.
func (s *MockTeslaFiServer) LastGood() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.lastGood))
	for k, v := range s.lastGood {
		out[k] = v
	}
	return out
}

// Respond queues a canned reply for command.
func (s *MockTeslaFiServer) Respond(command string, resp CannedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	s.canned[command] = append(s.canned[command], resp)
}

// RespondJSON queues a canned JSON reply for command.
func (s *MockTeslaFiServer) RespondJSON(command string, body any, once bool) {
	data, _ := json.Marshal(body)
	s.Respond(command, CannedResponse{Status: http.StatusOK, Body: string(data), Once: once})
}

// Requests returns every request received so far.
func (s *MockTeslaFiServer) Requests() []FeedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FeedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// CountRequests returns how many times command was requested.
func (s *MockTeslaFiServer) CountRequests(command string) int {
	return len(FilterRequests(s.Requests(), command))
}

func (s *MockTeslaFiServer) handle(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	command := query.Get("command")
	params := make(map[string]string)
	for k := range query {
		if k != "command" {
			params[k] = query.Get(k)
		}
	}

	s.mu.Lock()
	s.requests = append(s.requests, FeedRequest{
		Timestamp:     time.Now(),
		Command:       command,
		Params:        params,
		Authorization: r.Header.Get("Authorization"),
	})
	latency := s.latency
	s.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}

	if r.Header.Get("Authorization") != "Bearer "+s.apiKey {
		writeJSON(w, http.StatusOK, map[string]any{
			"response": map[string]any{"result": "unauthorized", "reason": "Invalid token"},
		})
		return
	}

	if resp, ok := s.nextCanned(command); ok {
		w.WriteHeader(resp.Status)
		w.Write([]byte(resp.Body))
		return
	}

	if command == "lastGood" {
		writeJSON(w, http.StatusOK, s.LastGood())
		return
	}

	s.mu.Lock()
	s.commands++
	if _, ok := params["wake"]; ok {
		s.wakes++
	}
	if s.applyCommands {
		applyCommand(s.lastGood, command, params)
	}
	counter := map[string]any{"commands": s.commands, "wakes": s.wakes}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"response":              map[string]any{"result": true, "reason": ""},
		"tesla_request_counter": counter,
	})
}

func (s *MockTeslaFiServer) nextCanned(command string) (CannedResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.canned[command]
	if len(queue) == 0 {
		return CannedResponse{}, false
	}
	resp := queue[0]
	if resp.Once {
		s.canned[command] = queue[1:]
	}
	return resp, true
}

// applyCommand mirrors the effect of a command on the vehicle data.
func applyCommand(data map[string]any, command string, params map[string]string) {
	if _, ok := params["wake"]; ok {
		data["carState"] = "Idling"
	}

	switch command {
	case "wake_up":
		data["carState"] = "Idling"
	case "door_lock":
		data["locked"] = "1"
	case "door_unlock":
		data["locked"] = "0"
	case "set_sentry_mode":
		if strings.EqualFold(params["sentryMode"], "true") {
			data["sentry_mode"] = "1"
		} else {
			data["sentry_mode"] = "0"
		}
	case "auto_conditioning_start":
		data["is_climate_on"] = "1"
	case "auto_conditioning_stop":
		data["is_climate_on"] = "0"
	case "set_temps":
		data["driver_temp_setting"] = params["temp"]
	case "set_charge_limit":
		data["charge_limit_soc"] = params["charge_limit_soc"]
	case "set_charging_amps":
		data["charge_current_request"] = params["charging_amps"]
	case "charge_port_door_open":
		data["charge_port_door_open"] = "1"
	case "charge_port_door_close":
		data["charge_port_door_open"] = "0"
	case "steering_wheel_heater":
		if strings.EqualFold(params["statement"], "true") {
			data["steering_wheel_heater"] = "1"
		} else {
			data["steering_wheel_heater"] = "0"
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
