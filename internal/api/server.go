// Package api serves the bridge's HTTP status and command endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"teslafi/internal/entity"
	"teslafi/internal/metrics"
	"teslafi/internal/registry"
	"teslafi/internal/teslafi"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server provides HTTP API endpoints for the bridge.
type Server struct {
	registry *registry.Registry
	readOnly bool
	logger   *zap.Logger
	server   *http.Server
	router   *mux.Router
}

// NewServer creates a server listening on addr.
func NewServer(reg *registry.Registry, logger *zap.Logger, addr string, readOnly bool) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: reg,
		readOnly: readOnly,
		logger:   logger.Named("api"),
	}

	router := mux.NewRouter().StrictSlash(true)
	router.Use(s.countRequests)
	router.HandleFunc("/", s.handleSitemap).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(handlers.CompressHandler)
	api.HandleFunc("/entries", s.handleEntries).Methods(http.MethodGet)
	api.HandleFunc("/entries/{id}/vehicle", s.withEntry(s.handleVehicle)).Methods(http.MethodGet)
	api.HandleFunc("/entries/{id}/entities", s.withEntry(s.handleEntities)).Methods(http.MethodGet)
	api.HandleFunc("/entries/{id}/refresh", s.withEntry(s.handleRefresh)).Methods(http.MethodPost)
	api.HandleFunc("/entries/{id}/commands/{command:[a-z_]+}", s.withEntry(s.handleCommand)).Methods(http.MethodPost)
	s.router = router

	handler := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger)),
		handlers.PrintRecoveryStack(true),
	)(handlers.CombinedLoggingHandler(zap.NewStdLog(s.logger).Writer(), router))

	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler is the routed handler without the logging middleware.
func (s *Server) Handler() http.Handler { return s.router }

// Endpoint represents an API endpoint with its documentation.
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/health", Method: "GET", Description: "Health check"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
	{Path: "/api/entries", Method: "GET", Description: "Configured vehicles and their polling status"},
	{Path: "/api/entries/{id}/vehicle", Method: "GET", Description: "Merged vehicle data and derived properties"},
	{Path: "/api/entries/{id}/entities", Method: "GET", Description: "Entity states"},
	{Path: "/api/entries/{id}/refresh", Method: "POST", Description: "Request an immediate poll"},
	{Path: "/api/entries/{id}/commands/{command}", Method: "POST", Description: "Send a command; parameters from the query string or a JSON object body"},
}

func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": endpoints})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.List()
	available := 0
	for _, e := range entries {
		if e.Coordinator.Available() {
			available++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"entries":   len(entries),
		"available": available,
		"read_only": s.readOnly,
	})
}

// EntryResponse describes one configured vehicle.
type EntryResponse struct {
	ID                 string  `json:"id"`
	Title              string  `json:"title"`
	VIN                string  `json:"vin,omitempty"`
	Available          bool    `json:"available"`
	LastError          string  `json:"last_error,omitempty"`
	NextRefreshSeconds float64 `json:"next_refresh_seconds"`
	Entities           int     `json:"entities"`
}

func newEntryResponse(e *registry.Entry) EntryResponse {
	resp := EntryResponse{
		ID:                 e.ID,
		Title:              e.Title,
		Available:          e.Coordinator.Available(),
		NextRefreshSeconds: e.Coordinator.NextInterval().Seconds(),
		Entities:           len(e.Entities.All()),
	}
	if vin, err := e.Coordinator.Data().VIN(); err == nil {
		resp.VIN = vin
	}
	if err := e.Coordinator.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	return resp
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.List()
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, newEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

type entryHandler func(w http.ResponseWriter, r *http.Request, e *registry.Entry)

func (s *Server) withEntry(next entryHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		e, ok := s.registry.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("entry %s not found", id))
			return
		}
		next(w, r, e)
	}
}

func (s *Server) handleVehicle(w http.ResponseWriter, r *http.Request, e *registry.Entry) {
	data := e.Coordinator.Data()
	writeJSON(w, http.StatusOK, map[string]any{
		"data":    data.Snapshot(),
		"derived": data.Summary(),
	})
}

// EntityResponse is one entity's current state.
type EntityResponse struct {
	UniqueID string          `json:"unique_id"`
	Platform entity.Platform `json:"platform"`
	Key      string          `json:"key"`
	Name     string          `json:"name"`
	entity.State
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request, e *registry.Entry) {
	platform := entity.Platform(r.URL.Query().Get("platform"))
	all := e.Entities.All()
	out := make([]EntityResponse, 0, len(all))
	for _, ent := range all {
		if platform != "" && ent.Platform() != platform {
			continue
		}
		out = append(out, EntityResponse{
			UniqueID: ent.UniqueID(),
			Platform: ent.Platform(),
			Key:      ent.Key(),
			Name:     ent.Name(),
			State:    ent.State(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, e *registry.Entry) {
	if err := e.Coordinator.RequestRefresh(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, newEntryResponse(e))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, e *registry.Entry) {
	command := mux.Vars(r)["command"]
	params, err := commandParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if s.readOnly {
		s.logger.Info("READ-ONLY: would send command",
			zap.String("entry", e.ID),
			zap.String("command", command),
			zap.Any("params", params))
		writeError(w, http.StatusForbidden, errors.New("bridge is read-only"))
		return
	}

	resp, err := e.Coordinator.ExecuteCommand(r.Context(), command, params)
	if err != nil {
		s.logger.Warn("Command failed", zap.String("entry", e.ID), zap.String("command", command), zap.Error(err))
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"command": command, "response": resp.Data})
}

// commandParams merges the query string with an optional JSON object body.
func commandParams(r *http.Request) (teslafi.Params, error) {
	params := teslafi.Params{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[len(values)-1]
		}
	}
	if r.Body == nil || r.ContentLength == 0 {
		return params, nil
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	for key, value := range body {
		params[key] = value
	}
	return params, nil
}

// statusFor maps client errors to HTTP status codes.
func statusFor(err error) int {
	var transport *teslafi.TransportError
	switch {
	case errors.Is(err, teslafi.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, teslafi.ErrCommandRejected):
		return http.StatusConflict
	case errors.Is(err, teslafi.ErrVehicleNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, teslafi.ErrAPI):
		return http.StatusUnprocessableEntity
	case errors.As(err, &transport), errors.Is(err, teslafi.ErrParse):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

// Start begins serving HTTP requests. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("Starting HTTP API server", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
