// Package integration sets config entries up and tears them down: credential
// validation, the first poll, entity creation and the polling loop.
package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"teslafi/internal/config"
	"teslafi/internal/coordinator"
	"teslafi/internal/entity"
	"teslafi/internal/registry"
	"teslafi/internal/teslafi"
	"teslafi/internal/vehicle"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Validation failures, named after the setup form errors.
var (
	ErrInvalidAuth   = errors.New("invalid_auth")
	ErrCannotConnect = errors.New("cannot_connect")
)

// Feed is what validation needs from the TeslaFi client.
type Feed interface {
	LastGood(ctx context.Context) (vehicle.Snapshot, error)
}

// Result identifies the vehicle behind a validated API key.
type Result struct {
	Title string
	ID    string
}

// Validate checks an API key by fetching lastGood. Permission failures and
// HTTP 403 map to ErrInvalidAuth; everything else, including an empty reply,
// maps to ErrCannotConnect.
func Validate(ctx context.Context, feed Feed) (Result, error) {
	snapshot, err := feed.LastGood(ctx)
	if err != nil {
		var transport *teslafi.TransportError
		if errors.Is(err, teslafi.ErrPermission) ||
			(errors.As(err, &transport) && transport.StatusCode == http.StatusForbidden) {
			return Result{}, fmt.Errorf("%w: %v", ErrInvalidAuth, err)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrCannotConnect, err)
	}
	if !vehicle.Truthy(map[string]any(snapshot)) {
		return Result{}, fmt.Errorf("%w: empty response", ErrCannotConnect)
	}

	v := vehicle.FromSnapshot(snapshot)
	return Result{Title: deref(v.Name()), ID: deref(v.ID())}, nil
}

// Notifier reports problems to the user.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Listener is told about entries coming and going.
type Listener interface {
	EntryAdded(e *registry.Entry)
	EntryRemoved(e *registry.Entry)
}

// Deps are shared by every entry.
type Deps struct {
	HTTPClient     *http.Client
	Clock          clock.Clock
	Logger         *zap.Logger
	Coordinator    coordinator.Config
	PendingTimeout time.Duration
	ClientOptions  []teslafi.Option
	Notifier       Notifier
}

// Manager owns entry lifecycles.
type Manager struct {
	registry  *registry.Registry
	deps      Deps
	logger    *zap.Logger
	listeners []Listener
}

// NewManager creates a manager that stores entries in reg.
func NewManager(reg *registry.Registry, deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}
	return &Manager{registry: reg, deps: deps, logger: deps.Logger.Named("integration")}
}

// AddListener registers l for entries set up afterwards.
func (m *Manager) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

// Registry is the entry store.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Setup runs the first poll, creates the entities and starts polling. The
// polling loop lives until ctx is done or the entry is unloaded.
func (m *Manager) Setup(ctx context.Context, entry config.Entry) (*registry.Entry, error) {
	logger := m.logger.With(zap.String("entry", entry.ID))
	client := teslafi.NewClient(entry.APIKey, m.deps.HTTPClient, m.deps.Logger, m.deps.ClientOptions...)
	coord := coordinator.New(entry.ID, client, m.deps.Clock, m.deps.Coordinator, m.deps.Logger)

	if err := coord.FirstRefresh(ctx); err != nil {
		m.notify(ctx, "TeslaFi setup failed", fmt.Sprintf("Entry %s could not be set up: %v", entryTitle(entry, nil), err))
		return nil, fmt.Errorf("failed to set up entry %s: %w", entry.ID, err)
	}

	set := entity.Build(coord, entity.Options{
		Logger:         m.deps.Logger,
		Clock:          m.deps.Clock,
		PendingTimeout: m.deps.PendingTimeout,
	})
	set.Attach(coord)

	e := &registry.Entry{
		ID:          entry.ID,
		Title:       entryTitle(entry, coord.Data()),
		Client:      client,
		Coordinator: coord,
		Entities:    set,
	}
	if err := m.registry.Add(e); err != nil {
		set.Detach()
		return nil, err
	}
	for _, l := range m.listeners {
		l.EntryAdded(e)
	}

	// Everything is wired; push the first state to the entities.
	coord.Notify()
	coord.Start(ctx)

	logger.Info("Entry set up",
		zap.String("title", e.Title),
		zap.Int("entities", len(set.All())))
	return e, nil
}

// SetupAll sets up every entry, continuing past failures. The returned error
// joins the individual failures.
func (m *Manager) SetupAll(ctx context.Context, entries []config.Entry) error {
	var errs []error
	for _, entry := range entries {
		if _, err := m.Setup(ctx, entry); err != nil {
			m.logger.Error("Failed to set up entry", zap.String("entry", entry.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unload stops polling and detaches the entities of one entry.
func (m *Manager) Unload(id string) error {
	e, ok := m.registry.Remove(id)
	if !ok {
		return fmt.Errorf("entry %s is not set up", id)
	}
	e.Coordinator.Stop()
	e.Entities.Detach()
	for _, l := range m.listeners {
		l.EntryRemoved(e)
	}
	m.logger.Info("Entry unloaded", zap.String("entry", id))
	return nil
}

// UnloadAll unloads every entry.
func (m *Manager) UnloadAll() {
	for _, e := range m.registry.List() {
		if err := m.Unload(e.ID); err != nil {
			m.logger.Warn("Failed to unload entry", zap.String("entry", e.ID), zap.Error(err))
		}
	}
}

// ApplyIntervals pushes reloaded polling tiers to every coordinator.
func (m *Manager) ApplyIntervals(intervals coordinator.Intervals) {
	for _, e := range m.registry.List() {
		e.Coordinator.SetIntervals(intervals)
	}
}

func (m *Manager) notify(ctx context.Context, title, message string) {
	if m.deps.Notifier == nil {
		return
	}
	if err := m.deps.Notifier.Notify(ctx, title, message); err != nil {
		m.logger.Warn("Failed to send notification", zap.Error(err))
	}
}

func entryTitle(entry config.Entry, data *vehicle.Vehicle) string {
	if entry.Name != "" {
		return entry.Name
	}
	if data != nil {
		if name := data.Name(); name != nil && *name != "" {
			return *name
		}
		if vin, err := data.VIN(); err == nil {
			return vin
		}
	}
	return entry.ID
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
