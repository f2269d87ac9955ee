// Package coordinator owns the merged vehicle state for one TeslaFi entry.
// It polls on an adaptive schedule, executes commands and fans updates out to
// subscribed entities.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"teslafi/internal/metrics"
	"teslafi/internal/teslafi"
	"teslafi/internal/vehicle"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrMissingVIN means a poll succeeded but did not identify the vehicle.
var ErrMissingVIN = errors.New("vehicle data has no vin")

// Client is the part of the TeslaFi client the coordinator uses.
type Client interface {
	LastGood(ctx context.Context) (vehicle.Snapshot, error)
	Command(ctx context.Context, command string, params teslafi.Params) (teslafi.Response, error)
}

// UpdateHandler is called after every refresh attempt. err is nil when the
// refresh succeeded; data is the merged state either way.
type UpdateHandler func(data *vehicle.Vehicle, err error)

// Subscription represents an active update subscription
type Subscription interface {
	Unsubscribe()
}

// Coordinator polls TeslaFi and keeps the merged vehicle state.
type Coordinator struct {
	entryID string
	client  Client
	clock   clock.Clock
	logger  *zap.Logger
	delays  Delays

	data  *vehicle.Vehicle
	group singleflight.Group

	mu          sync.Mutex
	intervals   Intervals
	override    *time.Duration
	timer       *clock.Timer
	loopCtx     context.Context
	stop        chan struct{}
	running     bool
	lastSuccess bool
	lastErr     error
	lastRefresh time.Time
	nextRefresh time.Duration
	chargeReset *time.Time

	subsMu sync.RWMutex
	subs   map[int]UpdateHandler
	nextID int
}

// New creates a coordinator for one config entry. Call FirstRefresh before
// Start.
func New(entryID string, client Client, clk clock.Clock, cfg Config, logger *zap.Logger) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	cfg = cfg.withDefaults()
	return &Coordinator{
		entryID:   entryID,
		client:    client,
		clock:     clk,
		logger:    logger.Named("coordinator").With(zap.String("entry", entryID)),
		delays:    cfg.Delays,
		intervals: cfg.Intervals,
		data:      vehicle.New(),
		subs:      make(map[int]UpdateHandler),
	}
}

// EntryID is the config entry this coordinator serves.
func (c *Coordinator) EntryID() string { return c.entryID }

// Data is the merged vehicle state. The pointer is stable for the lifetime
// of the coordinator.
func (c *Coordinator) Data() *vehicle.Vehicle { return c.data }

// Delays are the post-command refresh delays entities use.
func (c *Coordinator) Delays() Delays { return c.delays }

// Available reports whether the last refresh succeeded.
func (c *Coordinator) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

// LastError is the error of the last refresh, or nil.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastChargeSessionReset is when the current charge session started, as far
// as polling could tell. Energy-added sensors use it as their reset point.
func (c *Coordinator) LastChargeSessionReset() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chargeReset == nil {
		return nil
	}
	t := *c.chargeReset
	return &t
}

// NextRefresh is the delay chosen by the last scheduling decision.
func (c *Coordinator) NextRefresh() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextRefresh
}

// SetIntervals replaces the polling tiers, e.g. after a config reload. The
// change applies from the next scheduling decision.
func (c *Coordinator) SetIntervals(intervals Intervals) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intervals = intervals.withDefaults()
}

// FirstRefresh performs the setup poll. Setup must not continue when it
// fails.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("failed initial refresh: %w", err)
	}
	return nil
}

// Refresh polls lastGood and merges it. Concurrent callers share a single
// in-flight poll.
func (c *Coordinator) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Coordinator) refresh(ctx context.Context) error {
	c.mu.Lock()
	c.lastRefresh = c.clock.Now()
	c.mu.Unlock()

	err := c.poll(ctx)

	c.mu.Lock()
	c.lastSuccess = err == nil
	c.lastErr = err
	if c.running {
		c.scheduleLocked()
	}
	c.mu.Unlock()

	if err != nil {
		metrics.PollsTotal.WithLabelValues(c.entryID, "failed").Inc()
		c.logger.Warn("Failed to refresh vehicle data", zap.Error(err))
	} else {
		metrics.PollsTotal.WithLabelValues(c.entryID, "success").Inc()
	}

	c.publish(err)
	return err
}

func (c *Coordinator) poll(ctx context.Context) error {
	snapshot, err := c.client.LastGood(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch lastGood: %w", err)
	}

	current := vehicle.FromSnapshot(snapshot)
	if !c.data.Empty() && !c.data.Equal(current) {
		c.inferChargeSession(c.data, current)
	}

	c.data.Merge(snapshot)

	if _, err := current.VIN(); err != nil {
		return fmt.Errorf("fresh snapshot: %w", ErrMissingVIN)
	}
	if _, err := c.data.VIN(); err != nil {
		return fmt.Errorf("merged state: %w", ErrMissingVIN)
	}

	c.applyCarState()

	c.logger.Debug("Vehicle data refreshed",
		zap.Stringp("car_state", c.data.CarState()),
		zap.Stringp("charging_state", c.data.ChargingState()))
	return nil
}

// applyCarState stages the polling tier for the car's current activity.
func (c *Coordinator) applyCarState() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case vehicle.IsTrue(c.data.IsDriving()):
		d := c.intervals.Driving
		c.override = &d
	case vehicle.IsTrue(c.data.IsSleeping()):
		d := c.intervals.Sleeping
		c.override = &d
	default:
		c.override = nil
	}
}

// inferChargeSession moves the charge session marker when prev -> current
// shows a cable being connected or a new session number.
func (c *Coordinator) inferChargeSession(prev, current *vehicle.Vehicle) {
	newlyPlugged := !vehicle.IsTrue(prev.IsPluggedIn()) && vehicle.IsTrue(current.IsPluggedIn())

	prevSession := prev.ChargeSessionNumber()
	currSession := current.ChargeSessionNumber()
	newSession := currSession != nil && *currSession != 0 &&
		(prevSession == nil || *prevSession != *currSession)

	if !newlyPlugged && !newSession {
		return
	}

	at := current.LastRemoteUpdate()
	if at == nil {
		now := c.clock.Now()
		at = &now
	}

	c.mu.Lock()
	c.chargeReset = at
	c.mu.Unlock()

	metrics.ChargeSessionsTotal.WithLabelValues(c.entryID).Inc()
	c.logger.Info("Charge session started",
		zap.Time("at", *at),
		zap.Bool("plugged_in", newlyPlugged),
		zap.Intp("session", currSession))
}

// ExecuteCommand sends a command, waking the car first when it sleeps, then
// requests a refresh so the result shows up quickly.
func (c *Coordinator) ExecuteCommand(ctx context.Context, command string, params teslafi.Params) (teslafi.Response, error) {
	p := make(teslafi.Params, len(params)+1)
	for k, v := range params {
		p[k] = v
	}
	if vehicle.IsTrue(c.data.IsSleeping()) {
		p[teslafi.ParamWake] = int(c.delays.CmdWake.Seconds())
	}

	c.logger.Info("Executing command", zap.String("command", command), zap.Any("params", p))

	resp, err := c.client.Command(ctx, command, p)
	if err != nil {
		return resp, err
	}

	if counter, ok := resp.RequestCounter(); ok {
		c.data.Merge(counter)
	} else {
		c.logger.Warn("Command response has no request counter", zap.String("command", command))
	}

	if err := c.RequestRefresh(ctx); err != nil {
		c.logger.Warn("Refresh after command failed", zap.String("command", command), zap.Error(err))
	}
	return resp, nil
}

// RequestRefresh asks for an out-of-band poll. Within the cooldown after the
// previous poll the request is deferred to the end of the cooldown instead.
func (c *Coordinator) RequestRefresh(ctx context.Context) error {
	c.mu.Lock()
	elapsed := c.clock.Since(c.lastRefresh)
	cooldown := c.delays.RefreshCooldown
	hasPolled := !c.lastRefresh.IsZero()
	c.mu.Unlock()

	if hasPolled && elapsed < cooldown {
		c.ScheduleRefreshIn(cooldown - elapsed)
		return nil
	}
	return c.Refresh(ctx)
}

// ScheduleRefreshIn makes the next poll happen after d, overriding whatever
// the car state would have chosen.
func (c *Coordinator) ScheduleRefreshIn(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.override = &d
	if c.running {
		c.scheduleLocked()
	}
}

// NextInterval returns the delay the next scheduling decision will use,
// without consuming an override.
func (c *Coordinator) NextInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.override != nil {
		return *c.override
	}
	return c.intervals.Default
}

// scheduleLocked arms the poll timer, consuming any override. c.mu must be
// held.
func (c *Coordinator) scheduleLocked() {
	d := c.intervals.Default
	if c.override != nil {
		d = *c.override
		c.override = nil
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	c.nextRefresh = d
	c.timer = c.clock.AfterFunc(d, c.tick)

	metrics.NextPollSeconds.WithLabelValues(c.entryID).Set(d.Seconds())
	c.logger.Debug("Next refresh scheduled", zap.Duration("in", d))
}

func (c *Coordinator) tick() {
	c.mu.Lock()
	ctx := c.loopCtx
	running := c.running
	c.mu.Unlock()

	if !running {
		return
	}
	c.Refresh(ctx)
}

// Start begins scheduled polling. The loop stops when ctx is done or Stop is
// called.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.loopCtx = ctx
	stop := make(chan struct{})
	c.stop = stop
	c.scheduleLocked()
	c.mu.Unlock()

	c.logger.Info("Polling started", zap.Duration("default_interval", c.intervals.Default))

	go func() {
		select {
		case <-ctx.Done():
			c.Stop()
		case <-stop:
		}
	}()
}

// Stop cancels scheduled polling.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.running = false
	close(c.stop)
	c.stop = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.logger.Info("Polling stopped")
}

// Notify republishes the current state to every subscriber without polling.
func (c *Coordinator) Notify() {
	c.publish(c.LastError())
}

// Subscribe registers a handler called after every refresh.
func (c *Coordinator) Subscribe(handler UpdateHandler) Subscription {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	id := c.nextID
	c.nextID++
	c.subs[id] = handler
	return &subscription{id: id, coordinator: c}
}

func (c *Coordinator) unsubscribe(id int) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	delete(c.subs, id)
}

// publish calls every handler in subscription order.
func (c *Coordinator) publish(err error) {
	c.subsMu.RLock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	handlers := make(map[int]UpdateHandler, len(c.subs))
	for id, h := range c.subs {
		handlers[id] = h
	}
	c.subsMu.RUnlock()

	sort.Ints(ids)
	for _, id := range ids {
		handlers[id](c.data, err)
	}
}

type subscription struct {
	id          int
	coordinator *Coordinator
	once        sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.coordinator.unsubscribe(s.id)
	})
}
