package entity

import (
	"context"
	"errors"
	"sync"
	"time"

	"teslafi/internal/metrics"

	"github.com/benbjohnson/clock"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Reconciler states.
const (
	StateIdle    = "idle"
	StatePending = "pending"
)

// Reconciler events.
const (
	EventIssue   = "issue"
	EventConfirm = "confirm"
	EventExpire  = "expire"
)

// Observation is the result of comparing a polled value with the target.
type Observation int

const (
	// ObservedIdle means nothing was pending; show the polled value.
	ObservedIdle Observation = iota
	// ObservedSettled means the polled value matched the target.
	ObservedSettled
	// ObservedPending means the car has not caught up yet.
	ObservedPending
	// ObservedExpired means the target was given up on after the timeout.
	ObservedExpired
)

// Reconciler tracks a commanded target until the car reports it. Between a
// command and its confirmation the entity shows a transitional state
// ("locking", "arming") instead of the stale polled value.
type Reconciler struct {
	mu       sync.Mutex
	fsm      *fsm.FSM
	target   string
	issuedAt time.Time
	timeout  time.Duration
	clock    clock.Clock
}

// NewReconciler creates an idle reconciler. A zero timeout waits for
// confirmation indefinitely.
func NewReconciler(platform Platform, clk clock.Clock, timeout time.Duration) *Reconciler {
	if clk == nil {
		clk = clock.New()
	}
	gauge := metrics.PendingEntities.WithLabelValues(string(platform))

	r := &Reconciler{clock: clk, timeout: timeout}
	r.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventIssue, Src: []string{StateIdle, StatePending}, Dst: StatePending},
			{Name: EventConfirm, Src: []string{StatePending}, Dst: StateIdle},
			{Name: EventExpire, Src: []string{StatePending}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_" + StatePending: func(_ context.Context, _ *fsm.Event) { gauge.Inc() },
			"leave_" + StatePending: func(_ context.Context, _ *fsm.Event) { gauge.Dec() },
		},
	)
	return r
}

// Issue makes target the pending value. Issuing again while pending
// replaces the target.
func (r *Reconciler) Issue(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.target = target
	r.issuedAt = r.clock.Now()
	r.event(EventIssue)
}

// Observe compares a polled value with the pending target and settles or
// expires it.
func (r *Reconciler) Observe(actual string) Observation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fsm.Is(StateIdle) {
		return ObservedIdle
	}
	if actual == r.target {
		r.event(EventConfirm)
		r.target = ""
		return ObservedSettled
	}
	if r.timeout > 0 && r.clock.Since(r.issuedAt) >= r.timeout {
		r.event(EventExpire)
		r.target = ""
		return ObservedExpired
	}
	return ObservedPending
}

// Pending returns the target while one is outstanding.
func (r *Reconciler) Pending() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fsm.Is(StateIdle) {
		return "", false
	}
	return r.target, true
}

// Current is the FSM state name.
func (r *Reconciler) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fsm.Current()
}

func (r *Reconciler) event(name string) {
	err := r.fsm.Event(context.Background(), name)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		// Events are only fired from states that allow them.
		panic(err)
	}
}

// settle feeds a polled value through rec. follow reports whether the
// display should show the polled value; stale is set when the pending target
// was given up on.
func (b *base) settle(rec *Reconciler, actual string) (follow, stale bool) {
	switch rec.Observe(actual) {
	case ObservedPending:
		target, _ := rec.Pending()
		b.logger.Debug("Still waiting", zap.String("target", target), zap.String("actual", actual))
		b.coord.ScheduleRefreshIn(b.coord.Delays().Wakeup)
		return false, false
	case ObservedExpired:
		b.logger.Warn("Command never took effect", zap.String("actual", actual))
		return true, true
	case ObservedSettled:
		b.logger.Info("Target state succeeded", zap.String("state", actual))
	}
	return true, false
}
