package entity

import (
	"context"
	"sync"

	"teslafi/internal/teslafi"
	"teslafi/internal/vehicle"
)

// Alarm panel states.
const (
	AlarmArmedAway = "armed_away"
	AlarmDisarmed  = "disarmed"
	AlarmArming    = "arming"
	AlarmDisarming = "disarming"
)

// Who changed the alarm state last.
const (
	ChangedByHass   = "hass"
	ChangedByRemote = "remote"
)

// Armable is an alarm panel.
type Armable interface {
	Entity
	ArmAway(ctx context.Context) error
	Disarm(ctx context.Context) error
}

// SentryAlarm drives sentry mode as an alarm panel.
type SentryAlarm struct {
	*base
	rec *Reconciler

	stateMu   sync.RWMutex
	display   *string
	changedBy *string
	stale     bool
	available bool
}

// NewSentryAlarm creates the sentry mode panel.
func NewSentryAlarm(coord Coordinator, opts Options) *SentryAlarm {
	return &SentryAlarm{
		base: newBase(coord, PlatformAlarm, Description{
			Key: "sentry_mode", Name: "Sentry Mode", Icon: "mdi:shield-car", Disabled: true,
			Value: func(v *vehicle.Vehicle) any { return alarmState(v.SentryMode()) },
		}, opts.Logger),
		rec: NewReconciler(PlatformAlarm, opts.Clock, opts.PendingTimeout),
	}
}

// ArmAway turns sentry mode on.
func (a *SentryAlarm) ArmAway(ctx context.Context) error {
	a.logger.Debug("Arming")
	return a.send(ctx, true, AlarmArmedAway, AlarmArming)
}

// Disarm turns sentry mode off.
func (a *SentryAlarm) Disarm(ctx context.Context) error {
	a.logger.Debug("Disarming")
	return a.send(ctx, false, AlarmDisarmed, AlarmDisarming)
}

func (a *SentryAlarm) send(ctx context.Context, on bool, target, transitional string) error {
	resp, err := a.coord.ExecuteCommand(ctx, "set_sentry_mode", teslafi.Params{"sentryMode": on})
	if err != nil {
		return err
	}
	if err := accepted("set_sentry_mode", resp); err != nil {
		return err
	}

	a.rec.Issue(target)
	by := ChangedByHass
	a.stateMu.Lock()
	a.display = &transitional
	a.changedBy = &by
	a.stale = false
	a.stateMu.Unlock()
	a.writeState()

	a.scheduleConfirm(a.coord.Delays().Locks)
	return nil
}

// HandleUpdate settles a pending command, or records a change made outside
// this bridge.
func (a *SentryAlarm) HandleUpdate(data *vehicle.Vehicle, _ error) {
	next, _ := a.desc.value(data).(*string)
	_, waiting := a.rec.Pending()
	follow, stale := a.settle(a.rec, deref(next))

	a.stateMu.Lock()
	defer func() {
		a.available = a.isAvailable()
		a.stateMu.Unlock()
		a.writeState()
	}()

	if !follow {
		return
	}
	prev := a.display
	switch {
	case waiting && !stale:
		by := ChangedByHass
		a.changedBy = &by
	case waiting:
		a.changedBy = nil
	case prev == nil || next == nil:
		a.changedBy = nil
	case *prev != *next:
		by := ChangedByRemote
		a.changedBy = &by
	}
	a.display = next
	a.stale = stale
}

// ChangedBy is "hass", "remote" or nil.
func (a *SentryAlarm) ChangedBy() *string {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.changedBy
}

// State implements Entity.
func (a *SentryAlarm) State() State {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()

	extra := map[string]any{
		"changed_by":        opt(a.changedBy),
		"code_arm_required": false,
	}
	if a.display == nil || *a.display != AlarmArmedAway {
		extra["icon"] = "mdi:shield-car-outline"
	}
	if a.stale {
		extra["stale"] = true
	}
	return State{Value: opt(a.display), Available: a.available, Attributes: attrs(a.desc, extra)}
}

func alarmState(on *bool) *string {
	if on == nil {
		return nil
	}
	s := AlarmDisarmed
	if *on {
		s = AlarmArmedAway
	}
	return &s
}

func init() {
	register(PlatformAlarm, 100, func(coord Coordinator, opts Options) []Entity {
		return []Entity{NewSentryAlarm(coord, opts)}
	})
}
