package entity

import (
	"context"
	"sync"

	"teslafi/internal/teslafi"
	"teslafi/internal/vehicle"

	"go.uber.org/zap"
)

// Lock display states.
const (
	LockLocked    = "locked"
	LockUnlocked  = "unlocked"
	LockLocking   = "locking"
	LockUnlocking = "unlocking"
)

// Lockable is an entity with lock and unlock actions.
type Lockable interface {
	Entity
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// DoorLock locks and unlocks the car. The display follows the command
// immediately and settles once a poll confirms it.
type DoorLock struct {
	*base
	rec *Reconciler

	stateMu   sync.RWMutex
	display   *string
	stale     bool
	available bool
}

// NewDoorLock creates the door lock.
func NewDoorLock(coord Coordinator, opts Options) *DoorLock {
	return &DoorLock{
		base: newBase(coord, PlatformLock, Description{
			Key: "_locks", Name: "Lock",
			Value: func(v *vehicle.Vehicle) any { return lockState(v.IsLocked()) },
		}, opts.Logger),
		rec: NewReconciler(PlatformLock, opts.Clock, opts.PendingTimeout),
	}
}

// Lock sends door_lock.
func (l *DoorLock) Lock(ctx context.Context) error {
	return l.send(ctx, "door_lock", LockLocked, LockLocking)
}

// Unlock sends door_unlock.
func (l *DoorLock) Unlock(ctx context.Context) error {
	return l.send(ctx, "door_unlock", LockUnlocked, LockUnlocking)
}

func (l *DoorLock) send(ctx context.Context, command, target, transitional string) error {
	resp, err := l.coord.ExecuteCommand(ctx, command, teslafi.Params{})
	if err != nil {
		return err
	}
	l.logger.Debug("Lock response", zap.ByteString("response", resp.Raw))
	if err := accepted(command, resp); err != nil {
		return err
	}

	l.rec.Issue(target)
	l.stateMu.Lock()
	l.display = &transitional
	l.stale = false
	l.stateMu.Unlock()
	l.writeState()

	l.scheduleConfirm(l.coord.Delays().Locks)
	return nil
}

// HandleUpdate settles a pending command or mirrors the polled state.
func (l *DoorLock) HandleUpdate(data *vehicle.Vehicle, _ error) {
	actual, _ := l.desc.value(data).(*string)

	follow, stale := l.settle(l.rec, deref(actual))

	l.stateMu.Lock()
	if follow {
		l.display = actual
		l.stale = stale
	}
	l.available = l.isAvailable()
	l.stateMu.Unlock()
	l.writeState()
}

// State implements Entity.
func (l *DoorLock) State() State {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()

	extra := map[string]any{}
	if l.stale {
		extra["stale"] = true
	}
	return State{Value: opt(l.display), Available: l.available, Attributes: attrs(l.desc, extra)}
}

func lockState(locked *bool) *string {
	if locked == nil {
		return nil
	}
	s := LockUnlocked
	if *locked {
		s = LockLocked
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func init() {
	register(PlatformLock, 90, func(coord Coordinator, opts Options) []Entity {
		return []Entity{NewDoorLock(coord, opts)}
	})
}
