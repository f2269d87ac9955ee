// Package entity exposes the merged vehicle state as Home Assistant style
// entities: sensors, switches, locks and friends. Each entity mirrors the
// coordinator's data on every update; commandable entities additionally
// reconcile what was asked for with what the car reports.
package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"teslafi/internal/coordinator"
	"teslafi/internal/teslafi"
	"teslafi/internal/vehicle"

	"go.uber.org/zap"
)

var (
	// ErrNotSupported is returned for actions TeslaFi cannot perform.
	ErrNotSupported = errors.New("not supported by teslafi")
	// ErrEmptyResponse is returned when a command reply carries nothing, so
	// there is no acceptance to act on.
	ErrEmptyResponse = errors.New("empty response")
)

// accepted turns an empty command reply into an error.
func accepted(command string, resp teslafi.Response) error {
	if resp.Empty() {
		return fmt.Errorf("%s: %w", command, ErrEmptyResponse)
	}
	return nil
}

// Platform is the Home Assistant entity domain.
type Platform string

const (
	PlatformAlarm         Platform = "alarm_control_panel"
	PlatformBinarySensor  Platform = "binary_sensor"
	PlatformButton        Platform = "button"
	PlatformClimate       Platform = "climate"
	PlatformCover         Platform = "cover"
	PlatformDeviceTracker Platform = "device_tracker"
	PlatformLock          Platform = "lock"
	PlatformNumber        Platform = "number"
	PlatformSensor        Platform = "sensor"
	PlatformSwitch        Platform = "switch"
	PlatformUpdate        Platform = "update"
)

// Category mirrors Home Assistant entity categories.
type Category string

const (
	CategoryNone       Category = ""
	CategoryConfig     Category = "config"
	CategoryDiagnostic Category = "diagnostic"
)

// Coordinator is what entities need from the update coordinator.
type Coordinator interface {
	EntryID() string
	Data() *vehicle.Vehicle
	Available() bool
	Delays() coordinator.Delays
	LastChargeSessionReset() *time.Time
	ExecuteCommand(ctx context.Context, command string, params teslafi.Params) (teslafi.Response, error)
	ScheduleRefreshIn(d time.Duration)
}

// State is what an entity currently shows.
type State struct {
	Value      any            `json:"state"`
	Available  bool           `json:"available"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Entity is one published value or control.
type Entity interface {
	Key() string
	Name() string
	UniqueID() string
	Platform() Platform
	Description() Description
	State() State
	HandleUpdate(data *vehicle.Vehicle, err error)
}

// StateWriter receives an entity whenever its state should be republished.
type StateWriter func(e Entity)

// Description is the declarative binding of one entity to the vehicle data.
type Description struct {
	Key         string
	Name        string
	Icon        string
	DeviceClass string
	Unit        string
	StateClass  string
	Category    Category
	Options     []string
	// Disabled marks entities hidden until the user enables them.
	Disabled bool

	// Value reads the entity value. Defaults to the raw field named Key.
	Value func(v *vehicle.Vehicle) any
	// Available narrows availability beyond the coordinator's.
	Available func(ok bool, v *vehicle.Vehicle) bool
}

func (d Description) value(v *vehicle.Vehicle) any {
	if d.Value != nil {
		return d.Value(v)
	}
	return v.Value(d.Key)
}

func (d Description) available(ok bool, v *vehicle.Vehicle) bool {
	if d.Available != nil {
		return d.Available(ok, v)
	}
	return ok
}

// base carries what every entity shares.
type base struct {
	coord    Coordinator
	desc     Description
	platform Platform
	logger   *zap.Logger

	mu     sync.RWMutex
	writer StateWriter
	self   Entity
}

func newBase(coord Coordinator, platform Platform, desc Description, logger *zap.Logger) *base {
	return &base{
		coord:    coord,
		desc:     desc,
		platform: platform,
		logger:   logger.With(zap.String("entity", string(platform)+"."+desc.Key)),
	}
}

func (b *base) Key() string              { return b.desc.Key }
func (b *base) Name() string             { return b.desc.Name }
func (b *base) Platform() Platform       { return b.platform }
func (b *base) Description() Description { return b.desc }

// UniqueID is "<vin>-<key>".
func (b *base) UniqueID() string {
	vin, err := b.coord.Data().VIN()
	if err != nil {
		return b.coord.EntryID() + "-" + b.desc.Key
	}
	return fmt.Sprintf("%s-%s", vin, b.desc.Key)
}

func (b *base) isAvailable() bool {
	return b.desc.available(b.coord.Available(), b.coord.Data())
}

func (b *base) bind(self Entity, writer StateWriter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.self = self
	b.writer = writer
}

// writeState republishes the entity.
func (b *base) writeState() {
	b.mu.RLock()
	writer, self := b.writer, b.self
	b.mu.RUnlock()
	if writer != nil && self != nil {
		writer(self)
	}
}

// scheduleConfirm asks for the refresh that should show a command's effect.
func (b *base) scheduleConfirm(awake time.Duration) {
	delays := b.coord.Delays()
	if vehicle.IsTrue(b.coord.Data().IsSleeping()) {
		b.logger.Info("Car is currently sleeping, please wait")
		b.coord.ScheduleRefreshIn(delays.Wakeup)
		return
	}
	b.coord.ScheduleRefreshIn(awake)
}

func attrs(desc Description, extra map[string]any) map[string]any {
	out := make(map[string]any, len(extra)+3)
	if desc.Unit != "" {
		out["unit_of_measurement"] = desc.Unit
	}
	if desc.DeviceClass != "" {
		out["device_class"] = desc.DeviceClass
	}
	if desc.Icon != "" {
		out["icon"] = desc.Icon
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
