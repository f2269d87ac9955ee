package entity

import (
	"context"
	"fmt"
	"math"
	"sync"

	"teslafi/internal/teslafi"
	"teslafi/internal/vehicle"

	"go.uber.org/zap"
)

// HVAC modes.
const (
	HVACAuto = "auto"
	HVACOff  = "off"
)

// Fan modes.
const (
	FanAuto = "auto"
	FanOff  = "off"
)

// Climate presets. The keeper modes are reported by the car but cannot be
// selected through TeslaFi.
const (
	PresetNone = "none"
	PresetDog  = "dog"
	PresetCamp = "camp"
	PresetKeep = "on"
)

var keeperPresets = []string{PresetCamp, PresetDog, PresetKeep}

// Tesla cabin temperature limits in Celsius.
const (
	ClimateMinTemp = 15.0
	ClimateMaxTemp = 28.0
)

// Thermostat is a climate control.
type Thermostat interface {
	Entity
	SetHVACMode(ctx context.Context, mode string) error
	SetTemperature(ctx context.Context, celsius float64) error
	SetPresetMode(ctx context.Context, preset string) error
}

// Climate controls the cabin HVAC. Temperatures are Celsius regardless of the
// account's display unit.
type Climate struct {
	*base
	rec *Reconciler

	stateMu   sync.RWMutex
	hvacMode  *string
	target    *float64
	current   *float64
	fanMode   string
	preset    *string
	stale     bool
	available bool
}

// NewClimate creates the HVAC entity.
func NewClimate(coord Coordinator, opts Options) *Climate {
	return &Climate{
		base: newBase(coord, PlatformClimate, Description{
			Key: "climate", Name: "HVAC", Disabled: true,
			Value: func(v *vehicle.Vehicle) any { return hvacMode(v.IsClimateOn()) },
		}, opts.Logger),
		rec:     NewReconciler(PlatformClimate, opts.Clock, opts.PendingTimeout),
		fanMode: FanOff,
	}
}

// SetHVACMode starts or stops climate control.
func (c *Climate) SetHVACMode(ctx context.Context, mode string) error {
	var command string
	switch mode {
	case HVACAuto:
		command = "auto_conditioning_start"
	case HVACOff:
		command = "auto_conditioning_stop"
	default:
		return fmt.Errorf("hvac mode %q: %w", mode, ErrNotSupported)
	}
	resp, err := c.coord.ExecuteCommand(ctx, command, teslafi.Params{})
	if err != nil {
		return err
	}
	if err := accepted(command, resp); err != nil {
		return err
	}

	c.rec.Issue(mode)
	c.stateMu.Lock()
	c.hvacMode = &mode
	c.stale = false
	c.stateMu.Unlock()
	c.writeState()

	c.scheduleConfirm(c.coord.Delays().Climate)
	return nil
}

// SetTemperature sets the driver temperature. TeslaFi expects the account's
// display unit, so Celsius is converted when the car reports Fahrenheit.
func (c *Climate) SetTemperature(ctx context.Context, celsius float64) error {
	c.logger.Info("Setting temperature", zap.Float64("celsius", celsius))
	temp := celsius
	if c.coord.Data().TemperatureUnit() == "F" {
		temp = celsiusToFahrenheit(celsius)
	}
	if _, err := c.coord.ExecuteCommand(ctx, "set_temps", teslafi.Params{"temp": temp}); err != nil {
		return err
	}

	c.stateMu.Lock()
	c.target = &celsius
	c.stateMu.Unlock()
	c.writeState()

	c.coord.ScheduleRefreshIn(c.coord.Delays().Climate)
	return nil
}

// SetPresetMode only supports "none", which stops climate control.
func (c *Climate) SetPresetMode(ctx context.Context, preset string) error {
	if preset != PresetNone {
		for _, p := range keeperPresets {
			if p == preset {
				return fmt.Errorf("preset %q: %w", preset, ErrNotSupported)
			}
		}
		return fmt.Errorf("unknown preset %q: %w", preset, ErrNotSupported)
	}
	if _, err := c.coord.ExecuteCommand(ctx, "auto_conditioning_stop", teslafi.Params{}); err != nil {
		return err
	}

	c.stateMu.Lock()
	c.preset = nil
	c.stateMu.Unlock()
	c.writeState()

	c.coord.ScheduleRefreshIn(c.coord.Delays().Climate)
	return nil
}

// HandleUpdate reads the HVAC state from the latest data.
func (c *Climate) HandleUpdate(data *vehicle.Vehicle, _ error) {
	mode, _ := c.desc.value(data).(*string)
	follow, stale := c.settle(c.rec, deref(mode))

	fan := FanOff
	if data.FanAuto() {
		fan = FanAuto
	}
	var preset *string
	if keeper := data.ClimateKeeperMode(); keeper != nil {
		for _, p := range keeperPresets {
			if p == *keeper {
				preset = &p
				break
			}
		}
	}

	c.stateMu.Lock()
	if follow {
		c.hvacMode = mode
		c.stale = stale
	}
	c.target = truthyFloat(data.DriverTempSetting())
	c.current = truthyFloat(data.InsideTemp())
	c.fanMode = fan
	c.preset = preset
	c.available = c.isAvailable()
	c.stateMu.Unlock()
	c.writeState()
}

// State implements Entity. The value is the HVAC mode.
func (c *Climate) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	extra := map[string]any{
		"hvac_modes":          []string{HVACAuto, HVACOff},
		"fan_modes":           []string{FanAuto, FanOff},
		"preset_modes":        append([]string{PresetNone}, keeperPresets...),
		"fan_mode":            c.fanMode,
		"preset_mode":         opt(c.preset),
		"temperature":         opt(c.target),
		"current_temperature": opt(c.current),
		"temperature_unit":    "°C",
		"min_temp":            ClimateMinTemp,
		"max_temp":            ClimateMaxTemp,
	}
	if c.stale {
		extra["stale"] = true
	}
	return State{Value: opt(c.hvacMode), Available: c.available, Attributes: attrs(c.desc, extra)}
}

func hvacMode(on *bool) *string {
	mode := HVACOff
	if vehicle.IsTrue(on) {
		mode = HVACAuto
	}
	return &mode
}

// truthyFloat drops zero readings, which the feed reports for unknown
// temperatures.
func truthyFloat(f *float64) *float64 {
	if f == nil || *f == 0 {
		return nil
	}
	return f
}

func celsiusToFahrenheit(c float64) float64 {
	return math.Round((c*9/5+32)*10) / 10
}

func init() {
	register(PlatformClimate, 110, func(coord Coordinator, opts Options) []Entity {
		return []Entity{NewClimate(coord, opts)}
	})
}
