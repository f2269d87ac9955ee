package entity

import (
	"context"
	"fmt"
	"math"
	"sync"

	"teslafi/internal/teslafi"
	"teslafi/internal/vehicle"
)

// NumberDescription binds a settable numeric value.
type NumberDescription struct {
	Description
	Command string
	Param   string
	Min     float64
	// DefaultMax is used until the car reports MaxValue.
	DefaultMax float64
	MaxValue   func(v *vehicle.Vehicle) *float64
	MinValue   func(v *vehicle.Vehicle) *float64
	Step       float64
}

// Numbers is the number table.
var Numbers = []NumberDescription{
	{
		Description: Description{
			Key: "charge_limit_soc", Name: "Charge Limit", Icon: "mdi:battery-charging-80",
			Unit: "%", DeviceClass: "battery",
			Value: func(v *vehicle.Vehicle) any { return v.ChargeLimit() },
		},
		Command:    "set_charge_limit",
		Param:      "charge_limit_soc",
		Min:        0,
		DefaultMax: 100,
		MaxValue:   func(v *vehicle.Vehicle) *float64 { return v.ChargeLimitMax() },
		Step:       1,
	},
	{
		Description: Description{
			Key: "charge_current_request", Name: "Charge Current", Icon: "mdi:current-ac",
			Unit: "A", DeviceClass: "current",
			Value: func(v *vehicle.Vehicle) any {
				if amps := v.ChargingAmps(); amps != nil {
					return amps
				}
				return v.ChargerCurrent()
			},
			Available: whenPluggedIn,
		},
		Command:    "set_charging_amps",
		Param:      "charging_amps",
		Min:        1,
		DefaultMax: 48,
		MaxValue:   func(v *vehicle.Vehicle) *float64 { return v.ChargingAmpsMax() },
		Step:       1,
	},
}

// Settable is an entity with a numeric target.
type Settable interface {
	Entity
	SetValue(ctx context.Context, value float64) error
	Bounds() (min, max float64)
}

// Number sends its value to the car.
type Number struct {
	*base
	conf NumberDescription

	stateMu   sync.RWMutex
	value     *float64
	available bool
}

// NewNumber creates a number from its description.
func NewNumber(coord Coordinator, desc NumberDescription, opts Options) *Number {
	return &Number{
		base: newBase(coord, PlatformNumber, desc.Description, opts.Logger),
		conf: desc,
	}
}

// Bounds returns the accepted range.
func (n *Number) Bounds() (float64, float64) {
	data := n.coord.Data()
	lo, hi := n.conf.Min, n.conf.DefaultMax
	if n.conf.MinValue != nil {
		if v := n.conf.MinValue(data); v != nil {
			lo = *v
		}
	}
	if n.conf.MaxValue != nil {
		if v := n.conf.MaxValue(data); v != nil && *v > 0 {
			hi = *v
		}
	}
	return lo, hi
}

// SetValue sends the value rounded to an integer and shows it right away.
func (n *Number) SetValue(ctx context.Context, value float64) error {
	lo, hi := n.Bounds()
	if value < lo || value > hi {
		return fmt.Errorf("%s: %v outside [%v, %v]", n.Key(), value, lo, hi)
	}
	rounded := int(math.Round(value))
	if _, err := n.coord.ExecuteCommand(ctx, n.conf.Command, teslafi.Params{n.conf.Param: rounded}); err != nil {
		return err
	}

	set := float64(rounded)
	n.stateMu.Lock()
	n.value = &set
	n.stateMu.Unlock()
	n.writeState()
	return nil
}

// HandleUpdate reads the value from the latest data.
func (n *Number) HandleUpdate(data *vehicle.Vehicle, _ error) {
	var value *float64
	switch raw := n.conf.Description.value(data).(type) {
	case *float64:
		value = raw
	default:
		value = vehicle.ToFloat(raw)
	}

	n.stateMu.Lock()
	n.value = value
	n.available = n.isAvailable()
	n.stateMu.Unlock()
	n.writeState()
}

// State implements Entity.
func (n *Number) State() State {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()

	lo, hi := n.Bounds()
	return State{
		Value:     opt(n.value),
		Available: n.available,
		Attributes: attrs(n.conf.Description, map[string]any{
			"min":  lo,
			"max":  hi,
			"step": n.conf.Step,
		}),
	}
}

func init() {
	register(PlatformNumber, 50, func(coord Coordinator, opts Options) []Entity {
		out := make([]Entity, 0, len(Numbers))
		for _, desc := range Numbers {
			out = append(out, NewNumber(coord, desc, opts))
		}
		return out
	})
}
