package entity

import (
	"context"
	"sync"

	"teslafi/internal/teslafi"
	"teslafi/internal/vehicle"
)

// SwitchDescription binds an on/off control.
type SwitchDescription struct {
	Description
	Command string
	// Param carries the requested state.
	Param string
}

// Switches is the switch table.
var Switches = []SwitchDescription{
	{
		Description: Description{
			Key: "steering_wheel_heater", Name: "Steering Wheel Heater", Icon: "mdi:steering",
			Available: func(ok bool, v *vehicle.Vehicle) bool {
				return ok && vehicle.IsTrue(v.IsClimateOn())
			},
		},
		Command: "steering_wheel_heater",
		Param:   "statement",
	},
}

// Toggle is an entity that can be switched on and off.
type Toggle interface {
	Entity
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

// Switch toggles a car feature.
type Switch struct {
	*base
	command string
	param   string

	stateMu   sync.RWMutex
	isOn      *bool
	available bool
}

// NewSwitch creates a switch from its description.
func NewSwitch(coord Coordinator, desc SwitchDescription, opts Options) *Switch {
	return &Switch{
		base:    newBase(coord, PlatformSwitch, desc.Description, opts.Logger),
		command: desc.Command,
		param:   desc.Param,
	}
}

// TurnOn enables the feature.
func (s *Switch) TurnOn(ctx context.Context) error { return s.set(ctx, true) }

// TurnOff disables the feature.
func (s *Switch) TurnOff(ctx context.Context) error { return s.set(ctx, false) }

func (s *Switch) set(ctx context.Context, on bool) error {
	if _, err := s.coord.ExecuteCommand(ctx, s.command, teslafi.Params{s.param: on}); err != nil {
		return err
	}

	s.stateMu.Lock()
	s.isOn = &on
	s.stateMu.Unlock()
	s.writeState()
	return nil
}

// HandleUpdate reads the flag from the latest data.
func (s *Switch) HandleUpdate(data *vehicle.Vehicle, _ error) {
	s.stateMu.Lock()
	s.isOn = vehicle.ToBool(s.desc.value(data))
	s.available = s.isAvailable()
	s.stateMu.Unlock()
	s.writeState()
}

// State implements Entity.
func (s *Switch) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	var value any
	if s.isOn != nil {
		value = onOff(*s.isOn)
	}
	return State{Value: value, Available: s.available, Attributes: attrs(s.desc, nil)}
}

func init() {
	register(PlatformSwitch, 40, func(coord Coordinator, opts Options) []Entity {
		out := make([]Entity, 0, len(Switches))
		for _, desc := range Switches {
			out = append(out, NewSwitch(coord, desc, opts))
		}
		return out
	})
}
