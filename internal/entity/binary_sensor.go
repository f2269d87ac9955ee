package entity

import (
	"sync"

	"teslafi/internal/vehicle"
)

// BinarySensorDescription binds an on/off value.
type BinarySensorDescription struct {
	Description
	// Invert flips the reported value; a locked car reports "off" for the
	// lock device class.
	Invert bool
	// IconOn and IconOff replace Icon depending on the value.
	IconOn  string
	IconOff string
}

// BinarySensors is the binary sensor table.
var BinarySensors = []BinarySensorDescription{
	{Description: Description{
		Key: "charging", Name: "Charging", DeviceClass: "battery_charging",
		Value: func(v *vehicle.Vehicle) any { return v.IsCharging() },
	}},
	{Description: Description{
		Key: "_is_plugged_in", Name: "Plugged In", DeviceClass: "plug",
		Value: func(v *vehicle.Vehicle) any { return v.IsPluggedIn() },
	}},
	door("df", "Driver Front Door"),
	door("pf", "Passenger Front Door"),
	door("dr", "Driver Rear Door"),
	door("pr", "Passenger Rear Door"),
	window("fd_window", "Driver Front Window"),
	window("fp_window", "Passenger Front Window"),
	window("rd_window", "Driver Rear Window"),
	window("rp_window", "Passenger Rear Window"),
	{Description: Description{Key: "ft", Name: "Frunk", Icon: "mdi:car-select", DeviceClass: "opening"}},
	{Description: Description{Key: "rt", Name: "Trunk", Icon: "mdi:car-back", DeviceClass: "opening"}},
	{Description: Description{
		Key: "is_user_present", Name: "Phone Key", Icon: "mdi:account-key", DeviceClass: "connectivity",
	}},
	{Description: Description{
		Key: "homelink_nearby", Name: "Homelink Nearby", Icon: "mdi:garage", DeviceClass: "presence",
		Category: CategoryDiagnostic,
	}},
	{
		Description: Description{
			Key: "sentry_mode", Name: "Sentry Mode", DeviceClass: "lock", Disabled: true,
		},
		Invert: true, IconOn: "mdi:cctv", IconOff: "mdi:cctv-off",
	},
	{
		Description: Description{
			Key: "locked", Name: "Locked", DeviceClass: "lock", Disabled: true,
		},
		Invert: true, IconOn: "mdi:lock", IconOff: "mdi:lock-open-variant",
	},
	{Description: Description{
		Key: "valet_mode", Name: "Valet Mode", Icon: "mdi:account-tie-hat", DeviceClass: "occupancy",
		Category: CategoryDiagnostic,
	}},
	{Description: Description{
		Key: "in_service", Name: "In Service", Icon: "mdi:car-wrench", DeviceClass: "occupancy",
		Category: CategoryDiagnostic,
	}},
}

func door(key, name string) BinarySensorDescription {
	return BinarySensorDescription{Description: Description{Key: key, Name: name, DeviceClass: "door"}}
}

func window(key, name string) BinarySensorDescription {
	return BinarySensorDescription{Description: Description{
		Key: key, Name: name, DeviceClass: "window", Category: CategoryDiagnostic,
	}}
}

// BinarySensor publishes a boolean reading.
type BinarySensor struct {
	*base
	invert  bool
	iconOn  string
	iconOff string

	stateMu   sync.RWMutex
	isOn      *bool
	available bool
}

// NewBinarySensor creates a binary sensor from its description.
func NewBinarySensor(coord Coordinator, desc BinarySensorDescription, opts Options) *BinarySensor {
	return &BinarySensor{
		base:    newBase(coord, PlatformBinarySensor, desc.Description, opts.Logger),
		invert:  desc.Invert,
		iconOn:  desc.IconOn,
		iconOff: desc.IconOff,
	}
}

// HandleUpdate reads the flag from the latest data.
func (s *BinarySensor) HandleUpdate(data *vehicle.Vehicle, _ error) {
	var isOn *bool
	switch raw := s.desc.value(data).(type) {
	case *bool:
		isOn = raw
	default:
		isOn = vehicle.ToBool(raw)
	}
	if isOn != nil && s.invert {
		flipped := !*isOn
		isOn = &flipped
	}

	s.stateMu.Lock()
	s.isOn = isOn
	s.available = s.isAvailable()
	s.stateMu.Unlock()

	s.writeState()
}

// IsOn is nil while the value is unknown.
func (s *BinarySensor) IsOn() *bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.isOn
}

// State implements Entity. The value is "on", "off" or nil.
func (s *BinarySensor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	var value any
	extra := map[string]any{}
	if s.isOn != nil {
		value = onOff(*s.isOn)
		if *s.isOn && s.iconOn != "" {
			extra["icon"] = s.iconOn
		} else if !*s.isOn && s.iconOff != "" {
			extra["icon"] = s.iconOff
		}
	}
	return State{Value: value, Available: s.available, Attributes: attrs(s.desc, extra)}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func init() {
	register(PlatformBinarySensor, 20, func(coord Coordinator, opts Options) []Entity {
		out := make([]Entity, 0, len(BinarySensors))
		for _, desc := range BinarySensors {
			out = append(out, NewBinarySensor(coord, desc, opts))
		}
		return out
	})
}
