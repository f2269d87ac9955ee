package entity

import (
	"sync"

	"teslafi/internal/vehicle"
)

// SensorDescription binds a read-only value.
type SensorDescription struct {
	Description
	// Attributes adds extra state attributes.
	Attributes func(coord Coordinator, v *vehicle.Vehicle) map[string]any
}

// Sensors is the sensor table.
var Sensors = []SensorDescription{
	{Description: Description{
		Key: "odometer", Name: "Odometer", Icon: "mdi:counter",
		Unit: "mi", DeviceClass: "distance", StateClass: "total_increasing", Category: CategoryDiagnostic,
		Value: func(v *vehicle.Vehicle) any { return opt(v.Odometer()) },
	}},
	{Description: Description{
		Key: "carState", Name: "Car State", Icon: "mdi:car", DeviceClass: "enum",
		Options: []string{"Sleeping", "Idling", "Sentry", "Charging", "Driving"},
	}},
	{Description: Description{
		Key: "speed", Name: "Speed", Icon: "mdi:speedometer",
		Unit: "mph", DeviceClass: "speed", StateClass: "measurement",
		Value: func(v *vehicle.Vehicle) any { return opt(v.Speed()) },
		Available: func(ok bool, v *vehicle.Vehicle) bool {
			raw := v.RawShiftState()
			return ok && raw != nil && *raw == "D"
		},
	}},
	{Description: Description{
		Key: "shift_state", Name: "Shift State", Icon: "mdi:car-shift-pattern",
		DeviceClass: "enum", Category: CategoryDiagnostic, Options: []string{"P", "R", "N", "D"},
		Value: func(v *vehicle.Vehicle) any { return opt(v.RawShiftState()) },
	}},
	{Description: Description{
		Key: "battery_level", Name: "Battery", DeviceClass: "battery", Unit: "%",
		StateClass: "measurement", Category: CategoryDiagnostic,
		Value: func(v *vehicle.Vehicle) any { return opt(v.BatteryLevel()) },
	}},
	{Description: Description{
		Key: "battery_range", Name: "Battery Range", Icon: "mdi:map-marker-distance",
		Unit: "mi", DeviceClass: "distance", Category: CategoryDiagnostic,
		Value: func(v *vehicle.Vehicle) any { return opt(v.BatteryRange()) },
	}},
	{Description: Description{
		Key: "time_to_full_charge", Name: "Charge Time Remaining", Unit: "h",
		DeviceClass: "duration", Category: CategoryDiagnostic,
		Value:     func(v *vehicle.Vehicle) any { return opt(v.TimeToFullCharge()) },
		Available: whenCharging,
	}},
	{Description: Description{
		Key: "charger_voltage", Name: "Charger Voltage", Unit: "V",
		DeviceClass: "voltage", Category: CategoryDiagnostic,
		Value:     func(v *vehicle.Vehicle) any { return opt(v.ChargerVoltage()) },
		Available: whenPluggedIn,
	}},
	{Description: Description{
		Key: "charger_actual_current", Name: "Charger Current", Unit: "A",
		DeviceClass: "current", Category: CategoryDiagnostic,
		Value:     func(v *vehicle.Vehicle) any { return opt(v.ChargerCurrent()) },
		Available: whenPluggedIn,
	}},
	{
		Description: Description{
			Key: "charge_energy_added", Name: "Energy added", Unit: "kWh",
			DeviceClass: "energy", StateClass: "total", Category: CategoryDiagnostic, Disabled: true,
			Value:     func(v *vehicle.Vehicle) any { return opt(v.ChargeEnergyAdded()) },
			Available: whenPluggedIn,
		},
		Attributes: func(coord Coordinator, _ *vehicle.Vehicle) map[string]any {
			if reset := coord.LastChargeSessionReset(); reset != nil {
				return map[string]any{"last_reset": *reset}
			}
			return nil
		},
	},
	{Description: Description{
		// Integer kW; apparent power is the precise figure.
		Key: "charger_power", Name: "Charger Power", Unit: "kW",
		DeviceClass: "power", Category: CategoryDiagnostic, Disabled: true,
		Value:     func(v *vehicle.Vehicle) any { return opt(v.ChargerPower()) },
		Available: whenPluggedIn,
	}},
	{Description: Description{
		Key: "_apparent_power", Name: "Charger Apparent Power", Unit: "VA",
		DeviceClass: "apparent_power", Category: CategoryDiagnostic, Disabled: true,
		Value:     func(v *vehicle.Vehicle) any { return opt(v.ApparentPower()) },
		Available: whenPluggedIn,
	}},
	{Description: Description{
		Key: "_charger_level", Name: "Charger Level", Icon: "mdi:ev-station",
		DeviceClass: "enum", Category: CategoryDiagnostic,
		Options: []string{string(vehicle.ChargerLevel1), string(vehicle.ChargerLevel2), string(vehicle.ChargerLevelDCFast)},
		Value: func(v *vehicle.Vehicle) any {
			if level := v.ChargerLevel(); level != nil {
				return string(*level)
			}
			return nil
		},
		Available: whenPluggedIn,
	}},
	{Description: Description{
		Key: "inside_temp", Name: "Cabin Temperature", Unit: "°C", DeviceClass: "temperature",
		Value: func(v *vehicle.Vehicle) any { return opt(v.InsideTemp()) },
	}},
	{Description: Description{
		Key: "outside_temp", Name: "Outside Temperature", Unit: "°C", DeviceClass: "temperature",
		Value: func(v *vehicle.Vehicle) any { return opt(v.OutsideTemp()) },
	}},
	tireSensor("tpms_pressure_fl", "Tire Pressure Front Left", func(t vehicle.TirePressure) *float64 { return t.FrontLeft }),
	tireSensor("tpms_pressure_fr", "Tire Pressure Front Right", func(t vehicle.TirePressure) *float64 { return t.FrontRight }),
	tireSensor("tpms_pressure_rl", "Tire Pressure Rear Left", func(t vehicle.TirePressure) *float64 { return t.RearLeft }),
	tireSensor("tpms_pressure_rr", "Tire Pressure Rear Right", func(t vehicle.TirePressure) *float64 { return t.RearRight }),
	{Description: Description{
		Key: "_api_commands", Name: "TeslaFi Commands", Icon: "mdi:api",
		StateClass: "total_increasing", Category: CategoryDiagnostic, Disabled: true,
		Value: func(v *vehicle.Vehicle) any {
			return counter(v, "commands", func(c vehicle.RequestCounters) int { return c.Commands })
		},
	}},
	{Description: Description{
		Key: "_api_wakes", Name: "TeslaFi Wakes", Icon: "mdi:sleep-off",
		StateClass: "total_increasing", Category: CategoryDiagnostic, Disabled: true,
		Value: func(v *vehicle.Vehicle) any {
			return counter(v, "wakes", func(c vehicle.RequestCounters) int { return c.Wakes })
		},
	}},
}

func tireSensor(key, name string, pick func(vehicle.TirePressure) *float64) SensorDescription {
	return SensorDescription{
		Description: Description{
			Key: key, Name: name, Icon: "mdi:car-tire-alert",
			DeviceClass: "pressure", StateClass: "measurement", Category: CategoryDiagnostic,
			Value: func(v *vehicle.Vehicle) any { return opt(pick(v.TirePressure())) },
		},
		Attributes: func(_ Coordinator, v *vehicle.Vehicle) map[string]any {
			return map[string]any{"unit_of_measurement": v.TirePressure().Unit}
		},
	}
}

// Sensor publishes one value from the vehicle data.
type Sensor struct {
	*base
	attributes func(coord Coordinator, v *vehicle.Vehicle) map[string]any

	stateMu   sync.RWMutex
	value     any
	available bool
}

// NewSensor creates a sensor from its description.
func NewSensor(coord Coordinator, desc SensorDescription, opts Options) *Sensor {
	return &Sensor{
		base:       newBase(coord, PlatformSensor, desc.Description, opts.Logger),
		attributes: desc.Attributes,
	}
}

// HandleUpdate reads the value from the latest data.
func (s *Sensor) HandleUpdate(data *vehicle.Vehicle, _ error) {
	s.stateMu.Lock()
	s.value = s.desc.value(data)
	s.available = s.isAvailable()
	s.stateMu.Unlock()

	s.writeState()
}

// State implements Entity.
func (s *Sensor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	var extra map[string]any
	if s.attributes != nil {
		extra = s.attributes(s.coord, s.coord.Data())
	}
	return State{Value: s.value, Available: s.available, Attributes: attrs(s.desc, extra)}
}

func counter(v *vehicle.Vehicle, key string, pick func(vehicle.RequestCounters) int) any {
	if _, ok := v.Get(key); !ok {
		return nil
	}
	counters, err := v.RequestCounters()
	if err != nil {
		return nil
	}
	return pick(counters)
}

func whenPluggedIn(ok bool, v *vehicle.Vehicle) bool {
	return ok && vehicle.IsTrue(v.IsPluggedIn())
}

func whenCharging(ok bool, v *vehicle.Vehicle) bool {
	return ok && vehicle.IsTrue(v.IsCharging())
}

// opt unwraps an optional value so unknowns are a plain nil.
func opt[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func init() {
	register(PlatformSensor, 10, func(coord Coordinator, opts Options) []Entity {
		out := make([]Entity, 0, len(Sensors))
		for _, desc := range Sensors {
			out = append(out, NewSensor(coord, desc, opts))
		}
		return out
	})
}
