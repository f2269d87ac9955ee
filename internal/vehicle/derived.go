package vehicle

import (
	"math"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/thoas/go-funk"
)

// Car states reported in carState, lower-cased.
const (
	StateSleeping = "sleeping"
	StateIdling   = "idling"
	StateSentry   = "sentry"
	StateCharging = "charging"
	StateDriving  = "driving"
)

// Shift states after decoding the P/R/N/D letter.
const (
	ShiftPark    = "park"
	ShiftReverse = "reverse"
	ShiftNeutral = "neutral"
	ShiftDrive   = "drive"
)

// ChargerLevel classifies the connected supply.
type ChargerLevel string

const (
	ChargerLevel1      ChargerLevel = "level_1"
	ChargerLevel2      ChargerLevel = "level_2"
	ChargerLevelDCFast ChargerLevel = "dc_fast"
)

// level2MinVoltage separates 120V household supply from 208/240V wall
// connectors.
const level2MinVoltage = 170.0

// LastUpdateLayout is the format of the feed's Date field.
const LastUpdateLayout = "2006-01-02 15:04:05"

// pluggedInStates are charging_state values that mean a cable is connected.
var pluggedInStates = []string{"starting", "charging", "stopped", "complete", "nopower"}

var shiftStates = map[string]string{
	"P": ShiftPark,
	"R": ShiftReverse,
	"N": ShiftNeutral,
	"D": ShiftDrive,
}

var cardinals = []string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// Pressure units by the feed's "pressure" preference.
var pressureUnits = map[string]string{
	"bar": "bar",
	"psi": "psi",
	"kpa": "kPa",
}

// RequestCounters are the TeslaFi API usage counters returned with every
// command under tesla_request_counter.
type RequestCounters struct {
	Commands int `mapstructure:"commands"`
	Wakes    int `mapstructure:"wakes"`
}

// TirePressure holds the four TPMS readings in Unit.
type TirePressure struct {
	FrontLeft  *float64
	FrontRight *float64
	RearLeft   *float64
	RearRight  *float64
	Unit       string
}

// Location is the last reported GPS fix.
type Location struct {
	Latitude  float64
	Longitude float64
	Heading   *float64
}

func (v *Vehicle) str(key string) *string {
	return ToString(v.Value(key))
}

// ID is TeslaFi's record id.
func (v *Vehicle) ID() *string { return v.str("id") }

// VehicleID is Tesla's vehicle id.
func (v *Vehicle) VehicleID() *string { return v.str("vehicle_id") }

// Name is the display name configured in the Tesla app.
func (v *Vehicle) Name() *string { return v.str("display_name") }

// CarType is the raw model code, e.g. "model3".
func (v *Vehicle) CarType() *string { return v.str("car_type") }

// FirmwareVersion is the installed software version.
func (v *Vehicle) FirmwareVersion() *string { return v.str("car_version") }

// Odometer in miles.
func (v *Vehicle) Odometer() *float64 { return ToFloat(v.Value("odometer")) }

// VIN returns the vehicle identification number. Every entity is keyed on
// it, so a missing VIN is an error rather than an unknown.
func (v *Vehicle) VIN() (string, error) {
	s := v.str("vin")
	if s == nil || *s == "" {
		return "", ErrNoVIN
	}
	return *s, nil
}

// ModelYear decodes the model year from the VIN.
func (v *Vehicle) ModelYear() *int {
	vin, err := v.VIN()
	if err != nil {
		return nil
	}
	year := ModelYearFromVIN(vin)
	if year == 0 {
		return nil
	}
	return &year
}

// CarModel decodes the model line from the VIN.
func (v *Vehicle) CarModel() *string {
	vin, err := v.VIN()
	if err != nil {
		return nil
	}
	model := ModelFromVIN(vin)
	if model == "" {
		return nil
	}
	return &model
}

// CarState is carState lower-cased ("sleeping", "driving", ...).
func (v *Vehicle) CarState() *string { return lowerOrNil(v.Value("carState")) }

// IsSleeping is unknown when carState has never been reported.
func (v *Vehicle) IsSleeping() *bool { return v.isCarState(StateSleeping) }

// IsDriving is unknown when carState has never been reported.
func (v *Vehicle) IsDriving() *bool { return v.isCarState(StateDriving) }

func (v *Vehicle) isCarState(expect string) *bool {
	s := v.CarState()
	if s == nil {
		return nil
	}
	return ptr(*s == expect)
}

// ChargingState is charging_state lower-cased.
func (v *Vehicle) ChargingState() *string { return lowerOrNil(v.Value("charging_state")) }

// IsPluggedIn reports whether a charge cable is connected.
func (v *Vehicle) IsPluggedIn() *bool {
	s := v.ChargingState()
	if s == nil {
		return nil
	}
	return ptr(funk.ContainsString(pluggedInStates, *s))
}

// IsCharging reports whether energy is flowing.
func (v *Vehicle) IsCharging() *bool {
	s := v.ChargingState()
	if s == nil {
		return nil
	}
	return ptr(*s == "charging")
}

// IsFastCharging reports a DC fast charger connection.
func (v *Vehicle) IsFastCharging() *bool {
	plugged := v.IsPluggedIn()
	if plugged == nil {
		return nil
	}
	return ptr(*plugged && IsTrue(ToBool(v.Value("fast_charger_present"))))
}

// ChargerVoltage in volts.
func (v *Vehicle) ChargerVoltage() *float64 { return ToFloat(v.Value("charger_voltage")) }

// ChargerPower in kW, as reported (integer resolution).
func (v *Vehicle) ChargerPower() *float64 { return ToFloat(v.Value("charger_power")) }

// ChargerCurrent returns charger_actual_current. DC fast chargers report 0
// there, so while fast charging a zero reading is replaced by
// charger_power / charger_voltage.
func (v *Vehicle) ChargerCurrent() *float64 {
	current := ToFloat(v.Value("charger_actual_current"))
	if current != nil && *current != 0 {
		return current
	}
	if !IsTrue(v.IsFastCharging()) {
		return current
	}

	power := v.ChargerPower()
	voltage := v.ChargerVoltage()
	if power == nil || voltage == nil || *voltage == 0 {
		return current
	}
	return ptr(*power / *voltage)
}

// ApparentPower is voltage times current in VA.
func (v *Vehicle) ApparentPower() *float64 {
	voltage := v.ChargerVoltage()
	current := v.ChargerCurrent()
	if voltage == nil || current == nil {
		return nil
	}
	return ptr(*voltage * *current)
}

// ChargerLevel classifies the supply from the fast charger flag and voltage.
func (v *Vehicle) ChargerLevel() *ChargerLevel {
	if !IsTrue(v.IsPluggedIn()) {
		return nil
	}
	if IsTrue(v.IsFastCharging()) {
		return ptr(ChargerLevelDCFast)
	}
	voltage := v.ChargerVoltage()
	switch {
	case voltage == nil || *voltage <= 0:
		return nil
	case *voltage >= level2MinVoltage:
		return ptr(ChargerLevel2)
	default:
		return ptr(ChargerLevel1)
	}
}

// ChargeSessionNumber is TeslaFi's running charge counter.
func (v *Vehicle) ChargeSessionNumber() *int { return ToInt(v.Value("chargeNumber")) }

// LastRemoteUpdate is the feed's Date field in local time.
func (v *Vehicle) LastRemoteUpdate() *time.Time {
	s := v.str("Date")
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.ParseInLocation(LastUpdateLayout, *s, time.Local)
	if err != nil {
		return nil
	}
	return &t
}

// RawShiftState is the P/R/N/D letter.
func (v *Vehicle) RawShiftState() *string {
	s := v.str("shift_state")
	if s == nil || *s == "" {
		return nil
	}
	u := strings.ToUpper(*s)
	return &u
}

// ShiftState decodes the gear letter.
func (v *Vehicle) ShiftState() *string {
	raw := v.RawShiftState()
	if raw == nil {
		return nil
	}
	if s, ok := shiftStates[*raw]; ok {
		return &s
	}
	return nil
}

// Speed in mph.
func (v *Vehicle) Speed() *float64 { return ToFloat(v.Value("speed")) }

// BatteryLevel in percent.
func (v *Vehicle) BatteryLevel() *float64 { return ToFloat(v.Value("battery_level")) }

// BatteryRange in miles.
func (v *Vehicle) BatteryRange() *float64 { return ToFloat(v.Value("battery_range")) }

// ChargeLimit is the target state of charge in percent.
func (v *Vehicle) ChargeLimit() *float64 { return ToFloat(v.Value("charge_limit_soc")) }

// ChargeLimitMax is the highest charge limit the car accepts.
func (v *Vehicle) ChargeLimitMax() *float64 { return ToFloat(v.Value("charge_limit_soc_max")) }

// ChargingAmps is the requested charge current.
func (v *Vehicle) ChargingAmps() *float64 { return ToFloat(v.Value("charge_current_request")) }

// ChargingAmpsMax is the highest charge current the car accepts.
func (v *Vehicle) ChargingAmpsMax() *float64 {
	return ToFloat(v.Value("charge_current_request_max"))
}

// ChargeEnergyAdded in kWh for the current session.
func (v *Vehicle) ChargeEnergyAdded() *float64 { return ToFloat(v.Value("charge_energy_added")) }

// TimeToFullCharge in hours.
func (v *Vehicle) TimeToFullCharge() *float64 { return ToFloat(v.Value("time_to_full_charge")) }

// InsideTemp in Celsius.
func (v *Vehicle) InsideTemp() *float64 { return ToFloat(v.Value("inside_temp")) }

// OutsideTemp in Celsius.
func (v *Vehicle) OutsideTemp() *float64 { return ToFloat(v.Value("outside_temp")) }

// DriverTempSetting is the climate target in Celsius.
func (v *Vehicle) DriverTempSetting() *float64 { return ToFloat(v.Value("driver_temp_setting")) }

// TemperatureUnit is the account's preferred unit, "C" or "F".
func (v *Vehicle) TemperatureUnit() string {
	if s := v.str("temperature"); s != nil && strings.EqualFold(*s, "F") {
		return "F"
	}
	return "C"
}

// IsClimateOn reports whether HVAC is running.
func (v *Vehicle) IsClimateOn() *bool { return ToBool(v.Value("is_climate_on")) }

// ClimateKeeperMode is "dog", "camp", "on" or "off".
func (v *Vehicle) ClimateKeeperMode() *string { return lowerOrNil(v.Value("climate_keeper_mode")) }

// FanAuto reports whether the HVAC fan runs in auto mode.
func (v *Vehicle) FanAuto() bool {
	s := v.str("fan_status")
	return s != nil && *s == "2"
}

// Flag converts an arbitrary 0/1 field.
func (v *Vehicle) Flag(key string) *bool { return ToBool(v.Value(key)) }

// IsLocked reports the door lock state.
func (v *Vehicle) IsLocked() *bool { return v.Flag("locked") }

// SentryMode reports whether sentry mode is armed.
func (v *Vehicle) SentryMode() *bool { return v.Flag("sentry_mode") }

// Location returns the GPS fix when both coordinates are known.
func (v *Vehicle) Location() *Location {
	lat := ToFloat(v.Value("latitude"))
	lon := ToFloat(v.Value("longitude"))
	if lat == nil || lon == nil {
		return nil
	}
	return &Location{Latitude: *lat, Longitude: *lon, Heading: ToFloat(v.Value("heading"))}
}

// Cardinal converts a compass heading in degrees to one of 16 points.
func Cardinal(degrees float64) string {
	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}
	return cardinals[int((d+11.25)/22.5)%len(cardinals)]
}

// TirePressure returns the TPMS readings.
func (v *Vehicle) TirePressure() TirePressure {
	unit := "bar"
	if s := lowerOrNil(v.Value("pressure")); s != nil {
		if u, ok := pressureUnits[*s]; ok {
			unit = u
		}
	}
	return TirePressure{
		FrontLeft:  ToFloat(v.Value("tpms_pressure_fl")),
		FrontRight: ToFloat(v.Value("tpms_pressure_fr")),
		RearLeft:   ToFloat(v.Value("tpms_pressure_rl")),
		RearRight:  ToFloat(v.Value("tpms_pressure_rr")),
		Unit:       unit,
	}
}

// RequestCounters decodes the API usage counters merged from command
// responses.
func (v *Vehicle) RequestCounters() (RequestCounters, error) {
	var counters RequestCounters
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &counters,
	})
	if err != nil {
		return counters, err
	}
	if err := decoder.Decode(map[string]any(v.Snapshot())); err != nil {
		return counters, err
	}
	return counters, nil
}

// NewVersion is the software version offered for install.
func (v *Vehicle) NewVersion() *string {
	s := v.str("newVersion")
	if s == nil || *s == "" || *s == " " {
		return nil
	}
	return s
}

// NewVersionStatus is the install state of NewVersion, lower-cased.
func (v *Vehicle) NewVersionStatus() *string { return lowerOrNil(v.Value("newVersionStatus")) }
