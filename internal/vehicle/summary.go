package vehicle

// Summary collects the derived properties, keyed the way the status
// endpoints print them. Unknown values are nil.
func (v *Vehicle) Summary() map[string]any {
	out := map[string]any{
		"name":             orNil(v.Name()),
		"model":            orNil(v.CarModel()),
		"model_year":       orNil(v.ModelYear()),
		"firmware":         orNil(v.FirmwareVersion()),
		"new_version":      orNil(v.NewVersion()),
		"car_state":        orNil(v.CarState()),
		"is_sleeping":      orNil(v.IsSleeping()),
		"is_driving":       orNil(v.IsDriving()),
		"shift_state":      orNil(v.ShiftState()),
		"charging_state":   orNil(v.ChargingState()),
		"is_plugged_in":    orNil(v.IsPluggedIn()),
		"is_charging":      orNil(v.IsCharging()),
		"is_fast_charging": orNil(v.IsFastCharging()),
		"charger_level":    orNil(v.ChargerLevel()),
		"charger_current":  orNil(v.ChargerCurrent()),
		"apparent_power":   orNil(v.ApparentPower()),
		"battery_level":    orNil(v.BatteryLevel()),
		"battery_range":    orNil(v.BatteryRange()),
		"is_locked":        orNil(v.IsLocked()),
		"sentry_mode":      orNil(v.SentryMode()),
		"is_climate_on":    orNil(v.IsClimateOn()),
		"temperature_unit": v.TemperatureUnit(),
	}
	if vin, err := v.VIN(); err == nil {
		out["vin"] = vin
	} else {
		out["vin"] = nil
	}
	if loc := v.Location(); loc != nil {
		out["location"] = map[string]any{
			"latitude":  loc.Latitude,
			"longitude": loc.Longitude,
			"heading":   orNil(loc.Heading),
		}
	} else {
		out["location"] = nil
	}
	return out
}

func orNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
