package entity

import (
	"fmt"

	"teslafi/internal/vehicle"
)

const (
	// Manufacturer is reported on the device.
	Manufacturer = "Tesla, Inc."
	// ConfigurationURL is where the user manages the TeslaFi account.
	ConfigurationURL = "https://www.teslafi.com/"
	// Attribution credits the data source.
	Attribution = "Data provided by Tesla and TeslaFi"
)

// DeviceInfo is the device registry entry for a vehicle.
type DeviceInfo struct {
	Identifiers      []string `json:"identifiers"`
	Name             string   `json:"name,omitempty"`
	Manufacturer     string   `json:"manufacturer"`
	Model            string   `json:"model,omitempty"`
	SWVersion        string   `json:"sw_version,omitempty"`
	HWVersion        string   `json:"hw_version,omitempty"`
	SuggestedArea    string   `json:"suggested_area,omitempty"`
	ConfigurationURL string   `json:"configuration_url,omitempty"`
}

// NewDeviceInfo builds the device entry from the vehicle data.
func NewDeviceInfo(v *vehicle.Vehicle) DeviceInfo {
	info := DeviceInfo{
		Manufacturer:     Manufacturer,
		SuggestedArea:    "Garage",
		ConfigurationURL: ConfigurationURL,
	}
	if vin, err := v.VIN(); err == nil {
		info.Identifiers = []string{"teslafi_" + vin}
	}
	if name := v.Name(); name != nil {
		info.Name = *name
	}
	if carType := v.CarType(); carType != nil {
		info.Model = *carType
	}
	if model := v.CarModel(); model != nil {
		info.Model = *model
	}
	if sw := v.FirmwareVersion(); sw != nil {
		info.SWVersion = *sw
	}

	model := "Tesla"
	if info.Model != "" {
		model = info.Model
	}
	if year := v.ModelYear(); year != nil {
		info.HWVersion = fmt.Sprintf("%d %s", *year, model)
	} else {
		info.HWVersion = model
	}
	return info
}
