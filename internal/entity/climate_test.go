package entity

import (
	"context"
	"errors"
	"testing"

	"teslafi/internal/teslafi"
	"teslafi/internal/vehicle"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClimateReadsState(t *testing.T) {
	coord := newFakeCoordinator(vehicle.Snapshot{
		"is_climate_on":       "1",
		"driver_temp_setting": "21.5",
		"inside_temp":         "18",
		"fan_status":          "2",
		"climate_keeper_mode": "dog",
	})
	climate := NewClimate(coord, testOptions(clock.NewMock()))
	climate.HandleUpdate(coord.Data(), nil)

	state := climate.State()
	assert.Equal(t, HVACAuto, state.Value)
	assert.Equal(t, 21.5, state.Attributes["temperature"])
	assert.Equal(t, 18.0, state.Attributes["current_temperature"])
	assert.Equal(t, FanAuto, state.Attributes["fan_mode"])
	assert.Equal(t, PresetDog, state.Attributes["preset_mode"])
}

func TestClimateOffAndUnknownTemperatures(t *testing.T) {
	coord := newFakeCoordinator(vehicle.Snapshot{"is_climate_on": "0", "inside_temp": "0", "fan_status": "0"})
	climate := NewClimate(coord, testOptions(clock.NewMock()))
	climate.HandleUpdate(coord.Data(), nil)

	state := climate.State()
	assert.Equal(t, HVACOff, state.Value)
	assert.Nil(t, state.Attributes["current_temperature"])
	assert.Nil(t, state.Attributes["temperature"])
	assert.Equal(t, FanOff, state.Attributes["fan_mode"])
	assert.Nil(t, state.Attributes["preset_mode"])
}

func TestClimateSetHVACModeReconciles(t *testing.T) {
	coord := newFakeCoordinator(vehicle.Snapshot{"is_climate_on": "0", "carState": "Idling"})
	climate := NewClimate(coord, testOptions(clock.NewMock()))
	climate.HandleUpdate(coord.Data(), nil)

	require.NoError(t, climate.SetHVACMode(context.Background(), HVACAuto))
	assert.Equal(t, "auto_conditioning_start", coord.lastCall().Command)
	assert.Equal(t, HVACAuto, climate.State().Value)
	assert.Equal(t, coord.Delays().Climate, coord.lastScheduled())

	climate.HandleUpdate(coord.poll(vehicle.Snapshot{"is_climate_on": "0"}), nil)
	assert.Equal(t, HVACAuto, climate.State().Value, "pending target is kept")
	assert.Equal(t, coord.Delays().Wakeup, coord.lastScheduled())

	climate.HandleUpdate(coord.poll(vehicle.Snapshot{"is_climate_on": "1"}), nil)
	assert.Equal(t, HVACAuto, climate.State().Value)

	require.NoError(t, climate.SetHVACMode(context.Background(), HVACOff))
	assert.Equal(t, "auto_conditioning_stop", coord.lastCall().Command)

	err := climate.SetHVACMode(context.Background(), "heat")
	assert.True(t, errors.Is(err, ErrNotSupported))
}

func TestClimateSetTemperature(t *testing.T) {
	tests := []struct {
		name string
		unit string
		want float64
	}{
		{name: "celsius account", unit: "C", want: 21},
		{name: "fahrenheit account", unit: "F", want: 69.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := newFakeCoordinator(vehicle.Snapshot{"temperature": tt.unit})
			climate := NewClimate(coord, testOptions(clock.NewMock()))
			climate.HandleUpdate(coord.Data(), nil)

			require.NoError(t, climate.SetTemperature(context.Background(), 21))
			call := coord.lastCall()
			assert.Equal(t, "set_temps", call.Command)
			assert.InDelta(t, tt.want, call.Params["temp"], 0.001)
			assert.Equal(t, 21.0, climate.State().Attributes["temperature"])
			assert.Equal(t, coord.Delays().Climate, coord.lastScheduled())
		})
	}
}

func TestClimatePresets(t *testing.T) {
	coord := newFakeCoordinator(vehicle.Snapshot{"is_climate_on": "1", "climate_keeper_mode": "camp"})
	climate := NewClimate(coord, testOptions(clock.NewMock()))
	climate.HandleUpdate(coord.Data(), nil)

	for _, preset := range []string{PresetDog, PresetCamp, PresetKeep, "party"} {
		err := climate.SetPresetMode(context.Background(), preset)
		assert.True(t, errors.Is(err, ErrNotSupported), preset)
	}
	assert.Empty(t, coord.calls)

	require.NoError(t, climate.SetPresetMode(context.Background(), PresetNone))
	assert.Equal(t, "auto_conditioning_stop", coord.lastCall().Command)
	assert.Nil(t, climate.State().Attributes["preset_mode"])
}

func TestClimateEmptyReply(t *testing.T) {
	coord := newFakeCoordinator(vehicle.Snapshot{"is_climate_on": "0"})
	coord.replies["auto_conditioning_start"] = teslafi.Response{Data: map[string]any{}}
	climate := NewClimate(coord, testOptions(clock.NewMock()))
	climate.HandleUpdate(coord.Data(), nil)

	err := climate.SetHVACMode(context.Background(), HVACAuto)
	assert.True(t, errors.Is(err, ErrEmptyResponse))
	assert.Equal(t, HVACOff, climate.State().Value)
	_, pending := climate.rec.Pending()
	assert.False(t, pending)
}
