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

func changedBy(a *SentryAlarm) any {
	return opt(a.ChangedBy())
}

func TestSentryAlarmArm(t *testing.T) {
	coord := newFakeCoordinator(vehicle.Snapshot{"sentry_mode": "0", "carState": "Idling"})
	alarm := NewSentryAlarm(coord, testOptions(clock.NewMock()))
	alarm.HandleUpdate(coord.Data(), nil)
	require.Equal(t, AlarmDisarmed, alarm.State().Value)
	assert.Nil(t, changedBy(alarm))

	require.NoError(t, alarm.ArmAway(context.Background()))
	call := coord.lastCall()
	assert.Equal(t, "set_sentry_mode", call.Command)
	assert.Equal(t, true, call.Params["sentryMode"])
	assert.Equal(t, AlarmArming, alarm.State().Value)
	assert.Equal(t, ChangedByHass, changedBy(alarm))
	assert.Equal(t, coord.Delays().Locks, coord.lastScheduled())

	alarm.HandleUpdate(coord.poll(vehicle.Snapshot{"sentry_mode": "0"}), nil)
	assert.Equal(t, AlarmArming, alarm.State().Value)
	assert.Equal(t, coord.Delays().Wakeup, coord.lastScheduled())

	alarm.HandleUpdate(coord.poll(vehicle.Snapshot{"sentry_mode": "1"}), nil)
	state := alarm.State()
	assert.Equal(t, AlarmArmedAway, state.Value)
	assert.Equal(t, ChangedByHass, state.Attributes["changed_by"])
	assert.Equal(t, "mdi:shield-car", state.Attributes["icon"])
}

func TestSentryAlarmRemoteChange(t *testing.T) {
	coord := newFakeCoordinator(vehicle.Snapshot{"sentry_mode": "1"})
	alarm := NewSentryAlarm(coord, testOptions(clock.NewMock()))
	alarm.HandleUpdate(coord.Data(), nil)
	require.Equal(t, AlarmArmedAway, alarm.State().Value)
	assert.Nil(t, changedBy(alarm))

	alarm.HandleUpdate(coord.poll(vehicle.Snapshot{"sentry_mode": "0"}), nil)
	assert.Equal(t, AlarmDisarmed, alarm.State().Value)
	assert.Equal(t, ChangedByRemote, changedBy(alarm))
	assert.Equal(t, "mdi:shield-car-outline", alarm.State().Attributes["icon"])

	alarm.HandleUpdate(coord.poll(vehicle.Snapshot{"sentry_mode": "0"}), nil)
	assert.Equal(t, ChangedByRemote, changedBy(alarm))
}

func TestSentryAlarmFromUnknownState(t *testing.T) {
	coord := newFakeCoordinator(vehicle.Snapshot{"carState": "Sleeping"})
	alarm := NewSentryAlarm(coord, testOptions(clock.NewMock()))
	alarm.HandleUpdate(coord.Data(), nil)
	assert.Nil(t, alarm.State().Value)

	require.NoError(t, alarm.Disarm(context.Background()))
	assert.Equal(t, false, coord.lastCall().Params["sentryMode"])
	assert.Equal(t, AlarmDisarming, alarm.State().Value)
	assert.Equal(t, coord.Delays().Wakeup, coord.lastScheduled())

	alarm.HandleUpdate(coord.poll(vehicle.Snapshot{"sentry_mode": "0"}), nil)
	assert.Equal(t, AlarmDisarmed, alarm.State().Value)
	assert.Equal(t, ChangedByHass, changedBy(alarm))
}

func TestSentryAlarmEmptyReply(t *testing.T) {
	coord := newFakeCoordinator(vehicle.Snapshot{"sentry_mode": "0", "carState": "Idling"})
	coord.replies["set_sentry_mode"] = teslafi.Response{Data: nil}
	alarm := NewSentryAlarm(coord, testOptions(clock.NewMock()))
	alarm.HandleUpdate(coord.Data(), nil)

	err := alarm.ArmAway(context.Background())
	assert.True(t, errors.Is(err, ErrEmptyResponse))
	assert.Equal(t, AlarmDisarmed, alarm.State().Value)
	assert.Nil(t, changedBy(alarm))
	_, pending := alarm.rec.Pending()
	assert.False(t, pending)
}
