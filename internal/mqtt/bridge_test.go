package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"teslafi/internal/config"
	"teslafi/internal/coordinator"
	"teslafi/internal/entity"
	"teslafi/internal/ha"
	"teslafi/internal/integration"
	"teslafi/internal/registry"
	"teslafi/internal/teslafi"
	"teslafi/pkg/testutil"

	"github.com/benbjohnson/clock"
	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testKey = "abcd1234efgh"
	testVIN = "5YJ3E1EA7KF000001"
)

type fakeConn struct {
	mu         sync.Mutex
	published  []*paho.Publish
	subscribed []paho.SubscribeOptions
}

func (c *fakeConn) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, p)
	return &paho.PublishResponse{}, nil
}

func (c *fakeConn) Subscribe(_ context.Context, s *paho.Subscribe) (*paho.Suback, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, s.Subscriptions...)
	return &paho.Suback{}, nil
}

// last returns the most recent publish on topic.
func (c *fakeConn) last(topic string) *paho.Publish {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.published) - 1; i >= 0; i-- {
		if c.published[i].Topic == topic {
			return c.published[i]
		}
	}
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func sampleVehicle() map[string]any {
	return map[string]any{
		"id":               "42",
		"vin":              testVIN,
		"display_name":     "Blue",
		"carState":         "Idling",
		"locked":           "0",
		"sentry_mode":      "0",
		"is_climate_on":    "0",
		"battery_level":    "71",
		"charging_state":   "Disconnected",
		"shift_state":      "P",
		"car_version":      "2024.8.7",
		"charge_limit_soc": "80",
	}
}

type fixture struct {
	server   *testutil.MockTeslaFiServer
	manager  *integration.Manager
	bridge   *Bridge
	notifier *ha.MockClient
	entry    *registry.Entry
}

func newFixture(t *testing.T, readOnly bool) *fixture {
	t.Helper()
	server := testutil.NewMockTeslaFiServer(testKey)
	t.Cleanup(server.Close)
	server.SetLastGood(sampleVehicle())

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	cfg := coordinator.DefaultConfig()
	cfg.Delays.RefreshCooldown = -1

	notifier := ha.NewMockClient()
	bridge := NewBridge(Options{
		Config:   config.MQTTConfig{DiscoveryPrefix: "homeassistant", TopicPrefix: "teslafi"},
		ReadOnly: readOnly,
		Notifier: notifier,
		Logger:   zap.NewNop(),
	})
	manager := integration.NewManager(registry.New(), integration.Deps{
		HTTPClient:    server.Server().Client(),
		Clock:         clk,
		Logger:        zap.NewNop(),
		Coordinator:   cfg,
		ClientOptions: []teslafi.Option{teslafi.WithBaseURL(server.URL())},
	})
	manager.AddListener(bridge)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	entry, err := manager.Setup(ctx, config.Entry{ID: "car", APIKey: testKey})
	require.NoError(t, err)

	return &fixture{server: server, manager: manager, bridge: bridge, notifier: notifier, entry: entry}
}

func (f *fixture) find(t *testing.T, platform entity.Platform, key string) entity.Entity {
	t.Helper()
	e, ok := f.entry.Entities.Find(platform, key)
	require.True(t, ok, "%s.%s", platform, key)
	return e
}

func TestTopics(t *testing.T) {
	f := newFixture(t, false)
	lock := f.find(t, entity.PlatformLock, "_locks")
	climate := f.find(t, entity.PlatformClimate, "climate")

	topics := NewTopics("", "")
	assert.Equal(t, "teslafi/bridge/availability", topics.Bridge())
	assert.Equal(t, "teslafi/"+testVIN+"/lock/_locks/state", topics.State(testVIN, lock))
	assert.Equal(t, "teslafi/"+testVIN+"/lock/_locks/attributes", topics.Attributes(testVIN, lock))
	assert.Equal(t, "teslafi/"+testVIN+"/lock/_locks/set", topics.Command(testVIN, lock, ""))
	assert.Equal(t, "teslafi/"+testVIN+"/climate/climate/temperature/set", topics.Command(testVIN, climate, ActionTemperature))
	assert.Equal(t, "homeassistant/lock/"+testVIN+"/_locks/config", topics.Discovery(testVIN, lock))
	assert.Equal(t, []string{"teslafi/+/+/+/set", "teslafi/+/+/+/+/set"}, topics.CommandFilters())

	assert.Equal(t, []string{ActionMode, ActionTemperature, ActionPreset}, Actions(climate))
	assert.Equal(t, []string{""}, Actions(lock))
	assert.Nil(t, Actions(f.find(t, entity.PlatformSensor, "battery_level")))
}

func TestDiscoveryConfig(t *testing.T) {
	f := newFixture(t, false)
	topics := f.bridge.Topics()
	device := f.entry.Entities.Device()

	lock := DiscoveryConfig(topics, testVIN, device, f.find(t, entity.PlatformLock, "_locks"))
	assert.Equal(t, testVIN+"-_locks", lock.UniqueID)
	assert.Equal(t, "locked", lock.StateLocked)
	assert.Equal(t, PayloadLock, lock.PayloadLock)
	assert.Equal(t, topics.Command(testVIN, f.find(t, entity.PlatformLock, "_locks"), ""), lock.CommandTopic)
	assert.Equal(t, "all", lock.AvailabilityMode)
	require.Len(t, lock.Availability, 2)
	assert.Equal(t, topics.Bridge(), lock.Availability[0].Topic)
	assert.Equal(t, []string{"teslafi_" + testVIN}, lock.Device.Identifiers)

	button := DiscoveryConfig(topics, testVIN, device, f.find(t, entity.PlatformButton, "cmd_honk"))
	assert.Empty(t, button.StateTopic)
	assert.Equal(t, PayloadPress, button.PayloadPress)

	number := DiscoveryConfig(topics, testVIN, device, f.find(t, entity.PlatformNumber, "charge_limit_soc"))
	require.NotNil(t, number.Min)
	require.NotNil(t, number.Max)
	assert.Equal(t, 0.0, *number.Min)
	assert.Equal(t, 100.0, *number.Max)

	alarm := DiscoveryConfig(topics, testVIN, device, f.find(t, entity.PlatformAlarm, "sentry_mode"))
	require.NotNil(t, alarm.EnabledByDefault)
	assert.False(t, *alarm.EnabledByDefault)
	assert.Equal(t, []string{"arm_away"}, alarm.SupportedFeatures)

	climate := DiscoveryConfig(topics, testVIN, device, f.find(t, entity.PlatformClimate, "climate"))
	assert.Empty(t, climate.StateTopic)
	assert.Equal(t, []string{entity.HVACAuto, entity.HVACOff}, climate.Modes)
	assert.NotContains(t, climate.PresetModes, entity.PresetNone)

	raw, err := json.Marshal(button)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "state_topic")
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, PayloadNone},
		{"whole float", 71.0, "71"},
		{"fraction", 3.5, "3.5"},
		{"string", "on", "on"},
		{"int", 42, "42"},
		{"bool", true, "true"},
		{"list", []string{"a"}, `["a"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.value))
		})
	}
}

func TestBridge_PublishesOnConnect(t *testing.T) {
	f := newFixture(t, false)
	conn := &fakeConn{}
	assert.False(t, f.bridge.connected())

	f.bridge.onConnectionUp(context.Background(), conn)

	require.Len(t, conn.subscribed, 2)
	assert.True(t, conn.subscribed[0].NoLocal)

	online := conn.last("teslafi/bridge/availability")
	require.NotNil(t, online)
	assert.Equal(t, Online, string(online.Payload))
	assert.True(t, online.Retain)

	lock := f.find(t, entity.PlatformLock, "_locks")
	topics := f.bridge.Topics()
	discovery := conn.last(topics.Discovery(testVIN, lock))
	require.NotNil(t, discovery)
	assert.True(t, discovery.Retain)
	var cfg Config
	require.NoError(t, json.Unmarshal(discovery.Payload, &cfg))
	assert.Equal(t, "Lock", cfg.Name)

	state := conn.last(topics.State(testVIN, lock))
	require.NotNil(t, state)
	assert.Equal(t, entity.LockUnlocked, string(state.Payload))

	battery := f.find(t, entity.PlatformSensor, "battery_level")
	assert.Equal(t, "71", string(conn.last(topics.State(testVIN, battery)).Payload))
	assert.Equal(t, Online, string(conn.last(topics.Availability(testVIN, battery)).Payload))
}

func TestBridge_HandleCommand(t *testing.T) {
	f := newFixture(t, false)
	conn := &fakeConn{}
	f.bridge.onConnectionUp(context.Background(), conn)
	topics := f.bridge.Topics()
	lock := f.find(t, entity.PlatformLock, "_locks")
	before := conn.count()

	require.NoError(t, f.bridge.HandleCommand(context.Background(), topics.Command(testVIN, lock, ""), []byte("LOCK")))
	assert.Equal(t, 1, f.server.CountRequests("door_lock"))
	assert.Greater(t, conn.count(), before, "the new lock state is published")
	assert.Equal(t, FormatValue(lock.State().Value), string(conn.last(topics.State(testVIN, lock)).Payload))

	number := f.find(t, entity.PlatformNumber, "charge_limit_soc")
	require.NoError(t, f.bridge.HandleCommand(context.Background(), topics.Command(testVIN, number, ""), []byte(" 90 ")))
	req := testutil.LastRequest(f.server.Requests(), "set_charge_limit")
	require.NotNil(t, req)
	assert.Equal(t, "90", req.Params["charge_limit_soc"])

	err := f.bridge.HandleCommand(context.Background(), "teslafi/nope/lock/_locks/set", []byte("LOCK"))
	assert.True(t, errors.Is(err, ErrUnknownTopic))

	err = f.bridge.HandleCommand(context.Background(), topics.Command(testVIN, lock, ""), []byte("OPEN"))
	assert.True(t, errors.Is(err, ErrBadPayload))

	err = f.bridge.HandleCommand(context.Background(), topics.Command(testVIN, number, ""), []byte("lots"))
	assert.True(t, errors.Is(err, ErrBadPayload))
	assert.Empty(t, f.notifier.GetServiceCalls(), "bad payloads are not reported")
}

func TestBridge_RejectedCommandNotifies(t *testing.T) {
	f := newFixture(t, false)
	climate := f.find(t, entity.PlatformClimate, "climate")

	err := f.bridge.HandleCommand(context.Background(), f.bridge.Topics().Command(testVIN, climate, ActionMode), []byte("heat"))
	require.True(t, errors.Is(err, entity.ErrNotSupported))

	calls := f.notifier.GetServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "persistent_notification", calls[0].Domain)
	assert.Equal(t, "TeslaFi command rejected", calls[0].Data["title"])
	assert.Contains(t, calls[0].Data["message"], "Blue")
}

func TestBridge_ReadOnly(t *testing.T) {
	f := newFixture(t, true)
	lock := f.find(t, entity.PlatformLock, "_locks")

	require.NoError(t, f.bridge.HandleCommand(context.Background(), f.bridge.Topics().Command(testVIN, lock, ""), []byte("LOCK")))
	assert.Zero(t, f.server.CountRequests("door_lock"))
}

func TestBridge_EntryRemoved(t *testing.T) {
	f := newFixture(t, false)
	conn := &fakeConn{}
	f.bridge.onConnectionUp(context.Background(), conn)
	lock := f.find(t, entity.PlatformLock, "_locks")
	topics := f.bridge.Topics()

	require.NoError(t, f.manager.Unload("car"))

	withdrawn := conn.last(topics.Discovery(testVIN, lock))
	require.NotNil(t, withdrawn)
	assert.Empty(t, withdrawn.Payload)
	assert.True(t, withdrawn.Retain)

	err := f.bridge.HandleCommand(context.Background(), topics.Command(testVIN, lock, ""), []byte("LOCK"))
	assert.True(t, errors.Is(err, ErrUnknownTopic))
}
