package integration

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"teslafi/internal/config"
	"teslafi/internal/coordinator"
	"teslafi/internal/entity"
	"teslafi/internal/registry"
	"teslafi/internal/teslafi"
	"teslafi/pkg/testutil"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "abcd1234efgh"

func sampleVehicle() map[string]any {
	return map[string]any{
		"id":             "42",
		"vin":            "5YJ3E1EA7KF000001",
		"display_name":   "Blue",
		"carState":       "Idling",
		"locked":         "0",
		"sentry_mode":    "0",
		"is_climate_on":  "0",
		"battery_level":  "71",
		"charging_state": "Disconnected",
		"shift_state":    "P",
		"car_version":    "2024.8.7",
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, title+": "+message)
	return nil
}

type recordingListener struct {
	added, removed []string
}

func (l *recordingListener) EntryAdded(e *registry.Entry)   { l.added = append(l.added, e.ID) }
func (l *recordingListener) EntryRemoved(e *registry.Entry) { l.removed = append(l.removed, e.ID) }

func newClient(server *testutil.MockTeslaFiServer, key string) *teslafi.Client {
	return teslafi.NewClient(key, server.Server().Client(), zap.NewNop(), teslafi.WithBaseURL(server.URL()))
}

func TestValidate(t *testing.T) {
	server := testutil.NewMockTeslaFiServer(testKey)
	defer server.Close()
	server.SetLastGood(sampleVehicle())

	t.Run("valid key", func(t *testing.T) {
		result, err := Validate(context.Background(), newClient(server, testKey))
		require.NoError(t, err)
		assert.Equal(t, Result{Title: "Blue", ID: "42"}, result)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := Validate(context.Background(), newClient(server, "nope"))
		assert.True(t, errors.Is(err, ErrInvalidAuth))
	})

	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "forbidden", status: http.StatusForbidden, body: "Forbidden", want: ErrInvalidAuth},
		{name: "server error", status: http.StatusInternalServerError, body: "oops", want: ErrCannotConnect},
		{name: "not json", status: http.StatusOK, body: "<html>", want: ErrCannotConnect},
		{name: "empty reply", status: http.StatusOK, body: "{}", want: ErrCannotConnect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server.Respond("lastGood", testutil.CannedResponse{Status: tt.status, Body: tt.body, Once: true})
			_, err := Validate(context.Background(), newClient(server, testKey))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func newTestManager(t *testing.T, server *testutil.MockTeslaFiServer, notifier Notifier) (*Manager, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	cfg := coordinator.DefaultConfig()
	cfg.Delays.RefreshCooldown = -1
	return NewManager(registry.New(), Deps{
		HTTPClient:    server.Server().Client(),
		Clock:         clk,
		Logger:        zap.NewNop(),
		Coordinator:   cfg,
		ClientOptions: []teslafi.Option{teslafi.WithBaseURL(server.URL())},
		Notifier:      notifier,
	}), clk
}

func TestSetupAndUnload(t *testing.T) {
	server := testutil.NewMockTeslaFiServer(testKey)
	defer server.Close()
	server.SetLastGood(sampleVehicle())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, _ := newTestManager(t, server, nil)
	listener := &recordingListener{}
	manager.AddListener(listener)

	entry, err := manager.Setup(ctx, config.Entry{ID: "car", APIKey: testKey})
	require.NoError(t, err)
	assert.Equal(t, "Blue", entry.Title)
	assert.Equal(t, []string{"car"}, listener.added)
	assert.Equal(t, 1, server.CountRequests("lastGood"))

	battery, ok := entry.Entities.Find(entity.PlatformSensor, "battery_level")
	require.True(t, ok)
	assert.Equal(t, 71.0, battery.State().Value)
	assert.True(t, battery.State().Available)
	assert.Equal(t, "5YJ3E1EA7KF000001-battery_level", battery.UniqueID())

	_, ok = manager.Registry().Get("car")
	assert.True(t, ok)

	_, err = manager.Setup(ctx, config.Entry{ID: "car", APIKey: testKey})
	assert.Error(t, err, "an entry is set up once")

	require.NoError(t, manager.Unload("car"))
	assert.Equal(t, []string{"car"}, listener.removed)
	_, ok = manager.Registry().Get("car")
	assert.False(t, ok)
	assert.Error(t, manager.Unload("car"))
}

func TestSetupFailureNotifies(t *testing.T) {
	server := testutil.NewMockTeslaFiServer(testKey)
	defer server.Close()
	server.SetLastGood(sampleVehicle())

	notifier := &recordingNotifier{}
	manager, _ := newTestManager(t, server, notifier)

	_, err := manager.Setup(context.Background(), config.Entry{ID: "car", Name: "Blue", APIKey: "wrong"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, teslafi.ErrPermission))
	assert.Zero(t, manager.Registry().Len())
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "Blue")
	assert.NotContains(t, notifier.messages[0], "wrong")
}

func TestSetupWithoutVIN(t *testing.T) {
	server := testutil.NewMockTeslaFiServer(testKey)
	defer server.Close()
	data := sampleVehicle()
	delete(data, "vin")
	server.SetLastGood(data)

	manager, _ := newTestManager(t, server, nil)
	_, err := manager.Setup(context.Background(), config.Entry{ID: "car", APIKey: testKey})
	assert.True(t, errors.Is(err, coordinator.ErrMissingVIN))
}

func TestLockRoundTrip(t *testing.T) {
	server := testutil.NewMockTeslaFiServer(testKey)
	defer server.Close()
	server.SetLastGood(sampleVehicle())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager, _ := newTestManager(t, server, nil)
	entry, err := manager.Setup(ctx, config.Entry{ID: "car", APIKey: testKey})
	require.NoError(t, err)

	e, ok := entry.Entities.Find(entity.PlatformLock, "_locks")
	require.True(t, ok)
	lock := e.(entity.Lockable)
	require.Equal(t, entity.LockUnlocked, lock.State().Value)

	require.NoError(t, lock.Lock(ctx))
	assert.Equal(t, entity.LockLocking, lock.State().Value)
	assert.Equal(t, 1, server.CountRequests("door_lock"))
	assert.Equal(t, coordinator.DelayLocks, entry.Coordinator.NextRefresh())

	counters, err := entry.Coordinator.Data().RequestCounters()
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Commands)

	require.NoError(t, entry.Coordinator.Refresh(ctx))
	assert.Equal(t, entity.LockLocked, lock.State().Value)
}

func TestSleepingCarCommandWakes(t *testing.T) {
	server := testutil.NewMockTeslaFiServer(testKey)
	defer server.Close()
	data := sampleVehicle()
	data["carState"] = "Sleeping"
	server.SetLastGood(data)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager, _ := newTestManager(t, server, nil)
	entry, err := manager.Setup(ctx, config.Entry{ID: "car", APIKey: testKey})
	require.NoError(t, err)

	e, _ := entry.Entities.Find(entity.PlatformButton, "cmd_honk")
	require.NoError(t, e.(entity.Pressable).Press(ctx))

	req := testutil.LastRequest(server.Requests(), "honk")
	require.NotNil(t, req)
	assert.Equal(t, "20", req.Params["wake"])
}

func TestApplyIntervals(t *testing.T) {
	server := testutil.NewMockTeslaFiServer(testKey)
	defer server.Close()
	server.SetLastGood(sampleVehicle())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager, _ := newTestManager(t, server, nil)
	entry, err := manager.Setup(ctx, config.Entry{ID: "car", APIKey: testKey})
	require.NoError(t, err)

	manager.ApplyIntervals(coordinator.Intervals{Default: 2 * time.Minute})
	assert.Equal(t, 2*time.Minute, entry.Coordinator.NextInterval())
}
