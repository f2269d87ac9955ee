package coordinator

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"teslafi/internal/teslafi"
	"teslafi/internal/vehicle"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testVIN = "5YJ3E1EA7KF000001"

type commandCall struct {
	command string
	params  teslafi.Params
}

// fakeClient serves queued snapshots and records commands.
type fakeClient struct {
	mu        sync.Mutex
	snapshots []vehicle.Snapshot
	pollErr   error
	polls     int32
	commands  []commandCall
	cmdResp   teslafi.Response
	cmdErr    error
	pollDelay time.Duration
}

func (f *fakeClient) LastGood(ctx context.Context) (vehicle.Snapshot, error) {
	atomic.AddInt32(&f.polls, 1)
	if f.pollDelay > 0 {
		time.Sleep(f.pollDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if len(f.snapshots) == 0 {
		return vehicle.Snapshot{"vin": testVIN}, nil
	}
	snap := f.snapshots[0]
	if len(f.snapshots) > 1 {
		f.snapshots = f.snapshots[1:]
	}
	return snap, nil
}

func (f *fakeClient) Command(ctx context.Context, command string, params teslafi.Params) (teslafi.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, commandCall{command: command, params: params})
	return f.cmdResp, f.cmdErr
}

func (f *fakeClient) queue(snaps ...vehicle.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snaps...)
}

func (f *fakeClient) pollCount() int {
	return int(atomic.LoadInt32(&f.polls))
}

func newTestCoordinator(t *testing.T, client *fakeClient) (*Coordinator, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := Config{Delays: Delays{RefreshCooldown: -1}}
	return New("entry-1", client, mock, cfg, zap.NewNop()), mock
}

func TestRefresh_MergesAndPublishes(t *testing.T) {
	client := &fakeClient{}
	client.queue(
		vehicle.Snapshot{"vin": testVIN, "display_name": "Red", "battery_level": 80.0},
		vehicle.Snapshot{"vin": testVIN, "display_name": "", "battery_level": 79.0},
	)
	c, _ := newTestCoordinator(t, client)

	var published []error
	sub := c.Subscribe(func(data *vehicle.Vehicle, err error) {
		published = append(published, err)
	})
	defer sub.Unsubscribe()

	require.NoError(t, c.FirstRefresh(context.Background()))
	require.NoError(t, c.Refresh(context.Background()))

	assert.Equal(t, "Red", *c.Data().Name())
	assert.Equal(t, 79.0, *c.Data().BatteryLevel())
	assert.Equal(t, []error{nil, nil}, published)
	assert.True(t, c.Available())
}

func TestRefresh_FailureKeepsState(t *testing.T) {
	client := &fakeClient{}
	client.queue(vehicle.Snapshot{"vin": testVIN, "carState": "Idling"})
	c, _ := newTestCoordinator(t, client)
	require.NoError(t, c.FirstRefresh(context.Background()))

	before := c.Data().Snapshot()
	client.pollErr = &teslafi.TransportError{StatusCode: 502}

	var got error
	c.Subscribe(func(_ *vehicle.Vehicle, err error) { got = err })

	err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, teslafi.ErrTransport)
	assert.ErrorIs(t, got, teslafi.ErrTransport)
	assert.Equal(t, before, c.Data().Snapshot())
	assert.False(t, c.Available())
}

func TestFirstRefresh_RequiresVIN(t *testing.T) {
	client := &fakeClient{}
	client.queue(vehicle.Snapshot{"display_name": "Red"})
	c, _ := newTestCoordinator(t, client)

	err := c.FirstRefresh(context.Background())
	assert.ErrorIs(t, err, ErrMissingVIN)
}

func TestRefresh_FreshSnapshotWithoutVINFails(t *testing.T) {
	client := &fakeClient{}
	client.queue(vehicle.Snapshot{"vin": testVIN}, vehicle.Snapshot{"carState": "Idling"})
	c, _ := newTestCoordinator(t, client)
	require.NoError(t, c.FirstRefresh(context.Background()))

	err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrMissingVIN)
}

func TestCarStateOverride(t *testing.T) {
	tests := []struct {
		state string
		want  time.Duration
	}{
		{"Driving", DrivingPollInterval},
		{"Sleeping", SleepingPollInterval},
		{"Idling", DefaultPollInterval},
		{"Charging", DefaultPollInterval},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			client := &fakeClient{}
			client.queue(vehicle.Snapshot{"vin": testVIN, "carState": tt.state})
			c, _ := newTestCoordinator(t, client)

			require.NoError(t, c.FirstRefresh(context.Background()))
			assert.Equal(t, tt.want, c.NextInterval())
		})
	}
}

func TestScheduling_OverrideIsOneShot(t *testing.T) {
	client := &fakeClient{}
	client.queue(
		vehicle.Snapshot{"vin": testVIN, "carState": "Driving"},
		vehicle.Snapshot{"vin": testVIN, "carState": "Idling"},
	)
	c, mock := newTestCoordinator(t, client)
	require.NoError(t, c.FirstRefresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	// Driving override consumed by the first scheduling decision
	assert.Equal(t, DrivingPollInterval, c.NextRefresh())
	assert.Equal(t, DefaultPollInterval, c.NextInterval())

	mock.Add(DrivingPollInterval)
	require.Eventually(t, func() bool { return client.pollCount() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.NextRefresh() == DefaultPollInterval }, time.Second, 5*time.Millisecond)
}

func TestCarStateOverride_ClearedByLaterPoll(t *testing.T) {
	client := &fakeClient{}
	client.queue(
		vehicle.Snapshot{"vin": testVIN, "carState": "Sleeping"},
		vehicle.Snapshot{"vin": testVIN, "carState": "Idling"},
	)
	c, _ := newTestCoordinator(t, client)

	require.NoError(t, c.FirstRefresh(context.Background()))
	require.Equal(t, SleepingPollInterval, c.NextInterval())

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, DefaultPollInterval, c.NextInterval())
}

func TestScheduleRefreshIn_WinsOverCarState(t *testing.T) {
	client := &fakeClient{}
	client.queue(vehicle.Snapshot{"vin": testVIN, "carState": "Sleeping"})
	c, mock := newTestCoordinator(t, client)

	// Subscriber asks for a quick recheck during publish, after the car
	// state tier was applied.
	c.Subscribe(func(_ *vehicle.Vehicle, _ error) {
		c.ScheduleRefreshIn(DelayWakeup)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, DelayWakeup, c.NextRefresh())

	mock.Add(DelayWakeup)
	require.Eventually(t, func() bool { return client.pollCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestRefresh_Coalesces(t *testing.T) {
	client := &fakeClient{pollDelay: 50 * time.Millisecond}
	c, _ := newTestCoordinator(t, client)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Refresh(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, client.pollCount())
}

func TestRequestRefresh_Cooldown(t *testing.T) {
	client := &fakeClient{}
	mock := clock.NewMock()
	c := New("entry-1", client, mock, Config{}, zap.NewNop())

	require.NoError(t, c.FirstRefresh(context.Background()))
	require.NoError(t, c.RequestRefresh(context.Background()))
	assert.Equal(t, 1, client.pollCount())
	assert.Equal(t, RequestRefreshCooldown, c.NextInterval())

	mock.Add(RequestRefreshCooldown)
	require.NoError(t, c.RequestRefresh(context.Background()))
	assert.Equal(t, 2, client.pollCount())
}

func TestChargeSessionInference(t *testing.T) {
	t.Run("newly plugged in", func(t *testing.T) {
		client := &fakeClient{}
		client.queue(
			vehicle.Snapshot{"vin": testVIN, "charging_state": "Disconnected", "Date": "2024-03-01 07:00:00"},
			vehicle.Snapshot{"vin": testVIN, "charging_state": "Charging", "Date": "2024-03-01 07:05:00"},
		)
		c, _ := newTestCoordinator(t, client)
		require.NoError(t, c.FirstRefresh(context.Background()))
		assert.Nil(t, c.LastChargeSessionReset())

		require.NoError(t, c.Refresh(context.Background()))
		reset := c.LastChargeSessionReset()
		require.NotNil(t, reset)
		assert.Equal(t, time.Date(2024, 3, 1, 7, 5, 0, 0, time.Local), *reset)
	})

	t.Run("new session number", func(t *testing.T) {
		client := &fakeClient{}
		client.queue(
			vehicle.Snapshot{"vin": testVIN, "charging_state": "Charging", "chargeNumber": "11", "Date": "2024-03-01 07:00:00"},
			vehicle.Snapshot{"vin": testVIN, "charging_state": "Charging", "chargeNumber": "12", "Date": "2024-03-01 09:00:00"},
		)
		c, _ := newTestCoordinator(t, client)
		require.NoError(t, c.FirstRefresh(context.Background()))
		require.NoError(t, c.Refresh(context.Background()))

		reset := c.LastChargeSessionReset()
		require.NotNil(t, reset)
		assert.Equal(t, 9, reset.Hour())
	})

	t.Run("zero session number ignored", func(t *testing.T) {
		client := &fakeClient{}
		client.queue(
			vehicle.Snapshot{"vin": testVIN, "charging_state": "Charging", "chargeNumber": "11"},
			vehicle.Snapshot{"vin": testVIN, "charging_state": "Charging", "chargeNumber": "0", "speed": "1"},
		)
		c, _ := newTestCoordinator(t, client)
		require.NoError(t, c.FirstRefresh(context.Background()))
		require.NoError(t, c.Refresh(context.Background()))
		assert.Nil(t, c.LastChargeSessionReset())
	})

	t.Run("identical snapshot does nothing", func(t *testing.T) {
		snap := vehicle.Snapshot{"vin": testVIN, "charging_state": "Charging", "chargeNumber": "11"}
		client := &fakeClient{}
		client.queue(snap, snap)
		c, _ := newTestCoordinator(t, client)
		require.NoError(t, c.FirstRefresh(context.Background()))
		require.NoError(t, c.Refresh(context.Background()))
		assert.Nil(t, c.LastChargeSessionReset())
	})

	t.Run("first poll never sets marker", func(t *testing.T) {
		client := &fakeClient{}
		client.queue(vehicle.Snapshot{"vin": testVIN, "charging_state": "Charging", "chargeNumber": "3"})
		c, _ := newTestCoordinator(t, client)
		require.NoError(t, c.FirstRefresh(context.Background()))
		assert.Nil(t, c.LastChargeSessionReset())
	})
}

func TestExecuteCommand(t *testing.T) {
	t.Run("awake car", func(t *testing.T) {
		client := &fakeClient{cmdResp: teslafi.Response{Data: map[string]any{
			"response":              map[string]any{"result": true},
			"tesla_request_counter": map[string]any{"commands": 7.0},
		}}}
		client.queue(vehicle.Snapshot{"vin": testVIN, "carState": "Idling"})
		c, _ := newTestCoordinator(t, client)
		require.NoError(t, c.FirstRefresh(context.Background()))

		resp, err := c.ExecuteCommand(context.Background(), "door_lock", nil)
		require.NoError(t, err)
		assert.NotNil(t, resp.Object())

		require.Len(t, client.commands, 1)
		assert.Equal(t, "door_lock", client.commands[0].command)
		_, hasWake := client.commands[0].params[teslafi.ParamWake]
		assert.False(t, hasWake)

		counters, err := c.Data().RequestCounters()
		require.NoError(t, err)
		assert.Equal(t, 7, counters.Commands)

		// A refresh followed the command
		assert.Equal(t, 2, client.pollCount())
	})

	t.Run("sleeping car is woken", func(t *testing.T) {
		client := &fakeClient{cmdResp: teslafi.Response{Data: map[string]any{}}}
		client.queue(vehicle.Snapshot{"vin": testVIN, "carState": "Sleeping"})
		c, _ := newTestCoordinator(t, client)
		require.NoError(t, c.FirstRefresh(context.Background()))

		_, err := c.ExecuteCommand(context.Background(), "honk", teslafi.Params{"x": 1})
		require.NoError(t, err)
		assert.Equal(t, int(DelayCmdWake.Seconds()), client.commands[0].params[teslafi.ParamWake])
		assert.Equal(t, 1, client.commands[0].params["x"])
	})

	t.Run("errors propagate unchanged", func(t *testing.T) {
		rejected := &teslafi.CommandRejectedError{Reason: "already closed"}
		client := &fakeClient{cmdErr: rejected}
		c, _ := newTestCoordinator(t, client)
		require.NoError(t, c.FirstRefresh(context.Background()))

		_, err := c.ExecuteCommand(context.Background(), "charge_port_door_close", nil)
		assert.True(t, errors.Is(err, rejected))
		assert.Equal(t, 1, client.pollCount())
	})
}

func TestStop_CancelsTimer(t *testing.T) {
	client := &fakeClient{}
	c, mock := newTestCoordinator(t, client)
	require.NoError(t, c.FirstRefresh(context.Background()))

	c.Start(context.Background())
	c.Stop()

	mock.Add(DefaultPollInterval * 2)
	assert.Equal(t, 1, client.pollCount())
}

func TestStop_ReleasesLoop(t *testing.T) {
	client := &fakeClient{}
	c, _ := newTestCoordinator(t, client)
	require.NoError(t, c.FirstRefresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	baseline := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		c.Start(ctx)
		c.Stop()
	}
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= baseline }, time.Second, 5*time.Millisecond)

	// Cancelling the context stops the loop as well.
	c.Start(ctx)
	cancel()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return !c.running
	}, time.Second, 5*time.Millisecond)
	c.Stop()
}

func TestUnsubscribe(t *testing.T) {
	client := &fakeClient{}
	c, _ := newTestCoordinator(t, client)

	calls := 0
	sub := c.Subscribe(func(_ *vehicle.Vehicle, _ error) { calls++ })
	require.NoError(t, c.Refresh(context.Background()))
	sub.Unsubscribe()
	sub.Unsubscribe()
	require.NoError(t, c.Refresh(context.Background()))

	assert.Equal(t, 1, calls)
}
