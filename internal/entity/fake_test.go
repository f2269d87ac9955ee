package entity

import (
	"context"
	"sync"
	"time"

	"teslafi/internal/coordinator"
	"teslafi/internal/teslafi"
	"teslafi/internal/vehicle"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

type commandCall struct {
	Command string
	Params  teslafi.Params
}

type fakeCoordinator struct {
	mu        sync.Mutex
	data      *vehicle.Vehicle
	available bool
	reset     *time.Time
	errs      map[string]error
	replies   map[string]teslafi.Response
	calls     []commandCall
	scheduled []time.Duration
}

func newFakeCoordinator(s vehicle.Snapshot) *fakeCoordinator {
	if _, ok := s["vin"]; !ok {
		s["vin"] = "5YJ3E1EA7KF000001"
	}
	return &fakeCoordinator{
		data:      vehicle.FromSnapshot(s),
		available: true,
		errs:      map[string]error{},
		replies:   map[string]teslafi.Response{},
	}
}

func (f *fakeCoordinator) EntryID() string { return "entry-1" }

func (f *fakeCoordinator) Data() *vehicle.Vehicle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data
}

func (f *fakeCoordinator) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeCoordinator) Delays() coordinator.Delays {
	return coordinator.DefaultConfig().Delays
}

func (f *fakeCoordinator) LastChargeSessionReset() *time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reset
}

func (f *fakeCoordinator) ExecuteCommand(_ context.Context, command string, params teslafi.Params) (teslafi.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, commandCall{Command: command, Params: params})
	if err := f.errs[command]; err != nil {
		return teslafi.Response{}, err
	}
	if resp, ok := f.replies[command]; ok {
		return resp, nil
	}
	return teslafi.Response{
		Raw:  []byte(`{"response":{"result":true}}`),
		Data: map[string]any{"response": map[string]any{"result": true}},
	}, nil
}

func (f *fakeCoordinator) ScheduleRefreshIn(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, d)
}

// poll replaces the data the way a refresh would and returns it.
func (f *fakeCoordinator) poll(s vehicle.Snapshot) *vehicle.Vehicle {
	f.mu.Lock()
	f.data.Merge(s)
	data := f.data
	f.mu.Unlock()
	return data
}

func (f *fakeCoordinator) lastCall() commandCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return commandCall{}
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeCoordinator) lastScheduled() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scheduled) == 0 {
		return 0
	}
	return f.scheduled[len(f.scheduled)-1]
}

func (f *fakeCoordinator) scheduledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

func testOptions(clk clock.Clock) Options {
	return Options{Logger: zap.NewNop(), Clock: clk}
}
