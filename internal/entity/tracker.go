package entity

import (
	"sync"

	"teslafi/internal/vehicle"
)

// Tracker reports the car's GPS position.
type Tracker struct {
	*base

	stateMu   sync.RWMutex
	location  *vehicle.Location
	available bool
}

// NewTracker creates the location tracker.
func NewTracker(coord Coordinator, opts Options) *Tracker {
	return &Tracker{
		base: newBase(coord, PlatformDeviceTracker, Description{
			Key: "tracker", Name: "Location", Icon: "mdi:car",
		}, opts.Logger),
	}
}

// Location is the last known fix.
func (t *Tracker) Location() *vehicle.Location {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return t.location
}

// HandleUpdate reads the position from the latest data.
func (t *Tracker) HandleUpdate(data *vehicle.Vehicle, _ error) {
	t.stateMu.Lock()
	t.location = data.Location()
	t.available = t.isAvailable()
	t.stateMu.Unlock()
	t.writeState()
}

// State implements Entity. The tracker has no value of its own; the host
// resolves zones from the coordinates in the attributes.
func (t *Tracker) State() State {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()

	extra := map[string]any{
		"source_type":       "gps",
		"heading":           nil,
		"heading_direction": nil,
	}
	if t.location != nil {
		t.locationAttrs(extra)
	}
	return State{Available: t.available, Attributes: attrs(t.desc, extra)}
}

func (t *Tracker) locationAttrs(extra map[string]any) {
	extra["latitude"] = t.location.Latitude
	extra["longitude"] = t.location.Longitude
	if h := t.location.Heading; h != nil {
		heading := int(*h)
		extra["heading"] = heading
		extra["heading_direction"] = vehicle.Cardinal(float64(heading))
	}
}

func init() {
	register(PlatformDeviceTracker, 70, func(coord Coordinator, opts Options) []Entity {
		return []Entity{NewTracker(coord, opts)}
	})
}
