package vehicle

import (
	"errors"
	"reflect"
	"sync"
)

// ErrNoVIN is returned when the VIN is read before any data carrying it has
// been merged.
var ErrNoVIN = errors.New("vehicle has no vin")

// Snapshot is one decoded lastGood payload, or the request counter object
// returned with a command.
type Snapshot map[string]any

// Vehicle is the merged view of everything the feed has told us about one
// car. The first merge replaces the state wholesale; later merges only apply
// truthy values so a sparse poll never erases what an earlier poll reported.
type Vehicle struct {
	mu   sync.RWMutex
	data Snapshot
}

// New returns an empty vehicle.
func New() *Vehicle {
	return &Vehicle{data: Snapshot{}}
}

// FromSnapshot returns a vehicle holding exactly the given snapshot, without
// merge filtering. Used to reason about a fresh poll on its own.
func FromSnapshot(s Snapshot) *Vehicle {
	v := New()
	for k, val := range s {
		v.data[k] = val
	}
	return v
}

// Merge folds a snapshot into the state.
func (v *Vehicle) Merge(s Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.data) == 0 {
		for k, val := range s {
			v.data[k] = val
		}
		return
	}

	for k, val := range s {
		if Truthy(val) {
			v.data[k] = val
		}
	}
}

// Get returns the raw value stored for key.
func (v *Vehicle) Get(key string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	val, ok := v.data[key]
	return val, ok
}

// Value returns the raw value for key, or nil.
func (v *Vehicle) Value(key string) any {
	val, _ := v.Get(key)
	return val
}

// Snapshot returns a copy of the merged state.
func (v *Vehicle) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make(Snapshot, len(v.data))
	for k, val := range v.data {
		out[k] = val
	}
	return out
}

// Empty reports whether nothing has been merged yet.
func (v *Vehicle) Empty() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.data) == 0
}

// Equal reports whether both vehicles hold the same key/value pairs.
func (v *Vehicle) Equal(other *Vehicle) bool {
	if v == nil || other == nil {
		return v == other
	}
	return reflect.DeepEqual(v.Snapshot(), other.Snapshot())
}

// Clone returns an independent copy.
func (v *Vehicle) Clone() *Vehicle {
	return FromSnapshot(v.Snapshot())
}
