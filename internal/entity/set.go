package entity

import (
	"sync"

	"teslafi/internal/coordinator"
	"teslafi/internal/vehicle"

	"go.uber.org/zap"
)

// Source is where a Set gets its updates from.
type Source interface {
	Subscribe(handler coordinator.UpdateHandler) coordinator.Subscription
}

type binder interface {
	bind(self Entity, writer StateWriter)
}

// Set is all entities of one config entry.
type Set struct {
	coord    Coordinator
	entities []Entity
	logger   *zap.Logger

	mu      sync.RWMutex
	writers []StateWriter
	sub     coordinator.Subscription
}

func newSet(coord Coordinator, entities []Entity, logger *zap.Logger) *Set {
	s := &Set{coord: coord, entities: entities, logger: logger.Named("entities")}
	for _, e := range entities {
		if b, ok := e.(binder); ok {
			b.bind(e, s.dispatch)
		}
	}
	return s
}

// OnStateChange registers a writer called whenever an entity's state should
// be republished.
func (s *Set) OnStateChange(w StateWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writers = append(s.writers, w)
}

func (s *Set) dispatch(e Entity) {
	s.mu.RLock()
	writers := make([]StateWriter, len(s.writers))
	copy(writers, s.writers)
	s.mu.RUnlock()

	for _, w := range writers {
		w(e)
	}
}

// Attach subscribes every entity to src's updates.
func (s *Set) Attach(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return
	}
	s.sub = src.Subscribe(s.HandleUpdate)
}

// Detach stops delivering updates.
func (s *Set) Detach() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// HandleUpdate forwards an update to every entity.
func (s *Set) HandleUpdate(data *vehicle.Vehicle, err error) {
	for _, e := range s.entities {
		e.HandleUpdate(data, err)
	}
}

// All returns the entities in creation order.
func (s *Set) All() []Entity {
	out := make([]Entity, len(s.entities))
	copy(out, s.entities)
	return out
}

// Find looks an entity up by platform and key.
func (s *Set) Find(platform Platform, key string) (Entity, bool) {
	for _, e := range s.entities {
		if e.Platform() == platform && e.Key() == key {
			return e, true
		}
	}
	return nil, false
}

// ByPlatform returns the entities of one platform.
func (s *Set) ByPlatform(platform Platform) []Entity {
	var out []Entity
	for _, e := range s.entities {
		if e.Platform() == platform {
			out = append(out, e)
		}
	}
	return out
}

// Device describes the vehicle all entities belong to.
func (s *Set) Device() DeviceInfo {
	return NewDeviceInfo(s.coord.Data())
}
