// Package registry tracks the set-up config entries of the running process.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"teslafi/internal/coordinator"
	"teslafi/internal/entity"
	"teslafi/internal/teslafi"

	"github.com/google/uuid"
)

// Entry is one set-up vehicle: its client, coordinator and entities.
type Entry struct {
	ID          string
	Title       string
	Client      *teslafi.Client
	Coordinator *coordinator.Coordinator
	Entities    *entity.Set
}

// Registry is keyed by config entry id.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Add stores an entry. An entry without an id gets a random one.
func (r *Registry) Add(e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, exists := r.entries[e.ID]; exists {
		return fmt.Errorf("entry %s already set up", e.ID)
	}
	r.entries[e.ID] = e
	return nil
}

// Get returns the entry with id.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Remove deletes and returns the entry with id.
func (r *Registry) Remove(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	return e, ok
}

// List returns all entries ordered by title, then id.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len is the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
