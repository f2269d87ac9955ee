package entity

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Options are passed to every platform factory.
type Options struct {
	Logger *zap.Logger
	Clock  clock.Clock
	// PendingTimeout gives up on an unconfirmed command after this long.
	// Zero waits indefinitely.
	PendingTimeout time.Duration
}

// Factory creates a platform's entities for one coordinator.
type Factory func(coord Coordinator, opts Options) []Entity

// PlatformInfo describes a registered platform.
type PlatformInfo struct {
	// Platform is the unique identifier for the platform.
	Platform Platform

	// Factory creates the platform's entities.
	Factory Factory

	// Order specifies creation order. Lower values come first. Default 50.
	Order int
}

// Registry holds the platforms entities are built from. Platforms register
// themselves from init().
type Registry struct {
	mu        sync.RWMutex
	platforms map[Platform]PlatformInfo
}

// NewRegistry creates an empty platform registry.
func NewRegistry() *Registry {
	return &Registry{platforms: make(map[Platform]PlatformInfo)}
}

// Register adds a platform. Registering the same platform twice replaces the
// earlier factory.
func (r *Registry) Register(info PlatformInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info.Platform == "" {
		return fmt.Errorf("platform name cannot be empty")
	}
	if info.Factory == nil {
		return fmt.Errorf("platform %s: factory cannot be nil", info.Platform)
	}
	if info.Order == 0 {
		info.Order = 50
	}

	r.platforms[info.Platform] = info
	return nil
}

// List returns all registered platforms sorted by order, then name.
func (r *Registry) List() []PlatformInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]PlatformInfo, 0, len(r.platforms))
	for _, info := range r.platforms {
		result = append(result, info)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Platform < result[j].Platform
	})
	return result
}

// Build instantiates every platform's entities for coord.
func (r *Registry) Build(coord Coordinator, opts Options) *Set {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	var entities []Entity
	for _, info := range r.List() {
		entities = append(entities, info.Factory(coord, opts)...)
	}
	return newSet(coord, entities, opts.Logger)
}

var globalRegistry = NewRegistry()

// register is called from each platform's init().
func register(platform Platform, order int, factory Factory) {
	if err := globalRegistry.Register(PlatformInfo{Platform: platform, Order: order, Factory: factory}); err != nil {
		panic(err)
	}
}

// Platforms lists the built-in platforms.
func Platforms() []PlatformInfo {
	return globalRegistry.List()
}

// Build instantiates every built-in platform for coord.
func Build(coord Coordinator, opts Options) *Set {
	return globalRegistry.Build(coord, opts)
}
