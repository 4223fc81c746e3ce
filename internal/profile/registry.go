package profile

import (
	"sort"
	"sync"

	"github.com/kstaniek/go-cansim/internal/logging"
	"github.com/kstaniek/go-cansim/internal/vehicle"
)

// Registry resolves vehicle identifiers to cached profile instances.
// Construction is lazy and idempotent: the first lookup for an
// identifier builds the variant, later lookups return the same pointer.
// Profiles are immutable after insertion, so the lock only covers the
// map itself.
type Registry struct {
	mu    sync.Mutex
	cache map[vehicle.ID]*Profile
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{cache: make(map[vehicle.ID]*Profile)}
}

// Lookup returns the profile for id, building and caching it on first
// use. The second return is false for identifiers without a registered
// variant.
func (r *Registry) Lookup(id vehicle.ID) (*Profile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[id]; ok {
		return p, true
	}
	build, ok := builders[id]
	if !ok {
		return nil, false
	}
	p := build()
	r.cache[id] = p
	logging.L().Debug("profile_created", "vehicle", id.String(), "name", p.Name(), "baud", p.Baud())
	return p, true
}

// Supported reports whether id has a registered encoding variant.
func (r *Registry) Supported(id vehicle.ID) bool {
	_, ok := builders[id]
	return ok
}

// SupportedVehicles lists every identifier with a registered variant,
// in stable order.
func (r *Registry) SupportedVehicles() []vehicle.ID {
	ids := make([]vehicle.ID, 0, len(builders))
	for id := range builders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Default is the process-wide registry.
var Default = NewRegistry()
