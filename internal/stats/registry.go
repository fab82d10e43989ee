package stats

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/five82/alloclog/internal/nomad"
)

// DefaultRegistrySize bounds how many allocations keep history at once.
const DefaultRegistrySize = 10

// Registry hands out one Tracker per allocation and forgets the least
// recently used ones.
type Registry struct {
	history int
	cache   *lru.Cache[string, *Tracker]
}

// NewRegistry keeps at most size trackers, each holding history samples.
func NewRegistry(size, history int) *Registry {
	if size <= 0 {
		size = DefaultRegistrySize
	}
	cache, err := lru.New[string, *Tracker](size)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &Registry{history: history, cache: cache}
}

// Tracker returns the tracker for alloc, creating it when needed. An existing
// tracker has its reservations refreshed from alloc.
func (r *Registry) Tracker(alloc *nomad.Allocation) *Tracker {
	if alloc == nil {
		return nil
	}
	if t, ok := r.cache.Get(alloc.ID); ok {
		t.SetAllocation(alloc)
		return t
	}
	t := NewTracker(alloc, r.history)
	r.cache.Add(alloc.ID, t)
	return t
}

// Lookup returns an existing tracker without creating one.
func (r *Registry) Lookup(allocID string) (*Tracker, bool) {
	return r.cache.Get(allocID)
}

// Len reports how many trackers are held.
func (r *Registry) Len() int { return r.cache.Len() }
