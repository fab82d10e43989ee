package state

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/five82/alloclog/internal/nomad"
)

// Snapshot represents the latest data available to the UI.
type Snapshot struct {
	Allocation          nomad.Allocation
	HasAllocation       bool
	Usage               nomad.AllocResourceUsage
	HasUsage            bool
	LastUpdated         time.Time
	LastError           error
	ConsecutiveFailures int // Number of consecutive poll failures
}

// IsOffline returns true when the API has been unreachable for multiple polls.
func (s Snapshot) IsOffline() bool {
	return s.ConsecutiveFailures >= 2
}

// Store coordinates concurrent updates to the snapshot.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// Update records the result of one poll. When err is non-nil the error is
// recorded for visibility and the previous data is kept, except for an
// allocation fetched before the failure. A nil usage keeps the last stats so a
// stopped allocation still shows its final numbers.
func (s *Store) Update(alloc *nomad.Allocation, usage *nomad.AllocResourceUsage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alloc != nil {
		s.snapshot.Allocation = cloneAllocation(*alloc)
		s.snapshot.HasAllocation = true
	}
	if err != nil {
		s.snapshot.LastError = err
		s.snapshot.LastUpdated = time.Now()
		s.snapshot.ConsecutiveFailures++
		return
	}

	if usage != nil {
		s.snapshot.Usage = cloneUsage(*usage)
		s.snapshot.HasUsage = true
	}
	s.snapshot.LastError = nil
	s.snapshot.LastUpdated = time.Now()
	s.snapshot.ConsecutiveFailures = 0
}

// Snapshot returns a copy of the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot
	snap.Allocation = cloneAllocation(s.snapshot.Allocation)
	snap.Usage = cloneUsage(s.snapshot.Usage)
	if s.snapshot.LastError != nil {
		snap.LastError = fmt.Errorf("%w", s.snapshot.LastError)
	}
	return snap
}

func cloneAllocation(a nomad.Allocation) nomad.Allocation {
	a.TaskStates = maps.Clone(a.TaskStates)
	if a.AllocatedResources != nil {
		res := *a.AllocatedResources
		res.Tasks = maps.Clone(res.Tasks)
		a.AllocatedResources = &res
	}
	return a
}

func cloneUsage(u nomad.AllocResourceUsage) nomad.AllocResourceUsage {
	u.Tasks = maps.Clone(u.Tasks)
	return u
}
