// Package state shares the polled allocation record and resource usage
// between the background poller and the viewers.
//
// # Architecture
//
//	Producer (Poller):              Consumer (UI, web):
//	┌──────────────────┐            ┌──────────────────┐
//	│ Allocation()     │            │                  │
//	│ AllocationStats()│            │                  │
//	│      ↓           │            │                  │
//	│ store.Update()   │───────────→│ store.Snapshot() │
//	│      ↓           │  (mutex)   │      ↓           │
//	│  repeat...       │            │  render          │
//	└──────────────────┘            └──────────────────┘
//
// Store is safe to use as a zero value.
//
// # Update Semantics
//
//	// Success: replace what was fetched
//	store.Update(alloc, usage, nil)
//	→ snapshot.Allocation = alloc   (when non-nil)
//	→ snapshot.Usage = usage        (when non-nil)
//	→ snapshot.LastError = nil
//	→ snapshot.ConsecutiveFailures = 0
//
//	// Error: keep old data, record error
//	store.Update(nil, nil, err)
//	→ snapshot.LastError = err
//	→ snapshot.ConsecutiveFailures++
//
// Snapshot.IsOffline reports two or more consecutive failures.
//
// Snapshots are copies. Task state and usage maps are cloned so a reader
// can never observe a later poll mutating what it rendered.
package state
