// Package app is the composition root of alloclog.
//
// # Overview
//
// Open turns command line options into a Session: it loads the config,
// sets up logging, resolves the allocation by ID prefix, picks the task and
// builds the tasklog.Controller with both log URLs. The three front ends
// share that session:
//
//   - Run: the terminal viewer (package ui)
//   - Logs: plain output to a writer, for pipes and scripts
//   - Serve: the local web view (package web)
//
// # Data Flow
//
//	┌──────────────┐
//	│   Open()     │
//	└──────┬───────┘
//	       │
//	       ├─────> config.Load()              Read config + NOMAD_* env
//	       ├─────> logging.Setup()            Log file + diagnostics ring
//	       ├─────> client.ResolveAllocation() Prefix → allocation
//	       ├─────> client.Node()              Node address for direct reads
//	       └─────> tasklog.New()              Log controller
//
//	Background Poller Loop:
//	┌─────────────────────────────────────────┐
//	│ StartPoller() goroutine                 │
//	│  ├─> Allocation()                       │
//	│  ├─> AllocationStats() (running only)   │
//	│  ├─> Tracker.Append()                   │
//	│  └─> store.Update()                     │
//	└─────────────────────────────────────────┘
//
// # Polling Behavior
//
// The poller refreshes at the stats interval (default 2 seconds). After a
// failure the wait doubles per consecutive failure, capped at 30 seconds,
// and resets on the next success. The store counts failures so the UI can
// show the agent as offline.
//
// # Error Handling
//
// Open fails for a bad config, an unknown or ambiguous allocation, or an
// unknown task. A failed node lookup is not fatal: logs are then read
// through the server only. Logs returns an error when the controller ends in
// the no-connection or logs-disabled state.
package app
