// Package tasklog controls the log view of one allocation task.
//
// A Controller reads the agent's log endpoint and keeps the result in a
// logtail.Buffer. Three operations change what is shown:
//
//   - StartStreaming follows new output and appends it to the tail
//   - GotoHead replaces the head with the first MaxLength characters
//   - GotoTail replaces the tail with the last MaxLength characters
//
// Each one stops whatever ran before it.
//
// # Transport
//
// Fetches go straight to the node agent (the client URL) when one is known.
// Each attempt gets ClientTimeout to return response headers. If it fails or
// times out, the same operation is retried through the server URL with
// ServerTimeout, and every later fetch uses the server. When the server
// also fails, the controller enters StateNoConnection and stops retrying.
//
// A 404 from either path means log collection is disabled. That is recorded
// as a flag that Stop does not clear. Later operations report
// StateLogsDisabled without touching the network until SetParams or SetURLs
// selects another target.
//
// # Generations
//
// Every stop or mode switch bumps a generation counter. Events and fetch
// results tagged with an older generation are dropped, so a response that
// arrives after Stop never reaches the buffer.
//
// # Observing
//
// Operations do not return errors. Callers read Status, Text or Output, and
// wait on Updates for the next change.
package tasklog
