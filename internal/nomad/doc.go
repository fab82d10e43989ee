// Package nomad provides an HTTP client for the cluster scheduler's agent API.
//
// # Overview
//
// The client covers the handful of read-only endpoints the log viewer needs:
//
//   - GET /v1/allocation/:id: allocation record (node, task states, reservations)
//   - GET /v1/allocations?prefix=: prefix lookup for short allocation IDs
//   - GET /v1/node/:id: node record, used for the node agent's HTTPAddr
//   - GET /v1/client/allocation/:id/stats: live resource usage
//   - GET /v1/client/fs/logs/:id: framed task logs (via Fetch)
//
// # Request Handling
//
// All requests:
//   - Use context for cancellation
//   - Carry the ACL token in the X-Nomad-Token header when configured
//   - Add region and namespace query parameters when configured
//   - Include User-Agent: alloclog/0.1
//
// JSON calls are bounded by a 5 second timeout applied to their context.
// Fetch has no timeout of its own: log streams stay open until the caller
// cancels, and the tasklog controller races the response headers against its
// own client/server timeouts.
//
// # Log Addresses
//
// Logs can be read from two places:
//
//	ClientLogURL(node.HTTPAddr, id) -> //10.0.0.9:4646/v1/client/fs/logs/<id>
//	ServerLogURL(id)                -> /v1/client/fs/logs/<id>
//
// The client address talks to the node agent directly and is preferred. The
// server address is proxied by the agent at the configured base address and is
// the fallback when the node is unreachable from the operator's machine.
//
// # Error Handling
//
// Responses of 400 and above become *StatusError; errors.Is(err, ErrNotFound)
// matches a 404. Transport and decode failures are wrapped with context.
package nomad
