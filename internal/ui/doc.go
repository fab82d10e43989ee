// Package ui is the terminal viewer for one allocation's task logs.
//
// The Model is a Bubble Tea program. It never fetches anything itself: a
// tasklog controller owns the buffer and the transport, and the Model asks
// it to stream, load the head or tail, or switch task and log type. Those
// calls block until the fetch settles, so they run as commands off the UI
// goroutine. The controller's update channel drives redraws.
//
// # Layout
//
//   - Header: allocation, task and type, controller state badge, transport
//   - Usage row (optional): CPU and memory with sparklines from the stats
//     registry, hidden on narrow terminals
//   - Command bar: the main key bindings
//   - Log box: sanitized output in a viewport, wrapped or truncated
//   - Status bar: controller message, search state, line count
//
// Output is reduced to printable text plus SGR color sequences before it is
// laid out, so task output cannot move the cursor or clear the screen.
//
// # Key Bindings
//
//   - f: Stream from the current offset, or stop streaming
//   - g / G: Load the head / tail of the log
//   - o: Toggle stdout and stderr
//   - t: Next task in the allocation
//   - j/k, ctrl+d/u, pgup/pgdown, home/end: Scroll; scrolling up pauses follow
//   - /, n/N, esc: Search with a case-insensitive regex
//   - w, s, T: Wrap, usage row, theme (saved to preferences)
//   - d: Diagnostics overlay with recent application log entries
//   - ?: Help
//   - q or ctrl+c: Quit
package ui
