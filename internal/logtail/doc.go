// Package logtail holds the text of a task log for display.
//
// # Overview
//
// A Buffer keeps two independent halves of a log:
//
//   - head: text anchored at the start of the log, replaced wholesale after a
//     "jump to head" fetch
//   - tail: text anchored at the end of the log, grown chunk by chunk while
//     streaming and replaced wholesale after a "jump to tail" fetch
//
// A pointer selects which half is displayed. Switching the pointer never
// touches the text.
//
// # Size Cap
//
// Both halves are capped at MaxLength characters (Unicode code points,
// DefaultMaxLength = 50000):
//
//	Append:  tail = last MaxLength chars of (tail + chunk)
//	SetTail: tail = last MaxLength chars of text
//	SetHead: head = first MaxLength chars of text + TruncationNotice
//
// Truncating the tail is silent because the viewer is always positioned at the
// newest output. Truncating the head appends TruncationNotice so the reader
// knows the rest of the log is only reachable from the tail.
//
// # Rendering
//
// Output returns HTML for the web view. The displayed half is escaped and ANSI
// SGR colour sequences are converted to spans using terminal-to-html, so a log
// line can never inject markup. Text returns the raw half for the terminal
// renderer, which applies its own sanitizer.
//
// # Concurrency
//
// Readers may call Text, Output, Head, Tail and Pointer from any goroutine.
// Writes are expected to come from a single owner (the tasklog controller);
// the mutex only makes the reads safe.
package logtail
