package logtail

import (
	"sync"
	"unicode/utf8"

	terminal "github.com/buildkite/terminal-to-html/v3"
)

// DefaultMaxLength is the default cap, in characters, for each half of a Buffer.
const DefaultMaxLength = 50000

// TruncationNotice is appended to the head when the fetched text exceeded the cap.
const TruncationNotice = "\n\n---------- TRUNCATED: jump to the tail to view the bottom of the log ----------"

// Pointer selects which half of the log is displayed.
type Pointer int

const (
	PointerTail Pointer = iota
	PointerHead
)

func (p Pointer) String() string {
	if p == PointerHead {
		return "head"
	}
	return "tail"
}

// Buffer holds the top and bottom of a log with a hard size cap.
type Buffer struct {
	mu        sync.RWMutex
	head      string
	tail      string
	pointer   Pointer
	maxLength int
}

// NewBuffer returns a Buffer capped at maxLength characters per half.
// A non-positive maxLength uses DefaultMaxLength.
func NewBuffer(maxLength int) *Buffer {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Buffer{maxLength: maxLength}
}

// MaxLength reports the per-half character cap.
func (b *Buffer) MaxLength() int {
	return b.maxLength
}

// Append adds chunk to the tail, keeping only the most recent MaxLength characters.
func (b *Buffer) Append(chunk string) {
	if chunk == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tail = lastRunes(b.tail+chunk, b.maxLength)
}

// SetHead replaces the head. Text longer than the cap is cut to its first
// MaxLength characters followed by TruncationNotice; the return value reports
// whether that happened.
func (b *Buffer) SetHead(text string) bool {
	cut, truncated := firstRunes(text, b.maxLength)
	if truncated {
		cut += TruncationNotice
	}
	b.mu.Lock()
	b.head = cut
	b.mu.Unlock()
	return truncated
}

// SetTail replaces the tail, silently keeping the last MaxLength characters.
func (b *Buffer) SetTail(text string) {
	b.mu.Lock()
	b.tail = lastRunes(text, b.maxLength)
	b.mu.Unlock()
}

// SwitchTo changes the displayed half.
func (b *Buffer) SwitchTo(p Pointer) {
	b.mu.Lock()
	b.pointer = p
	b.mu.Unlock()
}

// Pointer returns the displayed half.
func (b *Buffer) Pointer() Pointer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pointer
}

// Text returns the raw text of the displayed half.
func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.pointer == PointerHead {
		return b.head
	}
	return b.tail
}

// Output renders the displayed half as HTML: markup in the log is escaped and
// ANSI colour sequences become styled spans.
func (b *Buffer) Output() string {
	text := b.Text()
	if text == "" {
		return ""
	}
	return string(terminal.Render([]byte(text)))
}

// Reset clears both halves and points back at the tail.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.head = ""
	b.tail = ""
	b.pointer = PointerTail
	b.mu.Unlock()
}

// lastRunes returns the suffix of s holding at most n runes.
func lastRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	skip := utf8.RuneCountInString(s) - n
	if skip <= 0 {
		return s
	}
	for i := range s {
		if skip == 0 {
			return s[i:]
		}
		skip--
	}
	return ""
}

// firstRunes returns the prefix of s holding at most n runes and whether
// anything was cut.
func firstRunes(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
