package logging

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultRingSize is how many entries the diagnostics ring keeps.
const DefaultRingSize = 500

// Entry is one captured log line.
type Entry struct {
	Time    time.Time
	Level   string
	Message string
	Fields  map[string]string
}

// Ring is a fixed-size buffer of the most recent entries.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int
}

// NewRing creates a ring holding size entries.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{entries: make([]Entry, size)}
}

// Add stores e, overwriting the oldest entry when full.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.head] = e
	r.head = (r.head + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

// Last returns up to n entries, oldest first.
func (r *Ring) Last(n int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	size := len(r.entries)
	out := make([]Entry, n)
	start := (r.head - n + size) % size
	for i := 0; i < n; i++ {
		out[i] = r.entries[(start+i)%size]
	}
	return out
}

// All returns every held entry, oldest first.
func (r *Ring) All() []Entry {
	return r.Last(r.Len())
}

// Len returns the number of held entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Clear drops all entries.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.count = 0
}

// Hook is a logrus hook that copies entries into a Ring.
type Hook struct {
	ring   *Ring
	levels []log.Level
}

// NewHook creates a hook for the given levels, all levels when nil.
func NewHook(ring *Ring, levels []log.Level) *Hook {
	if levels == nil {
		levels = log.AllLevels
	}
	return &Hook{ring: ring, levels: levels}
}

// Levels returns the log levels this hook handles
func (h *Hook) Levels() []log.Level {
	return h.levels
}

// Fire is called when a log entry is made
func (h *Hook) Fire(entry *log.Entry) error {
	fields := make(map[string]string, len(entry.Data))
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			fields[k] = err.Error()
			continue
		}
		fields[k] = fmt.Sprint(v)
	}
	h.ring.Add(Entry{
		Time:    entry.Time,
		Level:   entry.Level.String(),
		Message: entry.Message,
		Fields:  fields,
	})
	return nil
}
