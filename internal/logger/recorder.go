package logger

import (
	"encoding/json"
	"sync"
)

// Entry is a parsed log line kept for the API.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Recorder is an io.Writer that keeps the last N zerolog JSON entries in a
// circular buffer.
type Recorder struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int
}

// NewRecorder creates a recorder holding up to capacity entries.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Recorder{entries: make([]Entry, capacity)}
}

// Write implements io.Writer. Lines that are not JSON are dropped.
func (r *Recorder) Write(p []byte) (int, error) {
	entry, ok := parseEntry(p)
	if !ok {
		return len(p), nil
	}

	r.mu.Lock()
	tail := (r.head + r.count) % len(r.entries)
	r.entries[tail] = entry
	if r.count < len(r.entries) {
		r.count++
	} else {
		r.head = (r.head + 1) % len(r.entries)
	}
	r.mu.Unlock()

	return len(p), nil
}

// Recent returns buffered entries oldest first, optionally restricted to one
// component.
func (r *Recorder) Recent(component string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, r.count)
	for i := 0; i < r.count; i++ {
		e := r.entries[(r.head+i)%len(r.entries)]
		if component != "" && e.Component != component {
			continue
		}
		out = append(out, e)
	}
	return out
}

func parseEntry(data []byte) (Entry, bool) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Entry{}, false
	}

	entry := Entry{}
	take := func(key string) string {
		v, _ := raw[key].(string)
		delete(raw, key)
		return v
	}
	entry.Timestamp = take("time")
	entry.Level = take("level")
	entry.Component = take("component")
	entry.Message = take("message")
	if len(raw) > 0 {
		entry.Fields = raw
	}
	return entry, true
}
