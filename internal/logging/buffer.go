package logging

import (
	"sync"
	"time"
)

// DefaultBufferSize is the number of recent lines kept for the dashboard.
const DefaultBufferSize = 100

// Line is one captured log entry.
type Line struct {
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
	Time    time.Time              `json:"time"`
}

// Buffer is a fixed-size ring of recent log lines.
type Buffer struct {
	mu    sync.RWMutex
	lines []Line
	next  int
	full  bool
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{lines: make([]Line, size)}
}

func (b *Buffer) Add(line Line) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
}

// Lines returns the buffered lines, oldest first.
func (b *Buffer) Lines() []Line {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full {
		return append([]Line(nil), b.lines[:b.next]...)
	}
	out := make([]Line, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)
	out = append(out, b.lines[:b.next]...)
	return out
}
