package activity

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultCapacity is the number of entries a Log keeps.
const DefaultCapacity = 100

// Entry is one activity log line.
type Entry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// String formats the entry as "[15:04:05] message" in local time.
func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s", e.Time.Format("15:04:05"), e.Message)
}

// Log is a bounded, most-recent-first activity log.
type Log struct {
	ring  *Ring[Entry]
	clock clock.Clock
}

// NewLog creates a log holding up to capacity entries (DefaultCapacity when
// capacity < 1). A nil clk uses the wall clock.
func NewLog(capacity int, clk clock.Clock) *Log {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Log{
		ring:  NewRing[Entry](capacity),
		clock: clk,
	}
}

// Add appends a message stamped with the current time.
func (l *Log) Add(message string) Entry {
	e := Entry{Time: l.clock.Now(), Message: message}
	l.ring.Push(e)
	return e
}

// Addf appends a formatted message.
func (l *Log) Addf(format string, args ...any) Entry {
	return l.Add(fmt.Sprintf(format, args...))
}

// Entries returns every entry, most recent first.
func (l *Log) Entries() []Entry {
	return l.ring.Newest(0)
}

// Lines returns every entry formatted, most recent first.
func (l *Log) Lines() []string {
	entries := l.Entries()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}

// Len returns the number of entries held.
func (l *Log) Len() int {
	return l.ring.Len()
}

// Reset clears the log.
func (l *Log) Reset() {
	l.ring.Reset()
}
