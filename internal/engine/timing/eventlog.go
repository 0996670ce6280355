// Package timing records per-call network phase timestamps and keeps the
// append-only event log every executor writes to.
package timing

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// Event is an immutable timestamped log record.
type Event struct {
	At      int64  `json:"at"` // unix milliseconds
	Message string `json:"message"`
}

// Time returns the event timestamp as UTC time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.At).UTC()
}

// Line renders "[<ISO-8601 UTC>] <message>".
func (e Event) Line() string {
	return fmt.Sprintf("[%s] %s", e.Time().Format("2006-01-02T15:04:05.000Z"), e.Message)
}

// EventLog is safe for concurrent appends from trace callbacks and workers.
// Insertion order is not meaningful; readers get events sorted by timestamp.
type EventLog struct {
	mu     sync.Mutex
	events []Event
	notify func(Event)
}

// NewEventLog creates an empty log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// OnAppend installs a callback invoked after every append. The callback runs
// outside the lock and a panic inside it is contained.
func (l *EventLog) OnAppend(fn func(Event)) {
	l.mu.Lock()
	l.notify = fn
	l.mu.Unlock()
}

// Add appends a message stamped with at. It never panics.
func (l *EventLog) Add(at time.Time, message string) {
	if l == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("EventLog dropped entry: %v", r)
		}
	}()
	ev := Event{At: at.UnixMilli(), Message: message}
	l.mu.Lock()
	l.events = append(l.events, ev)
	notify := l.notify
	l.mu.Unlock()
	if notify != nil {
		Safe(nil, "event callback", func() { notify(ev) })
	}
}

// Addf formats and appends. A formatting panic degrades to a fallback entry.
func (l *EventLog) Addf(at time.Time, format string, args ...interface{}) {
	if l == nil {
		return
	}
	var msg string
	ok := Safe(l, "format "+format, func() { msg = fmt.Sprintf(format, args...) })
	if ok {
		l.Add(at, msg)
	}
}

// Now appends a message stamped with the current time.
func (l *EventLog) Now(format string, args ...interface{}) {
	l.Addf(time.Now(), format, args...)
}

// Len returns the number of recorded events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Events returns a copy sorted by timestamp; equal timestamps keep insertion order.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	l.mu.Unlock()
	return SortEvents(out)
}

// SortEvents orders events by timestamp in place; equal timestamps keep
// insertion order.
func SortEvents(events []Event) []Event {
	sort.SliceStable(events, func(i, j int) bool { return events[i].At < events[j].At })
	return events
}

// Lines returns the sorted events rendered as timeline lines.
func (l *EventLog) Lines() []string {
	events := l.Events()
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, ev.Line())
	}
	return lines
}

// Timeline returns the plain-text timeline export.
func (l *EventLog) Timeline() string {
	lines := l.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Safe runs fn and converts a panic into a fallback log entry. It reports
// whether fn completed normally. Observation code is wrapped in Safe so it
// can never change a test's outcome.
func Safe(l *EventLog, label string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			msg := fmt.Sprintf("instrumentation error in %s: %v", label, r)
			if l != nil {
				l.Add(time.Now(), msg)
			} else {
				log.Print(msg)
			}
		}
	}()
	fn()
	return true
}
