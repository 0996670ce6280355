package domain

import "time"

// LogEventKind enumerates the lifecycle events streamed to callers.
type LogEventKind string

const (
	EventInfo    LogEventKind = "info"
	EventError   LogEventKind = "error"
	EventRequest LogEventKind = "request"
	EventSummary LogEventKind = "summary"
)

// RequestLog describes one issued request.
type RequestLog struct {
	Method     string `json:"method"`
	URL        string `json:"url"`
	Status     int    `json:"status"`
	DurationMs int64  `json:"durationMs"`
	Blocked    bool   `json:"blocked"`
	Error      string `json:"error,omitempty"`
}

// Totals summarises a finished run.
type Totals struct {
	Tests    int `json:"tests"`
	Blocked  int `json:"blocked"`
	Bypassed int `json:"bypassed"`
	Failed   int `json:"failed"` // units that could not produce a result
}

// LogEvent is one streamed lifecycle event.
type LogEvent struct {
	Kind    LogEventKind `json:"kind"`
	RunID   string       `json:"runId,omitempty"`
	Domain  string       `json:"domain,omitempty"`
	TestID  string       `json:"testId,omitempty"`
	At      time.Time    `json:"at"`
	Message string       `json:"message"`
	Request *RequestLog  `json:"request,omitempty"`
	Totals  *Totals      `json:"totals,omitempty"`
}

// Info builds an informational event.
func Info(message string) LogEvent {
	return LogEvent{Kind: EventInfo, At: time.Now(), Message: message}
}

// Error builds an error event.
func Error(message string) LogEvent {
	return LogEvent{Kind: EventError, At: time.Now(), Message: message}
}

// Request builds a request event; the message is the formatted log line.
func Request(line RequestLog) LogEvent {
	return LogEvent{Kind: EventRequest, At: time.Now(), Message: line.String(), Request: &line}
}

// Summary builds a summary event.
func Summary(message string, totals Totals) LogEvent {
	return LogEvent{Kind: EventSummary, At: time.Now(), Message: message, Totals: &totals}
}
