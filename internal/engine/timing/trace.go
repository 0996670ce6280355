package timing

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/engine/classify"
)

// Phase is one instrumented point of a network call.
type Phase int

const (
	DNSStart Phase = iota
	DNSEnd
	ConnectStart
	ConnectEnd
	TLSStart
	TLSEnd
	RequestHeadersStart
	RequestHeadersEnd
	RequestBodyStart
	RequestBodyEnd
	ResponseHeadersStart
	ResponseHeadersEnd
	ResponseBodyStart
	ResponseBodyEnd
	CallEnd
	CallFailed
	phaseCount
)

var phaseNames = [phaseCount]string{
	"dns start", "dns end", "connect start", "connect end", "tls start", "tls end",
	"request headers start", "request headers end", "request body start", "request body end",
	"response headers start", "response headers end", "response body start", "response body end",
	"call end", "call failed",
}

func (p Phase) String() string {
	if p < 0 || p >= phaseCount {
		return "unknown"
	}
	return phaseNames[p]
}

// CallTrace is attached to exactly one network call.
type CallTrace struct {
	label string
	log   *EventLog

	mu            sync.Mutex
	stamps        [phaseCount]int64 // unix nanoseconds, 0 = not observed
	headerSignals []classify.Signal
}

// NewCallTrace creates a trace that writes phase events to l.
func NewCallTrace(l *EventLog, label string) *CallTrace {
	return &CallTrace{label: label, log: l}
}

// Mark records the phase at the current instant and returns that instant.
func (c *CallTrace) Mark(p Phase) time.Time {
	now := time.Now()
	c.MarkAt(p, now)
	return now
}

// MarkAt records the phase with an explicit timestamp. The first start of a
// phase wins; end phases keep the latest value.
func (c *CallTrace) MarkAt(p Phase, at time.Time) {
	if p < 0 || p >= phaseCount {
		return
	}
	Safe(c.log, "mark "+p.String(), func() {
		c.mu.Lock()
		if c.stamps[p] == 0 || !isStart(p) {
			c.stamps[p] = at.UnixNano()
		}
		c.mu.Unlock()
		c.log.Addf(at, "%s %s", c.label, p)
	})
}

func isStart(p Phase) bool {
	switch p {
	case DNSStart, ConnectStart, TLSStart, RequestHeadersStart, RequestBodyStart, ResponseHeadersStart, ResponseBodyStart:
		return true
	}
	return false
}

// Stamp returns the recorded unix-nanosecond timestamp of a phase, 0 if absent.
func (c *CallTrace) Stamp(p Phase) int64 {
	if p < 0 || p >= phaseCount {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stamps[p]
}

// ScanHeaders classifies response headers synchronously and logs every signal
// with the header-arrival timestamp at.
func (c *CallTrace) ScanHeaders(at time.Time, h http.Header) []classify.Signal {
	var signals []classify.Signal
	Safe(c.log, "header scan", func() {
		signals = classify.Headers(h)
		for _, s := range signals {
			c.log.Addf(at, "%s signal %s", c.label, s)
		}
	})
	c.mu.Lock()
	c.headerSignals = append(c.headerSignals, signals...)
	c.mu.Unlock()
	return signals
}

// HeaderSignals returns the signals found when headers arrived.
func (c *CallTrace) HeaderSignals() []classify.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]classify.Signal, len(c.headerSignals))
	copy(out, c.headerSignals)
	return out
}

// Metrics derives per-phase durations. A phase is reported only when both
// stamps are present and end >= start.
func (c *CallTrace) Metrics() domain.TimingMetrics {
	c.mu.Lock()
	s := c.stamps
	c.mu.Unlock()
	return domain.TimingMetrics{
		DNSMs:  PhaseMillis(s[DNSStart], s[DNSEnd]),
		TCPMs:  PhaseMillis(s[ConnectStart], s[ConnectEnd]),
		SSLMs:  PhaseMillis(s[TLSStart], s[TLSEnd]),
		TTFBMs: PhaseMillis(s[RequestHeadersEnd], s[ResponseHeadersStart]),
	}
}

// PhaseMillis converts a valid nanosecond pair into milliseconds, nil otherwise.
func PhaseMillis(start, end int64) *int64 {
	if start <= 0 || end <= 0 || end < start {
		return nil
	}
	ms := (end - start) / int64(time.Millisecond)
	return &ms
}

// ClientTrace maps httptrace callbacks onto phases at the instant they fire.
func (c *CallTrace) ClientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { c.Mark(DNSStart) },
		DNSDone: func(info httptrace.DNSDoneInfo) {
			at := c.Mark(DNSEnd)
			if info.Err != nil {
				c.log.Addf(at, "%s dns error: %v", c.label, info.Err)
			}
		},
		ConnectStart: func(network, addr string) { c.Mark(ConnectStart) },
		ConnectDone: func(network, addr string, err error) {
			at := c.Mark(ConnectEnd)
			if err != nil {
				c.log.Addf(at, "%s connect %s error: %v", c.label, addr, err)
			}
		},
		TLSHandshakeStart: func() { c.Mark(TLSStart) },
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			at := c.Mark(TLSEnd)
			if err != nil {
				c.log.Addf(at, "%s tls error: %v", c.label, err)
			}
		},
		GotConn: func(info httptrace.GotConnInfo) {
			at := c.Mark(RequestHeadersStart)
			if info.Reused {
				c.log.Addf(at, "%s reused connection", c.label)
			}
		},
		WroteHeaders: func() {
			at := c.Mark(RequestHeadersEnd)
			c.MarkAt(RequestBodyStart, at)
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			at := c.Mark(RequestBodyEnd)
			if info.Err != nil {
				c.log.Addf(at, "%s write error: %v", c.label, info.Err)
			}
		},
		GotFirstResponseByte: func() { c.Mark(ResponseHeadersStart) },
	}
}

type callKey struct{}

// WithCall attaches a trace to ctx so the instrumented transport records into it.
func WithCall(ctx context.Context, c *CallTrace) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

// CallFrom returns the trace attached to ctx, if any.
func CallFrom(ctx context.Context) *CallTrace {
	c, _ := ctx.Value(callKey{}).(*CallTrace)
	return c
}
