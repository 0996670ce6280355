package usecase

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/engine/timing"
)

// runState guards a run that domain goroutines update concurrently.
type runState struct {
	mu         sync.Mutex
	run        *domain.Run
	timeline   *timing.EventLog
	unitErrors int
	stored     bool // registered with the run repository
}

func newRunState(run *domain.Run) *runState {
	return &runState{run: run, timeline: timing.NewEventLog()}
}

func (s *runState) id() string {
	return s.run.ID
}

func (s *runState) setStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run.Status = status
	if status == RunCompleted || status == RunFailed {
		now := time.Now()
		s.run.FinishedAt = &now
	}
}

func (s *runState) addResult(r *domain.TestResult) {
	s.mu.Lock()
	s.run.Results = append(s.run.Results, r)
	s.mu.Unlock()
}

func (s *runState) addError(msg string, unit bool) {
	s.mu.Lock()
	s.run.Errors = append(s.run.Errors, msg)
	if unit {
		s.unitErrors++
	}
	s.mu.Unlock()
}

func (s *runState) setDomainLog(d, text string) {
	s.mu.Lock()
	s.run.DomainLogs[d] = text
	s.mu.Unlock()
}

// totals counts config-rejected units and crashed units as failed.
func (s *runState) totals() domain.Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := domain.Totals{Tests: len(s.run.Results) + s.unitErrors, Failed: s.unitErrors}
	for _, r := range s.run.Results {
		switch {
		case r.ResultDetails.Error != "":
			t.Failed++
		case r.Status == domain.StatusSuccess:
			t.Bypassed++
		default:
			t.Blocked++
		}
	}
	return t
}

func (s *runState) snapshot() *domain.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.run
	cp.Domains = append([]string(nil), s.run.Domains...)
	cp.Results = append([]*domain.TestResult(nil), s.run.Results...)
	cp.Errors = append([]string(nil), s.run.Errors...)
	cp.DomainLogs = make(map[string]string, len(s.run.DomainLogs))
	for k, v := range s.run.DomainLogs {
		cp.DomainLogs[k] = v
	}
	return &cp
}

// domainLog accumulates the free-text log of one domain. Workers of the
// domain's tests append to it concurrently.
type domainLog struct {
	mu     sync.Mutex
	domain string
	events []timing.Event
	closed bool
}

func newDomainLog(d string) *domainLog {
	return &domainLog{domain: d}
}

func (l *domainLog) addEvent(ev timing.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.events = append(l.events, ev)
}

// close freezes the log and renders it between the start and end markers.
func (l *domainLog) close() string {
	l.mu.Lock()
	l.closed = true
	events := make([]timing.Event, len(l.events))
	copy(events, l.events)
	l.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "=== Start domain: %s ===\n", l.domain)
	for _, ev := range timing.SortEvents(events) {
		b.WriteString(ev.Line())
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "=== End domain: %s ===\n", l.domain)
	return b.String()
}

// eventBus decouples executors from slow event sinks. Events are dropped,
// with a log line, when the buffer is full.
type eventBus struct {
	mu     sync.RWMutex
	ch     chan domain.LogEvent
	sinks  []domain.EventSink
	closed bool
	done   chan struct{}
}

func newEventBus(sinks []domain.EventSink, size int) *eventBus {
	b := &eventBus{ch: make(chan domain.LogEvent, size), sinks: sinks, done: make(chan struct{})}
	go b.loop()
	return b
}

func (b *eventBus) loop() {
	defer close(b.done)
	for ev := range b.ch {
		for _, sink := range b.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			if err := sink.Publish(ctx, ev); err != nil {
				log.Printf("Runner failed to publish event to %T: %v", sink, err)
			}
			cancel()
		}
	}
}

func (b *eventBus) publish(ev domain.LogEvent) {
	if len(b.sinks) == 0 {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.ch <- ev:
	default:
		log.Printf("Runner event bus full, dropping %s event for test %s", ev.Kind, ev.TestID)
	}
}

func (b *eventBus) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.ch)
	b.mu.Unlock()
	<-b.done
}
