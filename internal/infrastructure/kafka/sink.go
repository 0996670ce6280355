package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/export"
)

// ResultSink publishes finished results keyed by test id.
type ResultSink struct {
	producer domain.KafkaProducer
}

// NewResultSink wraps a producer bound to the results topic.
func NewResultSink(p domain.KafkaProducer) *ResultSink {
	return &ResultSink{producer: p}
}

// Save implements domain.ResultSink.
func (s *ResultSink) Save(ctx context.Context, r *domain.TestResult) error {
	data, err := export.MarshalResult(r)
	if err != nil {
		return err
	}
	return s.producer.Produce(ctx, r.TestID, data)
}

// EventSink publishes lifecycle events keyed by run id.
type EventSink struct {
	producer domain.KafkaProducer
}

// NewEventSink wraps a producer bound to the events topic.
func NewEventSink(p domain.KafkaProducer) *EventSink {
	return &EventSink{producer: p}
}

// Publish implements domain.EventSink.
func (s *EventSink) Publish(ctx context.Context, ev domain.LogEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Kind, err)
	}
	key := ev.RunID
	if key == "" {
		key = ev.TestID
	}
	return s.producer.Produce(ctx, key, data)
}
