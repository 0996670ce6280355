package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/export"
)

type fakeProducer struct {
	keys   []string
	values [][]byte
	err    error
}

func (p *fakeProducer) Produce(ctx context.Context, key string, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func TestResultSinkProducesExportJSON(t *testing.T) {
	p := &fakeProducer{}
	r := &domain.TestResult{TestID: "t-1", Domain: "a.test", Status: domain.StatusSuccess}
	if err := NewResultSink(p).Save(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if len(p.keys) != 1 || p.keys[0] != "t-1" {
		t.Fatalf("keys = %v", p.keys)
	}
	got, err := export.UnmarshalResult(p.values[0])
	if err != nil {
		t.Fatal(err)
	}
	if got.Domain != "a.test" || got.Status != domain.StatusSuccess {
		t.Errorf("result = %+v", got)
	}
}

func TestEventSinkKeys(t *testing.T) {
	tests := []struct {
		name string
		ev   domain.LogEvent
		want string
	}{
		{"run id", domain.LogEvent{Kind: domain.EventInfo, RunID: "r-1", TestID: "t-1"}, "r-1"},
		{"test id fallback", domain.LogEvent{Kind: domain.EventInfo, TestID: "t-1"}, "t-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProducer{}
			if err := NewEventSink(p).Publish(context.Background(), tt.ev); err != nil {
				t.Fatal(err)
			}
			if p.keys[0] != tt.want {
				t.Errorf("key = %s, want %s", p.keys[0], tt.want)
			}
			var ev domain.LogEvent
			if err := json.Unmarshal(p.values[0], &ev); err != nil || ev.Kind != domain.EventInfo {
				t.Errorf("event = %+v err = %v", ev, err)
			}
		})
	}
}

func TestSinkPropagatesProducerError(t *testing.T) {
	p := &fakeProducer{err: errors.New("broker down")}
	if err := NewResultSink(p).Save(context.Background(), &domain.TestResult{TestID: "t"}); err == nil {
		t.Error("expected producer error")
	}
}
