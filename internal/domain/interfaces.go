package domain

import (
	"context"
	"time"
)

// ResultSink receives every finished TestResult. Implementations must be safe
// for concurrent use; a sink error is logged by the caller and never fails a test.
type ResultSink interface {
	Save(ctx context.Context, result *TestResult) error
}

// EventSink receives streamed lifecycle events.
type EventSink interface {
	Publish(ctx context.Context, event LogEvent) error
}

// TestResultRepository defines operations for storing and retrieving test results.
type TestResultRepository interface {
	ResultSink
	GetResultByTestID(ctx context.Context, testID string) (*TestResult, error)
	GetResultsByDomain(ctx context.Context, domain string, limit int) ([]*TestResult, error)
	DeleteResultsByDomain(ctx context.Context, domain string) error
}

// RunRepository tracks plan executions submitted through the API.
type RunRepository interface {
	SaveRun(ctx context.Context, run *Run) error
	UpdateRunStatus(ctx context.Context, runID, status string) error
	AppendResult(ctx context.Context, runID string, result *TestResult) error
	SetDomainLog(ctx context.Context, runID, domain, log string) error
	AppendError(ctx context.Context, runID, message string) error
	GetRunByID(ctx context.Context, runID string) (*Run, error)
	GetAllRuns(ctx context.Context) ([]*Run, error)
}

// ArtifactStore uploads exported artifacts and returns their URL.
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// MetricsReporter records engine activity.
type MetricsReporter interface {
	ObserveRequest(kind TestKind, blocked bool, failed bool, latency time.Duration)
	ObserveResult(result *TestResult, kind TestKind)
}

// KafkaProducer defines operations for producing messages to Kafka.
type KafkaProducer interface {
	Produce(ctx context.Context, key string, value []byte) error
	Close() error
}

// KafkaConsumer defines operations for consuming messages from Kafka.
type KafkaConsumer interface {
	Consume(ctx context.Context, topic string, handler func(key, value []byte) error) error
	Close() error
}
