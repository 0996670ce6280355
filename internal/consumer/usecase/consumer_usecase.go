package usecase

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/export"
)

// ConsumerUsecase persists results streamed over Kafka.
type ConsumerUsecase struct {
	testResultRepo domain.TestResultRepository
	kafkaConsumer  domain.KafkaConsumer
}

// NewConsumerUsecase creates a new ConsumerUsecase instance.
func NewConsumerUsecase(trr domain.TestResultRepository, kc domain.KafkaConsumer) *ConsumerUsecase {
	return &ConsumerUsecase{
		testResultRepo: trr,
		kafkaConsumer:  kc,
	}
}

// StartConsuming begins consuming messages from the specified Kafka topic.
func (uc *ConsumerUsecase) StartConsuming(ctx context.Context, topic string) error {
	return uc.kafkaConsumer.Consume(ctx, topic, uc.handleKafkaMessage)
}

// handleKafkaMessage stores one result. A returned error keeps the offset uncommitted.
func (uc *ConsumerUsecase) handleKafkaMessage(key, value []byte) error {
	log.Printf("Consumer received message: Key=%s, Value_Length=%d", string(key), len(value))

	result, err := export.UnmarshalResult(value)
	if err != nil {
		log.Printf("Error unmarshalling Kafka message to TestResult: %v", err)
		return err
	}
	if result.TestID == "" {
		return fmt.Errorf("result without test id (key %s)", string(key))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := uc.testResultRepo.Save(ctx, result); err != nil {
		log.Printf("Error saving result for test %s, domain %s: %v", result.TestID, result.Domain, err)
		return fmt.Errorf("failed to save test result: %w", err)
	}

	log.Printf("Saved result for Test ID: %s, Domain: %s, Status: %s", result.TestID, result.Domain, result.Status)
	return nil
}
