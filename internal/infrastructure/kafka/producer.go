package kafka

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer implements the domain.KafkaProducer interface.
type KafkaProducer struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaProducer creates a producer bound to one topic.
func NewKafkaProducer(brokerAddress, topic string) (*KafkaProducer, error) {
	if brokerAddress == "" || topic == "" {
		return nil, fmt.Errorf("kafka broker and topic are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerAddress),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // keep one run's events on one partition
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	log.Printf("Kafka producer initialized for topic %s at %s", topic, brokerAddress)
	return &KafkaProducer{writer: writer, topic: topic}, nil
}

// Produce sends a message to the producer's topic.
func (kp *KafkaProducer) Produce(ctx context.Context, key string, value []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
	}
	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message to %s: %w", kp.topic, err)
	}
	return nil
}

// Close flushes pending writes and closes the producer.
func (kp *KafkaProducer) Close() error {
	log.Printf("Closing Kafka producer for topic %s...", kp.topic)
	return kp.writer.Close()
}
