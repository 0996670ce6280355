package kafka

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConsumer implements the domain.KafkaConsumer interface.
type KafkaConsumer struct {
	reader *kafka.Reader
}

// NewKafkaConsumer creates a consumer in groupID reading topic.
func NewKafkaConsumer(brokerAddress, topic, groupID string) (*KafkaConsumer, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{brokerAddress},
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // results carry raw logs
		MaxWait:        time.Second,
		CommitInterval: 0, // commit synchronously after each handled message
		MaxAttempts:    3,
		Dialer:         &kafka.Dialer{Timeout: 10 * time.Second},
	})
	log.Printf("Kafka consumer initialized for topic %s, group %s at %s", topic, groupID, brokerAddress)
	return &KafkaConsumer{reader: reader}, nil
}

// Consume calls handler for every message until ctx is done. Offsets are
// committed only for messages the handler accepted.
func (kc *KafkaConsumer) Consume(ctx context.Context, topic string, handler func(key, value []byte) error) error {
	log.Printf("Starting Kafka consumer for topic: %s", topic)
	for {
		m, err := kc.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("Kafka consumer context done. Shutting down.")
				return ctx.Err()
			}
			log.Printf("Error fetching Kafka message: %v", err)
			time.Sleep(time.Second)
			continue
		}

		log.Printf("Received message from partition %d, offset %d, key %s (%d bytes)", m.Partition, m.Offset, string(m.Key), len(m.Value))
		if err := handler(m.Key, m.Value); err != nil {
			log.Printf("Error processing message (key: %s, topic: %s): %v. Not committing offset.", string(m.Key), m.Topic, err)
			continue
		}
		if err := kc.reader.CommitMessages(ctx, m); err != nil {
			log.Printf("Error committing Kafka offset: %v", err)
		}
	}
}

// Close closes the Kafka consumer.
func (kc *KafkaConsumer) Close() error {
	log.Println("Closing Kafka consumer...")
	return kc.reader.Close()
}
