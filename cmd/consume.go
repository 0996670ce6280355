package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	consumerConfig "github.com/pace-noge/defense-probe/internal/consumer/config"
	consumerUsecase "github.com/pace-noge/defense-probe/internal/consumer/usecase"
	"github.com/pace-noge/defense-probe/internal/infrastructure/database"
	"github.com/pace-noge/defense-probe/internal/infrastructure/kafka"
)

// NewConsumeCommand creates the consume command
func NewConsumeCommand() *cli.Command {
	return &cli.Command{
		Name:   "consume",
		Usage:  "Consumes published results from Kafka and stores them in the result database",
		Action: runConsume,
	}
}

func runConsume(c *cli.Context) error {
	cfg, err := consumerConfig.LoadConsumerConfig()
	if err != nil {
		return fmt.Errorf("failed to load consumer config: %w", err)
	}

	store, err := database.NewSQLStore(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.InitSchema(initCtx); err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	consumer, err := kafka.NewKafkaConsumer(cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaGroup)
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	defer consumer.Close()

	uc := consumerUsecase.NewConsumerUsecase(store, consumer)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	errCh := make(chan error, 1)
	go func() {
		errCh <- uc.StartConsuming(ctx, cfg.KafkaTopic)
	}()
	log.Printf("Consumer started on %s (topic %s, group %s)", cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaGroup)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Println("Shutting down consumer...")
		stop()
		<-errCh
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("consumer stopped: %w", err)
		}
	}
	log.Println("Consumer gracefully stopped.")
	return nil
}
