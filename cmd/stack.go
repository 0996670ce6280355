package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/engine/dispatch"
	"github.com/pace-noge/defense-probe/internal/engine/probe"
	"github.com/pace-noge/defense-probe/internal/infrastructure/database"
	"github.com/pace-noge/defense-probe/internal/infrastructure/kafka"
	"github.com/pace-noge/defense-probe/internal/infrastructure/metrics"
	"github.com/pace-noge/defense-probe/internal/infrastructure/redisbus"
	"github.com/pace-noge/defense-probe/internal/infrastructure/storage"
	"github.com/pace-noge/defense-probe/internal/infrastructure/vegeta"
	runnerConfig "github.com/pace-noge/defense-probe/internal/runner/config"
	runnerUsecase "github.com/pace-noge/defense-probe/internal/runner/usecase"
)

// engineStack is the dispatcher plus every sink enabled by configuration.
type engineStack struct {
	dispatcher *dispatch.Dispatcher
	options    runnerUsecase.Options
	store      *database.SQLStore // nil without a database
	results    domain.TestResultRepository
	metrics    *metrics.Prometheus
	closers    []func() error
}

// buildEngineStack connects the configured sinks. A sink whose address is
// set but unreachable is an error.
func buildEngineStack(ctx context.Context, cfg *runnerConfig.EngineConfig) (*engineStack, error) {
	s := &engineStack{metrics: metrics.NewPrometheus("defense_probe")}

	env := probe.NewEnv(cfg.Settings())
	env.Metrics = s.metrics
	env.Attacker = vegeta.NewVegetaAdapter()
	s.dispatcher = dispatch.NewDispatcher(env, cfg.StrictDispatch)
	s.options = runnerUsecase.Options{
		Metrics:     s.metrics,
		TestTimeout: cfg.TestTimeout(),
	}

	if cfg.DatabaseURL != "" {
		store, err := database.NewSQLStore(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = store.InitSchema(initCtx)
		cancel()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize database schema: %w", err)
		}
		s.store = store
		s.results = store
		s.options.ResultSinks = append(s.options.ResultSinks, store)
		log.Printf("Result store enabled (%s)", cfg.DatabaseDriver)
	}

	if cfg.KafkaBroker != "" {
		results, err := kafka.NewKafkaProducer(cfg.KafkaBroker, cfg.KafkaResultsTopic)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create Kafka results producer: %w", err)
		}
		s.closers = append(s.closers, results.Close)
		events, err := kafka.NewKafkaProducer(cfg.KafkaBroker, cfg.KafkaEventsTopic)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create Kafka events producer: %w", err)
		}
		s.closers = append(s.closers, events.Close)
		s.options.ResultSinks = append(s.options.ResultSinks, kafka.NewResultSink(results))
		s.options.EventSinks = append(s.options.EventSinks, kafka.NewEventSink(events))
		log.Printf("Kafka sinks enabled (%s: %s, %s)", cfg.KafkaBroker, cfg.KafkaResultsTopic, cfg.KafkaEventsTopic)
	}

	if cfg.RedisAddr != "" {
		pub, err := redisbus.NewPublisher(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		s.closers = append(s.closers, pub.Close)
		s.options.ResultSinks = append(s.options.ResultSinks, pub)
		s.options.EventSinks = append(s.options.EventSinks, pub)
		log.Printf("Redis sinks enabled (%s, channel %s)", cfg.RedisAddr, cfg.RedisChannel)
	}

	if cfg.MinioEndpoint != "" {
		store, err := storage.New(ctx, cfg.MinioEndpoint, cfg.MinioBucket, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
		}
		s.options.ResultSinks = append(s.options.ResultSinks, storage.NewExporter(store))
		log.Printf("Artifact export enabled (%s/%s)", cfg.MinioEndpoint, cfg.MinioBucket)
	}

	return s, nil
}

// Close releases sink connections in reverse order.
func (s *engineStack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Printf("Error closing sink: %v", err)
		}
	}
	s.closers = nil
}
