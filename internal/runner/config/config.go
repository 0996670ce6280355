package config

import (
	"log"
	"time"

	"github.com/spf13/viper"

	"github.com/pace-noge/defense-probe/internal/engine/probe"
)

// EngineConfig holds configuration for the execution engine and its sinks.
type EngineConfig struct {
	MaxConcurrency     int  `mapstructure:"MAX_CONCURRENCY"`
	MinIntervalMs      int  `mapstructure:"MIN_INTERVAL_MS"`
	ConnectTimeoutMs   int  `mapstructure:"CONNECT_TIMEOUT_MS"`
	ReadTimeoutMs      int  `mapstructure:"READ_TIMEOUT_MS"`
	TestTimeoutSeconds int  `mapstructure:"TEST_TIMEOUT_SECONDS"`
	PayloadDelayMs     int  `mapstructure:"PAYLOAD_DELAY_MS"`
	IterationDelayMs   int  `mapstructure:"ITERATION_DELAY_MS"`
	BodyCaptureBytes   int  `mapstructure:"BODY_CAPTURE_BYTES"`
	MaxCrawlFetches    int  `mapstructure:"MAX_CRAWL_FETCHES"`
	InsecureTLS        bool `mapstructure:"INSECURE_TLS"`
	HTTP2              bool `mapstructure:"HTTP2"`
	StrictDispatch     bool `mapstructure:"STRICT_DISPATCH"`

	GRPCPort          int    `mapstructure:"GRPC_PORT"`
	HTTPPort          int    `mapstructure:"HTTP_PORT"`
	KafkaBroker       string `mapstructure:"KAFKA_BROKER"`
	KafkaResultsTopic string `mapstructure:"KAFKA_RESULTS_TOPIC"`
	KafkaEventsTopic  string `mapstructure:"KAFKA_EVENTS_TOPIC"`
	DatabaseDriver    string `mapstructure:"DATABASE_DRIVER"` // postgres, mysql or sqlite3
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	RedisAddr         string `mapstructure:"REDIS_ADDR"`
	RedisChannel      string `mapstructure:"REDIS_CHANNEL"`
	MinioEndpoint     string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey    string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey    string `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket       string `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL       bool   `mapstructure:"MINIO_USE_SSL"`
	JWTSecretKey      string `mapstructure:"JWT_SECRET_KEY"`
}

// Default returns the built-in configuration.
func Default() *EngineConfig {
	return &EngineConfig{
		MaxConcurrency:     50,
		MinIntervalMs:      10,
		ConnectTimeoutMs:   5000,
		ReadTimeoutMs:      10000,
		TestTimeoutSeconds: 300,
		PayloadDelayMs:     100,
		IterationDelayMs:   250,
		BodyCaptureBytes:   50 * 1024,
		MaxCrawlFetches:    20,
		HTTP2:              true,
		GRPCPort:           50051,
		HTTPPort:           8080,
		KafkaResultsTopic:  "probe_results",
		KafkaEventsTopic:   "probe_events",
		DatabaseDriver:     "postgres",
		RedisChannel:       "probe_events",
		MinioBucket:        "probe-artifacts",
		JWTSecretKey:       "your-very-secret-key-that-should-be-in-env",
	}
}

// LoadEngineConfig loads engine configuration from environment variables or config file.
// Sinks stay disabled unless their address is configured.
func LoadEngineConfig() (*EngineConfig, error) {
	viper.SetConfigFile(".env") // Look for .env file
	viper.AddConfigPath(".")
	viper.AutomaticEnv() // Read from environment variables

	err := viper.ReadInConfig()
	if err != nil {
		log.Printf("Warning: No .env file found, reading config from environment variables only: %v", err)
	}

	cfg := Default()
	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range keys {
		viper.BindEnv(key)
	}

	// Override with values from Viper
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if cfg.MaxConcurrency < 1 {
		log.Printf("Warning: MAX_CONCURRENCY=%d is invalid, using 1", cfg.MaxConcurrency)
		cfg.MaxConcurrency = 1
	}
	if cfg.JWTSecretKey == "" || cfg.JWTSecretKey == Default().JWTSecretKey {
		log.Println("WARNING: JWT_SECRET_KEY is not set or using default. Please set a strong, unique key in production.")
	}
	return cfg, nil
}

var keys = []string{
	"MAX_CONCURRENCY", "MIN_INTERVAL_MS", "CONNECT_TIMEOUT_MS", "READ_TIMEOUT_MS", "TEST_TIMEOUT_SECONDS",
	"PAYLOAD_DELAY_MS", "ITERATION_DELAY_MS", "BODY_CAPTURE_BYTES", "MAX_CRAWL_FETCHES", "INSECURE_TLS",
	"HTTP2", "STRICT_DISPATCH", "GRPC_PORT", "HTTP_PORT", "KAFKA_BROKER", "KAFKA_RESULTS_TOPIC",
	"KAFKA_EVENTS_TOPIC", "DATABASE_DRIVER", "DATABASE_URL", "REDIS_ADDR", "REDIS_CHANNEL",
	"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_USE_SSL", "JWT_SECRET_KEY",
}

// Settings converts the engine knobs into executor settings.
func (c *EngineConfig) Settings() probe.Settings {
	return probe.Settings{
		MaxConcurrency:  c.MaxConcurrency,
		MinInterval:     time.Duration(c.MinIntervalMs) * time.Millisecond,
		ConnectTimeout:  time.Duration(c.ConnectTimeoutMs) * time.Millisecond,
		ReadTimeout:     time.Duration(c.ReadTimeoutMs) * time.Millisecond,
		PayloadDelay:    time.Duration(c.PayloadDelayMs) * time.Millisecond,
		IterationDelay:  time.Duration(c.IterationDelayMs) * time.Millisecond,
		BodyCaptureSize: c.BodyCaptureBytes,
		MaxCrawlFetches: c.MaxCrawlFetches,
		InsecureTLS:     c.InsecureTLS,
		HTTP2:           c.HTTP2,
	}
}

// TestTimeout is the overall per-test deadline.
func (c *EngineConfig) TestTimeout() time.Duration {
	return time.Duration(c.TestTimeoutSeconds) * time.Second
}
