// Package redisbus fans engine events out over Redis pub/sub and caches the
// latest result per domain.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pace-noge/defense-probe/internal/domain"
)

const (
	latestPrefix  = "probe:latest:"
	historyPrefix = "probe:history:"
	historyLength = 100
	resultTTL     = 7 * 24 * time.Hour
)

// Publisher implements domain.EventSink and domain.ResultSink.
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher connects to addr and verifies the connection.
func NewPublisher(ctx context.Context, addr, channel string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	log.Printf("Redis publisher connected to %s, channel %s", addr, channel)
	return &Publisher{client: client, channel: channel}, nil
}

// Publish sends an event to the channel.
func (p *Publisher) Publish(ctx context.Context, ev domain.LogEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Save caches the result as the latest for its domain and keeps a short
// per-domain history of test ids.
func (p *Publisher) Save(ctx context.Context, r *domain.TestResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	pipe := p.client.TxPipeline()
	pipe.Set(ctx, LatestKey(r.Domain), data, resultTTL)
	pipe.LPush(ctx, HistoryKey(r.Domain), r.TestID)
	pipe.LTrim(ctx, HistoryKey(r.Domain), 0, historyLength-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache result %s: %w", r.TestID, err)
	}
	return nil
}

// Latest returns the cached latest result for a domain.
func (p *Publisher) Latest(ctx context.Context, d string) (*domain.TestResult, error) {
	data, err := p.client.Get(ctx, LatestKey(d)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r domain.TestResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}
	return &r, nil
}

// Close closes the redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// LatestKey is the cache key of a domain's latest result.
func LatestKey(d string) string { return latestPrefix + d }

// HistoryKey is the list key of a domain's recent test ids.
func HistoryKey(d string) string { return historyPrefix + d }
