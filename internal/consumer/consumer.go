// Package consumer follows the scrape results stream and resubmits runs that
// failed as a whole, such as a discovery blocked by the marketplace.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/marketplace-scraper/internal/database"
	"github.com/maltedev/marketplace-scraper/internal/events"
	"github.com/maltedev/marketplace-scraper/internal/models"
)

// StreamClient is the part of the Redis client the consumer needs.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Submitter queues a new scrape and returns its job id.
type Submitter interface {
	Submit(ctx context.Context, marketplace string, query models.SearchQuery) (string, error)
}

type Config struct {
	Stream string
	Group  string
	Name   string
	// MaxResubmits caps resubmissions per marketplace and keyword.
	MaxResubmits int
	Block        time.Duration
}

type Consumer struct {
	redis     StreamClient
	submitter Submitter
	cfg       Config
	logger    *slog.Logger

	mu       sync.Mutex
	attempts map[string]int
}

func New(client StreamClient, submitter Submitter, cfg Config, logger *slog.Logger) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = database.DefaultTargetStream
	}
	if cfg.Group == "" {
		cfg.Group = "scrape-results-consumers"
	}
	if cfg.Name == "" {
		cfg.Name = "consumer-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		redis:     client,
		submitter: submitter,
		cfg:       cfg,
		logger:    logger.With("component", "results_consumer", "stream", cfg.Stream),
		attempts:  make(map[string]int),
	}
}

// Run reads the stream until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "group", c.cfg.Group, "name", c.cfg.Name)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    10,
			Block:    c.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if err := c.Handle(ctx, msg); err != nil {
					c.logger.Error("failed to process message", "id", msg.ID, "error", err)
					continue
				}
				if err := c.redis.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
					c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
				}
			}
		}
	}
}

// envelope is the JSON the relay stores under the "data" field.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handle processes one stream message. Events other than run summaries are
// accepted and ignored.
func (c *Consumer) Handle(ctx context.Context, msg redis.XMessage) error {
	eventType, _ := msg.Values["event_type"].(string)
	if eventType != string(events.EventTypeRunCompleted) {
		return nil
	}

	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("missing data in event %s", msg.ID)
	}
	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return fmt.Errorf("failed to parse event: %w", err)
	}
	var run events.RunCompletedPayload
	if err := json.Unmarshal(env.Payload, &run); err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	logger := c.logger.With("run_id", run.RunID, "marketplace", run.Marketplace, "keyword", run.Keyword)
	key := run.Marketplace + "|" + strings.ToLower(strings.TrimSpace(run.Keyword))

	if run.Error == "" {
		logger.Info("run completed", "scraped", run.ProductsScraped, "failed", run.ProductsFailed)
		c.mu.Lock()
		delete(c.attempts, key)
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	n := c.attempts[key]
	if n >= c.cfg.MaxResubmits {
		c.mu.Unlock()
		logger.Warn("run failed, giving up", "error", run.Error, "resubmits", n)
		return nil
	}
	c.attempts[key] = n + 1
	c.mu.Unlock()

	query := models.SearchQuery{
		Keyword:      run.Keyword,
		ProductCount: run.ProductsRequested,
		ReviewCount:  run.ReviewsRequested,
	}
	jobID, err := c.submitter.Submit(ctx, run.Marketplace, query)
	if err != nil {
		c.mu.Lock()
		c.attempts[key]--
		c.mu.Unlock()
		return fmt.Errorf("failed to resubmit run %s: %w", run.RunID, err)
	}

	logger.Info("run failed, resubmitted", "error", run.Error, "job_id", jobID, "attempt", n+1)
	return nil
}

// Attempts reports how often marketplace and keyword were resubmitted since
// their last successful run.
func (c *Consumer) Attempts(marketplace, keyword string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[marketplace+"|"+strings.ToLower(strings.TrimSpace(keyword))]
}
