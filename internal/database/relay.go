package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventSource is stamped into every published event's metadata.
const EventSource = "marketplace-scraper"

// StreamAdder is the part of the Redis client the relay writes with.
type StreamAdder interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxRepo is the outbox as seen by the relay.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Relay ships scrape events from the outbox table to their Redis streams.
// Delivery is at least once: an event is marked processed only after XADD
// succeeded, so a crash in between republishes it.
type Relay struct {
	streams   StreamAdder
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewRelay(outbox OutboxRepo, streams StreamAdder, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		streams:   streams,
		outbox:    outbox,
		logger:    logger.With("component", "relay"),
		interval:  cfg.PollInterval,
		batchSize: cfg.BatchSize,
	}
}

// Start drains the outbox once, then again on every tick until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("failed to drain outbox", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain publishes pending events batch by batch until a batch comes back
// short, so a finished run with many products goes out in one pass. It
// returns the number of events published.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	published := 0
	for {
		batch, err := r.outbox.GetPending(ctx, r.batchSize)
		if err != nil {
			return published, fmt.Errorf("failed to get pending events: %w", err)
		}

		failed := 0
		for _, event := range batch {
			if err := ctx.Err(); err != nil {
				return published, err
			}
			if err := r.deliver(ctx, event); err != nil {
				failed++
				r.logger.Error("failed to relay event",
					"event_id", event.ID,
					"event_type", event.EventType,
					"aggregate_id", event.AggregateID,
					"error", err)
				continue
			}
			published++
		}

		if published > 0 || failed > 0 {
			r.logger.Debug("relayed batch", "published", published, "failed", failed)
		}
		// failed events are rescheduled for later; looping again now would
		// only fetch whatever is left of this batch
		if len(batch) < r.batchSize || failed > 0 {
			return published, nil
		}
	}
}

func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) error {
	values, err := StreamValues(event)
	if err == nil {
		err = r.streams.XAdd(ctx, &redis.XAddArgs{Stream: event.TargetStream, Values: values}).Err()
		if err != nil {
			err = fmt.Errorf("failed to publish to redis: %w", err)
		}
	}
	if err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to mark event as failed", "event_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}

	r.logger.Info("event relayed",
		"event_id", event.ID,
		"event_type", event.EventType,
		"aggregate_id", event.AggregateID,
		"stream", event.TargetStream)
	return nil
}

// StreamValues builds the stream entry for an outbox event. The "data" field
// holds the JSON envelope {id, type, aggregate_*, timestamp, payload,
// metadata}; the flat fields let consumers filter without decoding it.
func StreamValues(event *OutboxEvent) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	envelope, err := json.Marshal(map[string]any{
		"id":             event.ID.String(),
		"type":           event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"timestamp":      event.CreatedAt.Format(time.RFC3339),
		"payload":        payload,
		"metadata": map[string]any{
			"source":        EventSource,
			"outbox_id":     event.ID.String(),
			"retry_count":   event.RetryCount,
			"target_stream": event.TargetStream,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream data: %w", err)
	}

	return map[string]any{
		"data":           string(envelope),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"original_id":    event.ID.String(),
		"timestamp":      strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
	}, nil
}

// GetPendingCount returns the number of events waiting to be relayed.
func (r *Relay) GetPendingCount(ctx context.Context) (int64, error) {
	return r.outbox.PendingCount(ctx)
}

// GetDeadLetterCount returns the number of events that exhausted their retries.
func (r *Relay) GetDeadLetterCount(ctx context.Context) (int64, error) {
	return r.outbox.DeadLetterCount(ctx)
}
