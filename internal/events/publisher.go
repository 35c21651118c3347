package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/marketplace-scraper/internal/database"
	"github.com/maltedev/marketplace-scraper/internal/models"
)

type EventType string

const (
	// EventTypeProductScraped is published once per product that was extracted
	// without a fault.
	EventTypeProductScraped EventType = "PRODUCT_SCRAPED"
	// EventTypeRunCompleted closes every marketplace run, failed or not.
	EventTypeRunCompleted EventType = "SCRAPE_RUN_COMPLETED"

	aggregateProduct = "product"
	aggregateRun     = "scrape_run"
)

// RunCompletedPayload summarises one marketplace run.
type RunCompletedPayload struct {
	EventID           string    `json:"event_id"`
	EventType         string    `json:"event_type"`
	Timestamp         time.Time `json:"timestamp"`
	RunID             string    `json:"run_id"`
	Marketplace       string    `json:"marketplace"`
	Keyword           string    `json:"keyword"`
	ProductsRequested int       `json:"products_requested"`
	ReviewsRequested  int       `json:"reviews_requested"`
	ProductsScraped   int       `json:"products_scraped"`
	ProductsFailed    int       `json:"products_failed"`
	ResultPath        string    `json:"result_path,omitempty"`
	Error             string    `json:"error,omitempty"`
	Source            string    `json:"source"`
}

// NewRunCompleted builds the summary of a run from its outcomes.
func NewRunCompleted(runID, marketplace string, query models.SearchQuery, outcomes []models.Outcome, runErr error) *RunCompletedPayload {
	p := &RunCompletedPayload{
		RunID:             runID,
		Marketplace:       marketplace,
		Keyword:           query.Keyword,
		ProductsRequested: query.ProductCount,
		ReviewsRequested:  query.ReviewCount,
	}
	for _, o := range outcomes {
		if o.Failed() {
			p.ProductsFailed++
		} else {
			p.ProductsScraped++
		}
	}
	if runErr != nil {
		p.Error = runErr.Error()
	}
	return p
}

// Publisher writes events through the transactional outbox; the relay ships
// them to Redis afterwards.
type Publisher struct {
	db     *database.DB
	outbox *database.OutboxRepository
	logger *slog.Logger
}

func NewPublisher(db *database.DB, outbox *database.OutboxRepository, logger *slog.Logger) *Publisher {
	if outbox == nil {
		outbox = database.NewOutboxRepository(db)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		db:     db,
		outbox: outbox,
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishRun stores one PRODUCT_SCRAPED event per successful outcome and the
// SCRAPE_RUN_COMPLETED summary in a single transaction.
func (p *Publisher) PublishRun(ctx context.Context, run *RunCompletedPayload, outcomes []models.Outcome) error {
	if run.EventID == "" {
		run.EventID = uuid.New().String()
	}
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.EventType == "" {
		run.EventType = string(EventTypeRunCompleted)
	}
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now()
	}
	if run.Source == "" {
		run.Source = database.EventSource
	}

	summary, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	batch := make([]*database.OutboxEvent, 0, len(outcomes)+1)
	for _, o := range outcomes {
		if o.Failed() || o.Record == nil {
			continue
		}
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to marshal product event: %w", err)
		}
		batch = append(batch, &database.OutboxEvent{
			AggregateType: aggregateProduct,
			AggregateID:   productAggregateID(run.Marketplace, o.Record),
			EventType:     string(EventTypeProductScraped),
			Payload:       data,
		})
	}
	batch = append(batch, &database.OutboxEvent{
		AggregateType: aggregateRun,
		AggregateID:   run.RunID,
		EventType:     string(EventTypeRunCompleted),
		Payload:       summary,
	})

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		for _, event := range batch {
			if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish run: %w", err)
	}

	p.logger.Info("run published to outbox",
		"run_id", run.RunID,
		"marketplace", run.Marketplace,
		"keyword", run.Keyword,
		"events", len(batch),
	)

	return nil
}

func productAggregateID(marketplace string, record *models.Record) string {
	id := record.String(models.FieldProductID)
	if id == "" {
		id = record.String(models.FieldURL)
	}
	return marketplace + ":" + id
}
