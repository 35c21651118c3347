package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-scraper/internal/database"
	"github.com/maltedev/marketplace-scraper/internal/models"
)

func newTestPublisher(t *testing.T) (*Publisher, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	db := database.NewWithPool(mock)
	return NewPublisher(db, nil, nil), mock
}

func outcome(id string, failed bool) models.Outcome {
	record := models.NewRecord()
	record.Set(models.FieldURL, "https://www.amazon.com/dp/"+id)
	record.Set(models.FieldProductID, id)
	record.Set("title", "Mouse "+id)
	if failed {
		return models.Failed(record, errors.New("category not found"))
	}
	return models.Succeeded(record)
}

// insertOf matches an outbox insert for the given aggregate and event type.
func insertOf(mock pgxmock.PgxPoolIface, aggregateType string, aggregateID any, eventType EventType) *pgxmock.ExpectedExec {
	return mock.ExpectExec("INSERT INTO outbox_event").
		WithArgs(pgxmock.AnyArg(), aggregateType, aggregateID, string(eventType),
			pgxmock.AnyArg(), database.DefaultTargetStream, database.OutboxStatusPending, 0,
			pgxmock.AnyArg(), pgxmock.AnyArg())
}

func expectInsert(mock pgxmock.PgxPoolIface, aggregateType string, aggregateID any, eventType EventType) {
	insertOf(mock, aggregateType, aggregateID, eventType).WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestNewRunCompleted(t *testing.T) {
	query := models.SearchQuery{Keyword: "wireless mouse", ProductCount: 3, ReviewCount: 5}
	outcomes := []models.Outcome{outcome("A1", false), outcome("A2", true), outcome("A3", false)}

	run := NewRunCompleted("run-1", "amazon", query, outcomes, nil)

	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, "wireless mouse", run.Keyword)
	assert.Equal(t, 3, run.ProductsRequested)
	assert.Equal(t, 5, run.ReviewsRequested)
	assert.Equal(t, 2, run.ProductsScraped)
	assert.Equal(t, 1, run.ProductsFailed)
	assert.Empty(t, run.Error)

	failed := NewRunCompleted("run-2", "ebay", query, nil, errors.New("listing discovery failed"))
	assert.Equal(t, "listing discovery failed", failed.Error)
}

func TestPublishRun(t *testing.T) {
	publisher, mock := newTestPublisher(t)

	outcomes := []models.Outcome{outcome("A1", false), outcome("A2", true)}
	run := NewRunCompleted("run-1", "amazon", models.SearchQuery{Keyword: "mouse", ProductCount: 2}, outcomes, nil)

	mock.ExpectBegin()
	expectInsert(mock, "product", "amazon:A1", EventTypeProductScraped)
	expectInsert(mock, "scrape_run", "run-1", EventTypeRunCompleted)
	mock.ExpectCommit()

	require.NoError(t, publisher.PublishRun(context.Background(), run, outcomes))

	assert.NotEmpty(t, run.EventID)
	assert.Equal(t, string(EventTypeRunCompleted), run.EventType)
	assert.Equal(t, database.EventSource, run.Source)
	assert.False(t, run.Timestamp.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishRunWithoutOutcomes(t *testing.T) {
	publisher, mock := newTestPublisher(t)

	run := &RunCompletedPayload{Marketplace: "walmart", Error: "blocked"}

	mock.ExpectBegin()
	expectInsert(mock, "scrape_run", pgxmock.AnyArg(), EventTypeRunCompleted)
	mock.ExpectCommit()

	require.NoError(t, publisher.PublishRun(context.Background(), run, nil))
	assert.NotEmpty(t, run.RunID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishRunRollsBackOnFailure(t *testing.T) {
	publisher, mock := newTestPublisher(t)

	outcomes := []models.Outcome{outcome("A1", false)}
	run := NewRunCompleted("run-1", "amazon", models.SearchQuery{Keyword: "mouse", ProductCount: 1}, outcomes, nil)

	mock.ExpectBegin()
	expectInsert(mock, "product", "amazon:A1", EventTypeProductScraped)
	insertOf(mock, "scrape_run", "run-1", EventTypeRunCompleted).WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	err := publisher.PublishRun(context.Background(), run, outcomes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunCompletedPayloadJSON(t *testing.T) {
	run := &RunCompletedPayload{RunID: "run-1", Marketplace: "ebay", Keyword: "mouse", ProductsScraped: 2}

	data, err := json.Marshal(run)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "ebay", decoded["marketplace"])
	assert.Equal(t, float64(2), decoded["products_scraped"])
	assert.NotContains(t, decoded, "result_path")
	assert.NotContains(t, decoded, "error")
}
