package database

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStreamAdder struct {
	mock.Mock
}

func (m *MockStreamAdder) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	args := m.Called(ctx, a)
	return redis.NewStringResult(args.String(0), args.Error(1))
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	events, _ := args.Get(0).([]*OutboxEvent)
	return events, args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	return m.Called(ctx, id, err).Error(0)
}

func (m *MockOutboxRepository) PendingCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOutboxRepository) DeadLetterCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

var relayTime = time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

func productScrapedEvent() *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "product",
		AggregateID:   "amazon:B004YAVF8I",
		EventType:     "PRODUCT_SCRAPED",
		Payload: json.RawMessage(`{"url":"https://amazon.com/dp/B004YAVF8I","SEARCH_KEYWORD":"wireless mouse",` +
			`"marketplace":"amazon","product_id":"B004YAVF8I","title":"Logitech M185","reviews":[],"status":"ok"}`),
		TargetStream: DefaultTargetStream,
		Status:       OutboxStatusPending,
		CreatedAt:    relayTime,
	}
}

func runCompletedStreamEvent() *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "scrape_run",
		AggregateID:   "run-1",
		EventType:     "SCRAPE_RUN_COMPLETED",
		Payload: json.RawMessage(`{"run_id":"run-1","marketplace":"amazon","keyword":"wireless mouse",` +
			`"products_requested":2,"reviews_requested":0,"products_scraped":1,"products_failed":1,` +
			`"error":"","source":"marketplace-scraper"}`),
		TargetStream: DefaultTargetStream,
		Status:       OutboxStatusPending,
		RetryCount:   2,
		CreatedAt:    relayTime,
	}
}

type streamEnvelope struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	AggregateID string         `json:"aggregate_id"`
	Timestamp   string         `json:"timestamp"`
	Payload     map[string]any `json:"payload"`
	Metadata    map[string]any `json:"metadata"`
}

func decodeEntry(t *testing.T, a *redis.XAddArgs) (map[string]any, streamEnvelope) {
	t.Helper()
	values, ok := a.Values.(map[string]any)
	require.True(t, ok, "stream values must be a map")

	data, ok := values["data"].(string)
	require.True(t, ok, "stream entry carries no data")

	var env streamEnvelope
	require.NoError(t, json.Unmarshal([]byte(data), &env))
	return values, env
}

func eventType(name string) any {
	return mock.MatchedBy(func(a *redis.XAddArgs) bool {
		values, _ := a.Values.(map[string]any)
		return values["event_type"] == name
	})
}

func TestRelayDrainPublishesScrapeEvents(t *testing.T) {
	streams := new(MockStreamAdder)
	outbox := new(MockOutboxRepository)
	relay := NewRelay(outbox, streams, nil, RelayConfig{})

	product, run := productScrapedEvent(), runCompletedStreamEvent()
	outbox.On("GetPending", mock.Anything, 100).Return([]*OutboxEvent{product, run}, nil).Once()
	outbox.On("MarkProcessed", mock.Anything, product.ID).Return(nil).Once()
	outbox.On("MarkProcessed", mock.Anything, run.ID).Return(nil).Once()

	var sent []*redis.XAddArgs
	streams.On("XAdd", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = append(sent, args.Get(1).(*redis.XAddArgs)) }).
		Return("1-0", nil)

	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, sent, 2)

	values, env := decodeEntry(t, sent[0])
	assert.Equal(t, DefaultTargetStream, sent[0].Stream)
	assert.Equal(t, "PRODUCT_SCRAPED", values["event_type"])
	assert.Equal(t, "amazon:B004YAVF8I", values["aggregate_id"])
	assert.Equal(t, product.ID.String(), values["original_id"])
	assert.Equal(t, strconv.FormatInt(relayTime.UnixNano(), 10), values["timestamp"])
	assert.Equal(t, "PRODUCT_SCRAPED", env.Type)
	assert.Equal(t, "Logitech M185", env.Payload["title"])
	assert.Equal(t, "ok", env.Payload["status"])
	assert.Equal(t, EventSource, env.Metadata["source"])
	assert.Equal(t, relayTime.Format(time.RFC3339), env.Timestamp)

	values, env = decodeEntry(t, sent[1])
	assert.Equal(t, "SCRAPE_RUN_COMPLETED", values["event_type"])
	assert.Equal(t, "SCRAPE_RUN_COMPLETED", env.Type)
	assert.Equal(t, "run-1", env.Payload["run_id"])
	assert.Equal(t, float64(1), env.Payload["products_failed"])
	assert.Equal(t, float64(2), env.Metadata["retry_count"])
	assert.Equal(t, run.ID.String(), env.Metadata["outbox_id"])

	outbox.AssertExpectations(t)
}

func TestRelayDrainMarksRedisFailures(t *testing.T) {
	streams := new(MockStreamAdder)
	outbox := new(MockOutboxRepository)
	relay := NewRelay(outbox, streams, nil, RelayConfig{})

	product, run := productScrapedEvent(), runCompletedStreamEvent()
	outbox.On("GetPending", mock.Anything, 100).Return([]*OutboxEvent{product, run}, nil).Once()
	streams.On("XAdd", mock.Anything, eventType("PRODUCT_SCRAPED")).Return("", errors.New("READONLY replica"))
	streams.On("XAdd", mock.Anything, eventType("SCRAPE_RUN_COMPLETED")).Return("1-0", nil)
	outbox.On("MarkFailed", mock.Anything, product.ID, mock.MatchedBy(func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "READONLY")
	})).Return(nil).Once()
	outbox.On("MarkProcessed", mock.Anything, run.ID).Return(nil).Once()

	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	outbox.AssertExpectations(t)
	outbox.AssertNotCalled(t, "MarkProcessed", mock.Anything, product.ID)
}

func TestRelayDrainRejectsNonObjectPayload(t *testing.T) {
	streams := new(MockStreamAdder)
	outbox := new(MockOutboxRepository)
	relay := NewRelay(outbox, streams, nil, RelayConfig{})

	broken := productScrapedEvent()
	broken.Payload = json.RawMessage(`["not","an","object"]`)
	outbox.On("GetPending", mock.Anything, 100).Return([]*OutboxEvent{broken}, nil).Once()
	outbox.On("MarkFailed", mock.Anything, broken.ID, mock.Anything).Return(nil).Once()

	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	streams.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	outbox.AssertExpectations(t)
}

func TestRelayDrainContinuesWhileBatchesAreFull(t *testing.T) {
	streams := new(MockStreamAdder)
	outbox := new(MockOutboxRepository)
	relay := NewRelay(outbox, streams, nil, RelayConfig{BatchSize: 2})

	first := []*OutboxEvent{productScrapedEvent(), productScrapedEvent()}
	second := []*OutboxEvent{runCompletedStreamEvent()}
	outbox.On("GetPending", mock.Anything, 2).Return(first, nil).Once()
	outbox.On("GetPending", mock.Anything, 2).Return(second, nil).Once()
	outbox.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)
	streams.On("XAdd", mock.Anything, mock.Anything).Return("1-0", nil)

	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	outbox.AssertNumberOfCalls(t, "GetPending", 2)
	streams.AssertNumberOfCalls(t, "XAdd", 3)
}

func TestRelayDrainPendingQueryFails(t *testing.T) {
	outbox := new(MockOutboxRepository)
	relay := NewRelay(outbox, new(MockStreamAdder), nil, RelayConfig{})

	outbox.On("GetPending", mock.Anything, 100).Return(nil, errors.New("connection reset"))

	_, err := relay.Drain(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get pending events")
}

func TestRelayDrainMarkProcessedFailure(t *testing.T) {
	streams := new(MockStreamAdder)
	outbox := new(MockOutboxRepository)
	relay := NewRelay(outbox, streams, nil, RelayConfig{})

	run := runCompletedStreamEvent()
	outbox.On("GetPending", mock.Anything, 100).Return([]*OutboxEvent{run}, nil).Once()
	streams.On("XAdd", mock.Anything, mock.Anything).Return("1-0", nil)
	outbox.On("MarkProcessed", mock.Anything, run.ID).Return(errors.New("tx aborted"))

	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	outbox.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestRelayStartDrainsUntilCancelled(t *testing.T) {
	outbox := new(MockOutboxRepository)
	relay := NewRelay(outbox, new(MockStreamAdder), nil, RelayConfig{PollInterval: 10 * time.Millisecond})

	outbox.On("GetPending", mock.Anything, 100).Return([]*OutboxEvent{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Millisecond)
	defer cancel()

	err := relay.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, len(outbox.Calls), 2)
}

func TestNewRelayDefaults(t *testing.T) {
	relay := NewRelay(new(MockOutboxRepository), new(MockStreamAdder), nil, RelayConfig{})
	assert.Equal(t, 5*time.Second, relay.interval)
	assert.Equal(t, 100, relay.batchSize)
}

func TestRelayCounts(t *testing.T) {
	outbox := new(MockOutboxRepository)
	relay := NewRelay(outbox, new(MockStreamAdder), nil, RelayConfig{})

	outbox.On("PendingCount", mock.Anything).Return(int64(12), nil)
	outbox.On("DeadLetterCount", mock.Anything).Return(int64(3), nil)

	pending, err := relay.GetPendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), pending)

	dead, err := relay.GetDeadLetterCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), dead)
}
