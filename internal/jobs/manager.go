// Package jobs runs scrapes asynchronously: requests become queued jobs and a
// pool of workers executes them through the scraper service.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/queue"
	"github.com/maltedev/marketplace-scraper/internal/scraper"
	"github.com/maltedev/marketplace-scraper/internal/service"
)

// Runner executes one marketplace scrape under a given run id.
type Runner interface {
	Run(ctx context.Context, runID, marketplace string, query models.SearchQuery) (*service.Report, error)
	Marketplaces() []string
}

type Manager struct {
	store  Store
	queue  queue.Queue
	runner Runner
	logger *slog.Logger
}

func NewManager(store Store, q queue.Queue, runner Runner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		queue:  q,
		runner: runner,
		logger: logger.With("component", "job_manager"),
	}
}

// CreateJob validates the request, stores a pending job and queues it.
func (m *Manager) CreateJob(ctx context.Context, marketplace string, query models.SearchQuery, priority int) (*models.Job, error) {
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrInvalidQuery, err)
	}
	if !slices.Contains(m.runner.Marketplaces(), marketplace) {
		return nil, fmt.Errorf("%w: %q", scraper.ErrUnknownMarketplace, marketplace)
	}

	job := &models.Job{
		ID:          uuid.New().String(),
		Marketplace: marketplace,
		Query:       query,
		Status:      models.JobStatusPending,
		CreatedAt:   time.Now(),
	}
	if err := m.store.Create(ctx, job); err != nil {
		return nil, err
	}

	task := &queue.Task{
		ID:          uuid.New().String(),
		JobID:       job.ID,
		Marketplace: marketplace,
		Priority:    priority,
	}
	if err := m.queue.Push(task); err != nil {
		m.fail(ctx, job, err)
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created",
		"id", job.ID,
		"marketplace", marketplace,
		"keyword", query.Keyword,
		"queued", m.queue.Size(),
	)
	return job, nil
}

func (m *Manager) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	return m.store.List(ctx, limit)
}

func (m *Manager) Stats(ctx context.Context) (*models.JobStats, error) {
	return m.store.Stats(ctx)
}

// fail marks a job failed without a run.
func (m *Manager) fail(ctx context.Context, job *models.Job, cause error) {
	now := time.Now()
	job.Status = models.JobStatusFailed
	job.Error = cause.Error()
	job.CompletedAt = &now
	if err := m.store.Update(context.WithoutCancel(ctx), job); err != nil {
		m.logger.Error("failed to update job status", "id", job.ID, "error", err)
	}
}
