package jobs

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/queue"
)

// StartWorkers processes queued jobs with n workers until ctx is cancelled or
// the queue is closed and drained. It blocks until every worker has stopped.
func (m *Manager) StartWorkers(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	m.logger.Info("job workers started", "workers", n)

	g, ctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			return m.work(ctx, i)
		})
	}
	err := g.Wait()

	m.logger.Info("job workers stopped")
	return err
}

func (m *Manager) work(ctx context.Context, worker int) error {
	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		m.process(ctx, worker, task)
	}
}

func (m *Manager) process(ctx context.Context, worker int, task *queue.Task) {
	logger := m.logger.With("worker", worker, "job_id", task.JobID, "marketplace", task.Marketplace)
	// state changes must land even while shutting down
	saveCtx := context.WithoutCancel(ctx)

	job, err := m.store.Get(ctx, task.JobID)
	if err != nil {
		logger.Error("failed to load job", "error", err)
		return
	}

	started := time.Now()
	job.Status = models.JobStatusRunning
	job.StartedAt = &started
	if err := m.store.Update(saveCtx, job); err != nil {
		logger.Error("failed to update job status", "error", err)
		return
	}
	logger.Info("processing job", "keyword", job.Query.Keyword, "waited", started.Sub(task.CreatedAt))

	report, err := m.runner.Run(ctx, job.ID, job.Marketplace, job.Query)
	if err != nil {
		logger.Error("job failed to start", "error", err)
		m.fail(saveCtx, job, err)
		return
	}

	completed := time.Now()
	job.CompletedAt = &completed
	job.ProductsFailed = report.Failed()
	job.ProductsFound = len(report.Outcomes) - job.ProductsFailed
	job.ResultPath = report.ResultPath
	if report.Err != nil {
		job.Status = models.JobStatusFailed
		job.Error = report.Err.Error()
	} else {
		job.Status = models.JobStatusCompleted
	}

	if err := m.store.Update(saveCtx, job); err != nil {
		logger.Error("failed to update job status", "error", err)
		return
	}

	logger.Info("job finished",
		"status", job.Status,
		"products", job.ProductsFound,
		"failed", job.ProductsFailed,
		"duration", completed.Sub(started),
	)
}
