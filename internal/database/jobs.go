package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/marketplace-scraper/internal/models"
)

const jobColumns = `
	id, marketplace, keyword, product_count, review_count, status,
	products_found, products_failed, result_path, error_message,
	created_at, started_at, completed_at`

// JobRepository persists scrape jobs in the scrape_jobs table.
type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO scrape_jobs
		(id, marketplace, keyword, product_count, review_count, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.pool.Exec(ctx, query,
		job.ID, job.Marketplace, job.Query.Keyword, job.Query.ProductCount,
		job.Query.ReviewCount, string(job.Status), job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.pool.QueryRow(ctx, "SELECT "+jobColumns+" FROM scrape_jobs WHERE id = $1", id)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// List returns the newest jobs first.
func (r *JobRepository) List(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.pool.Query(ctx,
		"SELECT "+jobColumns+" FROM scrape_jobs ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// Update writes the mutable part of a job: status, counters, result location
// and timestamps.
func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	query := `
		UPDATE scrape_jobs
		SET status = $1, products_found = $2, products_failed = $3,
		    result_path = $4, error_message = $5, started_at = $6, completed_at = $7
		WHERE id = $8`

	result, err := r.db.pool.Exec(ctx, query,
		string(job.Status), job.ProductsFound, job.ProductsFailed,
		nullable(job.ResultPath), nullable(job.Error), job.StartedAt, job.CompletedAt,
		job.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", models.ErrJobNotFound, job.ID)
	}
	return nil
}

func (r *JobRepository) Stats(ctx context.Context) (*models.JobStats, error) {
	rows, err := r.db.pool.Query(ctx, "SELECT status, COUNT(*) FROM scrape_jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	defer rows.Close()

	stats := &models.JobStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.Add(models.JobStatus(status), count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats: %w", err)
	}

	return stats, nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		job         models.Job
		status      string
		resultPath  *string
		errorMsg    *string
		startedAt   *time.Time
		completedAt *time.Time
	)

	err := row.Scan(
		&job.ID, &job.Marketplace, &job.Query.Keyword, &job.Query.ProductCount,
		&job.Query.ReviewCount, &status, &job.ProductsFound, &job.ProductsFailed,
		&resultPath, &errorMsg, &job.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	if resultPath != nil {
		job.ResultPath = *resultPath
	}
	if errorMsg != nil {
		job.Error = *errorMsg
	}
	job.StartedAt = startedAt
	job.CompletedAt = completedAt

	return &job, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
