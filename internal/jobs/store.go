package jobs

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/maltedev/marketplace-scraper/internal/models"
)

// Store keeps job state. database.JobRepository is the Postgres
// implementation; MemoryStore serves deployments without a database.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, limit int) ([]*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	Stats(ctx context.Context) (*models.JobStats, error)
}

type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
	// ids in creation order
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func (s *MemoryStore) Create(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	stored := *job
	s.jobs[job.ID] = &stored
	s.order = append(s.order, job.ID)
	return nil
}

// Get returns a copy; callers persist changes through Update.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
	}
	c := *job
	return &c, nil
}

// List returns the newest jobs first.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	jobs := make([]*models.Job, 0, min(limit, len(s.order)))
	for _, id := range slices.Backward(s.order) {
		if len(jobs) == limit {
			break
		}
		c := *s.jobs[id]
		jobs = append(jobs, &c)
	}
	return jobs, nil
}

func (s *MemoryStore) Update(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrJobNotFound, job.ID)
	}
	// creation data is immutable
	updated := *job
	updated.Marketplace = stored.Marketplace
	updated.Query = stored.Query
	updated.CreatedAt = stored.CreatedAt
	s.jobs[job.ID] = &updated
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*models.JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.JobStats{}
	for _, job := range s.jobs {
		stats.Add(job.Status, 1)
	}
	return stats, nil
}
