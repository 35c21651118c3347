package models

import (
	"errors"
	"time"
)

var ErrJobNotFound = errors.New("job not found")

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is an asynchronous scrape of one marketplace.
type Job struct {
	ID             string      `json:"id"`
	Marketplace    string      `json:"marketplace"`
	Query          SearchQuery `json:"query"`
	Status         JobStatus   `json:"status"`
	ProductsFound  int         `json:"products_found"`
	ProductsFailed int         `json:"products_failed"`
	ResultPath     string      `json:"result_path,omitempty"`
	Error          string      `json:"error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

func (j *Job) Finished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// JobStats counts jobs per status.
type JobStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

func (s *JobStats) Add(status JobStatus, n int) {
	switch status {
	case JobStatusPending:
		s.Pending += n
	case JobStatusRunning:
		s.Running += n
	case JobStatusCompleted:
		s.Completed += n
	case JobStatusFailed:
		s.Failed += n
	}
	s.Total += n
}
