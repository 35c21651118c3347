package queue

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
	ErrQueueFull   = errors.New("queue is full")
)

// Task is one scrape job waiting for a worker.
type Task struct {
	ID          string
	JobID       string
	Marketplace string
	Priority    int
	Retries     int
	CreatedAt   time.Time
}

type Queue interface {
	Push(task *Task) error
	Pop(ctx context.Context) (*Task, error)
	Size() int
	Close() error
}

// InMemoryQueue is a bounded priority queue. Higher priority pops first, equal
// priorities pop in insertion order.
type InMemoryQueue struct {
	tasks   []*Task
	mu      sync.Mutex
	notify  chan struct{}
	closed  bool
	maxSize int
}

// NewInMemoryQueue creates a queue holding at most maxSize tasks. A maxSize of
// zero or less means unbounded.
func NewInMemoryQueue(maxSize int) *InMemoryQueue {
	return &InMemoryQueue{
		tasks:   make([]*Task, 0),
		notify:  make(chan struct{}),
		maxSize: maxSize,
	}
}

func (q *InMemoryQueue) Push(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.maxSize > 0 && len(q.tasks) >= q.maxSize {
		return ErrQueueFull
	}

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	// insert after every task of equal or higher priority
	idx, _ := slices.BinarySearchFunc(q.tasks, task, func(existing, target *Task) int {
		if existing.Priority >= target.Priority {
			return -1
		}
		return 1
	})
	q.tasks = slices.Insert(q.tasks, idx, task)
	q.wake()

	return nil
}

// Pop blocks until a task is available, the queue is closed and drained, or
// ctx is done.
func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			q.mu.Unlock()
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// TryPop returns ErrQueueEmpty instead of blocking.
func (q *InMemoryQueue) TryPop() (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		if q.closed {
			return nil, ErrQueueClosed
		}
		return nil, ErrQueueEmpty
	}

	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return task, nil
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.wake()

	return nil
}

// wake releases every blocked Pop. Must be called with mu held.
func (q *InMemoryQueue) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}
