package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
)

// MemoryQueue is a process-local Queue, used in tests and single-node development setups.
type MemoryQueue struct {
	mu    sync.Mutex
	clock poll.Clock
	jobs  map[string]*models.PublicationJob
}

func NewMemoryQueue(clock poll.Clock) *MemoryQueue {
	if clock == nil {
		clock = poll.RealClock()
	}
	return &MemoryQueue{clock: clock, jobs: make(map[string]*models.PublicationJob)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *models.PublicationJob, delay time.Duration) (*models.PublicationJob, bool, error) {
	if err := validate(job); err != nil {
		return nil, false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.jobs[job.IdempotencyKey]; ok {
		cp := *existing
		return &cp, false, nil
	}
	stored := q.prepare(job, delay)
	q.jobs[job.IdempotencyKey] = stored
	cp := *stored
	return &cp, true, nil
}

func (q *MemoryQueue) Reschedule(ctx context.Context, job *models.PublicationJob, delay time.Duration) error {
	if err := validate(job); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.IdempotencyKey] = q.prepare(job, delay)
	return nil
}

func (q *MemoryQueue) Cancel(ctx context.Context, key string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[key]
	delete(q.jobs, key)
	return ok, nil
}

func (q *MemoryQueue) Claim(ctx context.Context, platform models.Platform, now time.Time) (*models.PublicationJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*models.PublicationJob
	for _, j := range q.jobs {
		if j.Platform == platform && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(a, b int) bool {
		if due[a].RunAt.Equal(due[b].RunAt) {
			return due[a].ID < due[b].ID
		}
		return due[a].RunAt.Before(due[b].RunAt)
	})
	job := due[0]
	delete(q.jobs, job.IdempotencyKey)
	return job, nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, job *models.PublicationJob, delay time.Duration) error {
	_, _, err := q.Enqueue(ctx, job, delay)
	return err
}

func (q *MemoryQueue) Pending(ctx context.Context, platform models.Platform) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, j := range q.jobs {
		if j.Platform == platform {
			n++
		}
	}
	return n, nil
}

func (q *MemoryQueue) Has(ctx context.Context, key string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[key]
	return ok, nil
}

// Get returns a copy of the outstanding job for key.
func (q *MemoryQueue) Get(key string) (*models.PublicationJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[key]
	if !ok {
		return nil, false
	}
	cp := *j
	return &cp, true
}

func (q *MemoryQueue) prepare(job *models.PublicationJob, delay time.Duration) *models.PublicationJob {
	cp := *job
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if delay < 0 {
		delay = 0
	}
	now := q.clock.Now()
	cp.RunAt = now.Add(delay)
	cp.CreatedAt = now
	return &cp
}
