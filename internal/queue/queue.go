// Package queue holds publication jobs until they are due and hands each one to exactly one worker.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ifuryst/ripplecast/internal/models"
)

var (
	ErrInvalidJob = errors.New("queue: job needs an idempotency key, a publication id and a platform")
)

// Queue is keyed by the job idempotency key. Enqueue is first-writer-wins: a second job with the same
// key leaves the stored job untouched and returns it.
type Queue interface {
	Enqueue(ctx context.Context, job *models.PublicationJob, delay time.Duration) (*models.PublicationJob, bool, error)
	// Reschedule replaces any outstanding job for job.IdempotencyKey with job, due after delay.
	Reschedule(ctx context.Context, job *models.PublicationJob, delay time.Duration) error
	// Cancel removes the outstanding job for key. It reports false when nothing was queued.
	Cancel(ctx context.Context, key string) (bool, error)
	// Claim removes and returns the earliest due job for platform, or nil when none is due.
	Claim(ctx context.Context, platform models.Platform, now time.Time) (*models.PublicationJob, error)
	// Requeue puts a claimed job back for another attempt.
	Requeue(ctx context.Context, job *models.PublicationJob, delay time.Duration) error
	Pending(ctx context.Context, platform models.Platform) (int64, error)
	// Has reports whether a job with key is outstanding.
	Has(ctx context.Context, key string) (bool, error)
}

// Backoff is the retry schedule for failed attempts: BaseDelay doubled per retry, at most MaxAttempts retries.
type Backoff struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

func DefaultBackoff() Backoff {
	return Backoff{BaseDelay: 5 * time.Second, MaxAttempts: 3}
}

// Delay is the wait before retry number attempt (1-based). The defaults give 5s, 10s, 20s.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Next returns the delay before the retry that follows the given number of failed attempts, and
// false once the retries are used up.
func (b Backoff) Next(failed int) (time.Duration, bool) {
	if failed < 1 || failed > b.MaxAttempts {
		return 0, false
	}
	return b.Delay(failed), true
}

func validate(job *models.PublicationJob) error {
	if job == nil || job.IdempotencyKey == "" || job.PublicationID == "" || !job.Platform.Valid() {
		return ErrInvalidJob
	}
	return nil
}
