package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
)

// GormQueue stores jobs in the publication_jobs table. A claim deletes the row inside a
// FOR UPDATE SKIP LOCKED transaction, so concurrent workers never receive the same job.
type GormQueue struct {
	db    *gorm.DB
	clock poll.Clock
}

func NewGormQueue(db *gorm.DB, clock poll.Clock) *GormQueue {
	if clock == nil {
		clock = poll.RealClock()
	}
	return &GormQueue{db: db, clock: clock}
}

func (q *GormQueue) Enqueue(ctx context.Context, job *models.PublicationJob, delay time.Duration) (*models.PublicationJob, bool, error) {
	if err := validate(job); err != nil {
		return nil, false, err
	}
	row := q.prepare(job, delay)

	res := q.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return nil, false, fmt.Errorf("enqueue %s: %w", job.IdempotencyKey, res.Error)
	}
	if res.RowsAffected == 1 {
		return row, true, nil
	}

	var existing models.PublicationJob
	err := q.db.WithContext(ctx).Where("idempotency_key = ?", job.IdempotencyKey).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Claimed between the insert and the read; the caller's job is not queued.
		return row, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load queued job %s: %w", job.IdempotencyKey, err)
	}
	return &existing, false, nil
}

func (q *GormQueue) Reschedule(ctx context.Context, job *models.PublicationJob, delay time.Duration) error {
	if err := validate(job); err != nil {
		return err
	}
	row := q.prepare(job, delay)
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("idempotency_key = ?", job.IdempotencyKey).Delete(&models.PublicationJob{}).Error; err != nil {
			return fmt.Errorf("remove queued job %s: %w", job.IdempotencyKey, err)
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("requeue %s: %w", job.IdempotencyKey, err)
		}
		return nil
	})
}

func (q *GormQueue) Cancel(ctx context.Context, key string) (bool, error) {
	res := q.db.WithContext(ctx).Where("idempotency_key = ?", key).Delete(&models.PublicationJob{})
	if res.Error != nil {
		return false, fmt.Errorf("cancel %s: %w", key, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (q *GormQueue) Claim(ctx context.Context, platform models.Platform, now time.Time) (*models.PublicationJob, error) {
	var claimed *models.PublicationJob
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.PublicationJob
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("platform = ? AND run_at <= ?", platform, now).
			Order("run_at").
			Take(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res := tx.Delete(&models.PublicationJob{}, "id = ?", job.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			claimed = &job
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim %s job: %w", platform, err)
	}
	return claimed, nil
}

func (q *GormQueue) Requeue(ctx context.Context, job *models.PublicationJob, delay time.Duration) error {
	retry := *job
	retry.ID = ""
	_, _, err := q.Enqueue(ctx, &retry, delay)
	return err
}

func (q *GormQueue) Pending(ctx context.Context, platform models.Platform) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&models.PublicationJob{}).Where("platform = ?", platform).Count(&n).Error
	return n, err
}

func (q *GormQueue) Has(ctx context.Context, key string) (bool, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&models.PublicationJob{}).Where("idempotency_key = ?", key).Count(&n).Error
	return n > 0, err
}

func (q *GormQueue) prepare(job *models.PublicationJob, delay time.Duration) *models.PublicationJob {
	row := *job
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if delay < 0 {
		delay = 0
	}
	now := q.clock.Now().UTC()
	row.RunAt = now.Add(delay)
	row.CreatedAt = now
	return &row
}
