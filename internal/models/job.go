package models

import (
	"time"
)

// PublicationJob is a queued execution request. It is deleted when a worker claims it.
type PublicationJob struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	IdempotencyKey  string     `gorm:"size:128;not null;uniqueIndex" json:"idempotency_key"`
	PublicationID   string     `gorm:"size:36;not null;index" json:"publication_id"`
	ContentID       string     `gorm:"size:64" json:"content_id"`
	TargetAccountID string     `gorm:"size:64" json:"target_account_id"`
	Platform        Platform   `gorm:"size:20;not null;index:idx_job_platform_run_at,priority:1" json:"platform"`
	ScheduledAt     *time.Time `json:"scheduled_at"`
	RunAt           time.Time  `gorm:"not null;index:idx_job_platform_run_at,priority:2" json:"run_at"`
	Attempt         int        `gorm:"default:0" json:"attempt"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// NewJobFor builds the job that executes a publication.
func NewJobFor(p *Publication) *PublicationJob {
	return &PublicationJob{
		IdempotencyKey:  p.IdempotencyKey(),
		PublicationID:   p.ID,
		ContentID:       p.ContentID,
		TargetAccountID: p.SocialAccountID,
		Platform:        p.Platform,
		ScheduledAt:     p.ScheduledAt,
	}
}

// DelayUntil computes max(0, scheduledAt-now).
func DelayUntil(scheduledAt *time.Time, now time.Time) time.Duration {
	if scheduledAt == nil {
		return 0
	}
	d := scheduledAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
