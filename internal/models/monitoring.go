package models

import (
	"time"
)

type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// AuditLog is an append-only record of pipeline events
type AuditLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	EventKey      string    `gorm:"size:100;not null;index" json:"event_key"`
	Severity      Severity  `gorm:"size:20;not null;index" json:"severity"`
	Platform      Platform  `gorm:"size:20;index" json:"platform"`
	PublicationID string    `gorm:"size:36;index" json:"publication_id"`
	ContentID     string    `gorm:"size:64;index" json:"content_id"`
	Payload       JSONMap   `gorm:"type:jsonb" json:"payload"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// PlatformStats 平台级别每日统计
type PlatformStats struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Date            time.Time  `gorm:"not null;uniqueIndex:ux_platform_stats_day,priority:1" json:"date"`
	Platform        Platform   `gorm:"size:20;not null;uniqueIndex:ux_platform_stats_day,priority:2" json:"platform"`
	TotalJobs       int        `gorm:"default:0" json:"total_jobs"`
	SuccessfulJobs  int        `gorm:"default:0" json:"successful_jobs"`
	FailedJobs      int        `gorm:"default:0" json:"failed_jobs"`
	PendingJobs     int        `gorm:"default:0" json:"pending_jobs"`
	AvgPublishDelay float64    `gorm:"default:0" json:"avg_publish_delay"` // seconds between scheduled and published
	LastSuccessAt   *time.Time `json:"last_success_at"`
	LastFailureAt   *time.Time `json:"last_failure_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type ContentStatus string

const (
	ContentScheduled          ContentStatus = "SCHEDULED"
	ContentPublishing         ContentStatus = "PUBLISHING"
	ContentPublished          ContentStatus = "PUBLISHED"
	ContentPartiallyPublished ContentStatus = "PARTIALLY_PUBLISHED"
	ContentFailed             ContentStatus = "FAILED"
)

// ContentSummary is the rollup of every publication for one content item
type ContentSummary struct {
	ContentID  string        `gorm:"primaryKey;size:64" json:"content_id"`
	Status     ContentStatus `gorm:"size:30;not null" json:"status"`
	Total      int           `gorm:"default:0" json:"total"`
	Succeeded  int           `gorm:"default:0" json:"succeeded"`
	Failed     int           `gorm:"default:0" json:"failed"`
	InProgress int           `gorm:"default:0" json:"in_progress"`
	Skipped    int           `gorm:"default:0" json:"skipped"`
	UpdatedAt  time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// Rollup derives the content status from publication status counts.
func Rollup(counts map[PublicationStatus]int) ContentSummary {
	s := ContentSummary{
		Succeeded:  counts[StatusSuccess],
		Failed:     counts[StatusFailed],
		InProgress: counts[StatusPending] + counts[StatusQueued] + counts[StatusPublishing],
		Skipped:    counts[StatusSkipped],
	}
	s.Total = s.Succeeded + s.Failed + s.InProgress + s.Skipped

	switch {
	case counts[StatusPublishing] > 0:
		s.Status = ContentPublishing
	case s.InProgress > 0:
		s.Status = ContentScheduled
	case s.Succeeded > 0 && s.Failed == 0:
		s.Status = ContentPublished
	case s.Succeeded > 0 && s.Failed > 0:
		s.Status = ContentPartiallyPublished
	case s.Failed > 0:
		s.Status = ContentFailed
	default:
		s.Status = ContentScheduled
	}
	return s
}
