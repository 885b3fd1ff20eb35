package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

type PublicationStatus string

const (
	StatusPending    PublicationStatus = "PENDING"
	StatusQueued     PublicationStatus = "QUEUED"
	StatusPublishing PublicationStatus = "PUBLISHING"
	StatusSuccess    PublicationStatus = "SUCCESS"
	StatusFailed     PublicationStatus = "FAILED"
	StatusSkipped    PublicationStatus = "SKIPPED"
)

// MaxErrorMessageLength bounds the error message stored on a publication row.
const MaxErrorMessageLength = 500

// Claimable reports whether a worker may start publishing from this status.
func (s PublicationStatus) Claimable() bool {
	return s == StatusPending || s == StatusQueued
}

// Terminal reports whether the status ends an attempt lifecycle.
func (s PublicationStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

// Publication is one (content, social account) delivery and the audit trail of its attempts.
type Publication struct {
	ID              string            `gorm:"primaryKey;size:36" json:"id"`
	ContentID       string            `gorm:"size:64;not null;uniqueIndex:ux_publication_content_account,priority:1" json:"content_id"`
	SocialAccountID string            `gorm:"size:64;not null;uniqueIndex:ux_publication_content_account,priority:2" json:"social_account_id"`
	Platform        Platform          `gorm:"size:20;not null;index" json:"platform"`
	Status          PublicationStatus `gorm:"size:20;not null;index;default:'PENDING'" json:"status"`
	ScheduledAt     *time.Time        `gorm:"index" json:"scheduled_at"`
	PublishedAt     *time.Time        `json:"published_at"`
	PlatformPostID  string            `gorm:"size:255" json:"platform_post_id"`
	ErrorCode       string            `gorm:"size:100" json:"error_code"`
	ErrorMessage    string            `gorm:"size:500" json:"error_message"`
	PayloadSnapshot JSONMap           `gorm:"type:jsonb" json:"payload_snapshot"`
	Content         ContentSnapshot   `gorm:"type:jsonb" json:"content"`
	Attempts        int               `gorm:"default:0" json:"attempts"`
	CreatedAt       time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt    `gorm:"index" json:"deleted_at"`
}

// IdempotencyKey is the queue key for this publication.
func (p *Publication) IdempotencyKey() string {
	return JobKey(p.Platform, p.ID)
}

// DueAt reports whether the publication may run at now. Unscheduled publications are always due.
func (p *Publication) DueAt(now time.Time) bool {
	return p.ScheduledAt == nil || !p.ScheduledAt.After(now)
}

// JobKey builds the deterministic queue key for a publication.
func JobKey(platform Platform, publicationID string) string {
	return fmt.Sprintf("%s:%s", platform, publicationID)
}
