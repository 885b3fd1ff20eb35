// Package store persists publications and reads the social accounts they target.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ifuryst/ripplecast/internal/models"
)

var (
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict means a publication for the same (content, account) pair was deleted and cannot be reused.
	ErrConflict = errors.New("store: publication exists in a deleted state")
)

// Transition is a compare-and-set status change. It applies only while the row is in one of From.
type Transition struct {
	From []models.PublicationStatus
	To   models.PublicationStatus

	PublishedAt    *time.Time
	PlatformPostID string
	ErrorCode      string
	ErrorMessage   string
	Payload        models.JSONMap

	// Schedule replaces scheduled_at (nil clears it) and resets the previous outcome and attempt count.
	Schedule    bool
	ScheduledAt *time.Time

	// CountAttempt increments the attempts counter.
	CountAttempt bool

	// DueBy, when set, also requires scheduled_at to be empty or not after it, so a claim loses
	// against a concurrent reschedule into the future.
	DueBy *time.Time
}

type Publications interface {
	// Create inserts p unless a publication for the same content and account exists, in which case
	// the existing row is returned with created=false.
	Create(ctx context.Context, p *models.Publication) (*models.Publication, bool, error)
	Get(ctx context.Context, id string) (*models.Publication, error)
	ListByContent(ctx context.Context, contentID string) ([]models.Publication, error)
	// Transition reports whether the row was in an expected status and has been updated.
	Transition(ctx context.Context, id string, t Transition) (bool, error)
	// ListDue returns publications in one of statuses whose schedule has passed.
	ListDue(ctx context.Context, statuses []models.PublicationStatus, now time.Time, limit int) ([]models.Publication, error)
	StatusCounts(ctx context.Context, contentID string) (map[models.PublicationStatus]int, error)
}

type Accounts interface {
	Get(ctx context.Context, id string) (*models.SocialAccount, error)
}

// fields is the column set a transition writes besides status.
func (t Transition) fields() map[string]any {
	f := map[string]any{"status": t.To}
	switch t.To {
	case models.StatusSuccess:
		f["published_at"] = t.PublishedAt
		f["platform_post_id"] = t.PlatformPostID
		f["error_code"] = ""
		f["error_message"] = ""
		f["payload_snapshot"] = t.Payload
	case models.StatusFailed:
		f["error_code"] = t.ErrorCode
		f["error_message"] = t.ErrorMessage
		f["payload_snapshot"] = t.Payload
	}
	if t.Schedule {
		f["scheduled_at"] = t.ScheduledAt
		f["published_at"] = nil
		f["platform_post_id"] = ""
		f["error_code"] = ""
		f["error_message"] = ""
		f["attempts"] = 0
	}
	return f
}

func (t Transition) allowed(from models.PublicationStatus) bool {
	for _, s := range t.From {
		if s == from {
			return true
		}
	}
	return false
}
