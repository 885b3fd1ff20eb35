package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/ripplecast/internal/models"
)

type GormPublications struct {
	db *gorm.DB
}

func NewGormPublications(db *gorm.DB) *GormPublications {
	return &GormPublications{db: db}
}

func (r *GormPublications) Create(ctx context.Context, p *models.Publication) (*models.Publication, bool, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.StatusPending
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_id"}, {Name: "social_account_id"}},
			DoNothing: true,
		}).
		Create(p)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create publication: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return p, true, nil
	}
	return r.existing(ctx, p.ContentID, p.SocialAccountID)
}

func (r *GormPublications) existing(ctx context.Context, contentID, accountID string) (*models.Publication, bool, error) {
	var p models.Publication
	err := r.db.WithContext(ctx).
		Where("content_id = ? AND social_account_id = ?", contentID, accountID).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, ErrConflict
	}
	if err != nil {
		return nil, false, fmt.Errorf("load publication: %w", err)
	}
	return &p, false, nil
}

func (r *GormPublications) Get(ctx context.Context, id string) (*models.Publication, error) {
	var p models.Publication
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get publication %s: %w", id, err)
	}
	return &p, nil
}

func (r *GormPublications) ListByContent(ctx context.Context, contentID string) ([]models.Publication, error) {
	var out []models.Publication
	err := r.db.WithContext(ctx).Where("content_id = ?", contentID).Order("created_at").Find(&out).Error
	return out, err
}

func (r *GormPublications) Transition(ctx context.Context, id string, t Transition) (bool, error) {
	if len(t.From) == 0 {
		return false, fmt.Errorf("transition to %s: no source status", t.To)
	}
	updates := t.fields()
	if t.CountAttempt {
		updates["attempts"] = gorm.Expr("attempts + 1")
	}
	q := r.db.WithContext(ctx).
		Model(&models.Publication{}).
		Where("id = ? AND status IN ?", id, t.From)
	if t.DueBy != nil {
		q = q.Where("scheduled_at IS NULL OR scheduled_at <= ?", *t.DueBy)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("transition %s to %s: %w", id, t.To, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *GormPublications) ListDue(ctx context.Context, statuses []models.PublicationStatus, now time.Time, limit int) ([]models.Publication, error) {
	var out []models.Publication
	q := r.db.WithContext(ctx).
		Where("status IN ? AND (scheduled_at IS NULL OR scheduled_at <= ?)", statuses, now).
		Order("scheduled_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *GormPublications) StatusCounts(ctx context.Context, contentID string) (map[models.PublicationStatus]int, error) {
	var rows []struct {
		Status models.PublicationStatus
		N      int
	}
	err := r.db.WithContext(ctx).
		Model(&models.Publication{}).
		Select("status, count(*) AS n").
		Where("content_id = ?", contentID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.PublicationStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}
