package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/store"
)

// MonitoringService writes the audit log and maintains the per-content and per-platform rollups.
type MonitoringService struct {
	db           *gorm.DB
	publications store.Publications
	logger       *zap.Logger
}

func NewMonitoringService(db *gorm.DB, publications store.Publications, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:           db,
		publications: publications,
		logger:       logger,
	}
}

// Record appends an audit log entry
func (m *MonitoringService) Record(ctx context.Context, entry models.AuditLog) error {
	return m.db.WithContext(ctx).Create(&entry).Error
}

// RefreshContent recomputes the content summary from its publications
func (m *MonitoringService) RefreshContent(ctx context.Context, contentID string) error {
	counts, err := m.publications.StatusCounts(ctx, contentID)
	if err != nil {
		return fmt.Errorf("count publications of %s: %w", contentID, err)
	}
	summary := models.Rollup(counts)
	summary.ContentID = contentID

	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "total", "succeeded", "failed", "in_progress", "skipped", "updated_at"}),
	}).Create(&summary).Error
}

// GetContentSummary returns the rollup for one content item
func (m *MonitoringService) GetContentSummary(ctx context.Context, contentID string) (*models.ContentSummary, error) {
	var summary models.ContentSummary
	err := m.db.WithContext(ctx).Where("content_id = ?", contentID).Take(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	return &summary, err
}

// UpdatePlatformStats 更新平台统计数据
func (m *MonitoringService) UpdatePlatformStats(ctx context.Context, now time.Time) error {
	today := now.UTC().Truncate(24 * time.Hour)
	db := m.db.WithContext(ctx)

	for _, platform := range models.AllPlatforms() {
		var total, succeeded, failed, pending int64
		base := func() *gorm.DB { return db.Model(&models.Publication{}).Where("platform = ?", platform) }
		if err := base().Where("created_at >= ?", today).Count(&total).Error; err != nil {
			return err
		}
		base().Where("status = ? AND published_at >= ?", models.StatusSuccess, today).Count(&succeeded)
		base().Where("status = ? AND updated_at >= ?", models.StatusFailed, today).Count(&failed)
		base().Where("status IN ?", []models.PublicationStatus{models.StatusPending, models.StatusQueued, models.StatusPublishing}).Count(&pending)

		// seconds between the scheduled and the actual publish time
		var avgDelay float64
		base().Select("COALESCE(AVG(EXTRACT(EPOCH FROM (published_at - COALESCE(scheduled_at, created_at)))), 0)").
			Where("status = ? AND published_at >= ?", models.StatusSuccess, today).
			Scan(&avgDelay)

		var lastSuccess, lastFailure models.Publication
		stats := models.PlatformStats{
			Date:            today,
			Platform:        platform,
			TotalJobs:       int(total),
			SuccessfulJobs:  int(succeeded),
			FailedJobs:      int(failed),
			PendingJobs:     int(pending),
			AvgPublishDelay: avgDelay,
		}
		if base().Where("status = ?", models.StatusSuccess).Order("published_at desc").Take(&lastSuccess).Error == nil {
			stats.LastSuccessAt = lastSuccess.PublishedAt
		}
		if base().Where("status = ?", models.StatusFailed).Order("updated_at desc").Take(&lastFailure).Error == nil {
			stats.LastFailureAt = &lastFailure.UpdatedAt
		}

		err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "date"}, {Name: "platform"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"total_jobs", "successful_jobs", "failed_jobs", "pending_jobs",
				"avg_publish_delay", "last_success_at", "last_failure_at", "updated_at",
			}),
		}).Create(&stats).Error
		if err != nil {
			return fmt.Errorf("update %s stats: %w", platform, err)
		}
	}
	return nil
}

// GetPlatformStats 获取平台统计数据
func (m *MonitoringService) GetPlatformStats(ctx context.Context, days int) ([]models.PlatformStats, error) {
	var stats []models.PlatformStats
	startDate := time.Now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	err := m.db.WithContext(ctx).
		Where("date >= ?", startDate).
		Order("date desc, platform").
		Find(&stats).Error
	return stats, err
}

// GetRecentAudit returns the newest audit entries, optionally for one publication
func (m *MonitoringService) GetRecentAudit(ctx context.Context, publicationID string, limit int) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	q := m.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if publicationID != "" {
		q = q.Where("publication_id = ?", publicationID)
	}
	err := q.Find(&logs).Error
	return logs, err
}

// CleanupOldData 清理旧数据
func (m *MonitoringService) CleanupOldData(ctx context.Context, daysToKeep int) error {
	cutoffDate := time.Now().AddDate(0, 0, -daysToKeep)
	db := m.db.WithContext(ctx)

	if err := db.Where("date < ?", cutoffDate).Delete(&models.PlatformStats{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup platform stats: %w", err)
	}
	if err := db.Where("created_at < ? AND severity = ?", cutoffDate, models.SeverityInfo).Delete(&models.AuditLog{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup audit logs: %w", err)
	}
	return nil
}
