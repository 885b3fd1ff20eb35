package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/events"
	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
	"github.com/ifuryst/ripplecast/internal/queue"
	"github.com/ifuryst/ripplecast/internal/store"
	"github.com/ifuryst/ripplecast/internal/worker"
)

var (
	ErrInFlight       = errors.New("publication is being published")
	ErrNotCancellable = errors.New("publication can no longer be cancelled")
	ErrUnknownAccount = errors.New("social account not found")
	ErrInvalidRequest = errors.New("invalid request")
)

var (
	reschedulable = []models.PublicationStatus{
		models.StatusPending, models.StatusQueued, models.StatusSuccess, models.StatusFailed, models.StatusSkipped,
	}
	cancellable = []models.PublicationStatus{models.StatusPending, models.StatusQueued, models.StatusFailed}
)

type CreatePublicationRequest struct {
	ContentID       string                 `json:"contentId" binding:"required"`
	SocialAccountID string                 `json:"socialAccountId" binding:"required"`
	ScheduledAt     *time.Time             `json:"scheduledAt"`
	Content         models.ContentSnapshot `json:"content"`
}

// JobRequest is the inbound job schema. IdempotencyKey is optional but must match platform:publicationId when set.
type JobRequest struct {
	PublicationID  string     `json:"publicationId" binding:"required"`
	Platform       string     `json:"platform" binding:"required"`
	ScheduledAt    *time.Time `json:"scheduledAt"`
	IdempotencyKey string     `json:"idempotencyKey"`
}

// PublicationService turns publish requests into queued jobs and keeps publication status in step with the queue.
type PublicationService struct {
	publications store.Publications
	accounts     store.Accounts
	queue        queue.Queue
	events       events.Publisher
	audit        worker.Auditor
	aggregate    worker.Aggregator
	clock        poll.Clock
	logger       *zap.Logger
}

func NewPublicationService(
	publications store.Publications,
	accounts store.Accounts,
	q queue.Queue,
	ev events.Publisher,
	audit worker.Auditor,
	aggregate worker.Aggregator,
	clock poll.Clock,
	logger *zap.Logger,
) *PublicationService {
	if clock == nil {
		clock = poll.RealClock()
	}
	return &PublicationService{
		publications: publications,
		accounts:     accounts,
		queue:        q,
		events:       ev,
		audit:        audit,
		aggregate:    aggregate,
		clock:        clock,
		logger:       logger,
	}
}

// Create registers a publication for one (content, account) pair and queues it. A repeated request for the
// same pair returns the existing publication with created=false and queues nothing new.
func (s *PublicationService) Create(ctx context.Context, req CreatePublicationRequest) (*models.Publication, bool, error) {
	account, err := s.accounts.Get(ctx, req.SocialAccountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownAccount, req.SocialAccountID)
	}
	if err != nil {
		return nil, false, err
	}
	if !account.Platform.Valid() {
		return nil, false, fmt.Errorf("%w: account %s has unsupported platform %q", ErrInvalidRequest, account.ID, account.Platform)
	}

	content := req.Content
	if content.ContentID == "" {
		content.ContentID = req.ContentID
	}
	if content.ContentID != req.ContentID {
		return nil, false, fmt.Errorf("%w: content snapshot belongs to %s", ErrInvalidRequest, content.ContentID)
	}

	pub, created, err := s.publications.Create(ctx, &models.Publication{
		ContentID:       req.ContentID,
		SocialAccountID: account.ID,
		Platform:        account.Platform,
		Status:          models.StatusPending,
		ScheduledAt:     req.ScheduledAt,
		Content:         content,
	})
	if err != nil {
		return nil, false, err
	}
	if !created {
		s.logger.Info("Publication already exists",
			zap.String("publication_id", pub.ID),
			zap.String("status", string(pub.Status)))
		return pub, false, nil
	}

	s.record(ctx, s.entry(pub, "publication.created", models.SeverityInfo, models.JSONMap{
		"scheduled_at": pub.ScheduledAt,
	}))
	if _, _, err := s.enqueue(ctx, pub, pub.ScheduledAt); err != nil {
		return nil, false, err
	}
	return s.publications.Get(ctx, pub.ID)
}

// EnqueueJob accepts an inbound job for an existing publication.
func (s *PublicationService) EnqueueJob(ctx context.Context, req JobRequest) (*models.PublicationJob, bool, error) {
	platform, err := models.ParsePlatform(req.Platform)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.IdempotencyKey != "" && req.IdempotencyKey != models.JobKey(platform, req.PublicationID) {
		return nil, false, fmt.Errorf("%w: idempotency key must be %s", ErrInvalidRequest, models.JobKey(platform, req.PublicationID))
	}

	pub, err := s.publications.Get(ctx, req.PublicationID)
	if err != nil {
		return nil, false, err
	}
	if pub.Platform != platform {
		return nil, false, fmt.Errorf("%w: publication targets %s", ErrInvalidRequest, pub.Platform)
	}
	if !pub.Status.Claimable() {
		return nil, false, fmt.Errorf("%w: publication is %s", ErrInvalidRequest, pub.Status)
	}

	scheduledAt := req.ScheduledAt
	if scheduledAt == nil {
		scheduledAt = pub.ScheduledAt
	}
	return s.enqueue(ctx, pub, scheduledAt)
}

// Reschedule moves a publication to a new time, or to now when scheduledAt is nil, replacing its queued job.
// Terminal publications are reset so they publish again.
func (s *PublicationService) Reschedule(ctx context.Context, id string, scheduledAt *time.Time) (*models.Publication, error) {
	pub, err := s.publications.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if pub.Status == models.StatusPublishing {
		return nil, ErrInFlight
	}

	ok, err := s.publications.Transition(ctx, id, store.Transition{
		From:        reschedulable,
		To:          models.StatusPending,
		Schedule:    true,
		ScheduledAt: scheduledAt,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		// a worker claimed it between the read and the update
		return nil, ErrInFlight
	}
	previous := pub.Status
	pub.Status = models.StatusPending
	pub.ScheduledAt = scheduledAt
	pub.Attempts = 0

	delay := models.DelayUntil(scheduledAt, s.clock.Now())
	if err := s.queue.Reschedule(ctx, models.NewJobFor(pub), delay); err != nil {
		return nil, fmt.Errorf("reschedule job: %w", err)
	}
	if _, err := s.markQueued(ctx, pub); err != nil {
		return nil, err
	}

	s.record(ctx, s.entry(pub, "publication.rescheduled", models.SeverityInfo, models.JSONMap{
		"previous_status": previous,
		"scheduled_at":    scheduledAt,
		"delay":           delay.String(),
	}))
	s.refresh(ctx, pub.ContentID)
	return s.publications.Get(ctx, id)
}

// PublishNow reschedules a publication to run immediately.
func (s *PublicationService) PublishNow(ctx context.Context, id string) (*models.Publication, error) {
	return s.Reschedule(ctx, id, nil)
}

// Cancel marks a publication SKIPPED and drops its queued job.
func (s *PublicationService) Cancel(ctx context.Context, id string) (*models.Publication, error) {
	pub, err := s.publications.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.publications.Transition(ctx, id, store.Transition{From: cancellable, To: models.StatusSkipped})
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.publications.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == models.StatusPublishing {
			return nil, ErrInFlight
		}
		return nil, fmt.Errorf("%w: publication is %s", ErrNotCancellable, current.Status)
	}

	removed, err := s.queue.Cancel(ctx, pub.IdempotencyKey())
	if err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	s.emit(ctx, pub, models.StatusSkipped, pub.Status)
	s.record(ctx, s.entry(pub, "publication.cancelled", models.SeverityInfo, models.JSONMap{
		"previous_status": pub.Status,
		"job_removed":     removed,
	}))
	s.refresh(ctx, pub.ContentID)
	return s.publications.Get(ctx, id)
}

func (s *PublicationService) Get(ctx context.Context, id string) (*models.Publication, error) {
	return s.publications.Get(ctx, id)
}

func (s *PublicationService) ListByContent(ctx context.Context, contentID string) ([]models.Publication, error) {
	return s.publications.ListByContent(ctx, contentID)
}

// Requeue restores the job of a PENDING or QUEUED publication that has none outstanding.
// It reports whether a job was created.
func (s *PublicationService) Requeue(ctx context.Context, pub *models.Publication) (bool, error) {
	has, err := s.queue.Has(ctx, pub.IdempotencyKey())
	if err != nil || has {
		return false, err
	}
	_, created, err := s.enqueue(ctx, pub, pub.ScheduledAt)
	return created, err
}

func (s *PublicationService) enqueue(ctx context.Context, pub *models.Publication, scheduledAt *time.Time) (*models.PublicationJob, bool, error) {
	job := models.NewJobFor(pub)
	job.ScheduledAt = scheduledAt
	job.Attempt = pub.Attempts

	queued, created, err := s.queue.Enqueue(ctx, job, models.DelayUntil(scheduledAt, s.clock.Now()))
	if err != nil {
		return nil, false, fmt.Errorf("enqueue publication %s: %w", pub.ID, err)
	}
	if _, err := s.markQueued(ctx, pub); err != nil {
		return nil, false, err
	}
	s.logger.Info("Publication queued",
		zap.String("publication_id", pub.ID),
		zap.String("platform", string(pub.Platform)),
		zap.Time("run_at", queued.RunAt),
		zap.Bool("created", created))
	return queued, created, nil
}

// markQueued moves PENDING to QUEUED. A publication already QUEUED is left alone.
func (s *PublicationService) markQueued(ctx context.Context, pub *models.Publication) (bool, error) {
	ok, err := s.publications.Transition(ctx, pub.ID, store.Transition{
		From: []models.PublicationStatus{models.StatusPending},
		To:   models.StatusQueued,
	})
	if err != nil {
		return false, fmt.Errorf("mark publication %s queued: %w", pub.ID, err)
	}
	if ok {
		s.emit(ctx, pub, models.StatusQueued, models.StatusPending)
	}
	return ok, nil
}

func (s *PublicationService) emit(ctx context.Context, pub *models.Publication, status, previous models.PublicationStatus) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, events.StatusChanged{
		PublicationID: pub.ID,
		ContentID:     pub.ContentID,
		Platform:      pub.Platform,
		Status:        status,
		Previous:      previous,
		Attempt:       pub.Attempts,
		At:            s.clock.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("Failed to emit status event", zap.String("publication_id", pub.ID), zap.Error(err))
	}
}

func (s *PublicationService) entry(pub *models.Publication, key string, severity models.Severity, payload models.JSONMap) models.AuditLog {
	return models.AuditLog{
		EventKey:      key,
		Severity:      severity,
		Platform:      pub.Platform,
		PublicationID: pub.ID,
		ContentID:     pub.ContentID,
		Payload:       payload,
	}
}

func (s *PublicationService) record(ctx context.Context, entry models.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("Failed to write audit log", zap.String("event_key", entry.EventKey), zap.Error(err))
	}
}

func (s *PublicationService) refresh(ctx context.Context, contentID string) {
	if s.aggregate == nil {
		return
	}
	if err := s.aggregate.RefreshContent(ctx, contentID); err != nil {
		s.logger.Warn("Failed to refresh content summary", zap.String("content_id", contentID), zap.Error(err))
	}
}
