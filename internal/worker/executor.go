// Package worker drains the publication queue and records the outcome of every attempt.
package worker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/events"
	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
	"github.com/ifuryst/ripplecast/internal/queue"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
	"github.com/ifuryst/ripplecast/internal/store"
	"github.com/ifuryst/ripplecast/pkg/util"
)

type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeFailed    Outcome = "failed"
)

// Auditor appends audit log entries.
type Auditor interface {
	Record(ctx context.Context, entry models.AuditLog) error
}

// Aggregator refreshes downstream rollups after a terminal outcome.
type Aggregator interface {
	RefreshContent(ctx context.Context, contentID string) error
}

var claimable = []models.PublicationStatus{models.StatusPending, models.StatusQueued}

type Executor struct {
	Publications store.Publications
	Accounts     store.Accounts
	Registry     *publisher.Registry
	Queue        queue.Queue
	Backoff      queue.Backoff
	Events       events.Publisher
	Audit        Auditor
	Aggregate    Aggregator
	Clock        poll.Clock
	Logger       *zap.Logger
}

// Execute runs one claimed job. Only infrastructure failures (store, queue) are returned as errors;
// publish failures are recorded on the publication and reported through the Outcome.
func (e *Executor) Execute(ctx context.Context, job *models.PublicationJob) (Outcome, error) {
	ctx, span := otel.Tracer("ripplecast/worker").Start(ctx, "publication.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("publication.id", job.PublicationID),
		attribute.String("publication.platform", string(job.Platform)),
		attribute.Int("job.attempt", job.Attempt),
	)
	logger := e.Logger.With(
		zap.String("publication_id", job.PublicationID),
		zap.String("platform", string(job.Platform)),
	)

	pub, err := e.Publications.Get(ctx, job.PublicationID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Info("Publication gone, dropping job")
		return OutcomeSkipped, nil
	}
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	now := e.Clock.Now()
	if !pub.DueAt(now) {
		logger.Info("Publication rescheduled into the future, dropping stale job",
			zap.Timep("scheduled_at", pub.ScheduledAt))
		return OutcomeSkipped, nil
	}
	if !pub.Status.Claimable() {
		logger.Info("Publication not claimable, dropping job", zap.String("status", string(pub.Status)))
		return OutcomeSkipped, nil
	}

	ok, err := e.Publications.Transition(ctx, pub.ID, store.Transition{
		From:         claimable,
		To:           models.StatusPublishing,
		CountAttempt: true,
		DueBy:        &now,
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if !ok {
		logger.Info("Publication claimed by another worker or rescheduled")
		return OutcomeSkipped, nil
	}
	attempt := pub.Attempts + 1
	span.SetAttributes(attribute.Int("publication.attempt", attempt))
	e.emit(ctx, events.StatusChanged{
		PublicationID: pub.ID,
		ContentID:     pub.ContentID,
		Platform:      pub.Platform,
		Status:        models.StatusPublishing,
		Previous:      pub.Status,
		Attempt:       attempt,
	})

	res, warnings, err := e.publish(ctx, pub, attempt, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.fail(ctx, job, pub, attempt, warnings, err, logger)
	}
	return e.succeed(ctx, pub, attempt, warnings, res, logger)
}

func (e *Executor) publish(ctx context.Context, pub *models.Publication, attempt int, logger *zap.Logger) (*publisher.Result, []string, error) {
	account, err := e.Accounts.Get(ctx, pub.SocialAccountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, publisher.ConfigError(pub.Platform, "social account %s not found", pub.SocialAccountID)
	}
	if err != nil {
		return nil, nil, publisher.TransientError(pub.Platform, err, "load social account")
	}
	if account.Platform != "" && account.Platform != pub.Platform {
		return nil, nil, publisher.ConfigError(pub.Platform, "social account %s belongs to %s", account.ID, account.Platform)
	}

	provider, err := e.Registry.Get(pub.Platform)
	if err != nil {
		return nil, nil, err
	}
	req := &publisher.Request{
		PublicationID: pub.ID,
		Content:       pub.Content,
		Account:       account,
		Attempt:       attempt,
	}

	var warnings []string
	if pf, ok := provider.(publisher.Preflighter); ok {
		warnings = pf.Preflight(ctx, req)
		for _, w := range warnings {
			logger.Warn("Preflight warning", zap.String("warning", w))
		}
		if len(warnings) > 0 {
			e.audit(ctx, pub, "publication.preflight_warning", models.SeverityWarn, models.JSONMap{"warnings": warnings})
		}
	}

	ctx, span := otel.Tracer("ripplecast/worker").Start(ctx, "provider.publish")
	defer span.End()
	span.SetAttributes(attribute.String("provider", string(pub.Platform)))
	res, err := provider.Publish(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, warnings, err
	}
	if res == nil {
		return nil, warnings, publisher.ValidationError(pub.Platform, "provider returned no result")
	}
	return res, warnings, nil
}

func (e *Executor) succeed(ctx context.Context, pub *models.Publication, attempt int, warnings []string, res *publisher.Result, logger *zap.Logger) (Outcome, error) {
	publishedAt := res.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = e.Clock.Now()
	}
	publishedAt = publishedAt.UTC()
	ctx = context.WithoutCancel(ctx)

	payload := models.JSONMap{}
	for k, v := range res.Payload {
		payload[k] = v
	}
	payload["attempt"] = attempt
	if res.Permalink != "" {
		payload["permalink"] = res.Permalink
	}
	if len(warnings) > 0 {
		payload["preflight_warnings"] = warnings
	}

	ok, err := e.Publications.Transition(ctx, pub.ID, store.Transition{
		From:           []models.PublicationStatus{models.StatusPublishing},
		To:             models.StatusSuccess,
		PublishedAt:    &publishedAt,
		PlatformPostID: res.PlatformPostID,
		Payload:        payload,
	})
	if err != nil {
		return "", err
	}
	if !ok {
		logger.Warn("Publication changed while publishing, success not recorded",
			zap.String("platform_post_id", res.PlatformPostID))
	}

	logger.Info("Publication published",
		zap.String("platform_post_id", res.PlatformPostID),
		zap.String("method", res.Method),
		zap.Int("attempt", attempt))
	e.emit(ctx, events.StatusChanged{
		PublicationID:  pub.ID,
		ContentID:      pub.ContentID,
		Platform:       pub.Platform,
		Status:         models.StatusSuccess,
		Previous:       models.StatusPublishing,
		Attempt:        attempt,
		PlatformPostID: res.PlatformPostID,
		Permalink:      res.Permalink,
	})
	e.audit(ctx, pub, "publication.succeeded", models.SeverityInfo, models.JSONMap{
		"platform_post_id": res.PlatformPostID,
		"permalink":        res.Permalink,
		"method":           res.Method,
		"attempt":          attempt,
	})
	e.aggregate(ctx, pub.ContentID, logger)
	return OutcomeSucceeded, nil
}

func (e *Executor) fail(ctx context.Context, job *models.PublicationJob, pub *models.Publication, attempt int, warnings []string, cause error, logger *zap.Logger) (Outcome, error) {
	pe := publisher.Normalize(pub.Platform, cause)
	code := pe.Code
	if code == "" {
		code = string(pe.Kind)
	}
	message := util.Truncate(pe.Message, models.MaxErrorMessageLength)

	payload := models.JSONMap(pe.Snapshot())
	payload["attempt"] = attempt
	if len(warnings) > 0 {
		payload["preflight_warnings"] = warnings
	}

	// The job context may already be cancelled by the job timeout; outcome writes must still land.
	ctx = context.WithoutCancel(ctx)
	ok, err := e.Publications.Transition(ctx, pub.ID, store.Transition{
		From:         []models.PublicationStatus{models.StatusPublishing},
		To:           models.StatusFailed,
		ErrorCode:    code,
		ErrorMessage: message,
		Payload:      payload,
	})
	if err != nil {
		return "", err
	}
	if !ok {
		logger.Warn("Publication changed while publishing, failure not recorded", zap.String("error_code", code))
		return OutcomeFailed, nil
	}

	delay, retry := time.Duration(0), false
	if pe.Retryable {
		delay, retry = e.Backoff.Next(attempt)
	}

	fields := []zap.Field{
		zap.String("error_kind", string(pe.Kind)),
		zap.String("error_code", code),
		zap.String("error", message),
		zap.Bool("retryable", pe.Retryable),
		zap.Int("attempt", attempt),
	}
	event := events.StatusChanged{
		PublicationID: pub.ID,
		ContentID:     pub.ContentID,
		Platform:      pub.Platform,
		Status:        models.StatusFailed,
		Previous:      models.StatusPublishing,
		Attempt:       attempt,
		ErrorCode:     code,
		ErrorMessage:  message,
		Retrying:      retry,
	}

	if retry {
		requeued, err := e.Publications.Transition(ctx, pub.ID, store.Transition{
			From: []models.PublicationStatus{models.StatusFailed},
			To:   models.StatusQueued,
		})
		if err != nil {
			return "", err
		}
		if requeued {
			next := *job
			next.Attempt = attempt
			if err := e.Queue.Requeue(ctx, &next, delay); err != nil {
				return "", err
			}
			logger.Warn("Publish attempt failed, retry scheduled", append(fields, zap.Duration("retry_in", delay))...)
			e.emit(ctx, event)
			e.audit(ctx, pub, "publication.retry_scheduled", models.SeverityWarn, withDelay(payload, delay))
			return OutcomeRetrying, nil
		}
		event.Retrying = false
	}

	logger.Error("Publication failed", fields...)
	e.emit(ctx, event)
	e.audit(ctx, pub, "publication.failed", models.SeverityError, payload)
	e.aggregate(ctx, pub.ContentID, logger)
	return OutcomeFailed, nil
}

func withDelay(payload models.JSONMap, delay time.Duration) models.JSONMap {
	out := models.JSONMap{}
	for k, v := range payload {
		out[k] = v
	}
	out["retry_in"] = delay.String()
	return out
}

func (e *Executor) emit(ctx context.Context, event events.StatusChanged) {
	if e.Events == nil {
		return
	}
	if event.At.IsZero() {
		event.At = e.Clock.Now().UTC()
	}
	if err := e.Events.Publish(ctx, event); err != nil {
		e.Logger.Warn("Failed to emit status event",
			zap.String("publication_id", event.PublicationID),
			zap.String("status", string(event.Status)),
			zap.Error(err))
	}
}

func (e *Executor) audit(ctx context.Context, pub *models.Publication, key string, severity models.Severity, payload models.JSONMap) {
	if e.Audit == nil {
		return
	}
	entry := models.AuditLog{
		EventKey:      key,
		Severity:      severity,
		Platform:      pub.Platform,
		PublicationID: pub.ID,
		ContentID:     pub.ContentID,
		Payload:       payload,
	}
	if err := e.Audit.Record(ctx, entry); err != nil {
		e.Logger.Warn("Failed to write audit log", zap.String("event_key", key), zap.Error(err))
	}
}

func (e *Executor) aggregate(ctx context.Context, contentID string, logger *zap.Logger) {
	if e.Aggregate == nil {
		return
	}
	if err := e.Aggregate.RefreshContent(ctx, contentID); err != nil {
		logger.Warn("Failed to refresh content summary", zap.Error(err))
	}
}
