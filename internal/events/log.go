package events

import (
	"context"

	"go.uber.org/zap"
)

type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(ctx context.Context, e StatusChanged) error {
	fields := []zap.Field{
		zap.String("publication_id", e.PublicationID),
		zap.String("content_id", e.ContentID),
		zap.String("platform", string(e.Platform)),
		zap.String("status", string(e.Status)),
		zap.String("previous", string(e.Previous)),
		zap.Int("attempt", e.Attempt),
	}
	if e.PlatformPostID != "" {
		fields = append(fields, zap.String("platform_post_id", e.PlatformPostID))
	}
	if e.ErrorCode != "" || e.ErrorMessage != "" {
		fields = append(fields,
			zap.String("error_code", e.ErrorCode),
			zap.String("error_message", e.ErrorMessage),
			zap.Bool("retrying", e.Retrying))
		p.logger.Warn("Publication status changed", fields...)
		return nil
	}
	p.logger.Info("Publication status changed", fields...)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
