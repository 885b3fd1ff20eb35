package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/queue"
)

// retention of platform stats and informational audit rows
const statsRetentionDays = 90

// StatsUpdater refreshes the daily platform stats and reports queue depth on an interval.
type StatsUpdater struct {
	monitoring *MonitoringService
	queue      queue.Queue
	platforms  []models.Platform
	logger     *zap.Logger
	interval   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewStatsUpdater(monitoring *MonitoringService, q queue.Queue, platforms []models.Platform, logger *zap.Logger, interval time.Duration) *StatsUpdater {
	return &StatsUpdater{
		monitoring: monitoring,
		queue:      q,
		platforms:  platforms,
		logger:     logger.Named("stats"),
		interval:   interval,
	}
}

func (s *StatsUpdater) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("Starting stats updater", zap.Duration("interval", s.interval))
		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Stats updater stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop waits for a running refresh to finish.
func (s *StatsUpdater) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *StatsUpdater) tick(ctx context.Context) {
	if err := s.monitoring.UpdatePlatformStats(ctx, time.Now()); err != nil {
		s.logger.Error("Failed to update platform stats", zap.Error(err))
	}
	if err := s.monitoring.CleanupOldData(ctx, statsRetentionDays); err != nil {
		s.logger.Error("Failed to cleanup old data", zap.Error(err))
	}
	s.reportQueueDepth(ctx)
}

func (s *StatsUpdater) reportQueueDepth(ctx context.Context) {
	if s.queue == nil {
		return
	}
	fields := make([]zap.Field, 0, len(s.platforms))
	for _, p := range s.platforms {
		n, err := s.queue.Pending(ctx, p)
		if err != nil {
			s.logger.Warn("Failed to count pending jobs", zap.String("platform", string(p)), zap.Error(err))
			continue
		}
		fields = append(fields, zap.Int64(string(p), n))
	}
	s.logger.Info("Queue depth", fields...)
}
