package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/config"
	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
	"github.com/ifuryst/ripplecast/internal/store"
)

const reconcileBatch = 500

// Scheduler periodically restores queue jobs for due publications that lost theirs,
// e.g. when the process stopped between creating a publication and queueing it.
type Scheduler struct {
	config       *config.SchedulerConfig
	logger       *zap.Logger
	publications store.Publications
	service      *PublicationService
	clock        poll.Clock
	parser       cron.Parser
	c            *cron.Cron
}

func NewScheduler(cfg *config.SchedulerConfig, logger *zap.Logger, publications store.Publications, service *PublicationService, clock poll.Clock) *Scheduler {
	if clock == nil {
		clock = poll.RealClock()
	}
	return &Scheduler{
		config:       cfg,
		logger:       logger,
		publications: publications,
		service:      service,
		clock:        clock,
		parser:       cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	schedule, err := s.parser.Parse(s.config.ReconcileSpec)
	if err != nil {
		s.logger.Error("Invalid reconcile schedule", zap.String("spec", s.config.ReconcileSpec), zap.Error(err))
		return fmt.Errorf("parse reconcile spec %q: %w", s.config.ReconcileSpec, err)
	}

	s.logger.Info("Starting scheduler", zap.String("reconcile_spec", s.config.ReconcileSpec))

	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(time.UTC))
	s.c.Schedule(schedule, cron.FuncJob(func() {
		if _, err := s.Reconcile(ctx); err != nil {
			s.logger.Error("Scheduled reconcile failed", zap.Error(err))
		}
	}))
	s.c.Start()

	// Run first reconcile immediately
	go func() {
		if _, err := s.Reconcile(ctx); err != nil {
			s.logger.Error("Initial reconcile failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Scheduler) Stop() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.logger.Info("Scheduler shutdown completed")
}

// Reconcile requeues due PENDING or QUEUED publications that have no outstanding job
// and returns how many jobs it created.
func (s *Scheduler) Reconcile(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	start := time.Now()
	due, err := s.publications.ListDue(ctx, []models.PublicationStatus{models.StatusPending, models.StatusQueued}, s.clock.Now(), reconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("list due publications: %w", err)
	}

	restored := 0
	for i := range due {
		pub := &due[i]
		created, err := s.service.Requeue(ctx, pub)
		if err != nil {
			s.logger.Error("Failed to requeue publication",
				zap.String("publication_id", pub.ID),
				zap.Error(err))
			continue
		}
		if created {
			restored++
			s.logger.Warn("Restored missing job",
				zap.String("publication_id", pub.ID),
				zap.String("platform", string(pub.Platform)),
				zap.String("status", string(pub.Status)))
		}
	}

	s.logger.Debug("Reconcile completed",
		zap.Int("due", len(due)),
		zap.Int("restored", restored),
		zap.Duration("duration", time.Since(start)))
	return restored, nil
}
