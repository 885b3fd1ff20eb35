package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/ripplecast/internal/config"
	"github.com/ifuryst/ripplecast/internal/events"
	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
	"github.com/ifuryst/ripplecast/internal/queue"
	"github.com/ifuryst/ripplecast/internal/service"
	"github.com/ifuryst/ripplecast/internal/store"
	"github.com/ifuryst/ripplecast/internal/worker"
)

// Stats is the read side of the monitoring service used by the API.
type Stats interface {
	GetPlatformStats(ctx context.Context, days int) ([]models.PlatformStats, error)
	GetContentSummary(ctx context.Context, contentID string) (*models.ContentSummary, error)
	GetRecentAudit(ctx context.Context, publicationID string, limit int) ([]models.AuditLog, error)
}

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Publications *service.PublicationService
	Stats        Stats
	Auth         *service.AuthService
	Queue        queue.Queue
	Platforms    []models.Platform
	Hub          *events.Hub
	Events       events.Publisher
	Workers      *worker.Manager
	Scheduler    *service.Scheduler
	StatsUpdater *service.StatsUpdater
}

func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := service.Migrate(db); err != nil {
		return nil, err
	}

	clock := poll.RealClock()
	publications := store.NewGormPublications(db)
	accounts := store.NewGormAccounts(db)

	var q queue.Queue
	switch cfg.Queue.Driver {
	case "memory":
		logger.Warn("Using in-memory queue, queued jobs are lost on restart")
		q = queue.NewMemoryQueue(clock)
	default:
		q = queue.NewGormQueue(db, clock)
	}

	hub := events.NewHub(logger)
	sinks, err := events.New(ctx, cfg.Events, hub, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event sinks: %w", err)
	}

	monitoring := service.NewMonitoringService(db, publications, logger)

	registry, err := service.NewProviderRegistry(cfg, service.ProviderDeps(cfg, clock, logger), logger)
	if err != nil {
		_ = sinks.Close()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	executor := &worker.Executor{
		Publications: publications,
		Accounts:     accounts,
		Registry:     registry,
		Queue:        q,
		Backoff: queue.Backoff{
			BaseDelay:   config.Duration(cfg.Queue.BaseDelay, queue.DefaultBackoff().BaseDelay),
			MaxAttempts: cfg.Queue.MaxAttempts,
		},
		Events:    sinks,
		Audit:     monitoring,
		Aggregate: monitoring,
		Clock:     clock,
		Logger:    logger.Named("worker"),
	}
	var pools []*worker.Pool
	for _, platform := range registry.Platforms() {
		pc := cfg.Worker.Platforms[string(platform)]
		pools = append(pools, worker.NewPool(platform, worker.PoolOptions{
			Concurrency:   pc.Concurrency,
			RatePerSecond: pc.RatePerSecond,
			Burst:         pc.Burst,
			JobTimeout:    config.Duration(pc.JobTimeout, config.Duration(cfg.Worker.JobTimeout, 15*time.Minute)),
			PollInterval:  config.Duration(cfg.Queue.PollInterval, time.Second),
		}, q, executor, clock, logger))
	}

	publicationService := service.NewPublicationService(publications, accounts, q, sinks, monitoring, monitoring, clock, logger.Named("publications"))

	// Create router
	router := gin.New()

	// Create server
	srv := &Server{
		Config:       cfg,
		DB:           db,
		Router:       router,
		Logger:       logger,
		Publications: publicationService,
		Stats:        monitoring,
		Auth:         service.NewAuthService(logger, cfg.Auth.TOTPSecret),
		Queue:        q,
		Platforms:    registry.Platforms(),
		Hub:          hub,
		Events:       sinks,
		Workers:      worker.NewManager(logger, pools...),
		Scheduler:    service.NewScheduler(&cfg.Scheduler, logger, publications, publicationService, clock),
		StatsUpdater: service.NewStatsUpdater(monitoring, q, registry.Platforms(), logger, config.Duration(cfg.Scheduler.StatsInterval, 5*time.Minute)),
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health"},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+service.TokenHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", s.handleHealth)

	// API routes
	api := s.Router.Group("/api/v1")
	if s.Auth != nil {
		api.Use(s.Auth.AuthMiddleware())
	}
	{
		api.POST("/jobs", s.handleEnqueueJob)

		publications := api.Group("/publications")
		{
			publications.POST("", s.handleCreatePublication)
			publications.GET("/:id", s.handleGetPublication)
			publications.PUT("/:id/schedule", s.handleReschedule)
			publications.POST("/:id/publish", s.handlePublishNow)
			publications.DELETE("/:id", s.handleCancel)
			publications.GET("/:id/audit", s.handleGetAudit)
		}

		contents := api.Group("/contents")
		{
			contents.GET("/:id/publications", s.handleListContentPublications)
			contents.GET("/:id/summary", s.handleGetContentSummary)
		}

		api.GET("/stats/platforms", s.handleGetPlatformStats)

		if s.Hub != nil {
			api.GET("/events", gin.WrapH(s.Hub))
		}
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s.Config.Worker.Enabled {
		s.Workers.Start(ctx)
	} else {
		s.Logger.Info("Workers are disabled")
	}

	// Start scheduler
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	s.StatsUpdater.Start(ctx)

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop scheduler first
	s.Scheduler.Stop()
	s.StatsUpdater.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var err error
	if s.Server != nil {
		err = s.Server.Shutdown(shutdownCtx)
	}

	// in-flight jobs finish and record their outcome before the sinks close
	s.Workers.Stop()
	if cerr := s.Events.Close(); cerr != nil {
		s.Logger.Warn("Failed to close event sinks", zap.Error(cerr))
	}
	_ = s.Hub.Close()

	if sqlDB, derr := s.DB.DB(); derr == nil {
		_ = sqlDB.Close()
	}
	return err
}
