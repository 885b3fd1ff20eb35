package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
	"github.com/ifuryst/ripplecast/internal/queue"
)

// PoolOptions sizes the pool of one platform.
type PoolOptions struct {
	Concurrency   int
	RatePerSecond float64
	Burst         int
	JobTimeout    time.Duration
	PollInterval  time.Duration
}

// Pool runs a bounded number of workers against one platform queue. Job starts are paced by a
// token bucket because each platform enforces its own request limits.
type Pool struct {
	platform models.Platform
	opts     PoolOptions
	queue    queue.Queue
	exec     *Executor
	limiter  *rate.Limiter
	clock    poll.Clock
	logger   *zap.Logger
}

func NewPool(platform models.Platform, opts PoolOptions, q queue.Queue, exec *Executor, clock poll.Clock, logger *zap.Logger) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	if clock == nil {
		clock = poll.RealClock()
	}
	return &Pool{
		platform: platform,
		opts:     opts,
		queue:    q,
		exec:     exec,
		limiter:  rate.NewLimiter(limit, burst),
		clock:    clock,
		logger:   logger.With(zap.String("platform", string(platform))),
	}
}

func (p *Pool) Platform() models.Platform { return p.platform }

// Run blocks until ctx is cancelled and every worker has finished its current job.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("Starting worker pool",
		zap.Int("concurrency", p.opts.Concurrency),
		zap.Float64("rate_per_second", p.opts.RatePerSecond),
		zap.Duration("job_timeout", p.opts.JobTimeout))

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, id int) {
	logger := p.logger.With(zap.Int("worker", id))
	for ctx.Err() == nil {
		worked, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("Worker iteration failed", zap.Error(err))
		}
		if !worked {
			if err := p.clock.Sleep(ctx, p.opts.PollInterval); err != nil {
				return
			}
		}
	}
}

// RunOnce claims and executes at most one due job. It reports whether a job was claimed.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.queue.Claim(ctx, p.platform, p.clock.Now())
	if err != nil || job == nil {
		return false, err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		// Shutting down: hand the job back rather than lose it.
		requeueErr := p.queue.Requeue(context.WithoutCancel(ctx), job, 0)
		return true, errors.Join(err, requeueErr)
	}

	// A claimed job runs to completion on shutdown, bounded only by its own timeout.
	jobCtx := context.WithoutCancel(ctx)
	if p.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, p.opts.JobTimeout)
		defer cancel()
	}
	outcome, err := p.exec.Execute(jobCtx, job)
	if err != nil {
		return true, err
	}
	p.logger.Debug("Job finished",
		zap.String("publication_id", job.PublicationID),
		zap.String("outcome", string(outcome)))
	return true, nil
}
