package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a poll loop exhausts its wait budget.
var ErrTimeout = errors.New("poll: wait budget exhausted")

// Func is evaluated once per attempt. Returning done=true or a non-nil error ends the loop.
type Func func(ctx context.Context, attempt int) (done bool, err error)

// Policy bounds a processing-status poll loop.
type Policy struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MinInterval  time.Duration
	MaxInterval  time.Duration
	MaxWait      time.Duration
	// Backoff multiplies the interval after each unfinished attempt. Values <= 1 keep it fixed.
	Backoff float64
	// Hint, when set, returns the platform's suggested wait after an unfinished attempt.
	// A positive hint replaces the computed interval for that sleep, clamped to the bounds.
	Hint func() time.Duration
}

// Bounds carries the global poll limits from configuration.
type Bounds struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	MaxWait     time.Duration
}

// MediaEstimate describes the asset a platform is processing.
type MediaEstimate struct {
	DurationSec float64
	SizeBytes   int64
}

// ForMedia derives a poll policy from the asset: longer and larger media poll less often.
func ForMedia(m MediaEstimate, b Bounds) Policy {
	interval := b.MinInterval
	if m.DurationSec > 0 {
		interval += time.Duration(m.DurationSec/10) * time.Second
	}
	if m.SizeBytes > 0 {
		interval += time.Duration(m.SizeBytes/(50<<20)) * time.Second
	}
	p := Policy{
		Interval:    interval,
		MinInterval: b.MinInterval,
		MaxInterval: b.MaxInterval,
		MaxWait:     b.MaxWait,
		Backoff:     1.5,
	}
	p.Interval = p.clamp(p.Interval)
	return p
}

func (p Policy) clamp(d time.Duration) time.Duration {
	if p.MinInterval > 0 && d < p.MinInterval {
		d = p.MinInterval
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d
}

// Run calls fn until it reports done, returns an error, or MaxWait elapses on clock.
func (p Policy) Run(ctx context.Context, clock Clock, fn Func) error {
	if clock == nil {
		clock = RealClock()
	}
	interval := p.clamp(p.Interval)
	if interval <= 0 {
		interval = time.Second
	}
	deadline := clock.Now().Add(p.MaxWait)

	if p.InitialDelay > 0 {
		if err := clock.Sleep(ctx, p.InitialDelay); err != nil {
			return err
		}
	}

	for attempt := 1; ; attempt++ {
		done, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		wait := interval
		if p.Hint != nil {
			if d := p.Hint(); d > 0 {
				wait = p.clamp(d)
			}
		}
		if p.MaxWait > 0 && !clock.Now().Add(wait).Before(deadline) {
			return fmt.Errorf("%w after %d attempts", ErrTimeout, attempt)
		}
		if err := clock.Sleep(ctx, wait); err != nil {
			return err
		}
		if p.Backoff > 1 {
			interval = p.clamp(time.Duration(float64(interval) * p.Backoff))
		}
	}
}
