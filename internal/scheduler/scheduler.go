package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"arbwatch/internal/clock"
)

// maxFetchDeadline caps the per-fetch deadline regardless of how far the
// backoff has stretched the interval.
const maxFetchDeadline = 10 * time.Second

// TickResult reports what the tick observed that the scheduler reacts to.
type TickResult struct {
	RateLimited bool
}

// TickFunc runs one polling cycle. The deadline bounds every fetch issued
// during the tick. A returned error is fatal and aborts the loop.
type TickFunc func(ctx context.Context, deadline time.Duration) (TickResult, error)

// Events receives backoff and cooldown transitions for the errors log.
type Events interface {
	BackoffApplied(sleep, newInterval time.Duration)
	CooldownRelaxed(newInterval time.Duration)
}

// Options tune scheduler behaviour.
type Options struct {
	BaseInterval time.Duration
	// OnRateLimitAlert fires when the third 429 inside the trailing window
	// escalates the backoff.
	OnRateLimitAlert func()
}

// Scheduler drives ticks on an absolute schedule: a slow tick causes the
// next slot to be skipped, not the schedule to drift. It owns the
// rate-limit state.
type Scheduler struct {
	opts   Options
	rate   *RateLimitState
	clk    clock.Clock
	events Events
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, clk clock.Clock, events Events, logger zerolog.Logger) *Scheduler {
	if opts.BaseInterval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		rate:   NewRateLimitState(opts.BaseInterval),
		clk:    clk,
		events: events,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// RateLimit exposes the owned state for checkpointing and restore.
func (s *Scheduler) RateLimit() *RateLimitState { return s.rate }

// Run blocks, invoking the tick function until ctx is cancelled or the tick
// reports a fatal error.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	next := s.clk.Now()
	for {
		if err := s.clk.Sleep(ctx, next.Sub(s.clk.Now())); err != nil {
			return err
		}

		deadline := s.rate.Current()
		if deadline > maxFetchDeadline {
			deadline = maxFetchDeadline
		}

		res, err := tick(ctx, deadline)
		if err != nil {
			return err
		}

		now := s.clk.Now()
		if res.RateLimited {
			sleep, alert := s.rate.Observe429(now)
			interval := s.rate.Current()
			s.events.BackoffApplied(sleep, interval)
			s.logger.Warn().
				Dur("sleep", sleep).
				Dur("new_interval", interval).
				Msg("rate limited; backing off")
			if alert && s.opts.OnRateLimitAlert != nil {
				s.opts.OnRateLimitAlert()
			}
			next = now.Add(sleep)
			continue
		}

		if interval, relaxed := s.rate.MaybeRelax(now); relaxed {
			s.events.CooldownRelaxed(interval)
			s.logger.Info().Dur("new_interval", interval).Msg("cooldown: interval relaxed")
		}

		interval := s.rate.Current()
		next = next.Add(interval)
		for !next.After(now) {
			next = next.Add(interval)
		}
	}
}
