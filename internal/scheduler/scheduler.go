package scheduler

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per scheduled interval.
type TickFunc func(ctx context.Context) error

// Options tune scheduler behaviour. When MinInterval equals MaxInterval the
// loop runs at a fixed cadence; otherwise each delay is drawn uniformly from
// [MinInterval, MaxInterval].
type Options struct {
	MinInterval  time.Duration
	MaxInterval  time.Duration
	ErrorBackoff time.Duration
	StartupDelay time.Duration
}

// Scheduler drives a supervised periodic job. Tick errors are logged and
// followed by a short backoff; the loop itself only exits with the context.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.MinInterval <= 0 {
		panic("scheduler min interval must be positive")
	}
	if opts.MaxInterval < opts.MinInterval {
		opts.MaxInterval = opts.MinInterval
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		delay := s.nextDelay()
		s.logger.Debug().Dur("delay", delay).Msg("waiting for next tick")

		if err := sleep(ctx, delay); err != nil {
			return err
		}

		if err := tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Msg("tick execution failed")
			if s.opts.ErrorBackoff > 0 {
				if err := sleep(ctx, s.opts.ErrorBackoff); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	spread := s.opts.MaxInterval - s.opts.MinInterval
	if spread <= 0 {
		return s.opts.MinInterval
	}
	return s.opts.MinInterval + rand.N(spread+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
