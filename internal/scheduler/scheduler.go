package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Job is invoked once per interval with the bucket start time. The bucket,
// not the fire time, keys persisted artifacts so restarts land in the same
// file names.
type Job func(ctx context.Context, bucket time.Time) error

// Options tune the cadence.
type Options struct {
	// Interval between job runs.
	Interval time.Duration
	// Align snaps runs to wall-clock multiples of Interval, so an hourly
	// job fires at :00 rather than one hour after startup.
	Align bool
	// InitialDelay postpones the first run without shifting alignment.
	InitialDelay time.Duration
}

// Scheduler drives periodic persistence jobs.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking job at each interval until ctx is cancelled. Job
// errors are logged, never fatal; a slow job delays the next run rather
// than stacking up.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	if s.opts.InitialDelay > 0 {
		timer := time.NewTimer(s.opts.InitialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.next(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.next(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_run", next).Msg("waiting for next run")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		bucket := s.bucket(next)
		if err := job(ctx, bucket); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("scheduled job failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) next(now time.Time) time.Time {
	if !s.opts.Align {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

// bucket maps a fire time to the interval it closes: an aligned hourly run
// firing at 15:00 persists the 14:00 bucket.
func (s *Scheduler) bucket(fire time.Time) time.Time {
	if !s.opts.Align {
		return fire
	}
	return fire.Truncate(s.opts.Interval).Add(-s.opts.Interval)
}
