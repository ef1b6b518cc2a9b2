// Package cron runs the periodic maintenance jobs of the matching engine under a distributed lock.
package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/catermatch-backend/pkg/logger"
	"github.com/angelmondragon/catermatch-backend/pkg/metrics"
)

const defaultInterval = time.Hour

var (
	errLoggerRequired = errors.New("cron: logger required")
	errLockRequired   = errors.New("cron: lock required")
)

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// CycleTimeout bounds one pass over the registry. Set it no higher than the lock TTL so a
	// cycle cannot outlive its lock. Zero disables the bound.
	CycleTimeout time.Duration
}

// Service executes registered jobs on a fixed cadence, one replica at a time.
type Service struct {
	logg         *logger.Logger
	registry     *Registry
	lock         Lock
	metrics      *metrics.CronJobMetrics
	interval     time.Duration
	cycleTimeout time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errLoggerRequired
	case params.Lock == nil:
		return nil, errLockRequired
	}
	s := &Service{
		logg:         params.Logger,
		registry:     params.Registry,
		lock:         params.Lock,
		metrics:      params.Metrics,
		interval:     params.Interval,
		cycleTimeout: params.CycleTimeout,
		now:          time.Now,
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	return s, nil
}

// Run executes a cycle immediately and then on every tick until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.cycle(ctx)
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) cycle(ctx context.Context) {
	ctx = s.logg.WithField(ctx, "cycle_id", uuid.NewString())
	err := s.RunOnce(ctx)
	if err == nil {
		s.logg.Debug(ctx, "scheduled run complete")
		return
	}
	s.logg.Error(s.logg.WithField(ctx, "failed_jobs", len(multierr.Errors(err))), "scheduled run failed", err)
}

// RunOnce runs every registered job once if the lock can be taken. A failing job does not stop
// the ones after it; their errors are combined.
func (s *Service) RunOnce(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
		return nil
	}
	defer s.release(ctx)

	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}

	var combined error
	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			combined = multierr.Append(combined, fmt.Errorf("%s: not started: %w", job.Name(), ctx.Err()))
			continue
		}
		if err := s.runJob(ctx, job); err != nil {
			combined = multierr.Append(combined, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	return combined
}

func (s *Service) release(ctx context.Context) {
	err := s.lock.Release(context.WithoutCancel(ctx))
	switch {
	case err == nil:
	case errors.Is(err, ErrLockLost):
		s.logg.WarnErr(ctx, "cron cycle outlived its lock; raise CATERMATCH_CRON_LOCK_TTL", err)
	default:
		s.logg.Error(ctx, "failed to release cron lock", err)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	ctx = s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	start := s.now()
	err := job.Run(ctx)
	end := s.now()
	s.metrics.ObserveRun(job.Name(), end, end.Sub(start), err)

	ctx = s.logg.WithField(ctx, "duration_ms", end.Sub(start).Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "job failed", err)
		return err
	}
	s.logg.Info(ctx, "job completed")
	return nil
}
