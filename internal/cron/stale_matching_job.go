package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/catermatch-backend/pkg/logger"
	"github.com/angelmondragon/catermatch-backend/pkg/metrics"
)

const (
	staleMatchingJobName    = "stale-matching-release"
	defaultStaleMatchingTTL = 15 * time.Minute
)

type staleRequestRepository interface {
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// StaleMatchingJobParams configure the stale matching release.
type StaleMatchingJobParams struct {
	Repo       staleRequestRepository
	Logger     *logger.Logger
	Metrics    *metrics.CronJobMetrics
	StaleAfter time.Duration
	Now        func() time.Time
}

// StaleMatchingJob returns event requests left in matching by a crashed run back to pending.
type StaleMatchingJob struct {
	repo       staleRequestRepository
	logg       *logger.Logger
	metrics    *metrics.CronJobMetrics
	staleAfter time.Duration
	now        func() time.Time
}

func NewStaleMatchingJob(params StaleMatchingJobParams) (*StaleMatchingJob, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("event request repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleMatchingTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &StaleMatchingJob{
		repo:       params.Repo,
		logg:       params.Logger,
		metrics:    params.Metrics,
		staleAfter: staleAfter,
		now:        now,
	}, nil
}

func (j *StaleMatchingJob) Name() string { return staleMatchingJobName }

func (j *StaleMatchingJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.staleAfter)
	released, err := j.repo.ReleaseStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("release stale matching requests: %w", err)
	}
	j.metrics.AddAffected(staleMatchingJobName, released)
	if released == 0 {
		return nil
	}
	ctx = j.logg.WithFields(ctx, map[string]any{
		"cutoff":   cutoff,
		"released": released,
	})
	j.logg.Warn(ctx, "released event requests stuck in matching")
	return nil
}
