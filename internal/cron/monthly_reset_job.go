package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/catermatch-backend/pkg/logger"
	"github.com/angelmondragon/catermatch-backend/pkg/metrics"
)

const monthlyResetJobName = "monthly-job-reset"

type monthlyCounterRepository interface {
	ResetMonthlyCounters(ctx context.Context, monthStart time.Time) (int64, error)
}

// MonthlyResetJobParams configure the monthly counter reset.
type MonthlyResetJobParams struct {
	Repo    monthlyCounterRepository
	Logger  *logger.Logger
	Metrics *metrics.CronJobMetrics
	Now     func() time.Time
}

// MonthlyResetJob zeroes jobs_this_month for caterers whose counter window predates the current
// UTC month. Assignment also resets lazily, so a missed run only delays cleanup.
type MonthlyResetJob struct {
	repo    monthlyCounterRepository
	logg    *logger.Logger
	metrics *metrics.CronJobMetrics
	now     func() time.Time
}

func NewMonthlyResetJob(params MonthlyResetJobParams) (*MonthlyResetJob, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("counter repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &MonthlyResetJob{
		repo:    params.Repo,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

func (j *MonthlyResetJob) Name() string { return monthlyResetJobName }

func (j *MonthlyResetJob) Run(ctx context.Context) error {
	monthStart := startOfMonth(j.now())
	reset, err := j.repo.ResetMonthlyCounters(ctx, monthStart)
	if err != nil {
		return fmt.Errorf("reset monthly counters: %w", err)
	}
	j.metrics.AddAffected(monthlyResetJobName, reset)
	ctx = j.logg.WithFields(ctx, map[string]any{
		"month_start":    monthStart.Format(time.DateOnly),
		"caterers_reset": reset,
	})
	j.logg.Info(ctx, "monthly job counters reset")
	return nil
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
