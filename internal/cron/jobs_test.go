package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/catermatch-backend/internal/eventrequests"
	"github.com/angelmondragon/catermatch-backend/internal/roundrobin"
	"github.com/angelmondragon/catermatch-backend/pkg/db/dbtest"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
	"github.com/angelmondragon/catermatch-backend/pkg/metrics"
)

func TestMonthlyResetJobResetsPreviousMonth(t *testing.T) {
	db := dbtest.Open(t)
	now := time.Date(2024, 7, 9, 15, 0, 0, 0, time.UTC)
	monthStart := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	stale := dbtest.MustCreateCaterer(t, db, dbtest.WithJobsSince(5, monthStart.AddDate(0, -1, 0)))
	current := dbtest.MustCreateCaterer(t, db, dbtest.WithJobsSince(3, monthStart.Add(48*time.Hour)))

	job, err := NewMonthlyResetJob(MonthlyResetJobParams{
		Repo:    roundrobin.NewRepository(db),
		Logger:  logger.Nop(),
		Metrics: metrics.NewCronJobMetrics(prometheus.NewRegistry()),
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)
	require.Equal(t, "monthly-job-reset", job.Name())
	require.NoError(t, job.Run(context.Background()))

	var row models.Caterer
	require.NoError(t, db.First(&row, "id = ?", stale.ID).Error)
	require.Zero(t, row.JobsThisMonth)
	require.NoError(t, db.First(&row, "id = ?", current.ID).Error)
	require.Equal(t, 3, row.JobsThisMonth)
}

type failingCounters struct{}

func (failingCounters) ResetMonthlyCounters(context.Context, time.Time) (int64, error) {
	return 0, errors.New("db down")
}

func TestMonthlyResetJobPropagatesErrors(t *testing.T) {
	job, err := NewMonthlyResetJob(MonthlyResetJobParams{Repo: failingCounters{}, Logger: logger.Nop()})
	require.NoError(t, err)
	require.ErrorContains(t, job.Run(context.Background()), "db down")

	_, err = NewMonthlyResetJob(MonthlyResetJobParams{Logger: logger.Nop()})
	require.Error(t, err)
}

func TestStartOfMonthUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC-6", -6*60*60)
	local := time.Date(2024, 6, 30, 20, 0, 0, 0, loc)
	require.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), startOfMonth(local))
}

func TestStaleMatchingJobReleasesStuckRequests(t *testing.T) {
	db := dbtest.Open(t)
	now := time.Now().UTC()

	stuck := dbtest.MustCreateEventRequest(t, db,
		dbtest.WithRequestStatus(enums.EventRequestStatusMatching),
		dbtest.WithRequestUpdatedAt(now.Add(-time.Hour)))
	running := dbtest.MustCreateEventRequest(t, db,
		dbtest.WithRequestStatus(enums.EventRequestStatusMatching),
		dbtest.WithRequestUpdatedAt(now.Add(-time.Minute)))

	repo := eventrequests.NewRepository(db)
	job, err := NewStaleMatchingJob(StaleMatchingJobParams{
		Repo:       repo,
		Logger:     logger.Nop(),
		StaleAfter: 15 * time.Minute,
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)
	require.Equal(t, "stale-matching-release", job.Name())
	require.NoError(t, job.Run(context.Background()))

	loaded, err := repo.FindByID(context.Background(), stuck.ID)
	require.NoError(t, err)
	require.Equal(t, enums.EventRequestStatusPending, loaded.Status)

	loaded, err = repo.FindByID(context.Background(), running.ID)
	require.NoError(t, err)
	require.Equal(t, enums.EventRequestStatusMatching, loaded.Status)
}

func TestStaleMatchingJobDefaultsWindow(t *testing.T) {
	job, err := NewStaleMatchingJob(StaleMatchingJobParams{Repo: eventrequests.NewRepository(dbtest.Open(t)), Logger: logger.Nop()})
	require.NoError(t, err)
	require.Equal(t, defaultStaleMatchingTTL, job.staleAfter)
}
