package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace     = "catermatch"
	cronSubsystem = "cron"

	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// CronJobMetrics tracks maintenance runs per job. The zero value drops every observation.
type CronJobMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	affected *prometheus.CounterVec
	lastRun  *prometheus.GaugeVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: cronSubsystem,
			Name:      "job_runs_total",
			Help:      "Maintenance job executions by outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: cronSubsystem,
			Name:      "job_duration_seconds",
			Help:      "Wall time of a single maintenance job execution.",
			Buckets:   []float64{0.01, 0.05, 0.25, 1, 5, 15, 60},
		}, []string{"job"}),
		affected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: cronSubsystem,
			Name:      "rows_affected_total",
			Help:      "Rows changed by maintenance jobs.",
		}, []string{"job"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: cronSubsystem,
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful execution.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.runs, m.duration, m.affected, m.lastRun)
	return m
}

// ObserveRun records one execution of job that finished at end after taking duration.
func (c *CronJobMetrics) ObserveRun(job string, end time.Time, duration time.Duration, err error) {
	if c == nil || c.runs == nil {
		return
	}
	job = orUnknown(job)
	c.duration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		c.runs.WithLabelValues(job, outcomeFailure).Inc()
		return
	}
	c.runs.WithLabelValues(job, outcomeSuccess).Inc()
	c.lastRun.WithLabelValues(job).Set(float64(end.Unix()))
}

// AddAffected counts rows changed by job. Non-positive counts are ignored.
func (c *CronJobMetrics) AddAffected(job string, rows int64) {
	if c == nil || c.affected == nil || rows <= 0 {
		return
	}
	c.affected.WithLabelValues(orUnknown(job)).Add(float64(rows))
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
