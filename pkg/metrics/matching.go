package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

// MatchingMetrics records matching runs and round-robin assignments.
type MatchingMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	matches     *prometheus.CounterVec
	assignments *prometheus.CounterVec
	skipped     *prometheus.CounterVec
}

// NewMatchingMetrics registers the matching collectors on reg. A nil registerer yields a no-op
// recorder.
func NewMatchingMetrics(reg prometheus.Registerer) *MatchingMetrics {
	if reg == nil {
		return &MatchingMetrics{}
	}
	m := &MatchingMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matching_runs_total",
			Help:      "Matching and distribution runs by operation, source and result.",
		}, []string{"operation", "source", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matching_run_duration_seconds",
			Help:      "Duration of matching and distribution runs in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_persisted_total",
			Help:      "Matches written by source.",
		}, []string{"source"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_robin_assignments_total",
			Help:      "Caterers assigned a lead by tier and whether the tier pool was empty.",
		}, []string{"tier", "fallback"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_robin_skipped_at_cap_total",
			Help:      "Caterers skipped at commit because their monthly cap was reached.",
		}, []string{"tier"}),
	}
	reg.MustRegister(m.runs, m.duration, m.matches, m.assignments, m.skipped)
	return m
}

// ObserveRun records one matching pipeline run.
func (m *MatchingMetrics) ObserveRun(operation string, source enums.MatchSource, success bool, duration time.Duration, matches int) {
	if m == nil || m.runs == nil {
		return
	}
	result := outcomeSuccess
	if !success {
		result = outcomeFailure
	}
	m.runs.WithLabelValues(orUnknown(operation), orUnknown(string(source)), result).Inc()
	m.duration.WithLabelValues(orUnknown(operation)).Observe(duration.Seconds())
	if matches > 0 {
		m.matches.WithLabelValues(orUnknown(string(source))).Add(float64(matches))
	}
}

// ObserveAssignment records one committed round-robin assignment.
func (m *MatchingMetrics) ObserveAssignment(tier enums.CatererTier, fallback bool, assigned, skipped int) {
	if m == nil || m.assignments == nil {
		return
	}
	label := orUnknown(string(tier))
	if assigned > 0 {
		m.assignments.WithLabelValues(label, strconv.FormatBool(fallback)).Add(float64(assigned))
	}
	if skipped > 0 {
		m.skipped.WithLabelValues(label).Add(float64(skipped))
	}
}
