package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "engage"

// Cron job results.
const (
	CronResultOK    = "ok"
	CronResultError = "error"
)

// CronJobMetrics tracks the scheduled maintenance jobs (outbox retention,
// balance reconciliation) and cycles skipped because another worker held
// the lock.
type CronJobMetrics struct {
	duration    *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	lockSkips   prometheus.Counter
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_duration_seconds",
			Help:      "Cron job run time in seconds.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_runs_total",
			Help:      "Cron job runs by result.",
		}, []string{"job", "result"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run per job.",
		}, []string{"job"}),
		lockSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "lock_skips_total",
			Help:      "Cycles skipped because another instance held the cron lock.",
		}),
	}
	reg.MustRegister(m.duration, m.runs, m.lastSuccess, m.lockSkips)
	return m
}

// ObserveRun records one finished job run. finishedAt feeds the
// last-success gauge when err is nil.
func (c *CronJobMetrics) ObserveRun(job string, took time.Duration, finishedAt time.Time, err error) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.duration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		c.runs.WithLabelValues(job, CronResultError).Inc()
		return
	}
	c.runs.WithLabelValues(job, CronResultOK).Inc()
	c.lastSuccess.WithLabelValues(job).Set(float64(finishedAt.Unix()))
}

func (c *CronJobMetrics) IncLockSkip() {
	if c == nil || c.lockSkips == nil {
		return
	}
	c.lockSkips.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
