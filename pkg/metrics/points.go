package metrics

import "github.com/prometheus/client_golang/prometheus"

// Award outcomes used as the "outcome" label.
const (
	OutcomeGranted         = "granted"
	OutcomeAlreadyRewarded = "already_rewarded"
	OutcomeNotRewardable   = "not_rewardable"
	OutcomeRateLimited     = "rate_limited"
	OutcomeUserNotFound    = "user_not_found"
	OutcomeError           = "error"
)

// PointsMetrics counts award decisions and reconciliation drift.
type PointsMetrics struct {
	awards  *prometheus.CounterVec
	granted *prometheus.CounterVec
	drift   prometheus.Counter
}

// NewPointsMetrics registers the points metrics on the provided registerer.
func NewPointsMetrics(reg prometheus.Registerer) *PointsMetrics {
	if reg == nil {
		return &PointsMetrics{}
	}
	awards := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "points",
		Name:      "awards_total",
		Help:      "Award requests by activity type and outcome.",
	}, []string{"activity_type", "outcome"})
	granted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "points",
		Name:      "granted_points_total",
		Help:      "Points credited by activity type.",
	}, []string{"activity_type"})
	drift := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "points",
		Name:      "balance_drift_total",
		Help:      "Users whose stored balance disagreed with the ledger sum.",
	})
	reg.MustRegister(awards, granted, drift)
	return &PointsMetrics{awards: awards, granted: granted, drift: drift}
}

// ObserveAward records one award decision. points is only counted for
// granted awards.
func (m *PointsMetrics) ObserveAward(activityType, outcome string, points int) {
	if m == nil || m.awards == nil {
		return
	}
	activityType = normalizeLabel(activityType)
	m.awards.WithLabelValues(activityType, normalizeLabel(outcome)).Inc()
	if outcome == OutcomeGranted && points > 0 {
		m.granted.WithLabelValues(activityType).Add(float64(points))
	}
}

// IncDrift counts one drifted balance.
func (m *PointsMetrics) IncDrift() {
	if m == nil || m.drift == nil {
		return
	}
	m.drift.Inc()
}
