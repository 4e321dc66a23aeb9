package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activitiesLoggedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progression_service",
		Subsystem: "engine",
		Name:      "activities_logged_total",
		Help:      "Number of activities logged, labeled by activity type.",
	}, []string{"activity_type"})

	activitiesReversedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "progression_service",
		Subsystem: "engine",
		Name:      "activities_reversed_total",
		Help:      "Number of activity deletions that completed the reversal workflow.",
	})

	levelUpsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "progression_service",
		Subsystem: "engine",
		Name:      "level_ups_total",
		Help:      "Number of level-up steps applied (multi-level gains count each step).",
	})

	levelDownsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "progression_service",
		Subsystem: "engine",
		Name:      "level_downs_total",
		Help:      "Number of level-down steps applied during reversals.",
	})

	degradationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progression_service",
		Subsystem: "engine",
		Name:      "degradations_applied_total",
		Help:      "Number of degradation applications, labeled by category.",
	}, []string{"category"})

	statWarningsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progression_service",
		Subsystem: "engine",
		Name:      "stat_sanitization_warnings_total",
		Help:      "Number of warnings produced while sanitizing stats, labeled by kind.",
	}, []string{"kind"})

	rollbackFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "progression_service",
		Subsystem: "engine",
		Name:      "reversal_rollback_failures_total",
		Help:      "Number of reversals where the rollback itself failed (data may be inconsistent).",
	})

	userPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "progression_service",
		Subsystem: "persistence",
		Name:      "last_user_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent user snapshot persisted to Postgres.",
	})
)

func init() {
	prometheus.MustRegister(
		activitiesLoggedCounter,
		activitiesReversedCounter,
		levelUpsCounter,
		levelDownsCounter,
		degradationCounter,
		statWarningsCounter,
		rollbackFailureCounter,
		userPersistGauge,
	)
}

// RecordActivityLogged counts a logged activity and any level-up steps.
func RecordActivityLogged(activityType string, levelsGained int) {
	activitiesLoggedCounter.WithLabelValues(activityType).Inc()
	if levelsGained > 0 {
		levelUpsCounter.Add(float64(levelsGained))
	}
}

// RecordActivityReversed counts a completed reversal and any level-down steps.
func RecordActivityReversed(levelsLost int) {
	activitiesReversedCounter.Inc()
	if levelsLost > 0 {
		levelDownsCounter.Add(float64(levelsLost))
	}
}

// RecordDegradation counts one degradation application per category.
func RecordDegradation(category string) {
	degradationCounter.WithLabelValues(category).Inc()
}

// RecordStatWarning counts a sanitization warning by kind.
func RecordStatWarning(kind string) {
	statWarningsCounter.WithLabelValues(kind).Inc()
}

// RecordRollbackFailure counts the fatal reversal case.
func RecordRollbackFailure() {
	rollbackFailureCounter.Inc()
}

// RecordUserPersisted updates the persistence watermark gauge.
func RecordUserPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	userPersistGauge.Set(float64(ts.Unix()))
}
