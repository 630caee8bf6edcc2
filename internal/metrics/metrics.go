// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsStarted counts new runner sessions by mode (live, practice).
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examrunner_sessions_started_total",
			Help: "Total number of exam sessions started",
		},
		[]string{"mode"},
	)

	// ActiveSessions is the number of sessions held in memory.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "examrunner_sessions_active",
			Help: "Current number of exam sessions held in memory",
		},
	)

	// Submissions counts submit calls by trigger (manual, timeout) and status.
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examrunner_submissions_total",
			Help: "Total number of submission attempts",
		},
		[]string{"trigger", "status"},
	)

	// PersistDuration observes how long the final attempt write took.
	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "examrunner_submission_persist_seconds",
			Help:    "Time spent persisting a submitted attempt",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ScoreRatio observes totalScore/maxScore for live submissions.
	ScoreRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "examrunner_score_ratio",
			Help:    "Ratio of awarded to possible points for submitted attempts",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
