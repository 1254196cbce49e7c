package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/raushankrgupta/photo-restorer/restoration"
	"github.com/raushankrgupta/photo-restorer/session"
)

var (
	// RestoreAttempts counts resolved restorations by outcome.
	RestoreAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restorer_attempts_total",
		Help: "Restoration attempts by outcome",
	}, []string{"outcome"})

	RestoreDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "restorer_attempt_duration_seconds",
		Help:    "Time from restore request to resolution",
		Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "restorer_sessions_active",
		Help: "Number of live browser sessions",
	})

	StaleResolutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restorer_stale_resolutions_total",
		Help: "Restoration results that arrived after their session moved on",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restorer_http_requests_total",
		Help: "HTTP requests by method and status class",
	}, []string{"method", "class"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "restorer_ws_connections",
		Help: "Open websocket subscriptions",
	})
)

// Outcome labels a resolution for metrics and the attempt ledger.
func Outcome(r session.Resolution) string {
	switch {
	case r.Stale:
		return "stale"
	case r.Err == nil:
		return "succeeded"
	case restoration.IsQuota(r.Err):
		return "quota"
	default:
		if kind := restoration.KindOf(r.Err); kind != "" {
			return string(kind)
		}
		return "failed"
	}
}

// RecordResolution updates the restoration metrics.
func RecordResolution(r session.Resolution) {
	if r.Stale {
		StaleResolutions.Inc()
		return
	}
	RestoreAttempts.WithLabelValues(Outcome(r)).Inc()
	RestoreDuration.Observe(r.Duration.Seconds())
}
