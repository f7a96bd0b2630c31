package http

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service counters. Registered on a private registry so
// multiple instances can coexist in tests.
type Metrics struct {
	PlaybackTotal        *prometheus.CounterVec
	PlaybackRetriesTotal *prometheus.CounterVec
	RecommendationsTotal *prometheus.CounterVec
	RateLimitsTotal      prometheus.Counter
	AuthRedirectsTotal   *prometheus.CounterVec

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	metrics := &Metrics{
		PlaybackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jammy_playback_total",
				Help: "Total number of playback requests",
			},
			[]string{"mode", "status"},
		),
		PlaybackRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jammy_playback_retries_total",
				Help: "Total number of playback retries",
			},
			[]string{"mode"},
		),
		RecommendationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jammy_recommendations_total",
				Help: "Total number of recommendation fetches",
			},
			[]string{"status"},
		),
		RateLimitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jammy_rate_limits_total",
				Help: "Total number of rate-limited API responses",
			},
		),
		AuthRedirectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jammy_auth_redirects_total",
				Help: "Total number of authorization redirect callbacks",
			},
			[]string{"status"},
		),
		registry: prometheus.NewRegistry(),
	}

	metrics.registry.MustRegister(
		metrics.PlaybackTotal,
		metrics.PlaybackRetriesTotal,
		metrics.RecommendationsTotal,
		metrics.RateLimitsTotal,
		metrics.AuthRedirectsTotal,
	)
	return metrics
}

// PlaybackAttempt records the outcome of a playback request.
func (m *Metrics) PlaybackAttempt(mode string, ok bool) {
	m.PlaybackTotal.WithLabelValues(mode, statusLabel(ok)).Inc()
}

// PlaybackRetry records one playback retry.
func (m *Metrics) PlaybackRetry(mode string) {
	m.PlaybackRetriesTotal.WithLabelValues(mode).Inc()
}

// Recommendation records the outcome of a recommendation fetch.
func (m *Metrics) Recommendation(ok bool) {
	m.RecommendationsTotal.WithLabelValues(statusLabel(ok)).Inc()
}

// RateLimited records one 429 response.
func (m *Metrics) RateLimited() {
	m.RateLimitsTotal.Inc()
}

func statusLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
