package analyzer

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the Analyzer's per-project UsageMetrics and HealthScore as
// Prometheus gauges. Populating them is in-process (Observe); HTTP
// exposition, if the caller wants it, is their concern (Handler) — scraping
// itself is outside this package, consistent with spec.md §1's "outer
// transport is out of scope" framing applied to the optional metrics route.
type Metrics struct {
	registry *prometheus.Registry

	totalTokens   *prometheus.GaugeVec
	usagePercent  *prometheus.GaugeVec
	healthScore   *prometheus.GaugeVec
	pinnedTokens  *prometheus.GaugeVec
	totalSegments *prometheus.GaugeVec
}

// NewMetrics constructs a Metrics with its own registry, avoiding collisions
// if more than one is created in a process (e.g. in tests).
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		totalTokens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contextgcd_total_tokens",
			Help: "Total cached token count across a project's segments.",
		}, []string{"project_id"}),
		usagePercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contextgcd_usage_percent",
			Help: "Usage as a percentage of the configured token_limit.",
		}, []string{"project_id"}),
		healthScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contextgcd_health_score",
			Help: "Composite health score (0-100), higher is healthier.",
		}, []string{"project_id"}),
		pinnedTokens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contextgcd_pinned_tokens",
			Help: "Tokens held by pinned segments.",
		}, []string{"project_id"}),
		totalSegments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contextgcd_total_segments",
			Help: "Total segment count across a project.",
		}, []string{"project_id"}),
	}

	registry.MustRegister(m.totalTokens, m.usagePercent, m.healthScore, m.pinnedTokens, m.totalSegments)
	return m
}

// Observe records a project's latest UsageMetrics/health score.
func (m *Metrics) Observe(projectID string, usage UsageMetrics, health float64) {
	m.totalTokens.WithLabelValues(projectID).Set(float64(usage.TotalTokens))
	m.usagePercent.WithLabelValues(projectID).Set(usage.UsagePercent)
	m.healthScore.WithLabelValues(projectID).Set(health)
	m.pinnedTokens.WithLabelValues(projectID).Set(float64(usage.PinnedTokens))
	m.totalSegments.WithLabelValues(projectID).Set(float64(usage.TotalSegments))
}

// Handler returns the /metrics scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
