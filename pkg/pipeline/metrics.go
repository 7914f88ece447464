package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's prometheus instruments.
type Metrics struct {
	ReportsTotal   *prometheus.CounterVec
	ProcessSeconds prometheus.Histogram
	AlertsRaised   *prometheus.CounterVec
}

// NewMetrics registers the pipeline instruments with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReportsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_reports_total",
			Help: "Telemetry reports by processing outcome",
		}, []string{"outcome"}),
		ProcessSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_process_seconds",
			Help:    "Synchronous pipeline latency per report",
			Buckets: prometheus.DefBuckets,
		}),
		AlertsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_alerts_raised_total",
			Help: "Alerts raised or escalated, by type",
		}, []string{"type"}),
	}
}

// Outcome labels for ReportsTotal.
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeAuthFailed  = "auth_failed"
	OutcomeBadSig      = "bad_signature"
)
