// Package metrics exposes the Prometheus collectors of the ledger engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mutations counts balance, shopping and points mutations by outcome.
	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memberledger_mutations_total",
			Help: "Total number of member counter mutations",
		},
		[]string{"account", "direction", "result"},
	)

	// CommissionLevels counts per-level commission outcomes.
	CommissionLevels = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memberledger_commission_levels_total",
			Help: "Total number of commission levels processed",
		},
		[]string{"status"},
	)

	// WithdrawalTransitions counts withdrawal state transitions.
	WithdrawalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memberledger_withdrawal_transitions_total",
			Help: "Total number of withdrawal state transitions",
		},
		[]string{"to", "result"},
	)

	// IntegrityFindings reports the findings of the latest integrity scan by kind.
	IntegrityFindings = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memberledger_integrity_findings",
			Help: "Findings reported by the latest referral graph integrity scan",
		},
		[]string{"kind"},
	)

	// IntegrityScanDuration observes how long integrity scans take.
	IntegrityScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memberledger_integrity_scan_duration_seconds",
			Help:    "Histogram of referral graph integrity scan durations",
			Buckets: prometheus.DefBuckets,
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memberledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpResponseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memberledger_http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latencies by route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpResponseTime.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
