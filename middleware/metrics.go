package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the middleware's security counters to a Prometheus
// registry. All counters are also mirrored in the internal snapshot used by
// the monitoring loop, so scraping is optional.
type Metrics struct {
	ChecksTotal       *prometheus.CounterVec
	ValidationErrors  prometheus.Counter
	RateLimited       prometheus.Counter
	AttacksDetected   *prometheus.CounterVec
	BlockedRequests   prometheus.Counter
	BlockedIPs        prometheus.GaugeFunc
	SuspiciousReports prometheus.Counter
}

// NewMetrics builds the metric set and registers it with reg. A nil registry
// leaves the metrics unregistered, which tests use to avoid collisions.
func NewMetrics(reg prometheus.Registerer, blocklist *Blocklist) *Metrics {
	m := &Metrics{
		ChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "security_checks_total",
			Help: "Total security checks performed, by check type and outcome",
		}, []string{"check", "outcome"}),
		ValidationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "security_validation_errors_total",
			Help: "Total input validation failures",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "security_rate_limited_total",
			Help: "Total requests denied by rate limiting",
		}),
		AttacksDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "security_attacks_detected_total",
			Help: "Total attack patterns detected, by kind",
		}, []string{"kind"}),
		BlockedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "security_blocked_requests_total",
			Help: "Total requests rejected because the source IP is blocked",
		}),
		BlockedIPs: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "security_blocked_ips",
			Help: "Number of currently blocked IP addresses",
		}, func() float64 { return float64(blocklist.Size()) }),
		SuspiciousReports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "security_suspicious_reports_total",
			Help: "Total suspicious activity reports",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ChecksTotal,
			m.ValidationErrors,
			m.RateLimited,
			m.AttacksDetected,
			m.BlockedRequests,
			m.BlockedIPs,
			m.SuspiciousReports,
		)
	}
	return m
}
