// Package middleware implements the request-facing security layer: input
// validation and sanitization, attack-pattern heuristics, CSRF tokens,
// fixed-window rate limiting and an IP blocklist. Every security-relevant
// decision is written to the audit log.
package middleware

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"southwinds.dev/aegis/audit"
)

// DefaultLimit applies when a rate-limit check is made without an explicit
// limit.
var DefaultLimit = Limit{Window: time.Minute, MaxRequests: 60}

// Options configures a SecurityMiddleware. The zero value is usable.
type Options struct {
	// RateLimit is the default limit for CheckRateLimit calls that pass nil.
	RateLimit Limit

	// SuspiciousThreshold is the report count that triggers an auto-block.
	SuspiciousThreshold int

	// TrackingPeriod bounds how long suspicious reports accumulate.
	TrackingPeriod time.Duration

	// Registry receives the Prometheus metrics; nil leaves them unregistered.
	Registry prometheus.Registerer

	// Logger defaults to zap.NewNop.
	Logger *zap.Logger

	// Clock defaults to time.Now. Tests inject a fake.
	Clock func() time.Time
}

// Counters is a point-in-time snapshot of the middleware's activity counters.
// The monitoring loop diffs consecutive snapshots to derive per-window rates.
type Counters struct {
	Requests             uint64 `json:"requests"`
	ValidationFailures   uint64 `json:"validation_failures"`
	RateLimited          uint64 `json:"rate_limited"`
	XSSDetected          uint64 `json:"xss_detected"`
	SQLInjectionDetected uint64 `json:"sql_injection_detected"`
	BlockedRequests      uint64 `json:"blocked_requests"`
	SuspiciousReports    uint64 `json:"suspicious_reports"`
	AuthFailures         uint64 `json:"auth_failures"`
}

// SecurityMiddleware is the request-scoped security service. Each internal
// structure carries its own lock so a slow operation on one cannot stall
// checks against another.
type SecurityMiddleware struct {
	audit     audit.Recorder
	logger    *zap.Logger
	metrics   *Metrics
	limiter   *RateLimiter
	blocklist *Blocklist

	defaultLimit Limit
	clock        func() time.Time

	requests             atomic.Uint64
	validationFailures   atomic.Uint64
	rateLimited          atomic.Uint64
	xssDetected          atomic.Uint64
	sqlInjectionDetected atomic.Uint64
	blockedRequests      atomic.Uint64
	suspiciousReports    atomic.Uint64
	authFailures         atomic.Uint64
}

// NewSecurityMiddleware creates a middleware writing to rec.
func NewSecurityMiddleware(rec audit.Recorder, opts Options) *SecurityMiddleware {
	if rec == nil {
		rec = audit.NoOp{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	limit := opts.RateLimit
	if limit.Window <= 0 || limit.MaxRequests <= 0 {
		limit = DefaultLimit
	}

	blocklist := NewBlocklist(opts.SuspiciousThreshold, opts.TrackingPeriod, clock)
	return &SecurityMiddleware{
		audit:        rec,
		logger:       logger,
		metrics:      NewMetrics(opts.Registry, blocklist),
		limiter:      NewRateLimiter(clock),
		blocklist:    blocklist,
		defaultLimit: limit,
		clock:        clock,
	}
}

// ValidateInput validates data against rules and returns the outcome together
// with the sanitized copy of the fields that passed.
func (m *SecurityMiddleware) ValidateInput(data map[string]any, rules []Rule) ValidationResult {
	m.requests.Add(1)
	result := ValidateInput(data, rules)
	if result.IsValid {
		m.metrics.ChecksTotal.WithLabelValues("validation", "pass").Inc()
		return result
	}

	m.validationFailures.Add(1)
	m.metrics.ChecksTotal.WithLabelValues("validation", "fail").Inc()
	m.metrics.ValidationErrors.Inc()
	m.audit.Record(audit.Entry{
		Name: "input_validation_failed",
		Details: map[string]any{
			"error":  "input validation failed",
			"fields": result.Errors,
		},
	})
	return result
}

// DetectXSS runs the cross-site-scripting heuristics over input, recording a
// suspicious event when they match.
func (m *SecurityMiddleware) DetectXSS(input, sourceIP string) bool {
	if !DetectXSS(input) {
		m.metrics.ChecksTotal.WithLabelValues("xss", "pass").Inc()
		return false
	}
	m.xssDetected.Add(1)
	m.metrics.ChecksTotal.WithLabelValues("xss", "fail").Inc()
	m.metrics.AttacksDetected.WithLabelValues("xss").Inc()
	m.audit.Record(audit.Entry{
		Name: "suspicious_xss_detected",
		IP:   sourceIP,
		Details: map[string]any{
			"input_length": len(input),
		},
	})
	m.logger.Warn("XSS pattern detected", zap.String("source_ip", sourceIP))
	return true
}

// DetectSQLInjection runs the SQL injection heuristics over input, recording
// a suspicious event when they match.
func (m *SecurityMiddleware) DetectSQLInjection(input, sourceIP string) bool {
	if !DetectSQLInjection(input) {
		m.metrics.ChecksTotal.WithLabelValues("sql_injection", "pass").Inc()
		return false
	}
	m.sqlInjectionDetected.Add(1)
	m.metrics.ChecksTotal.WithLabelValues("sql_injection", "fail").Inc()
	m.metrics.AttacksDetected.WithLabelValues("sql_injection").Inc()
	m.audit.Record(audit.Entry{
		Name: "suspicious_sql_injection_detected",
		IP:   sourceIP,
		Details: map[string]any{
			"input_length": len(input),
		},
	})
	m.logger.Warn("SQL injection pattern detected", zap.String("source_ip", sourceIP))
	return true
}

// CheckRateLimit records one request for key and decides whether it passes.
// A nil limit uses the configured default.
func (m *SecurityMiddleware) CheckRateLimit(key string, limit *Limit) Decision {
	m.requests.Add(1)
	l := m.defaultLimit
	if limit != nil {
		l = *limit
	}
	decision := m.limiter.Check(key, l)
	if !decision.Allowed {
		m.rateLimited.Add(1)
		m.metrics.RateLimited.Inc()
		m.audit.Record(audit.Entry{
			Name: "rate_limit_exceeded",
			Details: map[string]any{
				"key":        key,
				"reset_time": decision.ResetTime,
			},
		})
	}
	return decision
}

// GenerateCSRFToken returns a fresh random CSRF token.
func (m *SecurityMiddleware) GenerateCSRFToken() (string, error) {
	return GenerateCSRFToken()
}

// ValidateCSRFToken verifies a presented token in constant time.
func (m *SecurityMiddleware) ValidateCSRFToken(token, expected string) bool {
	ok := ValidateCSRFToken(token, expected)
	if !ok {
		m.audit.Record(audit.Entry{
			Name: "csrf_validation_failed",
			Details: map[string]any{
				"error": "CSRF token mismatch",
			},
		})
	}
	return ok
}

// BlockIP blocks ip immediately and records the action.
func (m *SecurityMiddleware) BlockIP(ip, reason string) {
	m.blocklist.Block(ip, reason)
	m.audit.Record(audit.Entry{
		Name: "ip_blocked",
		IP:   ip,
		Details: map[string]any{
			"reason": reason,
		},
	})
	m.logger.Warn("IP blocked", zap.String("ip", ip), zap.String("reason", reason))
}

// UnblockIP lifts the block on ip, reporting whether it was blocked.
func (m *SecurityMiddleware) UnblockIP(ip string) bool {
	if !m.blocklist.Unblock(ip) {
		return false
	}
	m.audit.Record(audit.Entry{
		Name: "ip_unblocked",
		IP:   ip,
	})
	m.logger.Info("IP unblocked", zap.String("ip", ip))
	return true
}

// IsIPBlocked reports whether ip is blocked, counting the hit when it is.
func (m *SecurityMiddleware) IsIPBlocked(ip string) bool {
	if !m.blocklist.IsBlocked(ip) {
		return false
	}
	m.blockedRequests.Add(1)
	m.metrics.BlockedRequests.Inc()
	return true
}

// BlockedIPs returns a snapshot of the current block entries.
func (m *SecurityMiddleware) BlockedIPs() []BlockEntry {
	return m.blocklist.Blocked()
}

// ReportSuspiciousActivity counts a suspicious report against ip and blocks
// it automatically once the threshold is reached within the tracking period.
func (m *SecurityMiddleware) ReportSuspiciousActivity(ip, activity string) {
	m.suspiciousReports.Add(1)
	m.metrics.SuspiciousReports.Inc()

	count, shouldBlock := m.blocklist.ReportSuspicious(ip)
	m.audit.Record(audit.Entry{
		Name: "suspicious_activity_reported",
		IP:   ip,
		Details: map[string]any{
			"activity": activity,
			"count":    count,
		},
	})
	if shouldBlock {
		m.BlockIP(ip, "suspicious activity threshold reached: "+activity)
	}
}

// RecordAuthFailure counts a failed authentication attempt, feeding both the
// audit trail and the monitoring metrics.
func (m *SecurityMiddleware) RecordAuthFailure(userID, ip string) {
	m.authFailures.Add(1)
	m.audit.Record(audit.Entry{
		Name:   "login_failed",
		UserID: userID,
		IP:     ip,
		Details: map[string]any{
			"error": "authentication failed",
		},
	})
}

// ThrottleUntil halves the effective rate limits until the deadline. Invoked
// by automated monitoring responses.
func (m *SecurityMiddleware) ThrottleUntil(until time.Time) {
	m.limiter.Throttle(until)
	m.audit.Record(audit.Entry{
		Name: "throttling_enabled",
		Details: map[string]any{
			"until": until,
		},
	})
	m.logger.Warn("request throttling enabled", zap.Time("until", until))
}

// Throttled reports whether automated throttling is in force.
func (m *SecurityMiddleware) Throttled() bool {
	return m.limiter.Throttled()
}

// PruneRateLimits drops expired rate-limit windows.
func (m *SecurityMiddleware) PruneRateLimits() int {
	return m.limiter.Prune()
}

// CounterSnapshot returns the current values of the activity counters.
func (m *SecurityMiddleware) CounterSnapshot() Counters {
	return Counters{
		Requests:             m.requests.Load(),
		ValidationFailures:   m.validationFailures.Load(),
		RateLimited:          m.rateLimited.Load(),
		XSSDetected:          m.xssDetected.Load(),
		SQLInjectionDetected: m.sqlInjectionDetected.Load(),
		BlockedRequests:      m.blockedRequests.Load(),
		SuspiciousReports:    m.suspiciousReports.Load(),
		AuthFailures:         m.authFailures.Load(),
	}
}
