// Package monitor runs the background security monitoring loop: it samples
// the audit log and middleware counters on a fixed interval, evaluates
// configured thresholds and rules, and raises alerts or triggers blocking
// responses.
package monitor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"southwinds.dev/aegis/audit"
	"southwinds.dev/aegis/middleware"
)

// Metric names usable in thresholds and rule conditions.
const (
	MetricRequests             = "requests"
	MetricFailures             = "failures"
	MetricBlockedRequests      = "blocked_requests"
	MetricRateLimited          = "rate_limited"
	MetricXSSAttempts          = "xss_attempts"
	MetricSQLInjectionAttempts = "sql_injection_attempts"
	MetricAuthFailures         = "auth_failures"
	MetricErrorRate            = "error_rate"
	MetricLoad                 = "load"
)

// DefaultInterval is the monitoring cycle length.
const DefaultInterval = 60 * time.Second

// DefaultMaxRequestRate is the request capacity per interval that a load of
// 1.0 corresponds to.
const DefaultMaxRequestRate = 10_000

const historyLimit = 60

// Metrics is the per-window sample the monitoring cycle evaluates. Counter
// fields are deltas over the preceding window, not lifetime totals.
type Metrics struct {
	Requests             uint64    `json:"requests"`
	Failures             uint64    `json:"failures"`
	BlockedRequests      uint64    `json:"blocked_requests"`
	RateLimited          uint64    `json:"rate_limited"`
	XSSAttempts          uint64    `json:"xss_attempts"`
	SQLInjectionAttempts uint64    `json:"sql_injection_attempts"`
	AuthFailures         uint64    `json:"auth_failures"`
	ErrorRate            float64   `json:"error_rate"`
	Load                 float64   `json:"load"`
	Timestamp            time.Time `json:"timestamp"`
}

func (s Metrics) value(name string) float64 {
	switch name {
	case MetricRequests:
		return float64(s.Requests)
	case MetricFailures:
		return float64(s.Failures)
	case MetricBlockedRequests:
		return float64(s.BlockedRequests)
	case MetricRateLimited:
		return float64(s.RateLimited)
	case MetricXSSAttempts:
		return float64(s.XSSAttempts)
	case MetricSQLInjectionAttempts:
		return float64(s.SQLInjectionAttempts)
	case MetricAuthFailures:
		return float64(s.AuthFailures)
	case MetricErrorRate:
		return s.ErrorRate
	case MetricLoad:
		return s.Load
	default:
		return 0
	}
}

// Options configures a Monitor.
type Options struct {
	// Interval between monitoring cycles; DefaultInterval when <= 0.
	Interval time.Duration

	// MaxRequestRate is the per-interval request capacity used to compute
	// load; DefaultMaxRequestRate when <= 0.
	MaxRequestRate float64

	// Rules is the policy to evaluate; DefaultRuleSet when empty.
	Rules *RuleSet

	// Logger defaults to zap.NewNop.
	Logger *zap.Logger

	// Clock defaults to time.Now. Tests inject a fake.
	Clock func() time.Time
}

// Monitor is the background security monitor. Construct with NewMonitor,
// then Start to run the loop; individual cycle steps are also callable
// directly, which tests and the CLI use.
type Monitor struct {
	audit  *audit.Log
	mw     *middleware.SecurityMiddleware
	logger *zap.Logger
	clock  func() time.Time

	interval       time.Duration
	maxRequestRate float64

	ruleMu sync.RWMutex
	rules  RuleSet

	alertMu     sync.Mutex
	alerts      map[string]*Alert
	subscribers []Subscriber

	stateMu      sync.Mutex
	lastCounters middleware.Counters
	lastCollect  time.Time
	history      []Metrics

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewMonitor creates a monitor sampling log and mw.
func NewMonitor(log *audit.Log, mw *middleware.SecurityMiddleware, opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxRate := opts.MaxRequestRate
	if maxRate <= 0 {
		maxRate = DefaultMaxRequestRate
	}
	rules := DefaultRuleSet()
	if opts.Rules != nil {
		rules = *opts.Rules
	}

	return &Monitor{
		audit:          log,
		mw:             mw,
		logger:         logger,
		clock:          clock,
		interval:       interval,
		maxRequestRate: maxRate,
		rules:          rules,
		alerts:         make(map[string]*Alert),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start launches the monitoring loop in a goroutine. Calling Start more than
// once has no effect.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		go m.run()
	})
}

// Stop terminates the loop and waits for the in-flight cycle to finish.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	<-m.done
}

func (m *Monitor) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("security monitor started", zap.Duration("interval", m.interval))
	for {
		select {
		case <-m.stop:
			m.logger.Info("security monitor stopped")
			return
		case <-ticker.C:
			m.Cycle()
		}
	}
}

// Cycle runs one full monitoring pass: collect, evaluate thresholds,
// evaluate rules, prune expired rate-limit state.
func (m *Monitor) Cycle() Metrics {
	metrics := m.Collect()
	m.EvaluateThresholds(metrics)
	m.EvaluateRules(metrics)
	m.mw.PruneRateLimits()
	return metrics
}

// Collect samples the middleware counters and the audit trail and computes
// the metric deltas for the window since the previous collection.
func (m *Monitor) Collect() Metrics {
	now := m.clock().UTC()
	current := m.mw.CounterSnapshot()

	m.stateMu.Lock()
	prev := m.lastCounters
	m.lastCounters = current
	windowStart := m.lastCollect
	m.lastCollect = now
	m.stateMu.Unlock()

	if windowStart.IsZero() {
		windowStart = now.Add(-m.interval)
	}

	// Failures recorded only in the audit trail, by the vault or other
	// non-middleware callers, still count against the error rate. Validation
	// failures are excluded here since the middleware counter already
	// carries them.
	var auditFailures uint64
	for _, ev := range m.audit.Query(audit.Filter{Start: &windowStart, Result: audit.ResultFailure}) {
		if ev.Name == "input_validation_failed" {
			continue
		}
		auditFailures++
	}

	metrics := Metrics{
		Requests:             current.Requests - prev.Requests,
		Failures:             current.ValidationFailures - prev.ValidationFailures + auditFailures,
		BlockedRequests:      current.BlockedRequests - prev.BlockedRequests,
		RateLimited:          current.RateLimited - prev.RateLimited,
		XSSAttempts:          current.XSSDetected - prev.XSSDetected,
		SQLInjectionAttempts: current.SQLInjectionDetected - prev.SQLInjectionDetected,
		AuthFailures:         current.AuthFailures - prev.AuthFailures,
		Timestamp:            now,
	}
	if metrics.Requests > 0 {
		metrics.ErrorRate = float64(metrics.Failures) / float64(metrics.Requests)
	}
	metrics.Load = float64(metrics.Requests) / m.maxRequestRate

	m.stateMu.Lock()
	m.history = append(m.history, metrics)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
	m.stateMu.Unlock()

	return metrics
}

// EvaluateThresholds raises a system_anomaly alert for every enabled
// threshold whose metric exceeds its configured value.
func (m *Monitor) EvaluateThresholds(metrics Metrics) {
	m.ruleMu.RLock()
	thresholds := m.rules.Thresholds
	m.ruleMu.RUnlock()

	for _, t := range thresholds {
		if !t.Enabled {
			continue
		}
		value := metrics.value(t.Metric)
		if value <= t.Value {
			continue
		}
		severity := t.Severity
		if severity == "" {
			severity = SeverityMedium
		}
		m.CreateAlert(AlertSystemAnomaly, severity,
			"threshold "+t.Name+" exceeded",
			"threshold:"+t.Name,
			map[string]any{
				"metric":    t.Metric,
				"value":     value,
				"threshold": t.Value,
			}, nil)
	}
}

// EvaluateRules executes the action list of every enabled rule whose
// conditions all hold for the current window.
func (m *Monitor) EvaluateRules(metrics Metrics) {
	m.ruleMu.RLock()
	rules := m.rules.Rules
	m.ruleMu.RUnlock()

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		matched := true
		for _, c := range rule.Conditions {
			if !c.Eval(metrics.value(c.Metric)) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		m.logger.Info("security rule matched", zap.String("rule", rule.Name))
		for _, action := range rule.Actions {
			m.execute(rule, action, metrics)
		}
	}
}

func (m *Monitor) execute(rule Rule, action Action, metrics Metrics) {
	switch action.Type {
	case ActionAlert:
		severity := action.Severity
		if severity == "" {
			severity = SeverityMedium
		}
		message := action.Message
		if message == "" {
			message = "rule " + rule.Name + " triggered"
		}
		m.CreateAlert(AlertSecurityViolation, severity, message, "rule:"+rule.Name,
			map[string]any{"rule": rule.Name}, nil)

	case ActionBlockIP:
		ip := action.IP
		if ip == "" {
			ip = m.topThreatIP()
		}
		if ip == "" {
			m.logger.Warn("block_ip action has no target", zap.String("rule", rule.Name))
			return
		}
		m.mw.BlockIP(ip, "blocked by rule "+rule.Name)

	case ActionThrottle:
		d := action.Duration.Std()
		if d <= 0 {
			d = m.interval
		}
		m.mw.ThrottleUntil(m.clock().Add(d))

	case ActionLog:
		m.logger.Warn("security rule fired",
			zap.String("rule", rule.Name),
			zap.Uint64("requests", metrics.Requests),
			zap.Float64("error_rate", metrics.ErrorRate))
	}
}

// UpdateRules swaps in a new policy after validating it.
func (m *Monitor) UpdateRules(rs RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	m.ruleMu.Lock()
	m.rules = rs
	m.ruleMu.Unlock()
	return nil
}

// topThreatIP returns the source address with the most suspicious events in
// the last window, or "" when there is none.
func (m *Monitor) topThreatIP() string {
	threats := m.topThreats(1)
	if len(threats) == 0 {
		return ""
	}
	return threats[0].IP
}
