package monitor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"southwinds.dev/aegis"
	"southwinds.dev/aegis/audit"
	"southwinds.dev/aegis/middleware"
)

func newTestMonitor(clock func() time.Time, rules *RuleSet) (*Monitor, *middleware.SecurityMiddleware, *audit.Log) {
	log := audit.New(audit.Options{Clock: clock})
	mw := middleware.NewSecurityMiddleware(log, middleware.Options{Clock: clock})
	mon := NewMonitor(log, mw, Options{
		Interval:       time.Minute,
		MaxRequestRate: 100,
		Rules:          rules,
		Clock:          clock,
	})
	return mon, mw, log
}

func TestCollectComputesWindowDeltas(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	mon, mw, _ := newTestMonitor(clock, &RuleSet{})

	limit := &middleware.Limit{Window: time.Minute, MaxRequests: 100}
	for i := 0; i < 10; i++ {
		mw.CheckRateLimit("client", limit)
	}
	mw.DetectXSS("<script>x</script>", "203.0.113.5")

	first := mon.Collect()
	if first.Requests != 10 {
		t.Errorf("Expected 10 requests in window, got %d", first.Requests)
	}
	if first.XSSAttempts != 1 {
		t.Errorf("Expected 1 XSS attempt, got %d", first.XSSAttempts)
	}
	if first.Load != 0.1 {
		t.Errorf("Expected load 0.1, got %f", first.Load)
	}

	// The next window starts from zero, not from lifetime totals.
	second := mon.Collect()
	if second.Requests != 0 || second.XSSAttempts != 0 {
		t.Errorf("Second window should be empty, got %+v", second)
	}
}

func TestCollectCountsAuditTrailFailures(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	mon, mw, log := newTestMonitor(clock, &RuleSet{})

	// Failures written straight to the audit trail, such as vault denials,
	// never pass through the middleware counters but must still count.
	log.Record(audit.Entry{
		Name:    "credential_read_failed",
		UserID:  "alice",
		Details: map[string]any{"error": "credential expired"},
	})
	log.Record(audit.Entry{
		Name:    "credential_access_failed",
		UserID:  "mallory",
		Details: map[string]any{"error": "access denied"},
	})

	// A middleware validation failure is audited too; it must not be
	// counted twice.
	mw.ValidateInput(map[string]any{}, []middleware.Rule{
		{Field: "email", Type: middleware.TypeEmail, Required: true},
	})

	metrics := mon.Collect()
	if metrics.Failures != 3 {
		t.Errorf("Expected 3 failures (2 audit + 1 validation), got %d", metrics.Failures)
	}
}

func TestEvaluateThresholdsRaisesAnomalyAlert(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rules := &RuleSet{
		Thresholds: []Threshold{
			{Name: "auth-failures", Metric: MetricAuthFailures, Value: 3, Severity: SeverityHigh, Enabled: true},
			{Name: "disabled", Metric: MetricRequests, Value: 0, Severity: SeverityLow, Enabled: false},
		},
	}
	mon, _, log := newTestMonitor(func() time.Time { return now }, rules)

	mon.EvaluateThresholds(Metrics{AuthFailures: 5, Requests: 100})

	alerts := mon.ActiveAlerts()
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Type != AlertSystemAnomaly {
		t.Errorf("Expected system_anomaly alert, got %s", alerts[0].Type)
	}
	if alerts[0].Severity != SeverityHigh {
		t.Errorf("Expected high severity, got %s", alerts[0].Severity)
	}
	if len(log.Query(audit.Filter{Name: "security_alert_created"})) != 1 {
		t.Error("Alert creation not audited")
	}

	// A metric at the threshold does not fire; only exceeding does.
	mon2, _, _ := newTestMonitor(func() time.Time { return now }, rules)
	mon2.EvaluateThresholds(Metrics{AuthFailures: 3})
	if len(mon2.ActiveAlerts()) != 0 {
		t.Error("Threshold fired at exactly the configured value")
	}
}

func TestAlertDeduplication(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rules := &RuleSet{
		Thresholds: []Threshold{
			{Name: "auth-failures", Metric: MetricAuthFailures, Value: 3, Severity: SeverityHigh, Enabled: true},
		},
	}
	mon, _, _ := newTestMonitor(func() time.Time { return now }, rules)

	// The same condition across cycles keeps one active alert.
	mon.EvaluateThresholds(Metrics{AuthFailures: 5})
	mon.EvaluateThresholds(Metrics{AuthFailures: 6})
	if n := len(mon.ActiveAlerts()); n != 1 {
		t.Fatalf("Expected 1 deduplicated alert, got %d", n)
	}

	// Once resolved, a recurrence raises a fresh alert.
	id := mon.ActiveAlerts()[0].ID
	if err := mon.ResolveAlert(id, "credential stuffing wave ended"); err != nil {
		t.Fatalf("Failed to resolve alert: %v", err)
	}
	mon.EvaluateThresholds(Metrics{AuthFailures: 7})
	if n := len(mon.ActiveAlerts()); n != 1 {
		t.Errorf("Expected a new alert after resolution, got %d active", n)
	}
}

func TestEvaluateRulesAllConditionsMustHold(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rules := &RuleSet{
		Rules: []Rule{
			{
				Name:    "overload",
				Enabled: true,
				Conditions: []Condition{
					{Metric: MetricLoad, Operator: OpGreaterThan, Value: 0.8},
					{Metric: MetricErrorRate, Operator: OpGreaterThan, Value: 0.1},
				},
				Actions: []Action{
					{Type: ActionAlert, Severity: SeverityMedium, Message: "overloaded"},
				},
			},
		},
	}
	mon, _, _ := newTestMonitor(func() time.Time { return now }, rules)

	// Only one condition holds: nothing fires.
	mon.EvaluateRules(Metrics{Load: 0.9, ErrorRate: 0.05})
	if len(mon.ActiveAlerts()) != 0 {
		t.Fatal("Rule fired with only one condition satisfied")
	}

	// Both hold: the alert action runs.
	mon.EvaluateRules(Metrics{Load: 0.9, ErrorRate: 0.2})
	alerts := mon.ActiveAlerts()
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Message != "overloaded" {
		t.Errorf("Wrong alert message: %s", alerts[0].Message)
	}
}

func TestRuleThrottleAction(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rules := &RuleSet{
		Rules: []Rule{
			{
				Name:    "load-shed",
				Enabled: true,
				Conditions: []Condition{
					{Metric: MetricLoad, Operator: OpGreaterOrEqual, Value: 0.9},
				},
				Actions: []Action{
					{Type: ActionThrottle, Duration: Duration(10 * time.Minute)},
				},
			},
		},
	}
	mon, mw, _ := newTestMonitor(func() time.Time { return now }, rules)

	mon.EvaluateRules(Metrics{Load: 0.95})
	if !mw.Throttled() {
		t.Error("Throttle action did not reach the middleware")
	}
}

func TestRuleBlockIPActionUsesTopThreat(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rules := &RuleSet{
		Rules: []Rule{
			{
				Name:    "attack-response",
				Enabled: true,
				Conditions: []Condition{
					{Metric: MetricSQLInjectionAttempts, Operator: OpGreaterOrEqual, Value: 1},
				},
				Actions: []Action{
					{Type: ActionBlockIP},
				},
			},
		},
	}
	mon, mw, _ := newTestMonitor(func() time.Time { return now }, rules)

	// Two offenders; the noisier one gets blocked.
	mw.DetectSQLInjection("1' OR '1'='1", "203.0.113.50")
	mw.DetectSQLInjection("1' OR '1'='1", "203.0.113.50")
	mw.DetectSQLInjection("1' OR '1'='1", "203.0.113.51")

	metrics := mon.Collect()
	mon.EvaluateRules(metrics)

	if !mw.IsIPBlocked("203.0.113.50") {
		t.Error("Top threat source not blocked")
	}
	if mw.IsIPBlocked("203.0.113.51") {
		t.Error("Lesser offender should not be blocked")
	}
}

func TestResolveAlert(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mon, _, log := newTestMonitor(func() time.Time { return now }, &RuleSet{})

	id := mon.CreateAlert(AlertSecurityViolation, SeverityMedium, "test alert", "test", nil, nil)

	if err := mon.ResolveAlert(id, "handled"); err != nil {
		t.Fatalf("Failed to resolve alert: %v", err)
	}
	alert, err := mon.GetAlert(id)
	if err != nil {
		t.Fatalf("Failed to fetch alert: %v", err)
	}
	if !alert.Resolved || alert.ResolvedAt == nil || alert.Resolution != "handled" {
		t.Errorf("Alert not properly resolved: %+v", alert)
	}
	if len(log.Query(audit.Filter{Name: "security_alert_resolved"})) != 1 {
		t.Error("Resolution not audited")
	}

	if err = mon.ResolveAlert("no-such-id", "x"); !errors.Is(err, aegis.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown alert, got %v", err)
	}
}

func TestSubscribersReceiveHighSeverityAlerts(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mon, _, _ := newTestMonitor(func() time.Time { return now }, &RuleSet{})

	var mu sync.Mutex
	var received []Alert
	done := make(chan struct{}, 2)
	mon.Subscribe(func(a Alert) {
		mu.Lock()
		received = append(received, a)
		mu.Unlock()
		done <- struct{}{}
	})

	mon.CreateAlert(AlertSecurityViolation, SeverityLow, "low noise", "test-low", nil, nil)
	mon.CreateAlert(AlertSecurityViolation, SeverityCritical, "breach", "test-critical", nil, nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Subscriber never called")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("Expected exactly 1 delivered alert, got %d", len(received))
	}
	if received[0].Severity != SeverityCritical {
		t.Errorf("Wrong alert delivered: %+v", received[0])
	}
}

func TestMonitorStartStop(t *testing.T) {
	log := audit.New(audit.Options{})
	mw := middleware.NewSecurityMiddleware(log, middleware.Options{})
	mon := NewMonitor(log, mw, Options{Interval: 10 * time.Millisecond})

	mon.Start()
	time.Sleep(50 * time.Millisecond)
	mon.Stop()
	// Stop must be idempotent and non-blocking once stopped.
	mon.Stop()
}

func TestDashboardStatus(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mon, _, _ := newTestMonitor(func() time.Time { return now }, &RuleSet{})

	mon.Collect()
	d := mon.Dashboard()
	if d.SystemStatus != StatusHealthy {
		t.Errorf("Quiet system should be healthy, got %s", d.SystemStatus)
	}

	// A critical unresolved alert flips the status.
	id := mon.CreateAlert(AlertSecurityViolation, SeverityCritical, "breach", "test", nil, nil)
	d = mon.Dashboard()
	if d.SystemStatus != StatusCritical {
		t.Errorf("Expected critical status, got %s", d.SystemStatus)
	}
	if d.CriticalAlerts != 1 {
		t.Errorf("Expected 1 critical alert, got %d", d.CriticalAlerts)
	}

	if err := mon.ResolveAlert(id, "contained"); err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	d = mon.Dashboard()
	if d.SystemStatus != StatusHealthy {
		t.Errorf("Status should recover after resolution, got %s", d.SystemStatus)
	}
}

func TestDashboardWarningOnErrorRate(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mon, mw, _ := newTestMonitor(func() time.Time { return now }, &RuleSet{})

	// 2 failures out of 10 requests is a 20% error rate.
	rules := []middleware.Rule{{Field: "name", Type: middleware.TypeString, Required: true}}
	for i := 0; i < 8; i++ {
		mw.ValidateInput(map[string]any{"name": "ok"}, rules)
	}
	mw.ValidateInput(map[string]any{}, rules)
	mw.ValidateInput(map[string]any{}, rules)

	mon.Collect()
	d := mon.Dashboard()
	if d.SystemStatus != StatusWarning {
		t.Errorf("Expected warning status at 20%% error rate, got %s", d.SystemStatus)
	}
	if d.Trends[MetricRequests] != TrendIncreasing {
		t.Errorf("Expected increasing request trend, got %s", d.Trends[MetricRequests])
	}
}

func TestTopThreatsRanking(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mon, mw, _ := newTestMonitor(func() time.Time { return now }, &RuleSet{})

	mw.ReportSuspiciousActivity("203.0.113.60", "scan")
	mw.ReportSuspiciousActivity("203.0.113.60", "scan")
	mw.ReportSuspiciousActivity("203.0.113.61", "scan")

	mon.Collect()
	d := mon.Dashboard()
	if len(d.TopThreats) != 2 {
		t.Fatalf("Expected 2 threat sources, got %d", len(d.TopThreats))
	}
	if d.TopThreats[0].IP != "203.0.113.60" || d.TopThreats[0].Events != 2 {
		t.Errorf("Wrong top threat: %+v", d.TopThreats[0])
	}
}

func TestUpdateRulesValidates(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mon, _, _ := newTestMonitor(func() time.Time { return now }, &RuleSet{})

	bad := RuleSet{
		Rules: []Rule{
			{
				Name:       "broken",
				Enabled:    true,
				Conditions: []Condition{{Metric: "nonexistent", Operator: OpGreaterThan, Value: 1}},
				Actions:    []Action{{Type: ActionLog}},
			},
		},
	}
	if err := mon.UpdateRules(bad); err == nil {
		t.Error("Expected validation error for unknown metric")
	}

	good := DefaultRuleSet()
	if err := mon.UpdateRules(good); err != nil {
		t.Errorf("Valid rule set rejected: %v", err)
	}
}
