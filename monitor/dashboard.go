package monitor

import (
	"sort"
	"strings"

	"southwinds.dev/aegis/audit"
)

// SystemStatus summarizes overall health.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusWarning  SystemStatus = "warning"
	StatusCritical SystemStatus = "critical"
)

// Trend describes how a metric moved between the last two windows.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// ThreatSource is a request origin ranked by suspicious activity.
type ThreatSource struct {
	IP     string `json:"ip"`
	Events int    `json:"events"`
}

// Dashboard is the consolidated monitoring view.
type Dashboard struct {
	CurrentMetrics Metrics          `json:"current_metrics"`
	ActiveAlerts   []Alert          `json:"active_alerts"`
	CriticalAlerts int              `json:"critical_alerts"`
	HighAlerts     int              `json:"high_alerts"`
	Trends         map[string]Trend `json:"trends"`
	TopThreats     []ThreatSource   `json:"top_threats"`
	SystemStatus   SystemStatus     `json:"system_status"`
}

// Dashboard builds the current monitoring view. Status is critical when any
// unresolved critical alert exists, warning when the error rate exceeds 10%
// or load exceeds 80%, healthy otherwise.
func (m *Monitor) Dashboard() Dashboard {
	m.stateMu.Lock()
	var current, previous Metrics
	if n := len(m.history); n > 0 {
		current = m.history[n-1]
		if n > 1 {
			previous = m.history[n-2]
		}
	}
	m.stateMu.Unlock()

	active := m.ActiveAlerts()
	critical, high := 0, 0
	for _, a := range active {
		switch a.Severity {
		case SeverityCritical:
			critical++
		case SeverityHigh:
			high++
		}
	}

	status := StatusHealthy
	switch {
	case critical > 0:
		status = StatusCritical
	case current.ErrorRate > 0.10 || current.Load > 0.80:
		status = StatusWarning
	}

	return Dashboard{
		CurrentMetrics: current,
		ActiveAlerts:   active,
		CriticalAlerts: critical,
		HighAlerts:     high,
		Trends: map[string]Trend{
			MetricRequests:    trendOf(float64(previous.Requests), float64(current.Requests)),
			MetricFailures:    trendOf(float64(previous.Failures), float64(current.Failures)),
			MetricXSSAttempts: trendOf(float64(previous.XSSAttempts), float64(current.XSSAttempts)),
			MetricSQLInjectionAttempts: trendOf(
				float64(previous.SQLInjectionAttempts), float64(current.SQLInjectionAttempts)),
		},
		TopThreats:   m.topThreats(5),
		SystemStatus: status,
	}
}

func trendOf(previous, current float64) Trend {
	switch {
	case current > previous:
		return TrendIncreasing
	case current < previous:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// topThreats ranks source addresses by suspicious events over the last
// monitoring window.
func (m *Monitor) topThreats(limit int) []ThreatSource {
	start := m.clock().Add(-m.interval).UTC()
	events := m.audit.Query(audit.Filter{Start: &start})

	counts := make(map[string]int)
	for _, ev := range events {
		if ev.IP == "" || !strings.Contains(ev.Name, "suspicious") {
			continue
		}
		counts[ev.IP]++
	}

	threats := make([]ThreatSource, 0, len(counts))
	for ip, n := range counts {
		threats = append(threats, ThreatSource{IP: ip, Events: n})
	}
	sort.Slice(threats, func(i, j int) bool {
		if threats[i].Events != threats[j].Events {
			return threats[i].Events > threats[j].Events
		}
		return threats[i].IP < threats[j].IP
	})
	if limit > 0 && len(threats) > limit {
		threats = threats[:limit]
	}
	return threats
}
