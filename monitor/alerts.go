package monitor

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"southwinds.dev/aegis"
	"southwinds.dev/aegis/audit"
)

// AlertType categorizes what a security alert is about.
type AlertType string

const (
	AlertRateLimit          AlertType = "rate_limit"
	AlertSuspiciousActivity AlertType = "suspicious_activity"
	AlertSecurityViolation  AlertType = "security_violation"
	AlertSystemAnomaly      AlertType = "system_anomaly"
)

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is a raised security condition. Once created it is immutable except
// through ResolveAlert.
type Alert struct {
	ID                string         `json:"id"`
	Type              AlertType      `json:"type"`
	Severity          Severity       `json:"severity"`
	Message           string         `json:"message"`
	Details           map[string]any `json:"details,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
	Resolved          bool           `json:"resolved"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	Resolution        string         `json:"resolution,omitempty"`
	Source            string         `json:"source"`
	AffectedResources []string       `json:"affected_resources,omitempty"`
}

// Subscriber receives high and critical alerts as they are created.
type Subscriber func(Alert)

// CreateAlert raises a new alert and returns its id. High and critical
// alerts are additionally delivered to subscribers, best effort: a slow
// subscriber never blocks the monitoring loop.
//
// An unresolved alert from the same source with the same message is treated
// as still active and its id is returned instead of raising a duplicate.
func (m *Monitor) CreateAlert(alertType AlertType, severity Severity, message, source string, details map[string]any, affected []string) string {
	m.alertMu.Lock()
	for id, a := range m.alerts {
		if !a.Resolved && a.Source == source && a.Message == message {
			m.alertMu.Unlock()
			return id
		}
	}

	alert := Alert{
		ID:                uuid.NewString(),
		Type:              alertType,
		Severity:          severity,
		Message:           message,
		Details:           details,
		Timestamp:         m.clock().UTC(),
		Source:            source,
		AffectedResources: affected,
	}
	m.alerts[alert.ID] = &alert
	subscribers := m.subscribers
	m.alertMu.Unlock()

	m.audit.Record(audit.Entry{
		Name:   "security_alert_created",
		Action: "create_alert",
		Details: map[string]any{
			"alert_id": alert.ID,
			"type":     string(alertType),
			"severity": string(severity),
			"message":  message,
			"source":   source,
		},
	})
	m.logger.Warn("security alert created",
		zap.String("alert_id", alert.ID),
		zap.String("type", string(alertType)),
		zap.String("severity", string(severity)),
		zap.String("message", message))

	if severity == SeverityHigh || severity == SeverityCritical {
		for _, sub := range subscribers {
			go sub(alert)
		}
	}
	return alert.ID
}

// ResolveAlert marks an alert resolved with the given resolution text.
func (m *Monitor) ResolveAlert(id, resolution string) error {
	m.alertMu.Lock()
	alert, ok := m.alerts[id]
	if !ok {
		m.alertMu.Unlock()
		return fmt.Errorf("alert %s: %w", id, aegis.ErrNotFound)
	}
	if !alert.Resolved {
		now := m.clock().UTC()
		alert.Resolved = true
		alert.ResolvedAt = &now
		alert.Resolution = resolution
	}
	m.alertMu.Unlock()

	m.audit.Record(audit.Entry{
		Name:   "security_alert_resolved",
		Action: "resolve_alert",
		Details: map[string]any{
			"alert_id":   id,
			"resolution": resolution,
		},
	})
	m.logger.Info("security alert resolved", zap.String("alert_id", id))
	return nil
}

// GetAlert returns a copy of the alert with the given id.
func (m *Monitor) GetAlert(id string) (Alert, error) {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return Alert{}, fmt.Errorf("alert %s: %w", id, aegis.ErrNotFound)
	}
	return *alert, nil
}

// ActiveAlerts returns the unresolved alerts, newest first.
func (m *Monitor) ActiveAlerts() []Alert {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()
	var active []Alert
	for _, a := range m.alerts {
		if !a.Resolved {
			active = append(active, *a)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].Timestamp.After(active[j].Timestamp)
	})
	return active
}

// Subscribe registers a callback for high and critical alerts.
func (m *Monitor) Subscribe(sub Subscriber) {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()
	m.subscribers = append(m.subscribers, sub)
}
