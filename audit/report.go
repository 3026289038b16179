package audit

import (
	"fmt"
	"time"
)

// ComplianceReport summarizes activity in a period for compliance review.
type ComplianceReport struct {
	Start             time.Time      `json:"start"`
	End               time.Time      `json:"end"`
	TotalEvents       int            `json:"total_events"`
	EventsByType      map[string]int `json:"events_by_type"`
	SecurityIncidents int            `json:"security_incidents"`
	DataAccessCount   int            `json:"data_access_count"`
	SystemChangeCount int            `json:"system_change_count"`
	FailedAttempts    int            `json:"failed_attempts"`
	ComplianceScore   int            `json:"compliance_score"`
	Recommendations   []string       `json:"recommendations"`
}

const (
	incidentPenalty     = 5
	failureRatioPenalty = 20
)

// dataAccessEvents counted towards DataAccessCount.
var dataAccessEvents = map[string]struct{}{
	"credential_used": {},
	"data_export":     {},
}

// systemChangeEvents counted towards SystemChangeCount.
var systemChangeEvents = map[string]struct{}{
	"credential_created": {},
	"credential_updated": {},
	"credential_rotated": {},
	"credential_deleted": {},
	"config_change":      {},
	"permission_change":  {},
}

// ComplianceReport builds a report over [start, end]. The score starts at 100
// and loses a fixed penalty per high or critical incident plus a penalty
// proportional to the failure ratio; it never drops below 0.
func (l *Log) ComplianceReport(start, end time.Time) ComplianceReport {
	events := l.Query(Filter{Start: &start, End: &end})

	r := ComplianceReport{
		Start:        start,
		End:          end,
		TotalEvents:  len(events),
		EventsByType: make(map[string]int),
	}

	for _, ev := range events {
		r.EventsByType[ev.Name]++
		if ev.RiskLevel == RiskHigh || ev.RiskLevel == RiskCritical {
			r.SecurityIncidents++
		}
		if _, ok := dataAccessEvents[ev.Name]; ok {
			r.DataAccessCount++
		}
		if _, ok := systemChangeEvents[ev.Name]; ok {
			r.SystemChangeCount++
		}
		if ev.Result == ResultFailure {
			r.FailedAttempts++
		}
	}

	score := 100 - incidentPenalty*r.SecurityIncidents
	if r.TotalEvents > 0 {
		ratio := float64(r.FailedAttempts) / float64(r.TotalEvents)
		score -= int(ratio * failureRatioPenalty)
	}
	if score < 0 {
		score = 0
	}
	r.ComplianceScore = score
	r.Recommendations = recommendations(r)

	return r
}

func recommendations(r ComplianceReport) []string {
	var recs []string

	if r.SecurityIncidents > 0 {
		recs = append(recs, fmt.Sprintf("review %d security incident(s) recorded in the period", r.SecurityIncidents))
	}
	if r.TotalEvents > 0 {
		ratio := float64(r.FailedAttempts) / float64(r.TotalEvents)
		if ratio > 0.1 {
			recs = append(recs, "failure rate above 10%: investigate repeated failed operations")
		}
	}
	if r.DataAccessCount > 0 && r.TotalEvents > 0 && r.DataAccessCount*2 > r.TotalEvents {
		recs = append(recs, "data access dominates the event mix: verify access patterns are expected")
	}
	if len(recs) == 0 {
		recs = append(recs, "no action required")
	}
	return recs
}
