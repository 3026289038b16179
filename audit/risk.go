package audit

import "strings"

// criticalEvents are event names that always classify as critical risk.
var criticalEvents = map[string]struct{}{
	"security_breach":       {},
	"credential_compromise": {},
	"unauthorized_access":   {},
	"data_breach":           {},
	"system_intrusion":      {},
}

// highEvents are event names that always classify as high risk.
var highEvents = map[string]struct{}{
	"credential_created": {},
	"credential_deleted": {},
	"credential_rotated": {},
	"data_export":        {},
	"permission_change":  {},
	"config_change":      {},
	"ip_blocked":         {},
	"login_blocked":      {},
}

// ClassifyRisk maps an event name to its risk tier. The mapping is total and
// deterministic: fixed critical and high sets first, then a medium bucket for
// names containing "failed" or "suspicious", and low for everything else.
func ClassifyRisk(name string) RiskLevel {
	if _, ok := criticalEvents[name]; ok {
		return RiskCritical
	}
	if _, ok := highEvents[name]; ok {
		return RiskHigh
	}
	if strings.Contains(name, "failed") || strings.Contains(name, "suspicious") {
		return RiskMedium
	}
	return RiskLow
}

// classifyResult derives the event outcome: failure when an error is present
// in the details or the name says so, warning for warning/suspicious names,
// success otherwise.
func classifyResult(name string, details map[string]any) Result {
	if details != nil {
		if _, ok := details["error"]; ok {
			return ResultFailure
		}
	}
	if strings.Contains(name, "failed") {
		return ResultFailure
	}
	if strings.Contains(name, "warning") || strings.Contains(name, "suspicious") {
		return ResultWarning
	}
	return ResultSuccess
}
