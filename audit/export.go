package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Export formats. CSV flattens the details map into a single JSON column so
// rows stay rectangular.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Export serializes the events matching f in the requested format.
func (l *Log) Export(f Filter, format string) (string, error) {
	events := l.Query(f)

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal events: %w", err)
		}
		return string(data), nil

	case FormatCSV:
		return exportCSV(events)

	default:
		return "", fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportCSV(events []Event) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"id", "timestamp", "event_name", "user_id", "role",
		"resource_type", "resource_id", "action", "result", "risk_level",
		"ip", "user_agent", "session_id", "details",
	}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, ev := range events {
		details := ""
		if len(ev.Details) > 0 {
			data, err := json.Marshal(ev.Details)
			if err != nil {
				details = strconv.Quote(fmt.Sprintf("%v", ev.Details))
			} else {
				details = string(data)
			}
		}

		row := []string{
			ev.ID,
			ev.Timestamp.Format(time.RFC3339Nano),
			ev.Name,
			ev.UserID,
			ev.Role,
			ev.ResourceType,
			ev.ResourceID,
			ev.Action,
			string(ev.Result),
			string(ev.RiskLevel),
			ev.IP,
			ev.UserAgent,
			ev.SessionID,
			details,
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("csv flush failed: %w", err)
	}
	return buf.String(), nil
}
