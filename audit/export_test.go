package audit

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
)

func TestExportJSON(t *testing.T) {
	log := New(Options{})
	log.Record(Entry{Name: "credential_created", UserID: "alice", Details: map[string]any{"name": "k1"}})
	log.Record(Entry{Name: "credential_used", UserID: "alice"})

	out, err := log.Export(Filter{}, FormatJSON)
	if err != nil {
		t.Fatalf("Failed to export JSON: %v", err)
	}

	var events []Event
	if err := json.Unmarshal([]byte(out), &events); err != nil {
		t.Fatalf("Export is not valid JSON: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 exported events, got %d", len(events))
	}
	// Newest first, same as Query.
	if events[0].Name != "credential_used" {
		t.Errorf("Expected newest event first, got %s", events[0].Name)
	}
}

func TestExportCSV(t *testing.T) {
	log := New(Options{})
	log.Record(Entry{Name: "login_failed", UserID: "bob", IP: "10.0.0.8", Details: map[string]any{"error": "bad password"}})

	out, err := log.Export(Filter{}, FormatCSV)
	if err != nil {
		t.Fatalf("Failed to export CSV: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("Export is not valid CSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected header plus 1 row, got %d records", len(records))
	}

	header, row := records[0], records[1]
	col := func(name string) string {
		for i, h := range header {
			if h == name {
				return row[i]
			}
		}
		t.Fatalf("Missing column %s", name)
		return ""
	}
	if col("event_name") != "login_failed" {
		t.Errorf("Wrong event_name column: %s", col("event_name"))
	}
	if col("result") != string(ResultFailure) {
		t.Errorf("Wrong result column: %s", col("result"))
	}
	if !strings.Contains(col("details"), "bad password") {
		t.Errorf("Details column missing payload: %s", col("details"))
	}
}

func TestExportRespectsFilter(t *testing.T) {
	log := New(Options{})
	log.Record(Entry{Name: "credential_created", UserID: "alice"})
	log.Record(Entry{Name: "credential_created", UserID: "bob"})

	out, err := log.Export(Filter{UserID: "alice"}, FormatJSON)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	var events []Event
	if err := json.Unmarshal([]byte(out), &events); err != nil {
		t.Fatalf("Export is not valid JSON: %v", err)
	}
	if len(events) != 1 || events[0].UserID != "alice" {
		t.Errorf("Filter not applied to export: %v", events)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	log := New(Options{})
	if _, err := log.Export(Filter{}, "xml"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}
