package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"southwinds.dev/aegis/audit"
	icrypto "southwinds.dev/aegis/internal/crypto"
	"southwinds.dev/aegis/internal/misc"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
	Long:  "Query recorded security events, export them, and produce compliance reports.",
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit events",
	Long:  "List audit events filtered by user, event name, result, risk level, and time window.",
	RunE:  auditQuery,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit events",
	Long:  "Export matching audit events as JSON or CSV to stdout or a file.",
	RunE:  auditExport,
}

var auditDecryptCmd = &cobra.Command{
	Use:   "decrypt [file]",
	Short: "Decrypt an encrypted audit export",
	Long:  "Decrypt a file produced by 'audit export --encrypt' and print it to stdout.",
	Args:  cobra.ExactArgs(1),
	RunE:  auditDecrypt,
}

var auditReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a compliance report",
	Long:  "Summarize the audit trail over a time window: incidents, failures, and a compliance score.",
	RunE:  auditReport,
}

var (
	auditUser      string
	auditEventName string
	auditResult    string
	auditRisk      string
	auditSince     string
	auditUntil     string
	auditLimit     int
	auditOffset    int
	auditJSON      bool

	exportFormat  string
	exportOut     string
	exportEncrypt bool

	reportWindow time.Duration
)

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditExportCmd)
	auditCmd.AddCommand(auditDecryptCmd)
	auditCmd.AddCommand(auditReportCmd)

	for _, c := range []*cobra.Command{auditQueryCmd, auditExportCmd} {
		c.Flags().StringVar(&auditUser, "user", "", "filter by user id")
		c.Flags().StringVar(&auditEventName, "event", "", "filter by event name")
		c.Flags().StringVar(&auditResult, "result", "", "filter by result (success, failure, warning)")
		c.Flags().StringVar(&auditRisk, "risk", "", "filter by risk level (low, medium, high, critical)")
		c.Flags().StringVar(&auditSince, "since", "", "events at or after this time (RFC3339 or YYYY-MM-DD)")
		c.Flags().StringVar(&auditUntil, "until", "", "events before this time (RFC3339 or YYYY-MM-DD)")
		c.Flags().IntVar(&auditLimit, "limit", 0, "limit number of results")
		c.Flags().IntVar(&auditOffset, "offset", 0, "offset for pagination")
	}
	auditQueryCmd.Flags().BoolVar(&auditJSON, "json", false, "output in JSON format")

	auditExportCmd.Flags().StringVar(&exportFormat, "format", "json", "export format (json, csv)")
	auditExportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "write to file instead of stdout")
	auditExportCmd.Flags().BoolVar(&exportEncrypt, "encrypt", false, "encrypt the export with the master passphrase (requires --output)")

	auditReportCmd.Flags().DurationVar(&reportWindow, "window", 24*time.Hour, "report window ending now")
	auditReportCmd.Flags().BoolVar(&auditJSON, "json", false, "output in JSON format")
}

func buildFilter() (audit.Filter, error) {
	f := audit.Filter{
		UserID:    auditUser,
		Name:      auditEventName,
		Result:    audit.Result(auditResult),
		RiskLevel: audit.RiskLevel(auditRisk),
		Limit:     auditLimit,
		Offset:    auditOffset,
	}
	start, err := parseTimeFlag(auditSince)
	if err != nil {
		return f, err
	}
	end, err := parseTimeFlag(auditUntil)
	if err != nil {
		return f, err
	}
	f.Start = start
	f.End = end
	return f, nil
}

func auditQuery(cmd *cobra.Command, args []string) error {
	f, err := buildFilter()
	if err != nil {
		return err
	}

	events := auditLog.Query(f)

	if auditJSON {
		jsonData, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonData))
		return nil
	}

	if len(events) == 0 {
		fmt.Println("No events found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tEVENT\tUSER\tRESULT\tRISK\tIP")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Timestamp.Format("2006-01-02 15:04:05"),
			ev.Name, ev.UserID, ev.Result, ev.RiskLevel, ev.IP)
	}
	return w.Flush()
}

func auditExport(cmd *cobra.Command, args []string) error {
	f, err := buildFilter()
	if err != nil {
		return err
	}

	data, err := auditLog.Export(f, exportFormat)
	if err != nil {
		return fmt.Errorf("failed to export audit events: %w", err)
	}

	if exportOut == "" {
		if exportEncrypt {
			return fmt.Errorf("--encrypt requires --output")
		}
		fmt.Print(data)
		return nil
	}

	out := []byte(data)
	if exportEncrypt {
		out, err = icrypto.EncryptWithPassphrase(out, exportPassphrase())
		if err != nil {
			return fmt.Errorf("failed to encrypt export: %w", err)
		}
	}
	if err := os.WriteFile(exportOut, out, misc.FilePermissions); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	fmt.Printf("Exported audit events to %s\n", exportOut)
	fmt.Printf("SHA-256: %s\n", icrypto.Checksum(out))
	return nil
}

func auditDecrypt(cmd *cobra.Command, args []string) error {
	encrypted, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read export file: %w", err)
	}

	data, err := icrypto.DecryptWithPassphrase(encrypted, exportPassphrase())
	if err != nil {
		return fmt.Errorf("failed to decrypt export: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

func exportPassphrase() string {
	pass := viper.GetString("passphrase")
	if pass == "" {
		pass = os.Getenv("AEGIS_PASSPHRASE")
	}
	return pass
}

func auditReport(cmd *cobra.Command, args []string) error {
	end := time.Now()
	start := end.Add(-reportWindow)

	report := auditLog.ComplianceReport(start, end)

	if auditJSON {
		jsonData, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonData))
		return nil
	}

	fmt.Printf("Compliance Report %s - %s\n", report.Start.Format("2006-01-02 15:04"), report.End.Format("2006-01-02 15:04"))
	fmt.Printf("Total Events: %d\n", report.TotalEvents)
	fmt.Printf("Security Incidents: %d\n", report.SecurityIncidents)
	fmt.Printf("Data Access Events: %d\n", report.DataAccessCount)
	fmt.Printf("System Changes: %d\n", report.SystemChangeCount)
	fmt.Printf("Failed Attempts: %d\n", report.FailedAttempts)
	fmt.Printf("Compliance Score: %d/100\n", report.ComplianceScore)
	if len(report.Recommendations) > 0 {
		fmt.Println("Recommendations:")
		for _, r := range report.Recommendations {
			fmt.Printf("  - %s\n", r)
		}
	}
	return nil
}
