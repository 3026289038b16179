package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"southwinds.dev/aegis/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Inspect the security monitor",
	Long:  "Show the monitoring dashboard, list and resolve alerts, and validate rule files.",
}

var monitorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the monitoring dashboard",
	Long:  "Run one monitoring cycle and print the resulting dashboard: metrics, alerts, trends, and top threats.",
	RunE:  monitorStatus,
}

var monitorAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List active alerts",
	RunE:  monitorAlerts,
}

var monitorResolveCmd = &cobra.Command{
	Use:   "resolve [alert-id]",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  monitorResolve,
}

var monitorRulesCmd = &cobra.Command{
	Use:   "check-rules [file]",
	Short: "Validate a monitor rules file",
	Long:  "Parse a YAML rules file and report validation errors without applying it.",
	Args:  cobra.ExactArgs(1),
	RunE:  monitorCheckRules,
}

var (
	monitorJSON bool
	resolution  string
)

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.AddCommand(monitorStatusCmd)
	monitorCmd.AddCommand(monitorAlertsCmd)
	monitorCmd.AddCommand(monitorResolveCmd)
	monitorCmd.AddCommand(monitorRulesCmd)

	monitorStatusCmd.Flags().BoolVar(&monitorJSON, "json", false, "output in JSON format")
	monitorAlertsCmd.Flags().BoolVar(&monitorJSON, "json", false, "output in JSON format")
	monitorResolveCmd.Flags().StringVar(&resolution, "resolution", "resolved via cli", "resolution note")
}

func monitorStatus(cmd *cobra.Command, args []string) error {
	secMon.Cycle()
	dash := secMon.Dashboard()

	if monitorJSON {
		jsonData, err := json.MarshalIndent(dash, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonData))
		return nil
	}

	fmt.Printf("System Status: %s\n", dash.SystemStatus)
	fmt.Printf("Active Alerts: %d (critical: %d, high: %d)\n",
		len(dash.ActiveAlerts), dash.CriticalAlerts, dash.HighAlerts)
	fmt.Printf("Error Rate: %.2f%%\n", dash.CurrentMetrics.ErrorRate*100)
	fmt.Printf("Load: %.2f%%\n", dash.CurrentMetrics.Load*100)
	fmt.Printf("Requests (last window): %d\n", dash.CurrentMetrics.Requests)
	fmt.Printf("Blocked Requests: %d\n", dash.CurrentMetrics.BlockedRequests)

	if len(dash.Trends) > 0 {
		fmt.Println("Trends:")
		for name, trend := range dash.Trends {
			fmt.Printf("  %s: %s\n", name, trend)
		}
	}
	if len(dash.TopThreats) > 0 {
		fmt.Println("Top Threats:")
		for _, t := range dash.TopThreats {
			fmt.Printf("  %s (%d events)\n", t.IP, t.Events)
		}
	}
	return nil
}

func monitorAlerts(cmd *cobra.Command, args []string) error {
	alerts := secMon.ActiveAlerts()

	if monitorJSON {
		jsonData, err := json.MarshalIndent(alerts, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonData))
		return nil
	}

	if len(alerts) == 0 {
		fmt.Println("No active alerts")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSEVERITY\tTYPE\tSOURCE\tMESSAGE\tTIME")
	for _, a := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Severity, a.Type, a.Source, a.Message,
			a.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func monitorResolve(cmd *cobra.Command, args []string) error {
	if err := secMon.ResolveAlert(args[0], resolution); err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	fmt.Printf("Alert '%s' resolved\n", args[0])
	return nil
}

func monitorCheckRules(cmd *cobra.Command, args []string) error {
	rules, err := monitor.LoadRules(args[0])
	if err != nil {
		return fmt.Errorf("rules file invalid: %w", err)
	}
	fmt.Printf("Rules file valid: %d thresholds, %d rules\n", len(rules.Thresholds), len(rules.Rules))
	return nil
}
