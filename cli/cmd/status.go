package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault and store status",
	Long:  "Report the storage backend health, credential count, and audit log usage.",
	RunE:  showStatus,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output in JSON format")
}

func showStatus(cmd *cobra.Command, args []string) error {
	store, err := buildStore()
	if err != nil {
		return err
	}
	defer store.Close()

	storeHealthy := true
	if err := store.Ping(); err != nil {
		storeHealthy = false
	}

	creds := vault.List(cliUser)
	due := vault.RotationCandidates(time.Now())

	if statusJSON {
		out := map[string]any{
			"store_type":     store.Type(),
			"store_healthy":  storeHealthy,
			"credentials":    len(creds),
			"rotation_due":   len(due),
			"audit_events":   auditLog.Size(),
			"audit_capacity": auditLog.Capacity(),
			"audit_dropped":  auditLog.DroppedNotifications(),
		}
		jsonData, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonData))
		return nil
	}

	fmt.Printf("Store: %s (%s)\n", store.Type(), healthLabel(storeHealthy))
	if store.Type() == "filesystem" {
		fmt.Printf("Path: %s\n", viper.GetString("store.base_path"))
	}
	fmt.Printf("Credentials: %d (%d due for rotation)\n", len(creds), len(due))
	fmt.Printf("Audit Events: %d / %d\n", auditLog.Size(), auditLog.Capacity())
	if dropped := auditLog.DroppedNotifications(); dropped > 0 {
		fmt.Printf("Dropped Notifications: %d\n", dropped)
	}
	return nil
}

func healthLabel(ok bool) string {
	if ok {
		return "healthy"
	}
	return "unreachable"
}
