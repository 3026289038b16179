package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"southwinds.dev/aegis"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage credentials in the vault",
	Long:  "Store, retrieve, rotate, and delete encrypted credentials. Secret values are only revealed with --show-value.",
}

var storeCredentialCmd = &cobra.Command{
	Use:   "store [name]",
	Short: "Store a new credential",
	Long:  "Encrypt and store a credential. The value can be provided via stdin, file, or inline.",
	Args:  cobra.ExactArgs(1),
	RunE:  storeCredential,
}

var getCredentialCmd = &cobra.Command{
	Use:   "get [credential-id]",
	Short: "Retrieve a credential",
	Long:  "Show a credential's metadata with the value masked; pass --show-value to decrypt it.",
	Args:  cobra.ExactArgs(1),
	RunE:  getCredential,
}

var rotateCredentialCmd = &cobra.Command{
	Use:   "rotate [credential-id]",
	Short: "Rotate a credential value",
	Long:  "Replace the credential's secret value and reset its rotation clock.",
	Args:  cobra.ExactArgs(1),
	RunE:  rotateCredential,
}

var deleteCredentialCmd = &cobra.Command{
	Use:   "delete [credential-id]",
	Short: "Delete a credential",
	Long:  "Permanently delete a credential from the vault.",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteCredential,
}

var listCredentialsCmd = &cobra.Command{
	Use:   "list",
	Short: "List credentials",
	Long:  "List the caller's credentials with masked values.",
	RunE:  listCredentials,
}

var rotationDueCmd = &cobra.Command{
	Use:   "rotation-due",
	Short: "List credentials due for rotation",
	Long:  "List the ids of credentials whose rotation interval has elapsed or that have expired.",
	RunE:  rotationDue,
}

var (
	credKind       string
	credFile       string
	credData       string
	credProvider   string
	credEnv        string
	credTags       []string
	credExpiresIn  time.Duration
	credRotateEach time.Duration

	showValue    bool
	usageContext string
	credJSON     bool
)

func init() {
	rootCmd.AddCommand(credentialCmd)

	credentialCmd.AddCommand(storeCredentialCmd)
	credentialCmd.AddCommand(getCredentialCmd)
	credentialCmd.AddCommand(rotateCredentialCmd)
	credentialCmd.AddCommand(deleteCredentialCmd)
	credentialCmd.AddCommand(listCredentialsCmd)
	credentialCmd.AddCommand(rotationDueCmd)

	storeCredentialCmd.Flags().StringVarP(&credKind, "kind", "k", "api_key", "credential kind (api_key, token, password, certificate, ssh_key)")
	storeCredentialCmd.Flags().StringVarP(&credFile, "file", "f", "", "read the value from file (use '-' for stdin)")
	storeCredentialCmd.Flags().StringVarP(&credData, "data", "d", "", "credential value as string")
	storeCredentialCmd.Flags().StringVar(&credProvider, "provider", "", "provider the credential belongs to")
	storeCredentialCmd.Flags().StringVar(&credEnv, "environment", "", "environment (dev, staging, production)")
	storeCredentialCmd.Flags().StringSliceVarP(&credTags, "tags", "t", nil, "tags for the credential")
	storeCredentialCmd.Flags().DurationVar(&credExpiresIn, "expires-in", 0, "expiry relative to now (e.g. 720h); zero means no expiry")
	storeCredentialCmd.Flags().DurationVar(&credRotateEach, "rotate-every", 0, "rotation interval (e.g. 2160h); zero disables rotation tracking")

	getCredentialCmd.Flags().BoolVar(&showValue, "show-value", false, "decrypt and print the secret value")
	getCredentialCmd.Flags().StringVar(&usageContext, "context", "cli", "usage context recorded in the audit trail")
	getCredentialCmd.Flags().BoolVar(&credJSON, "json", false, "output in JSON format")

	rotateCredentialCmd.Flags().StringVarP(&credFile, "file", "f", "", "read the new value from file (use '-' for stdin)")
	rotateCredentialCmd.Flags().StringVarP(&credData, "data", "d", "", "new credential value as string")

	listCredentialsCmd.Flags().BoolVar(&credJSON, "json", false, "output in JSON format")
}

func storeCredential(cmd *cobra.Command, args []string) error {
	name := args[0]

	value, err := readCredentialValue()
	if err != nil {
		return fmt.Errorf("failed to read credential value: %w", err)
	}

	var expiresAt *time.Time
	if credExpiresIn > 0 {
		t := time.Now().Add(credExpiresIn)
		expiresAt = &t
	}

	metadata := aegis.CredentialMetadata{
		Provider:    credProvider,
		Environment: credEnv,
		Tags:        credTags,
		Owner:       cliUser,
	}

	id, err := vault.Store(name, aegis.CredentialKind(credKind), value, metadata, expiresAt, credRotateEach)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	fmt.Printf("Credential '%s' stored successfully\n", name)
	fmt.Printf("ID: %s, Owner: %s\n", id, cliUser)
	return nil
}

func getCredential(cmd *cobra.Command, args []string) error {
	id := args[0]

	masked, err := vault.Get(id, cliUser)
	if err != nil {
		return fmt.Errorf("failed to get credential: %w", err)
	}

	if credJSON {
		jsonData, err := json.MarshalIndent(masked, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonData))
	} else {
		printMasked(masked)
	}

	if showValue {
		value, err := vault.GetValue(id, cliUser, usageContext)
		if err != nil {
			return fmt.Errorf("failed to decrypt credential: %w", err)
		}
		fmt.Println("\n--- Value ---")
		fmt.Print(string(value))
		if !strings.HasSuffix(string(value), "\n") {
			fmt.Println()
		}
	}

	return nil
}

func rotateCredential(cmd *cobra.Command, args []string) error {
	id := args[0]

	value, err := readCredentialValue()
	if err != nil {
		return fmt.Errorf("failed to read credential value: %w", err)
	}

	if err := vault.Rotate(id, value, cliUser); err != nil {
		return fmt.Errorf("failed to rotate credential: %w", err)
	}

	fmt.Printf("Credential '%s' rotated successfully\n", id)
	return nil
}

func deleteCredential(cmd *cobra.Command, args []string) error {
	id := args[0]

	if err := vault.Delete(id, cliUser); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	fmt.Printf("Credential '%s' deleted successfully\n", id)
	return nil
}

func listCredentials(cmd *cobra.Command, args []string) error {
	creds := vault.List(cliUser)

	if credJSON {
		jsonData, err := json.MarshalIndent(creds, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonData))
		return nil
	}

	if len(creds) == 0 {
		fmt.Println("No credentials found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tVALUE\tENVIRONMENT\tCREATED")
	for _, c := range creds {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Name, c.Kind, c.MaskedValue, c.Metadata.Environment,
			c.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func rotationDue(cmd *cobra.Command, args []string) error {
	due := vault.RotationCandidates(time.Now())
	if len(due) == 0 {
		fmt.Println("No credentials due for rotation")
		return nil
	}
	for _, id := range due {
		fmt.Println(id)
	}
	return nil
}

func printMasked(c aegis.MaskedCredential) {
	fmt.Printf("ID: %s\n", c.ID)
	fmt.Printf("Name: %s\n", c.Name)
	fmt.Printf("Kind: %s\n", c.Kind)
	fmt.Printf("Value: %s\n", c.MaskedValue)
	fmt.Printf("Owner: %s\n", c.Metadata.Owner)
	if c.Metadata.Provider != "" {
		fmt.Printf("Provider: %s\n", c.Metadata.Provider)
	}
	if c.Metadata.Environment != "" {
		fmt.Printf("Environment: %s\n", c.Metadata.Environment)
	}
	if len(c.Metadata.Tags) > 0 {
		fmt.Printf("Tags: %s\n", strings.Join(c.Metadata.Tags, ", "))
	}
	fmt.Printf("Created: %s\n", c.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated: %s\n", c.UpdatedAt.Format("2006-01-02 15:04:05"))
	if c.ExpiresAt != nil {
		fmt.Printf("Expires: %s\n", c.ExpiresAt.Format("2006-01-02 15:04:05"))
	}
	if c.LastUsedAt != nil {
		fmt.Printf("Last Used: %s\n", c.LastUsedAt.Format("2006-01-02 15:04:05"))
	}
	if c.RotationInterval > 0 {
		fmt.Printf("Rotation Interval: %s\n", c.RotationInterval)
	}
}

func readCredentialValue() ([]byte, error) {
	switch {
	case credData != "":
		return []byte(credData), nil
	case credFile == "-":
		return io.ReadAll(os.Stdin)
	case credFile != "":
		return os.ReadFile(credFile)
	default:
		return nil, fmt.Errorf("no value provided: use --data or --file")
	}
}
