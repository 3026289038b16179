package cmd

import (
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"southwinds.dev/aegis"
	"southwinds.dev/aegis/audit"
	"southwinds.dev/aegis/internal/mem"
	"southwinds.dev/aegis/middleware"
	"southwinds.dev/aegis/monitor"
	"southwinds.dev/aegis/persist"
)

var (
	cfgFile    string
	storePath  string
	passphrase string

	engine   *aegis.CryptoEngine
	vault    *aegis.CredentialVault
	auditLog *audit.Log
	secMw    *middleware.SecurityMiddleware
	secMon   *monitor.Monitor
	logger   *zap.Logger

	cliUser string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aegis",
	Short: "Security core: credential vault, audit log and monitoring",
	Long: `aegis is the security infrastructure core: an encrypted credential
vault, an audit log with risk scoring and compliance reporting, request
security checks, and a threshold/rule driven security monitor.

Credentials are encrypted with ChaCha20-Poly1305 under a master key derived
from the passphrase; the decrypted values never touch disk.`,
	PersistentPreRunE: initializeServices,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if engine != nil {
			engine.ClearSecrets()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.aegis.yaml)")
	rootCmd.PersistentFlags().StringVarP(&storePath, "store-path", "p", "", "path to credential storage")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "master passphrase (or use AEGIS_PASSPHRASE env var)")
	rootCmd.PersistentFlags().String("store-type", "", "storage backend type (filesystem, s3)")
	rootCmd.PersistentFlags().String("rules", "", "monitor rules file (yaml)")
	rootCmd.PersistentFlags().Bool("mlock", false, "lock process memory so key material cannot be swapped to disk")

	bindFlagOrPanic("store.base_path", "store-path")
	bindFlagOrPanic("passphrase", "passphrase")
	bindFlagOrPanic("store.type", "store-type")
	bindFlagOrPanic("monitor.rules", "rules")
	bindFlagOrPanic("memory_lock", "mlock")

	// S3 flags for direct CLI usage
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "Use SSL for S3 connections")

	bindFlagOrPanic("store.s3.endpoint", "s3-endpoint")
	bindFlagOrPanic("store.s3.region", "s3-region")
	bindFlagOrPanic("store.s3.bucket", "s3-bucket")
	bindFlagOrPanic("store.s3.key_prefix", "s3-prefix")
	bindFlagOrPanic("store.s3.access_key_id", "s3-access-key")
	bindFlagOrPanic("store.s3.secret_access_key", "s3-secret-key")
	bindFlagOrPanic("store.s3.use_ssl", "s3-use-ssl")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/aegis")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".aegis")
	}

	viper.SetEnvPrefix("AEGIS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Missing config file is fine, defaults and env vars apply.
	}
}

func setDefaults() {
	viper.SetDefault("store.type", "filesystem")
	viper.SetDefault("store.base_path", ".aegis")

	viper.SetDefault("store.s3.region", "us-east-1")
	viper.SetDefault("store.s3.key_prefix", "aegis/")
	viper.SetDefault("store.s3.use_ssl", true)

	viper.SetDefault("audit.capacity", audit.DefaultCapacity)
	viper.SetDefault("monitor.interval", monitor.DefaultInterval)
	viper.SetDefault("log.level", "info")
}

func initializeServices(cmd *cobra.Command, args []string) error {
	switch cmd.Name() {
	case "help", "completion", "__complete", "version":
		return nil
	}

	var err error
	logger, err = buildLogger(viper.GetString("log.level"))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	cliUser = resolveUser()

	pass := viper.GetString("passphrase")
	if pass == "" {
		pass = os.Getenv("AEGIS_PASSPHRASE")
	}
	if pass == "" {
		return fmt.Errorf("passphrase is required: set --passphrase or AEGIS_PASSPHRASE")
	}

	engine, err = aegis.NewCryptoEngineWithOptions(aegis.EngineOptions{
		EnableMemoryLock: viper.GetBool("memory_lock"),
	})
	if err != nil {
		return fmt.Errorf("failed to create crypto engine: %w", err)
	}
	if viper.GetBool("memory_lock") && engine.MemoryProtection() < mem.ProtectionFull {
		logger.Warn("memory locking degraded",
			zap.Int("protection_level", int(engine.MemoryProtection())))
	}
	if err = engine.InitializeMasterKey(pass); err != nil {
		return fmt.Errorf("failed to initialize master key: %w", err)
	}

	auditLog = audit.New(audit.Options{Capacity: viper.GetInt("audit.capacity")})

	store, err := buildStore()
	if err != nil {
		return err
	}

	vault, err = aegis.NewCredentialVault(engine, auditLog, aegis.VaultOptions{Store: store})
	if err != nil {
		return fmt.Errorf("failed to open vault: %w", err)
	}

	secMw = middleware.NewSecurityMiddleware(auditLog, middleware.Options{Logger: logger})

	rules, err := loadRules()
	if err != nil {
		return err
	}
	secMon = monitor.NewMonitor(auditLog, secMw, monitor.Options{
		Interval: viper.GetDuration("monitor.interval"),
		Rules:    rules,
		Logger:   logger,
	})

	auditLog.Record(audit.Entry{
		Name:         "cli_command_executed",
		UserID:       cliUser,
		ResourceType: "cli",
		ResourceID:   cmd.Name(),
		Action:       cmd.Name(),
		Details: map[string]any{
			"flags": sanitizeFlags(cmd),
		},
	})
	return nil
}

// sanitizeFlags captures the changed flags of an invocation for the audit
// trail, redacting anything that could carry a secret.
func sanitizeFlags(cmd *cobra.Command) map[string]any {
	flags := make(map[string]any)
	visit := func(flag *pflag.Flag) {
		if !flag.Changed {
			return
		}
		if isSensitiveFlag(flag.Name) {
			flags[flag.Name] = "[REDACTED]"
		} else {
			flags[flag.Name] = flag.Value.String()
		}
	}
	cmd.Flags().VisitAll(visit)
	cmd.InheritedFlags().VisitAll(visit)
	return flags
}

func isSensitiveFlag(name string) bool {
	switch name {
	case "passphrase", "s3-secret-key", "s3-access-key", "data":
		return true
	}
	return false
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return cfg.Build()
}

func buildStore() (persist.Store, error) {
	cfg := persist.StoreConfig{
		Type:     persist.StoreType(viper.GetString("store.type")),
		BasePath: viper.GetString("store.base_path"),
		S3: persist.S3Config{
			Endpoint:        viper.GetString("store.s3.endpoint"),
			AccessKeyID:     viper.GetString("store.s3.access_key_id"),
			SecretAccessKey: viper.GetString("store.s3.secret_access_key"),
			UseSSL:          viper.GetBool("store.s3.use_ssl"),
			Region:          viper.GetString("store.s3.region"),
			Bucket:          viper.GetString("store.s3.bucket"),
			KeyPrefix:       viper.GetString("store.s3.key_prefix"),
		},
	}
	store, err := persist.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	return store, nil
}

func loadRules() (*monitor.RuleSet, error) {
	path := viper.GetString("monitor.rules")
	if path == "" {
		return nil, nil
	}
	rules, err := monitor.LoadRules(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load monitor rules: %w", err)
	}
	return rules, nil
}

func resolveUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if host, err := os.Hostname(); err == nil {
		return "cli@" + host
	}
	return "cli"
}

func parseTimeFlag(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("cannot parse time %q (use RFC3339 or YYYY-MM-DD)", value)
}
