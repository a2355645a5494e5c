package cli

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
)

var settingsCmd = &cobra.Command{
	Use:     "settings",
	Aliases: []string{"config"},
	Short:   "Manage application settings",
	Long: `View and change the settings in the config file.

Every key can also be set through the environment as INVOICE_ETL_<KEY>,
for example INVOICE_ETL_RUN_WORKERS=4 for run.workers.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a key to the config file",
	Long: `Writes a key to the config file. Numbers and booleans are stored typed,
everything else as a string, e.g.

  invoice-etl settings set run.workers 4
  invoice-etl settings set drive.folder empresa/facturas`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	RunE:  runSettingsPath,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsPathCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	svc, settings, err := loadSettings()
	if err != nil {
		return err
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Printf("Config file: %s\n", svc.ConfigPath())
	cmd.Println()

	cmd.Println("[Source]")
	cmd.Printf("  DSN: %s\n", maskDSN(settings.Source.DSN))
	if settings.Source.Query != "" {
		cmd.Println("  Query: custom")
	} else {
		cmd.Println("  Query: default")
	}
	cmd.Printf("  Tax rate format: %s\n", settings.Source.TaxRateFormat)
	cmd.Printf("  Timeout: %s\n", settings.Source.Timeout)
	cmd.Println()

	cmd.Println("[Store]")
	cmd.Printf("  Backend: %s\n", settings.Store.Backend)
	cmd.Printf("  Name template: %s\n", settings.Store.NameTemplate)
	switch settings.Store.Backend {
	case domain.StoreDrive:
		cmd.Printf("  Folder: %s\n", settings.Drive.Folder)
		cmd.Printf("  Credentials: %s\n", settings.Drive.CredentialsFile)
		cmd.Printf("  Token: %s\n", settings.Drive.TokenFile)
		cmd.Printf("  Rate: %.1f req/s (burst %d)\n", settings.Drive.RequestsPerSecond, settings.Drive.Burst)
	case domain.StoreS3:
		cmd.Printf("  Endpoint: %s\n", settings.S3.Endpoint)
		cmd.Printf("  Bucket: %s\n", settings.S3.Bucket)
		cmd.Printf("  Prefix: %s\n", settings.S3.Prefix)
		cmd.Printf("  Access key: %s\n", maskSecret(settings.S3.AccessKey))
		cmd.Printf("  Secret key: %s\n", maskSecret(settings.S3.SecretKey))
	}
	cmd.Println()

	cmd.Println("[Run]")
	cmd.Printf("  Mode: %s\n", settings.Run.Mode)
	cmd.Printf("  Workers: %d\n", settings.Run.Workers)
	cmd.Printf("  Max attempts: %d\n", settings.Run.MaxAttempts)
	cmd.Printf("  Backoff: %s up to %s\n", settings.Run.InitialBackoff, settings.Run.MaxBackoff)
	cmd.Printf("  Publish timeout: %s\n", settings.Run.PublishTimeout)
	cmd.Printf("  Strict: %t\n", settings.Run.Strict)
	cmd.Println()

	status := "ready"
	if err := settings.Validate(); err != nil {
		status = err.Error()
	}
	cmd.Printf("Status: %s\n", status)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	if deps.Settings == nil {
		return errors.New("settings service not configured")
	}
	svc, err := deps.Settings(configDir)
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}

	key := strings.TrimSpace(args[0])
	if err := svc.Set(key, parseValue(args[1])); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}

	// Re-resolve so a bad value is reported now rather than at the next run.
	if _, err := svc.Get(); err != nil {
		cmd.Printf("Saved %s, but settings do not resolve: %v\n", key, err)
		return nil
	}
	cmd.Printf("Saved %s.\n", key)
	return nil
}

func runSettingsPath(cmd *cobra.Command, _ []string) error {
	if deps.Settings == nil {
		return errors.New("settings service not configured")
	}
	svc, err := deps.Settings(configDir)
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}
	cmd.Println(svc.ConfigPath())
	return nil
}

// parseValue keeps integers, floats and booleans typed in the TOML file.
func parseValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

func maskSecret(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// maskDSN hides the password of a connection URL.
func maskDSN(dsn string) string {
	if dsn == "" {
		return "(not set)"
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		if strings.Contains(dsn, "password=") {
			return "****"
		}
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
