package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driving"
	"github.com/custodia-labs/invoice-etl/internal/logger"
)

// Exit codes. A run with failed invoices exits with their count, up to ExitMaxFailures.
const (
	ExitOK          = 0
	ExitMaxFailures = 100
	ExitAborted     = 101
)

// version is set at build time with -ldflags "-X ...cli.version=...".
var version = "dev"

// Dependencies builds the services commands use. Every builder returns a
// release func that must be called when the command finishes.
type Dependencies struct {
	Settings    func(configDir string) (driving.SettingsService, error)
	Coordinator func(ctx context.Context, s *domain.Settings) (driving.RunCoordinator, func(), error)
	Records     func(ctx context.Context, s *domain.Settings) (driving.RecordService, func(), error)
	Health      func(ctx context.Context, s *domain.Settings) (driving.HealthChecker, func(), error)

	// Authorize runs the Drive consent flow on a loopback port and returns
	// the token file path. show receives the consent URL.
	Authorize func(ctx context.Context, s *domain.Settings, port int, show func(authURL string)) (string, error)
}

var deps Dependencies

// SetDependencies installs the service builders.
func SetDependencies(d Dependencies) {
	deps = d
}

// Persistent flags.
var (
	configDir string
	envFile   string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "invoice-etl",
	Short: "Publish invoices from the ERP database as JSON documents",
	Long: `invoice-etl reads invoices from the ERP database, computes their IVA totals
and publishes one JSON document per invoice to Google Drive or an S3 bucket.

Invoices that were already published are skipped, so repeated runs are safe.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: preRun,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Config directory (default ~/.invoice-etl)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load if present")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func preRun(_ *cobra.Command, _ []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	if verbose {
		logger.SetVerbose(true)
	}
	return nil
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	rootCmd.SetOut(os.Stdout)
	return execute(ctx, os.Stderr)
}

func execute(ctx context.Context, stderr io.Writer) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", exitErr.err)
		}
		return exitErr.code
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

// loadSettings resolves settings and configures logging from them.
func loadSettings() (driving.SettingsService, *domain.Settings, error) {
	if deps.Settings == nil {
		return nil, nil, errors.New("settings service not configured")
	}
	svc, err := deps.Settings(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open config: %w", err)
	}
	settings, err := svc.Get()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if err := logger.Init(logger.Config{Level: settings.Log.Level, Format: settings.Log.Format}); err != nil {
		return nil, nil, err
	}
	logger.Debug("settings loaded", "config", svc.ConfigPath(), "backend", settings.Store.Backend)

	return svc, settings, nil
}

// commandContext returns the command's context, or a background one in tests.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
