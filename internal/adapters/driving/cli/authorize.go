package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/invoice-etl/internal/adapters/driving/oauth"
	"github.com/custodia-labs/invoice-etl/internal/logger"
)

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Authorise access to Google Drive",
	Long: `Opens the Google consent page and stores the resulting token in the
file named by drive.token_file. Run it once before publishing to Drive,
and again if the token is revoked.`,
	Args: cobra.NoArgs,
	RunE: runAuthorize,
}

// Flags for the authorize command.
var (
	authorizePort      int
	authorizeNoBrowser bool
)

// openBrowser is replaced in tests.
var openBrowser = oauth.OpenBrowser

func init() {
	authorizeCmd.Flags().IntVar(&authorizePort, "port", 0, "Loopback port for the redirect (0 picks a free port)")
	authorizeCmd.Flags().BoolVar(&authorizeNoBrowser, "no-browser", false, "Print the URL without opening a browser")
	rootCmd.AddCommand(authorizeCmd)
}

func runAuthorize(cmd *cobra.Command, _ []string) error {
	if deps.Authorize == nil {
		return errors.New("drive authorisation not configured")
	}

	_, settings, err := loadSettings()
	if err != nil {
		return err
	}
	if settings.Drive.CredentialsFile == "" || settings.Drive.TokenFile == "" {
		return errors.New("drive.credentials_file and drive.token_file are required")
	}

	show := func(authURL string) {
		cmd.Println("Open this URL to authorise access to Google Drive:")
		cmd.Println()
		cmd.Printf("  %s\n\n", authURL)
		if authorizeNoBrowser {
			return
		}
		if err := openBrowser(authURL); err != nil {
			logger.Debug("could not open browser", "error", err)
		}
	}

	path, err := deps.Authorize(commandContext(cmd), settings, authorizePort, show)
	if err != nil {
		return fmt.Errorf("authorisation failed: %w", err)
	}
	cmd.Printf("Token saved to %s\n", path)
	return nil
}
