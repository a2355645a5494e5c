package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check connectivity to the database and the store",
	Long: `Connects to the source database, validates access to the document store
and opens the publish records, without publishing anything.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	if deps.Health == nil {
		return errors.New("health checker not configured")
	}

	_, settings, err := loadSettings()
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	ctx := commandContext(cmd)
	checker, release, err := deps.Health(ctx, settings)
	if err != nil {
		return fmt.Errorf("failed to prepare checks: %w", err)
	}
	defer release()

	results := checker.Check(ctx)
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := 0
	for _, name := range names {
		if err := results[name]; err != nil {
			cmd.Printf("  %-8s FAIL  %v\n", name, err)
			failed++
			continue
		}
		cmd.Printf("  %-8s OK\n", name)
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	cmd.Println("All checks passed.")
	return nil
}
