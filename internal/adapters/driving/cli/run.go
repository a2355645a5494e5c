package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driving"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Publish new invoices",
	Long: `Fetches invoices from the source database, skips those already published
and publishes the rest to the configured store.

Exit status is 0 when every invoice was published or skipped, the number of
failed invoices (at most 100) otherwise, and 101 when the run was aborted.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

// Run flags.
var (
	runFrom    string
	runTo      string
	runIDs     []string
	runDryRun  bool
	runWorkers int
	runMode    string
	runStrict  bool
)

// progressInterval is how often the run command polls for progress.
var progressInterval = 500 * time.Millisecond

func init() {
	runCmd.Flags().StringVar(&runFrom, "from", "", "Only invoices dated on or after `YYYY-MM-DD`")
	runCmd.Flags().StringVar(&runTo, "to", "", "Only invoices dated on or before `YYYY-MM-DD`")
	runCmd.Flags().StringSliceVar(&runIDs, "id", nil, "Only these invoice ids (repeatable)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Assemble and filter, but publish nothing")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Invoices published concurrently")
	runCmd.Flags().StringVar(&runMode, "mode", "", "Duplicate check mode: exclusive or at-least-once")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "Fail an invoice when any of its rows is malformed")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	if deps.Coordinator == nil {
		return errors.New("run coordinator not configured")
	}

	_, settings, err := loadSettings()
	if err != nil {
		return &exitError{code: ExitAborted, err: err}
	}
	applyRunFlags(cmd, settings)
	if err := settings.Validate(); err != nil {
		return &exitError{code: ExitAborted, err: err}
	}

	query, err := parseQuery(runFrom, runTo, runIDs)
	if err != nil {
		return &exitError{code: ExitAborted, err: err}
	}

	ctx := commandContext(cmd)
	coordinator, release, err := deps.Coordinator(ctx, settings)
	if err != nil {
		return &exitError{code: ExitAborted, err: err}
	}
	defer release()

	if runDryRun {
		cmd.Println("Dry run: nothing will be published.")
	}

	summary, runErr := runWithProgress(ctx, cmd.ErrOrStderr(), coordinator,
		driving.RunRequest{Query: query, DryRun: runDryRun})
	if summary != nil {
		printSummary(cmd, summary)
	}

	code := exitCode(summary, runErr)
	if code == ExitOK {
		return nil
	}
	if runErr == nil {
		return &exitError{code: code, err: fmt.Errorf("%d invoice(s) failed", summary.Failed)}
	}
	return &exitError{code: code, err: runErr}
}

// applyRunFlags overrides settings with flags given on the command line.
func applyRunFlags(cmd *cobra.Command, settings *domain.Settings) {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		settings.Run.Workers = runWorkers
	}
	if flags.Changed("mode") {
		settings.Run.Mode = domain.RunMode(runMode)
	}
	if flags.Changed("strict") {
		settings.Run.Strict = runStrict
	}
}

// parseQuery builds the fetch filter from the command line.
func parseQuery(from, to string, ids []string) (domain.FetchQuery, error) {
	var q domain.FetchQuery

	parse := func(name, value string) (*time.Time, error) {
		if value == "" {
			return nil, nil
		}
		t, err := time.Parse(time.DateOnly, value)
		if err != nil {
			return nil, fmt.Errorf("%w: --%s %q is not a YYYY-MM-DD date", domain.ErrInvalidInput, name, value)
		}
		return &t, nil
	}

	var err error
	if q.From, err = parse("from", from); err != nil {
		return q, err
	}
	if q.To, err = parse("to", to); err != nil {
		return q, err
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return q, fmt.Errorf("%w: --to %s is before --from %s", domain.ErrInvalidInput, to, from)
	}

	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			q.InvoiceIDs = append(q.InvoiceIDs, id)
		}
	}
	return q, nil
}

// isTerminal reports whether w is an interactive terminal.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// runWithProgress runs the batch, redrawing a progress line on w when w is
// a terminal.
func runWithProgress(
	ctx context.Context,
	w io.Writer,
	coordinator driving.RunCoordinator,
	req driving.RunRequest,
) (*domain.RunSummary, error) {
	type result struct {
		summary *domain.RunSummary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := coordinator.Run(ctx, req)
		done <- result{summary, err}
	}()

	if !isTerminal(w) {
		r := <-done
		return r.summary, r.err
	}

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	var last driving.RunStatus
	for {
		select {
		case r := <-done:
			if last.Published+last.Failed > 0 {
				fmt.Fprintln(w)
			}
			return r.summary, r.err
		case <-ticker.C:
			status := coordinator.Status()
			if status.Phase == "publish" && status != last {
				fmt.Fprintf(w, "\rPublishing... %d/%d (%d failed)",
					status.Published+status.Failed, status.Candidates, status.Failed)
				last = status
			}
		}
	}
}

// exitCode maps a run outcome to the process exit status.
func exitCode(summary *domain.RunSummary, err error) int {
	if err != nil {
		return ExitAborted
	}
	if summary == nil || summary.Failed == 0 {
		return ExitOK
	}
	return min(summary.Failed, ExitMaxFailures)
}

func printSummary(cmd *cobra.Command, s *domain.RunSummary) {
	cmd.Println()
	cmd.Println("Run Summary")
	cmd.Println("===========")
	cmd.Printf("  Run ID:            %s\n", s.RunID)
	cmd.Printf("  Duration:          %s\n", s.Duration().Round(time.Millisecond))
	cmd.Printf("  Rows fetched:      %d\n", s.RowsFetched)
	cmd.Printf("  Malformed rows:    %d\n", s.MalformedRows)
	cmd.Printf("  Invoices:          %d\n", s.Fetched)
	cmd.Printf("  Already published: %d\n", s.SkippedDuplicate)
	if s.DryRun {
		cmd.Printf("  Would publish:     %d\n", len(s.Candidate))
	} else {
		cmd.Printf("  Published:         %d\n", s.Published)
	}
	cmd.Printf("  Failed:            %d\n", s.Failed)
	if s.Cancelled > 0 {
		cmd.Printf("  Cancelled:         %d\n", s.Cancelled)
	}

	if s.DryRun && len(s.Candidate) > 0 {
		cmd.Println()
		cmd.Println("Would publish:")
		for _, id := range s.Candidate {
			cmd.Printf("  %s\n", id)
		}
	}

	if len(s.Failures) > 0 {
		cmd.Println()
		cmd.Println("Failures:")
		for _, f := range s.Failures {
			kind := "permanent"
			if f.Transient {
				kind = "transient"
			}
			cmd.Printf("  %s [%s, %s", f.InvoiceID, f.Stage, kind)
			if f.Attempts > 0 {
				cmd.Printf(", %d attempt(s)", f.Attempts)
			}
			cmd.Printf("]: %s\n", f.Reason)
		}
	}
}
