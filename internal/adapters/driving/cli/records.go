package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
)

var recordsCmd = &cobra.Command{
	Use:   "records [invoice-id]",
	Short: "Show publish records",
	Long: `Lists the most recent publish records, newest first.
With an invoice id, shows the record for that invoice.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecords,
}

// recordsLimit is a flag for the records command.
var recordsLimit int

func init() {
	recordsCmd.Flags().IntVarP(&recordsLimit, "limit", "n", 20, "Maximum records to list (0 for all)")
	rootCmd.AddCommand(recordsCmd)
}

func runRecords(cmd *cobra.Command, args []string) error {
	if deps.Records == nil {
		return errors.New("record service not configured")
	}

	_, settings, err := loadSettings()
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	records, release, err := deps.Records(ctx, settings)
	if err != nil {
		return fmt.Errorf("failed to open publish records: %w", err)
	}
	defer release()

	if len(args) == 1 {
		rec, err := records.Get(ctx, args[0])
		if errors.Is(err, domain.ErrNotFound) {
			cmd.Printf("Invoice %s has not been published.\n", args[0])
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get record: %w", err)
		}
		printRecord(cmd, rec)
		return nil
	}

	recs, err := records.List(ctx, recordsLimit)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	if len(recs) == 0 {
		cmd.Println("No invoices published yet.")
		return nil
	}

	for i := range recs {
		cmd.Printf("  %-12s %s  %s\n", recs[i].InvoiceID,
			recs[i].PublishedAt.Local().Format(time.DateTime), recs[i].Location)
	}
	cmd.Printf("\nTotal: %d records\n", len(recs))
	return nil
}

func printRecord(cmd *cobra.Command, rec *domain.PublishRecord) {
	cmd.Printf("Invoice:   %s\n", rec.InvoiceID)
	cmd.Printf("Status:    %s\n", rec.Status)
	cmd.Printf("Published: %s\n", rec.PublishedAt.Local().Format(time.RFC3339))
	cmd.Printf("Location:  %s\n", rec.Location)
	cmd.Printf("Checksum:  %s\n", rec.Checksum)
	cmd.Printf("Run:       %s\n", rec.RunID)
}
