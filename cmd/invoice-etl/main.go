// Command invoice-etl publishes invoices from the ERP database as JSON
// documents to Google Drive or an S3 bucket.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/custodia-labs/invoice-etl/internal/adapters/driving/cli"
	"github.com/custodia-labs/invoice-etl/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cli.SetDependencies(cli.Dependencies{
		Settings:    app.Settings,
		Coordinator: app.Coordinator,
		Records:     app.Records,
		Health:      app.Health,
		Authorize:   app.AuthorizeDrive,
	})

	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
