package driving

import (
	"context"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
)

// RunRequest parameterises one batch run.
type RunRequest struct {
	Query domain.FetchQuery

	// DryRun assembles and filters but publishes nothing.
	DryRun bool
}

// RunCoordinator executes the extract, assemble, filter and publish pipeline.
type RunCoordinator interface {
	// Run executes one batch. The summary is returned even when err is
	// non-nil, so callers can report partial progress; err is non-nil only
	// for run-level failures (source unreachable, duplicate check
	// unavailable, cancellation).
	Run(ctx context.Context, req RunRequest) (*domain.RunSummary, error)

	// Status returns a snapshot of the run in progress.
	Status() RunStatus
}

// RunStatus represents the current state of a run.
type RunStatus struct {
	// Running indicates if a run is in progress.
	Running bool

	// Phase names the current pipeline step (fetch, filter, publish).
	Phase string

	RowsFetched int
	Candidates  int
	Published   int
	Failed      int
}

// RecordService exposes publish records to operators.
type RecordService interface {
	// List returns the most recent publish records.
	List(ctx context.Context, limit int) ([]domain.PublishRecord, error)

	// Get returns the record for one invoice.
	Get(ctx context.Context, invoiceID string) (*domain.PublishRecord, error)
}

// HealthChecker verifies external collaborators before a run.
type HealthChecker interface {
	// Check pings the source and validates the document store.
	// The returned map has one entry per collaborator; a nil error means healthy.
	Check(ctx context.Context) map[string]error
}
