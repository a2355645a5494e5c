package driven

import (
	"context"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
)

// PublishRecordStore persists proof of publication.
// Writes are single-row upserts keyed by invoice id, so concurrent writers
// for distinct invoices never conflict.
type PublishRecordStore interface {
	// Record stores or replaces the record for rec.InvoiceID.
	Record(ctx context.Context, rec domain.PublishRecord) error

	// ListPublished returns which of ids already have a record.
	// Implementations answer in a single logical query.
	ListPublished(ctx context.Context, ids []string) (map[string]struct{}, error)

	// Get retrieves the record for one invoice.
	// Returns domain.ErrNotFound if there is none.
	Get(ctx context.Context, invoiceID string) (*domain.PublishRecord, error)

	// List returns the most recent records, newest first.
	// A limit of zero or less returns all records.
	List(ctx context.Context, limit int) ([]domain.PublishRecord, error)
}
