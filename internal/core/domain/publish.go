package domain

import "time"

// PublishStatus is the state recorded for a published invoice.
type PublishStatus string

const (
	// PublishStatusPublished marks a document confirmed durable by the store.
	PublishStatusPublished PublishStatus = "published"
)

// PublishRecord is durable proof that an invoice document exists remotely.
// It is written only after the document store confirms durability and is
// never deleted by the pipeline.
type PublishRecord struct {
	InvoiceID   string
	Status      PublishStatus
	PublishedAt time.Time

	// Location is the store-specific handle (Drive file id, object key).
	Location string

	// Checksum is the xxhash64 of the published document bytes, hex encoded.
	Checksum string

	// RunID identifies the run that wrote the record.
	RunID string
}

// StoredObject describes a document the store has confirmed as durable.
type StoredObject struct {
	// Name is the final object name.
	Name string

	// Location is the store-specific handle.
	Location string

	// Size is the number of bytes stored.
	Size int64

	// Replaced is true when an existing object of the same name was overwritten.
	Replaced bool
}

// FetchQuery selects the rows a run operates on.
// A zero value selects everything the source query returns.
type FetchQuery struct {
	// From and To bound the invoice date, inclusive. Nil means unbounded.
	From *time.Time
	To   *time.Time

	// InvoiceIDs restricts the fetch to specific invoices.
	InvoiceIDs []string
}

// IsZero returns true if the query has no filters.
func (q FetchQuery) IsZero() bool {
	return q.From == nil && q.To == nil && len(q.InvoiceIDs) == 0
}
