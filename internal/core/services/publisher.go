package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driven"
	"github.com/custodia-labs/invoice-etl/internal/logger"
)

// defaultRecordTimeout bounds the record write that follows a confirmed upload.
const defaultRecordTimeout = 30 * time.Second

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	// NameTemplate maps an invoice id to an object name.
	NameTemplate string

	// UploadTimeout bounds a single upload attempt. Zero means no bound.
	UploadTimeout time.Duration

	// RecordTimeout bounds the record write. It runs detached from the
	// caller's cancellation so a confirmed upload gets recorded.
	RecordTimeout time.Duration
}

// Publisher serialises invoices and performs the idempotent upload.
//
// The protocol is upload-then-record: a PublishRecord is written only after
// the store confirms the document is durable. A crash between the two leaves
// an unrecorded document, which the next run overwrites with identical
// content.
type Publisher struct {
	store   driven.DocumentStore
	records driven.PublishRecordStore
	naming  domain.StoreSettings
	opts    PublisherOptions
	now     func() time.Time
}

// NewPublisher creates a publisher.
func NewPublisher(store driven.DocumentStore, records driven.PublishRecordStore, opts PublisherOptions) *Publisher {
	if opts.NameTemplate == "" {
		opts.NameTemplate = domain.DefaultSettings().Store.NameTemplate
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = defaultRecordTimeout
	}
	return &Publisher{
		store:   store,
		records: records,
		naming:  domain.StoreSettings{NameTemplate: opts.NameTemplate},
		opts:    opts,
		now:     time.Now,
	}
}

// ObjectName returns the object name used for an invoice.
func (p *Publisher) ObjectName(invoiceID string) string {
	return p.naming.ObjectName(invoiceID)
}

// Publish uploads one invoice and records it. Every error is a *domain.PublishError.
func (p *Publisher) Publish(ctx context.Context, inv *domain.Invoice, runID string) (*domain.PublishRecord, error) {
	data, err := domain.EncodeDocument(domain.NewDocument(inv))
	if err != nil {
		return nil, &domain.PublishError{InvoiceID: inv.ID, Op: "encode", Err: err}
	}

	name := p.ObjectName(inv.ID)
	obj, err := p.upload(ctx, name, data)
	if err != nil {
		return nil, &domain.PublishError{
			InvoiceID: inv.ID,
			Op:        "upload",
			Transient: isRetryable(ctx, err),
			Err:       err,
		}
	}
	logger.Debug("document stored", "invoice", inv.ID, "name", obj.Name,
		"location", obj.Location, "bytes", obj.Size, "replaced", obj.Replaced)

	rec := domain.PublishRecord{
		InvoiceID:   inv.ID,
		Status:      domain.PublishStatusPublished,
		PublishedAt: p.now().UTC(),
		Location:    obj.Location,
		Checksum:    Checksum(data),
		RunID:       runID,
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.RecordTimeout)
	defer cancel()
	if err := p.records.Record(recordCtx, rec); err != nil {
		// The document is durable but unrecorded; a retry overwrites it.
		return nil, &domain.PublishError{InvoiceID: inv.ID, Op: "record", Transient: true, Err: err}
	}

	return &rec, nil
}

func (p *Publisher) upload(ctx context.Context, name string, data []byte) (domain.StoredObject, error) {
	if p.opts.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.UploadTimeout)
		defer cancel()
	}
	obj, err := p.store.Upload(ctx, name, data)
	if err != nil {
		return domain.StoredObject{}, fmt.Errorf("upload %s: %w", name, err)
	}
	return obj, nil
}

// isRetryable classifies an upload error. A deadline hit by the per-attempt
// timeout is retryable; cancellation of the run is not.
func isRetryable(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if domain.IsTransientInfra(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Checksum returns the hex xxhash64 of a document.
func Checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}
