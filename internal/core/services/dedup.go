package services

import (
	"context"
	"errors"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driven"
	"github.com/custodia-labs/invoice-etl/internal/logger"
)

// FilterResult splits a batch into new and already published identifiers.
// Both slices keep the order of the input.
type FilterResult struct {
	New       []string
	Published []string

	// FromStore is set when the record lookup failed and the split was
	// taken from the objects present in the document store.
	FromStore bool

	// Unchecked is set when no lookup succeeded and at-least-once mode let
	// every identifier through.
	Unchecked bool
}

// DuplicateFilter excludes invoices that already have a PublishRecord.
type DuplicateFilter struct {
	records driven.PublishRecordStore
	mode    domain.RunMode

	store      driven.DocumentStore
	objectName func(invoiceID string) string
}

// NewDuplicateFilter creates a filter over the given record store.
// An empty mode defaults to exclusive.
func NewDuplicateFilter(records driven.PublishRecordStore, mode domain.RunMode) *DuplicateFilter {
	if mode == "" {
		mode = domain.RunModeExclusive
	}
	return &DuplicateFilter{records: records, mode: mode}
}

// WithStoreFallback makes at-least-once mode ask store which objects exist
// when the record lookup fails. objectName maps an invoice id to its name.
func (f *DuplicateFilter) WithStoreFallback(store driven.DocumentStore, objectName func(string) string) *DuplicateFilter {
	f.store = store
	f.objectName = objectName
	return f
}

// Filter looks up every identifier in a single batched query.
// In exclusive mode a failed lookup returns *domain.DuplicateCheckUnavailableError.
func (f *DuplicateFilter) Filter(ctx context.Context, ids []string) (FilterResult, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return FilterResult{}, nil
	}

	published, err := f.lookup(ctx, ids)
	if err != nil {
		if f.mode != domain.RunModeAtLeastOnce || errors.Is(err, context.Canceled) {
			return FilterResult{}, &domain.DuplicateCheckUnavailableError{Err: err}
		}
		existing, storeErr := f.lookupStore(ctx, ids)
		if storeErr != nil {
			logger.Warn("duplicate check unavailable, publishing all candidates",
				"mode", f.mode, "candidates", len(ids), "error", err, "store_error", storeErr)
			return FilterResult{New: ids, Unchecked: true}, nil
		}
		logger.Warn("publish records unavailable, filtering by stored objects",
			"mode", f.mode, "candidates", len(ids), "error", err)
		res := split(ids, existing)
		res.FromStore = true
		return res, nil
	}

	res := split(ids, published)
	logger.Debug("duplicate filter", "candidates", len(ids), "new", len(res.New), "published", len(res.Published))
	return res, nil
}

func split(ids []string, published map[string]struct{}) FilterResult {
	var res FilterResult
	for _, id := range ids {
		if _, ok := published[id]; ok {
			res.Published = append(res.Published, id)
		} else {
			res.New = append(res.New, id)
		}
	}
	return res
}

// lookupStore asks the document store for the objects of ids in one batch.
func (f *DuplicateFilter) lookupStore(ctx context.Context, ids []string) (map[string]struct{}, error) {
	if f.store == nil || f.objectName == nil {
		return nil, errors.New("no document store fallback")
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = f.objectName(id)
	}
	exists, err := f.store.Exists(ctx, names)
	if err != nil {
		return nil, err
	}
	found := make(map[string]struct{})
	for i, id := range ids {
		if exists[names[i]] {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

func (f *DuplicateFilter) lookup(ctx context.Context, ids []string) (map[string]struct{}, error) {
	if f.records == nil {
		return nil, errors.New("publish record store not configured")
	}
	return f.records.ListPublished(ctx, ids)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
