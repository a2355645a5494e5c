package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driven"
)

// Ensure PublishRecordStore implements the interface.
var _ driven.PublishRecordStore = (*PublishRecordStore)(nil)

// PublishRecordStore is an in-memory implementation of driven.PublishRecordStore.
type PublishRecordStore struct {
	mu        sync.RWMutex
	records   map[string]domain.PublishRecord
	lookups   int
	listErr   error
	recordErr error
}

// NewPublishRecordStore creates a new in-memory record store.
func NewPublishRecordStore() *PublishRecordStore {
	return &PublishRecordStore{
		records: make(map[string]domain.PublishRecord),
	}
}

// SetListError makes ListPublished fail with err. Nil clears it.
func (s *PublishRecordStore) SetListError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// SetRecordError makes Record fail with err. Nil clears it.
func (s *PublishRecordStore) SetRecordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordErr = err
}

// Record stores or replaces the record for an invoice.
func (s *PublishRecordStore) Record(ctx context.Context, rec domain.PublishRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.InvoiceID == "" {
		return fmt.Errorf("%w: record without invoice id", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.records[rec.InvoiceID] = rec
	return nil
}

// ListPublished returns which ids have a record.
func (s *PublishRecordStore) ListPublished(ctx context.Context, ids []string) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.listErr != nil {
		return nil, s.listErr
	}
	found := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

// Get retrieves the record for one invoice.
func (s *PublishRecordStore) Get(_ context.Context, invoiceID string) (*domain.PublishRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[invoiceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

// List returns records newest first.
func (s *PublishRecordStore) List(_ context.Context, limit int) ([]domain.PublishRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.PublishRecord, 0, len(s.records))
	for _, rec := range s.records {
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PublishedAt.Equal(result[j].PublishedAt) {
			return result[i].InvoiceID < result[j].InvoiceID
		}
		return result[i].PublishedAt.After(result[j].PublishedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Lookups returns the number of ListPublished calls.
func (s *PublishRecordStore) Lookups() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookups
}
