package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driven"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driving"
)

// Ensure HealthService implements the interface.
var _ driving.HealthChecker = (*HealthService)(nil)

// Names of the checked collaborators.
const (
	CheckSource  = "source"
	CheckStore   = "store"
	CheckRecords = "records"
)

// HealthService checks every collaborator a run depends on.
type HealthService struct {
	fetcher driven.RowFetcher
	store   driven.DocumentStore
	records driven.PublishRecordStore
}

// NewHealthService creates a health checker. Nil collaborators are reported unconfigured.
func NewHealthService(fetcher driven.RowFetcher, store driven.DocumentStore, records driven.PublishRecordStore) *HealthService {
	return &HealthService{fetcher: fetcher, store: store, records: records}
}

// Check runs all checks and returns one entry per collaborator.
func (s *HealthService) Check(ctx context.Context) map[string]error {
	result := make(map[string]error, 3)

	if s.fetcher == nil {
		result[CheckSource] = errors.New("not configured")
	} else if err := s.fetcher.Ping(ctx); err != nil {
		result[CheckSource] = fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	} else {
		result[CheckSource] = nil
	}

	if s.store == nil {
		result[CheckStore] = errors.New("not configured")
	} else if err := s.store.Validate(ctx); err != nil {
		result[CheckStore] = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	} else {
		result[CheckStore] = nil
	}

	if s.records == nil {
		result[CheckRecords] = errors.New("not configured")
	} else {
		_, err := s.records.List(ctx, 1)
		result[CheckRecords] = err
	}

	return result
}
