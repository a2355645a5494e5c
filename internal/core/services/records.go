package services

import (
	"context"
	"errors"
	"strings"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driven"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driving"
)

// Ensure RecordService implements the interface.
var _ driving.RecordService = (*RecordService)(nil)

// RecordService exposes publish records read-only.
type RecordService struct {
	records driven.PublishRecordStore
}

// NewRecordService creates a new record service.
func NewRecordService(records driven.PublishRecordStore) *RecordService {
	return &RecordService{records: records}
}

// List returns the most recent records.
func (s *RecordService) List(ctx context.Context, limit int) ([]domain.PublishRecord, error) {
	if s.records == nil {
		return nil, errors.New("publish record store not configured")
	}
	return s.records.List(ctx, limit)
}

// Get returns the record for one invoice.
func (s *RecordService) Get(ctx context.Context, invoiceID string) (*domain.PublishRecord, error) {
	if s.records == nil {
		return nil, errors.New("publish record store not configured")
	}
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, domain.ErrInvalidInput
	}
	return s.records.Get(ctx, invoiceID)
}
