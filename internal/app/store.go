package app

import (
	"context"
	"fmt"

	"github.com/custodia-labs/invoice-etl/internal/adapters/driven/publish/gdrive"
	"github.com/custodia-labs/invoice-etl/internal/adapters/driven/publish/s3"
	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driven"
)

// NewDocumentStore builds the configured backend.
func NewDocumentStore(ctx context.Context, s *domain.Settings) (driven.DocumentStore, error) {
	switch s.Store.Backend {
	case domain.StoreDrive:
		ts, err := gdrive.TokenSource(ctx, s.Drive.CredentialsFile, s.Drive.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		svc, err := gdrive.NewService(ctx, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return gdrive.New(svc, gdrive.Config{
			Folder: s.Drive.Folder,
			RateLimit: gdrive.RateLimitConfig{
				RequestsPerSecond: s.Drive.RequestsPerSecond,
				BurstSize:         s.Drive.Burst,
			},
		}), nil

	case domain.StoreS3:
		store, err := s3.New(s3.Config{
			Endpoint:  s.S3.Endpoint,
			AccessKey: s.S3.AccessKey,
			SecretKey: s.S3.SecretKey,
			Bucket:    s.S3.Bucket,
			Prefix:    s.S3.Prefix,
			UseSSL:    s.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", domain.ErrInvalidInput, s.Store.Backend)
	}
}

// unavailable stands in for a collaborator that could not be built.
// Every operation returns the construction error.
type unavailable struct {
	err error
}

func (u unavailable) Fetch(context.Context, domain.FetchQuery) (<-chan domain.RawRow, <-chan error) {
	rows := make(chan domain.RawRow)
	errs := make(chan error, 1)
	close(rows)
	errs <- u.err
	close(errs)
	return rows, errs
}

func (u unavailable) Ping(context.Context) error { return u.err }

func (u unavailable) Upload(context.Context, string, []byte) (domain.StoredObject, error) {
	return domain.StoredObject{}, u.err
}

func (u unavailable) Exists(context.Context, []string) (map[string]bool, error) { return nil, u.err }

func (u unavailable) Validate(context.Context) error { return u.err }

func (u unavailable) Record(context.Context, domain.PublishRecord) error { return u.err }

func (u unavailable) ListPublished(context.Context, []string) (map[string]struct{}, error) {
	return nil, u.err
}

func (u unavailable) Get(context.Context, string) (*domain.PublishRecord, error) { return nil, u.err }

func (u unavailable) List(context.Context, int) ([]domain.PublishRecord, error) { return nil, u.err }

var (
	_ driven.RowFetcher         = unavailable{}
	_ driven.DocumentStore      = unavailable{}
	_ driven.PublishRecordStore = unavailable{}
)
