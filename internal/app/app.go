// Package app builds the services behind the CLI from resolved settings.
package app

import (
	"context"
	"fmt"

	"github.com/custodia-labs/invoice-etl/internal/adapters/driven/config/file"
	"github.com/custodia-labs/invoice-etl/internal/adapters/driven/source/postgres"
	"github.com/custodia-labs/invoice-etl/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driven"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driving"
	"github.com/custodia-labs/invoice-etl/internal/core/services"
	"github.com/custodia-labs/invoice-etl/internal/logger"
)

// backoffMultiplier doubles the retry delay after each attempt.
const backoffMultiplier = 2.0

// Settings opens the config file in configDir. Empty means the default directory.
func Settings(configDir string) (driving.SettingsService, error) {
	store, err := file.NewConfigStore(configDir)
	if err != nil {
		return nil, err
	}
	return services.NewSettingsService(store), nil
}

// Coordinator connects the source, the document store and the record store
// and returns a run coordinator over them. The release func closes them.
func Coordinator(ctx context.Context, s *domain.Settings) (driving.RunCoordinator, func(), error) {
	records, err := sqlite.NewStore(s.Records.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening publish records: %w", err)
	}

	fetcher, err := postgres.Connect(ctx, s.Source.DSN, postgres.Options{
		Query:   s.Source.Query,
		Timeout: s.Source.Timeout,
	})
	if err != nil {
		records.Close()
		return nil, nil, err
	}

	store, err := NewDocumentStore(ctx, s)
	if err != nil {
		fetcher.Close()
		records.Close()
		return nil, nil, err
	}

	release := func() {
		fetcher.Close()
		if err := records.Close(); err != nil {
			logger.Warn("closing publish records", "error", err)
		}
	}
	return newCoordinator(s, fetcher, store, records.PublishRecordStore()), release, nil
}

func newCoordinator(
	s *domain.Settings,
	fetcher driven.RowFetcher,
	store driven.DocumentStore,
	records driven.PublishRecordStore,
) *services.RunCoordinator {
	publisher := services.NewPublisher(store, records, services.PublisherOptions{
		NameTemplate:  s.Store.NameTemplate,
		UploadTimeout: s.Run.PublishTimeout,
	})
	return services.NewRunCoordinator(
		fetcher,
		services.NewDuplicateFilter(records, s.Run.Mode).WithStoreFallback(store, publisher.ObjectName),
		publisher,
		services.CoordinatorOptions{
			Assembler: services.AssemblerOptions{
				TaxRateFormat: s.Source.TaxRateFormat,
				Strict:        s.Run.Strict,
			},
			Retry: services.RetryPolicy{
				MaxAttempts:    s.Run.MaxAttempts,
				InitialBackoff: s.Run.InitialBackoff,
				MaxBackoff:     s.Run.MaxBackoff,
				Multiplier:     backoffMultiplier,
			},
			Workers: s.Run.Workers,
		},
	)
}

// Records opens the publish record store read side.
func Records(_ context.Context, s *domain.Settings) (driving.RecordService, func(), error) {
	store, err := sqlite.NewStore(s.Records.Dir)
	if err != nil {
		return nil, nil, err
	}
	release := func() { store.Close() }
	return services.NewRecordService(store.PublishRecordStore()), release, nil
}

// Health builds a checker over every collaborator. A collaborator that
// cannot be built is reported through its check instead of failing here.
func Health(ctx context.Context, s *domain.Settings) (driving.HealthChecker, func(), error) {
	var closers []func()
	release := func() {
		for _, c := range closers {
			c()
		}
	}

	var fetcher driven.RowFetcher
	if f, err := postgres.Open(ctx, s.Source.DSN, postgres.Options{Query: s.Source.Query}); err != nil {
		fetcher = unavailable{err: err}
	} else {
		fetcher = f
		closers = append(closers, f.Close)
	}

	var store driven.DocumentStore
	if st, err := NewDocumentStore(ctx, s); err != nil {
		store = unavailable{err: err}
	} else {
		store = st
	}

	var records driven.PublishRecordStore
	if r, err := sqlite.NewStore(s.Records.Dir); err != nil {
		records = unavailable{err: err}
	} else {
		records = r.PublishRecordStore()
		closers = append(closers, func() { r.Close() })
	}

	return services.NewHealthService(fetcher, store, records), release, nil
}
