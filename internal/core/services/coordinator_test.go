package services

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/invoice-etl/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driving"
)

// fakeFetcher implements driven.RowFetcher for testing.
type fakeFetcher struct {
	rows     []domain.RawRow
	fetchErr error
	pingErr  error

	mu      stdsync.Mutex
	queries []domain.FetchQuery
}

func (f *fakeFetcher) Fetch(ctx context.Context, query domain.FetchQuery) (<-chan domain.RawRow, <-chan error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	rows := make(chan domain.RawRow)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(rows)

		for _, row := range f.rows {
			select {
			case <-ctx.Done():
				return
			case rows <- row:
			}
		}
		if f.fetchErr != nil {
			errs <- f.fetchErr
		}
	}()

	return rows, errs
}

func (f *fakeFetcher) Ping(_ context.Context) error {
	return f.pingErr
}

type coordinatorFixture struct {
	fetcher *fakeFetcher
	docs    *memory.DocumentStore
	records *memory.PublishRecordStore
	coord   *RunCoordinator
	sleeps  []time.Duration
}

func newCoordinatorFixture(t *testing.T, rows []domain.RawRow, mode domain.RunMode, workers int) *coordinatorFixture {
	t.Helper()

	f := &coordinatorFixture{
		fetcher: &fakeFetcher{rows: rows},
		docs:    memory.NewDocumentStore(),
		records: memory.NewPublishRecordStore(),
	}
	publisher := NewPublisher(f.docs, f.records, PublisherOptions{})
	f.coord = NewRunCoordinator(
		f.fetcher,
		NewDuplicateFilter(f.records, mode).WithStoreFallback(f.docs, publisher.ObjectName),
		publisher,
		CoordinatorOptions{Retry: DefaultRetryPolicy(), Workers: workers},
	)
	var mu stdsync.Mutex
	f.coord.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		f.sleeps = append(f.sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}
	f.coord.newRunID = func() string { return "run-test" }
	return f
}

func invoiceRows(ids ...string) []domain.RawRow {
	rows := make([]domain.RawRow, 0, len(ids)*2)
	for _, id := range ids {
		rows = append(rows,
			testRow(len(rows)+1, id, "100", "0.21"),
			testRow(len(rows)+2, id, "50", "0.21"),
		)
	}
	return rows
}

func TestRunCoordinator_PublishesNewAndSkipsRecorded(t *testing.T) {
	f := newCoordinatorFixture(t, invoiceRows("5", "7", "8"), domain.RunModeExclusive, 1)
	require.NoError(t, f.records.Record(context.Background(), domain.PublishRecord{InvoiceID: "7"}))

	summary, err := f.coord.Run(context.Background(), driving.RunRequest{})

	require.NoError(t, err)
	assert.Equal(t, "run-test", summary.RunID)
	assert.Equal(t, 6, summary.RowsFetched)
	assert.Equal(t, 3, summary.Fetched)
	assert.Equal(t, 2, summary.Published)
	assert.Equal(t, 1, summary.SkippedDuplicate)
	assert.Equal(t, []string{"7"}, summary.Skipped)
	assert.Equal(t, []string{"5", "8"}, summary.Candidate)
	assert.Zero(t, summary.Failed)
	assert.False(t, summary.FinishedAt.IsZero())

	_, stored := f.docs.Object("factura_7.json")
	assert.False(t, stored, "recorded invoice must not be uploaded")
	assert.Equal(t, 2, f.docs.Len())

	rec, err := f.records.Get(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, "run-test", rec.RunID)
}

func TestRunCoordinator_SecondRunPublishesNothing(t *testing.T) {
	f := newCoordinatorFixture(t, invoiceRows("1", "2"), domain.RunModeExclusive, 1)

	_, err := f.coord.Run(context.Background(), driving.RunRequest{})
	require.NoError(t, err)
	summary, err := f.coord.Run(context.Background(), driving.RunRequest{})
	require.NoError(t, err)

	assert.Zero(t, summary.Published)
	assert.Equal(t, 2, summary.SkippedDuplicate)
	assert.Equal(t, 2, f.docs.Uploads())
}

func TestRunCoordinator_TransientThenSuccess(t *testing.T) {
	f := newCoordinatorFixture(t, invoiceRows("1"), domain.RunModeExclusive, 1)
	transient := domain.MarkTransient(errors.New("429 rate limit"))
	f.docs.FailUploads(transient, transient)

	summary, err := f.coord.Run(context.Background(), driving.RunRequest{})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Published)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 3, f.docs.Uploads())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleeps)

	all, err := f.records.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRunCoordinator_RetriesExhausted(t *testing.T) {
	f := newCoordinatorFixture(t, invoiceRows("1", "2"), domain.RunModeExclusive, 1)
	transient := domain.MarkTransient(errors.New("503 backend error"))
	f.docs.FailUploads(transient, transient, transient)

	summary, err := f.coord.Run(context.Background(), driving.RunRequest{})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Published)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	failure := summary.Failures[0]
	assert.Equal(t, "1", failure.InvoiceID)
	assert.Equal(t, domain.StagePublisher, failure.Stage)
	assert.Equal(t, 3, failure.Attempts)
	assert.True(t, failure.Transient)

	_, err = f.records.Get(context.Background(), "1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunCoordinator_PermanentFailureNotRetried(t *testing.T) {
	f := newCoordinatorFixture(t, invoiceRows("1"), domain.RunModeExclusive, 1)
	f.docs.FailUploads(errors.New("403 forbidden"))

	summary, err := f.coord.Run(context.Background(), driving.RunRequest{})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Failures[0].Attempts)
	assert.False(t, summary.Failures[0].Transient)
	assert.Empty(t, f.sleeps)
	assert.Equal(t, 1, f.docs.Uploads())
}

func TestRunCoordinator_FetchErrorAborts(t *testing.T) {
	f := newCoordinatorFixture(t, invoiceRows("1"), domain.RunModeExclusive, 1)
	f.fetcher.fetchErr = errors.New("connection reset")

	summary, err := f.coord.Run(context.Background(), driving.RunRequest{})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRunAborted)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	require.NotNil(t, summary)
	assert.Zero(t, f.docs.Uploads())
	assert.Zero(t, f.records.Lookups())
}

func TestRunCoordinator_DuplicateCheckUnavailableAborts(t *testing.T) {
	f := newCoordinatorFixture(t, invoiceRows("1"), domain.RunModeExclusive, 1)
	f.records.SetListError(errors.New("database is locked"))

	_, err := f.coord.Run(context.Background(), driving.RunRequest{})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRunAborted)
	var unavailable *domain.DuplicateCheckUnavailableError
	assert.ErrorAs(t, err, &unavailable)
	assert.Zero(t, f.docs.Uploads())
}

func TestRunCoordinator_AtLeastOnceProceedsWithoutCheck(t *testing.T) {
	f := newCoordinatorFixture(t, invoiceRows("1"), domain.RunModeAtLeastOnce, 1)
	f.records.SetListError(errors.New("database is locked"))

	summary, err := f.coord.Run(context.Background(), driving.RunRequest{})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Published)
}

func TestRunCoordinator_AtLeastOnceSkipsStoredObjects(t *testing.T) {
	f := newCoordinatorFixture(t, invoiceRows("1", "2"), domain.RunModeAtLeastOnce, 1)
	f.records.SetListError(errors.New("database is locked"))
	_, err := f.docs.Upload(context.Background(), "factura_1.json", []byte("{}"))
	require.NoError(t, err)

	summary, err := f.coord.Run(context.Background(), driving.RunRequest{})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Published)
	assert.Equal(t, 1, summary.SkippedDuplicate)
	assert.Equal(t, []string{"1"}, summary.Skipped)
}

func TestRunCoordinator_DryRunPublishesNothing(t *testing.T) {
	f := newCoordinatorFixture(t, invoiceRows("1", "2"), domain.RunModeExclusive, 1)

	summary, err := f.coord.Run(context.Background(), driving.RunRequest{DryRun: true})

	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, []string{"1", "2"}, summary.Candidate)
	assert.Zero(t, summary.Published)
	assert.Zero(t, f.docs.Uploads())
	all, _ := f.records.List(context.Background(), 0)
	assert.Empty(t, all)
}

func TestRunCoordinator_PassesQueryToFetcher(t *testing.T) {
	f := newCoordinatorFixture(t, nil, domain.RunModeExclusive, 1)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	query := domain.FetchQuery{From: &from, InvoiceIDs: []string{"9"}}

	summary, err := f.coord.Run(context.Background(), driving.RunRequest{Query: query})

	require.NoError(t, err)
	assert.Zero(t, summary.Fetched)
	require.Len(t, f.fetcher.queries, 1)
	assert.Equal(t, query, f.fetcher.queries[0])
}

func TestRunCoordinator_MalformedAndInconsistentRows(t *testing.T) {
	rows := invoiceRows("1", "2")
	rows = append(rows, testRow(10, "", "5", "0.21"))
	diverging := testRow(11, "2", "5", "0.21")
	diverging.Header.TaxID = "X0000000T"
	rows = append(rows, diverging)

	f := newCoordinatorFixture(t, rows, domain.RunModeExclusive, 1)
	summary, err := f.coord.Run(context.Background(), driving.RunRequest{})

	require.NoError(t, err)
	assert.Equal(t, 6, summary.RowsFetched)
	assert.Equal(t, 1, summary.MalformedRows)
	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 1, summary.Published)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, domain.StageAssembler, summary.Failures[0].Stage)
	assert.Equal(t, "2", summary.Failures[0].InvoiceID)
}

func TestRunCoordinator_ConcurrentWorkers(t *testing.T) {
	ids := make([]string, 0, 25)
	for i := range 25 {
		ids = append(ids, fmt.Sprintf("%d", i+1))
	}
	f := newCoordinatorFixture(t, invoiceRows(ids...), domain.RunModeExclusive, 4)

	summary, err := f.coord.Run(context.Background(), driving.RunRequest{})

	require.NoError(t, err)
	assert.Equal(t, 25, summary.Published)
	assert.Equal(t, 25, f.docs.Len())
	all, err := f.records.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 25)
}

func TestRunCoordinator_CancellationDuringBackoff(t *testing.T) {
	f := newCoordinatorFixture(t, invoiceRows("1", "2"), domain.RunModeExclusive, 1)
	f.docs.FailUploads(domain.MarkTransient(errors.New("503")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.coord.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	summary, err := f.coord.Run(ctx, driving.RunRequest{})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, summary.Cancelled)
	assert.Zero(t, summary.Published)
	assert.Zero(t, summary.Failed)
	all, _ := f.records.List(context.Background(), 0)
	assert.Empty(t, all)
}

func TestRunCoordinator_StatusIdleAfterRun(t *testing.T) {
	f := newCoordinatorFixture(t, invoiceRows("1"), domain.RunModeExclusive, 1)

	_, err := f.coord.Run(context.Background(), driving.RunRequest{})
	require.NoError(t, err)

	status := f.coord.Status()
	assert.False(t, status.Running)
	assert.Equal(t, 2, status.RowsFetched)
	assert.Equal(t, 1, status.Published)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: 5 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, 5*time.Second, p.Backoff(10))
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
