package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driven"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driving"
	"github.com/custodia-labs/invoice-etl/internal/logger"
)

// Ensure RunCoordinator implements the interface.
var _ driving.RunCoordinator = (*RunCoordinator)(nil)

// ErrRunInProgress is returned when Run is called on a busy coordinator.
var ErrRunInProgress = errors.New("run already in progress")

// CoordinatorOptions configures a RunCoordinator.
type CoordinatorOptions struct {
	Assembler AssemblerOptions
	Retry     RetryPolicy

	// Workers is the number of invoices published concurrently.
	// Values below 2 publish sequentially.
	Workers int
}

// RunCoordinator sequences fetch, assembly, duplicate filtering and
// publishing, and aggregates per-invoice outcomes into a RunSummary.
type RunCoordinator struct {
	fetcher   driven.RowFetcher
	filter    *DuplicateFilter
	publisher *Publisher
	opts      CoordinatorOptions

	sleep    func(ctx context.Context, d time.Duration) error
	newRunID func() string
	now      func() time.Time

	mu     sync.RWMutex
	status driving.RunStatus
}

// NewRunCoordinator creates a coordinator.
func NewRunCoordinator(
	fetcher driven.RowFetcher,
	filter *DuplicateFilter,
	publisher *Publisher,
	opts CoordinatorOptions,
) *RunCoordinator {
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &RunCoordinator{
		fetcher:   fetcher,
		filter:    filter,
		publisher: publisher,
		opts:      opts,
		sleep:     sleepContext,
		newRunID:  func() string { return uuid.NewString() },
		now:       time.Now,
	}
}

// outcome is the terminal state of one candidate invoice.
type outcome struct {
	id       string
	state    domain.InvoiceState
	attempts int
	err      error
}

// Run executes one batch.
//
//nolint:gocyclo // Orchestration function with necessary sequential steps
func (c *RunCoordinator) Run(ctx context.Context, req driving.RunRequest) (*domain.RunSummary, error) {
	if !c.begin() {
		return nil, ErrRunInProgress
	}
	defer c.end()

	summary := &domain.RunSummary{
		RunID:     c.newRunID(),
		StartedAt: c.now(),
		DryRun:    req.DryRun,
	}
	defer func() { summary.FinishedAt = c.now() }()

	logger.Info("starting run", "run_id", summary.RunID, "dry_run", req.DryRun)

	// 1. FETCH + ASSEMBLE
	c.setPhase("fetch")
	asm := NewAssembler(c.opts.Assembler)
	if err := c.fetch(ctx, req.Query, asm); err != nil {
		return summary, fmt.Errorf("%w: %w", domain.ErrRunAborted, err)
	}

	result := asm.Result()
	summary.RowsFetched = result.Rows
	summary.MalformedRows = len(result.Malformed)
	summary.Fetched = len(result.Invoices) + len(result.Failures)
	for _, f := range result.Failures {
		logger.Warn("invoice not assembled", "invoice", f.InvoiceID, "reason", f.Reason)
		summary.Failures = append(summary.Failures, f)
		summary.Failed++
	}
	logger.Info("assembled invoices", "rows", result.Rows, "invoices", len(result.Invoices),
		"malformed_rows", len(result.Malformed), "failed", len(result.Failures))

	// 2. DUPLICATE FILTER (single pre-pass before any publish work)
	c.setPhase("filter")
	ids := make([]string, 0, len(result.Invoices))
	for i := range result.Invoices {
		ids = append(ids, result.Invoices[i].ID)
	}
	filtered, err := c.filter.Filter(ctx, ids)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", domain.ErrRunAborted, err)
	}
	summary.Skipped = filtered.Published
	summary.SkippedDuplicate = len(filtered.Published)
	summary.Candidate = filtered.New

	isNew := make(map[string]struct{}, len(filtered.New))
	for _, id := range filtered.New {
		isNew[id] = struct{}{}
	}
	candidates := make([]*domain.Invoice, 0, len(filtered.New))
	for i := range result.Invoices {
		if _, ok := isNew[result.Invoices[i].ID]; ok {
			candidates = append(candidates, &result.Invoices[i])
		}
	}
	c.update(func(s *driving.RunStatus) { s.Candidates = len(candidates) })

	if req.DryRun {
		logger.Info("dry run, nothing published", "candidates", len(candidates),
			"skipped", summary.SkippedDuplicate)
		return summary, nil
	}

	// 3. PUBLISH
	c.setPhase("publish")
	outcomes := c.publishAll(ctx, candidates, summary.RunID)

	for _, o := range outcomes {
		switch o.state {
		case domain.StatePublished:
			summary.Published++
		case domain.StateCancelled:
			summary.Cancelled++
		case domain.StateFailed:
			summary.Failed++
			summary.Failures = append(summary.Failures, domain.InvoiceFailure{
				InvoiceID: o.id,
				Stage:     domain.StagePublisher,
				Reason:    o.err.Error(),
				Attempts:  o.attempts,
				Transient: domain.IsTransient(o.err),
			})
		}
	}

	logger.Info("run complete", "run_id", summary.RunID, "published", summary.Published,
		"skipped", summary.SkippedDuplicate, "failed", summary.Failed, "cancelled", summary.Cancelled)

	if summary.Cancelled > 0 {
		return summary, fmt.Errorf("run cancelled: %w", context.Cause(ctx))
	}
	return summary, nil
}

// Status returns a snapshot of the run in progress.
func (c *RunCoordinator) Status() driving.RunStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// fetch drains the fetcher into the assembler. Any fetch error aborts.
func (c *RunCoordinator) fetch(ctx context.Context, query domain.FetchQuery, asm *Assembler) error {
	rowsCh, errsCh := c.fetcher.Fetch(ctx, query)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-errsCh:
			if !ok {
				errsCh = nil
				continue
			}
			if err != nil {
				return fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
			}

		case row, ok := <-rowsCh:
			if !ok {
				return drainFetchError(ctx, errsCh)
			}
			if err := asm.Add(row); err != nil {
				logger.Warn("malformed row excluded", "error", err, "row", logger.RedactRow(row))
			}
			c.update(func(s *driving.RunStatus) { s.RowsFetched++ })
		}
	}
}

// drainFetchError waits for the error channel to close after the rows
// channel, since a failure may be reported after the last row.
func drainFetchError(ctx context.Context, errsCh <-chan error) error {
	if errsCh == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-errsCh:
		if ok && err != nil {
			return fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
		}
		return nil
	}
}

// publishAll publishes candidates, one invoice per unit of work.
// Each worker writes only its own outcome slot.
func (c *RunCoordinator) publishAll(ctx context.Context, candidates []*domain.Invoice, runID string) []outcome {
	outcomes := make([]outcome, len(candidates))

	if c.opts.Workers < 2 {
		for i, inv := range candidates {
			outcomes[i] = c.publishOne(ctx, inv, runID)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for i, inv := range candidates {
		g.Go(func() error {
			outcomes[i] = c.publishOne(ctx, inv, runID)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// publishOne drives one invoice to a terminal state, retrying transient
// publisher errors with exponential backoff.
func (c *RunCoordinator) publishOne(ctx context.Context, inv *domain.Invoice, runID string) outcome {
	out := outcome{id: inv.ID}
	if ctx.Err() != nil {
		out.state = domain.StateCancelled
		return out
	}

	policy := c.opts.Retry
	for attempt := 1; ; attempt++ {
		out.attempts = attempt

		_, err := c.publisher.Publish(ctx, inv, runID)
		if err == nil {
			out.state = domain.StatePublished
			logger.Info("invoice published", "invoice", inv.ID, "attempts", attempt)
			c.update(func(s *driving.RunStatus) { s.Published++ })
			return out
		}
		out.err = err

		if ctx.Err() != nil {
			out.state = domain.StateCancelled
			logger.Warn("publish interrupted by cancellation", "invoice", inv.ID, "error", err)
			return out
		}
		if !domain.IsTransient(err) || attempt >= policy.MaxAttempts {
			out.state = domain.StateFailed
			logger.Error("invoice failed", "invoice", inv.ID, "attempts", attempt, "error", err)
			c.update(func(s *driving.RunStatus) { s.Failed++ })
			return out
		}

		wait := policy.Backoff(attempt)
		logger.Warn("transient publish failure, retrying", "invoice", inv.ID,
			"attempt", attempt, "backoff", wait, "error", err)
		if err := c.sleep(ctx, wait); err != nil {
			out.state = domain.StateCancelled
			return out
		}
	}
}

func (c *RunCoordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Running {
		return false
	}
	c.status = driving.RunStatus{Running: true}
	return true
}

func (c *RunCoordinator) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Running = false
	c.status.Phase = ""
}

func (c *RunCoordinator) setPhase(phase string) {
	logger.Section(phase)
	c.update(func(s *driving.RunStatus) { s.Phase = phase })
}

func (c *RunCoordinator) update(fn func(s *driving.RunStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.status)
}
