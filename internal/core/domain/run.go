package domain

import "time"

// InvoiceState is the lifecycle state of one invoice within a run.
type InvoiceState string

// Invoice states. SkippedDuplicate, Published, Failed and Cancelled are terminal.
const (
	StateFetched          InvoiceState = "fetched"
	StateAssembled        InvoiceState = "assembled"
	StateSkippedDuplicate InvoiceState = "skipped_duplicate"
	StateCandidate        InvoiceState = "candidate"
	StatePublished        InvoiceState = "published"
	StateFailed           InvoiceState = "failed"
	StateCancelled        InvoiceState = "cancelled"
)

// IsTerminal returns true if no further transition is possible.
func (s InvoiceState) IsTerminal() bool {
	switch s {
	case StateSkippedDuplicate, StatePublished, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Stage identifies which component failed an invoice.
type Stage string

const (
	// StageAssembler failures come from inconsistent or malformed source data.
	StageAssembler Stage = "assembler"
	// StagePublisher failures come from encoding, upload or record writes.
	StagePublisher Stage = "publisher"
)

// RunMode controls how the duplicate check behaves when it cannot answer.
type RunMode string

const (
	// RunModeExclusive aborts the run if the duplicate check is unavailable.
	RunModeExclusive RunMode = "exclusive"
	// RunModeAtLeastOnce accepts the re-publish risk and proceeds.
	RunModeAtLeastOnce RunMode = "at-least-once"
)

// IsValid returns true if the mode is recognised.
func (m RunMode) IsValid() bool {
	return m == RunModeExclusive || m == RunModeAtLeastOnce
}

// InvoiceFailure describes why one invoice did not reach Published.
type InvoiceFailure struct {
	InvoiceID string
	Stage     Stage
	Reason    string
	Attempts  int
	Transient bool
}

// RunSummary is the outcome of one execution.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool

	RowsFetched   int
	MalformedRows int

	// Fetched is the number of distinct invoice identifiers seen.
	Fetched          int
	SkippedDuplicate int
	Published        int
	Failed           int
	Cancelled        int

	Skipped   []string
	Candidate []string
	Failures  []InvoiceFailure
}

// Duration returns how long the run took.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// HasFailures returns true if any invoice ended in StateFailed.
func (s *RunSummary) HasFailures() bool {
	return s.Failed > 0
}
