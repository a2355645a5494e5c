package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInconsistentHeader indicates rows of one invoice disagree on header fields.
	ErrInconsistentHeader = errors.New("inconsistent invoice header")

	// ErrMalformedInvoice indicates an invoice lost rows to validation in strict mode.
	ErrMalformedInvoice = errors.New("invoice has malformed rows")

	// ErrSourceUnavailable indicates the row source could not be queried.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrStoreUnavailable indicates the document store could not be reached.
	ErrStoreUnavailable = errors.New("document store unavailable")

	// ErrVerificationFailed indicates a staged upload did not match what was sent.
	ErrVerificationFailed = errors.New("upload verification failed")

	// ErrRunAborted indicates a run-level failure stopped the run before publishing.
	ErrRunAborted = errors.New("run aborted")
)

// MalformedRowError reports a row that failed validation.
// It is per-row and never fatal to the run.
type MalformedRowError struct {
	// Position is the row ordinal within the fetch.
	Position int
	// InvoiceID may be empty when the identifier itself is missing.
	InvoiceID string
	Field     string
	Value     string
	Reason    string
}

func (e *MalformedRowError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("malformed row %d: %s %q: %s", e.Position, e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("malformed row %d: %s: %s", e.Position, e.Field, e.Reason)
}

// Is lets errors.Is match any MalformedRowError against ErrInvalidInput.
func (e *MalformedRowError) Is(target error) bool {
	return target == ErrInvalidInput
}

// DuplicateCheckUnavailableError indicates published identifiers could not be listed.
// In exclusive mode it aborts the run.
type DuplicateCheckUnavailableError struct {
	Err error
}

func (e *DuplicateCheckUnavailableError) Error() string {
	return fmt.Sprintf("duplicate check unavailable: %v", e.Err)
}

func (e *DuplicateCheckUnavailableError) Unwrap() error {
	return e.Err
}

// PublishError reports a failed publish of one invoice.
// Transient errors (network, rate limit, quota, 5xx) may be retried;
// permanent ones (invalid document, auth) may not.
type PublishError struct {
	InvoiceID string
	Op        string
	Transient bool
	Err       error
}

func (e *PublishError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("publish %s: %s (%s): %v", e.InvoiceID, e.Op, kind, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// IsTransient returns true if err is, or wraps, a transient PublishError.
func IsTransient(err error) bool {
	var perr *PublishError
	if errors.As(err, &perr) {
		return perr.Transient
	}
	return false
}

// TransientError marks an infrastructure error as retryable.
// Adapters return it so the publisher can classify without knowing the adapter.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// MarkTransient wraps err as a TransientError. Nil stays nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransientInfra returns true if err carries a TransientError.
func IsTransientInfra(err error) bool {
	var terr *TransientError
	return errors.As(err, &terr)
}
