package driven

import (
	"context"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
)

// DocumentStore is the remote store invoice documents are published to.
// It is authoritative for durability.
//
// Uploads are keyed by object name and overwrite deterministically: after a
// successful Upload exactly one object with that name exists and it holds the
// uploaded content. Implementations stage the content under a temporary name,
// verify it, and only then promote it, so an interrupted upload never leaves a
// truncated object under the final name.
type DocumentStore interface {
	// Upload durably stores content under name, replacing any existing object.
	// It returns only once the store has confirmed the final object.
	// Errors worth retrying are wrapped with domain.MarkTransient.
	Upload(ctx context.Context, name string, content []byte) (domain.StoredObject, error)

	// Exists reports which of the given names are present, in one batch.
	Exists(ctx context.Context, names []string) (map[string]bool, error)

	// Validate checks that the store is reachable and writable.
	Validate(ctx context.Context) error
}
