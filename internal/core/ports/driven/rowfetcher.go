package driven

import (
	"context"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
)

// RowFetcher streams raw invoice rows from a queryable source.
//
// A fetch is one-shot and not restartable mid-stream: a failure anywhere in
// the stream means the whole query must be run again.
type RowFetcher interface {
	// Fetch runs the query and streams its rows.
	// The rows channel is closed when the result set is exhausted or the
	// fetch fails. At most one error is sent on the error channel, which
	// is closed after the rows channel.
	Fetch(ctx context.Context, query domain.FetchQuery) (<-chan domain.RawRow, <-chan error)

	// Ping verifies the source is reachable.
	Ping(ctx context.Context) error
}
