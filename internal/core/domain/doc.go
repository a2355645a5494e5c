// Package domain defines the core business entities for invoice-etl.
//
// This package is part of the hexagonal architecture's innermost layer.
// It defines the fundamental types:
//
//   - RawRow: One relational tuple as delivered by the row fetcher
//   - Invoice: The canonical unit of work, assembled from one or more rows
//   - Document: The stable JSON shape an Invoice is published as
//   - PublishRecord: Durable proof that an invoice document exists remotely
//   - RunSummary: The outcome of one execution
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. All other packages depend on
// domain, never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library, github.com/shopspring/decimal (money)
//   - Cannot Import: Any internal/ package, any other external dependency
package domain
