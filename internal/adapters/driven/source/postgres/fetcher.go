package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driven"
	"github.com/custodia-labs/invoice-etl/internal/logger"
)

// Ensure Fetcher implements the interface.
var _ driven.RowFetcher = (*Fetcher)(nil)

// DefaultQuery joins invoice headers with their lines, customer and order.
// Column names are the ones the fetcher selects; a custom query must
// produce the same names.
const DefaultQuery = `
SELECT
	f.id                 AS id,
	f.numero             AS num_factura,
	f.ejercicio          AS "año_factura",
	f.fecha              AS fecha_factura,
	f.observaciones      AS observaciones,
	a.numero             AS num_albaran,
	a.fecha              AS fecha_albaran,
	p.id                 AS id_pedido,
	p.numero             AS num_pedido,
	p.ejercicio          AS "año_pedido",
	p.fecha              AS fecha_pedido,
	p.referencia_cliente AS id_pedido_cliente,
	c.id                 AS id_cliente,
	c.razon_social       AS cliente,
	c.direccion          AS direccion,
	c.cod_postal         AS cod_postal,
	c.poblacion          AS ciudad,
	c.provincia          AS provincia,
	c.pais               AS pais,
	c.nif                AS nif,
	l.id_articulo        AS id_articulo,
	l.descripcion        AS descripcion,
	l.cantidad           AS cantidad,
	l.precio             AS precio,
	l.descuento          AS descuento,
	l.total              AS total,
	l.iva                AS iva
FROM facturas f
JOIN lineas_factura l ON l.id_factura = f.id
JOIN clientes c ON c.id = f.id_cliente
LEFT JOIN albaranes a ON a.id = l.id_albaran
LEFT JOIN pedidos p ON p.id = a.id_pedido
ORDER BY f.id, l.orden`

// columns are selected in this order and scanned positionally.
var columns = []string{
	"id",
	"num_factura", "año_factura", "fecha_factura", "observaciones",
	"num_albaran", "fecha_albaran",
	"id_pedido", "num_pedido", "año_pedido", "fecha_pedido", "id_pedido_cliente",
	"id_cliente", "cliente", "direccion", "cod_postal", "ciudad", "provincia", "pais", "nif",
	"id_articulo", "descripcion", "cantidad", "precio", "descuento", "total", "iva",
}

// querier is the subset of *pgxpool.Pool the fetcher uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// Options configures a Fetcher.
type Options struct {
	// Query is the base SELECT. Empty means DefaultQuery.
	Query string
	// Timeout bounds one fetch. Zero means no bound.
	Timeout time.Duration
}

// Fetcher streams invoice rows from PostgreSQL.
type Fetcher struct {
	db      querier
	pool    *pgxpool.Pool
	query   string
	timeout time.Duration
}

// Open creates a pool for dsn without contacting the server.
func Open(ctx context.Context, dsn string, opts Options) (*Fetcher, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to create connection pool: %w", domain.ErrSourceUnavailable, err)
	}

	f := newFetcher(pool, opts)
	f.pool = pool
	return f, nil
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string, opts Options) (*Fetcher, error) {
	f, err := Open(ctx, dsn, opts)
	if err != nil {
		return nil, err
	}
	if err := f.Ping(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: unable to ping database: %w", domain.ErrSourceUnavailable, err)
	}
	return f, nil
}

func newFetcher(db querier, opts Options) *Fetcher {
	query := strings.TrimSpace(opts.Query)
	if query == "" {
		query = DefaultQuery
	}
	return &Fetcher{
		db:      db,
		query:   strings.TrimSuffix(query, ";"),
		timeout: opts.Timeout,
	}
}

// Close releases the connection pool.
func (f *Fetcher) Close() {
	if f.pool != nil {
		f.pool.Close()
	}
}

// Ping verifies the source is reachable.
func (f *Fetcher) Ping(ctx context.Context) error {
	return f.db.Ping(ctx)
}

// Fetch runs the query and streams its rows.
func (f *Fetcher) Fetch(ctx context.Context, query domain.FetchQuery) (<-chan domain.RawRow, <-chan error) {
	rowsCh := make(chan domain.RawRow)
	errsCh := make(chan error, 1)

	go func() {
		defer close(errsCh)
		defer close(rowsCh)

		if err := f.stream(ctx, query, rowsCh); err != nil {
			errsCh <- err
		}
	}()

	return rowsCh, errsCh
}

func (f *Fetcher) stream(ctx context.Context, query domain.FetchQuery, out chan<- domain.RawRow) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sql, args := buildQuery(f.query, query)
	logger.Debug("querying source", "filters", !query.IsZero(), "args", len(args))

	rows, err := f.db.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("executing invoice query: %w", err)
	}
	defer rows.Close()

	vals := make([]*string, len(columns))
	dest := make([]any, len(columns))
	for i := range vals {
		dest[i] = &vals[i]
	}

	position := 0
	for rows.Next() {
		position++
		for i := range vals {
			vals[i] = nil
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scanning row %d: %w", position, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- toRawRow(position, vals):
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading invoice rows: %w", err)
	}

	logger.Debug("source exhausted", "rows", position)
	return nil
}

// buildQuery wraps base so every column is text and applies the filters.
func buildQuery(base string, q domain.FetchQuery) (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	for i, col := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "src.%s::text", quoteIdent(col))
	}
	sb.WriteString(" FROM (")
	sb.WriteString(base)
	sb.WriteString(") AS src")

	var (
		conds []string
		args  []any
	)
	if q.From != nil {
		args = append(args, q.From.Format(time.DateOnly))
		conds = append(conds, fmt.Sprintf("src.fecha_factura::date >= $%d::date", len(args)))
	}
	if q.To != nil {
		args = append(args, q.To.Format(time.DateOnly))
		conds = append(conds, fmt.Sprintf("src.fecha_factura::date <= $%d::date", len(args)))
	}
	if len(q.InvoiceIDs) > 0 {
		args = append(args, q.InvoiceIDs)
		conds = append(conds, fmt.Sprintf("src.id::text = ANY($%d::text[])", len(args)))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	return sb.String(), args
}

func quoteIdent(s string) string {
	return pgx.Identifier{s}.Sanitize()
}

func toRawRow(position int, vals []*string) domain.RawRow {
	v := func(i int) string {
		if vals[i] == nil {
			return ""
		}
		return *vals[i]
	}
	return domain.RawRow{
		Position:  position,
		InvoiceID: v(0),
		Header: domain.Header{
			InvoiceNumber:   v(1),
			InvoiceYear:     v(2),
			InvoiceDate:     v(3),
			Notes:           v(4),
			DeliveryNumber:  v(5),
			DeliveryDate:    v(6),
			OrderID:         v(7),
			OrderNumber:     v(8),
			OrderYear:       v(9),
			OrderDate:       v(10),
			CustomerOrderID: v(11),
			CustomerID:      v(12),
			Customer:        v(13),
			Address:         v(14),
			PostalCode:      v(15),
			City:            v(16),
			Province:        v(17),
			Country:         v(18),
			TaxID:           v(19),
		},
		Line: domain.RawLine{
			ArticleID:   v(20),
			Description: v(21),
			Quantity:    v(22),
			Price:       v(23),
			Discount:    v(24),
			Amount:      v(25),
			TaxRate:     v(26),
		},
	}
}

