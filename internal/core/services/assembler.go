package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
)

// AssemblerOptions controls row validation.
type AssemblerOptions struct {
	// TaxRateFormat says whether the source column is a fraction or a factor.
	TaxRateFormat domain.TaxRateFormat

	// Strict fails an invoice outright when any of its rows is malformed,
	// instead of assembling it from the remaining rows.
	Strict bool
}

// AssemblyResult is everything the assembler produced for one batch.
type AssemblyResult struct {
	// Invoices in first-seen order.
	Invoices []domain.Invoice

	// Failures are invoices that could not be assembled.
	Failures []domain.InvoiceFailure

	// Malformed rows were excluded from the batch.
	Malformed []*domain.MalformedRowError

	// Rows is the total number of rows consumed.
	Rows int
}

// Assembler groups raw rows into invoices and computes their totals.
// Rows may arrive in any order; invoices are emitted in first-seen order.
type Assembler struct {
	opts      AssemblerOptions
	order     []string
	groups    map[string]*invoiceGroup
	malformed []*domain.MalformedRowError
	rows      int
}

type invoiceGroup struct {
	header domain.Header
	lines  []domain.LineItem
	err    error
}

// NewAssembler creates an assembler for one batch.
func NewAssembler(opts AssemblerOptions) *Assembler {
	if opts.TaxRateFormat == "" {
		opts.TaxRateFormat = domain.TaxRateFraction
	}
	return &Assembler{
		opts:   opts,
		groups: make(map[string]*invoiceGroup),
	}
}

// Assemble runs a fresh assembler over a slice of rows.
func Assemble(rows []domain.RawRow, opts AssemblerOptions) AssemblyResult {
	a := NewAssembler(opts)
	for _, row := range rows {
		_ = a.Add(row)
	}
	return a.Result()
}

// Add consumes one row. It returns a *domain.MalformedRowError if the row
// was excluded; the batch itself is never aborted by a bad row.
func (a *Assembler) Add(row domain.RawRow) error {
	a.rows++

	id := strings.TrimSpace(row.InvoiceID)
	if id == "" {
		merr := &domain.MalformedRowError{
			Position: row.Position,
			Field:    "id",
			Reason:   "missing invoice identifier",
		}
		a.malformed = append(a.malformed, merr)
		return merr
	}

	line, merr := a.parseLine(row, id)
	if merr != nil {
		a.malformed = append(a.malformed, merr)
		if a.opts.Strict {
			g := a.group(id, normaliseHeader(row.Header))
			if g.err == nil {
				g.err = fmt.Errorf("%w: row %d: %s", domain.ErrMalformedInvoice, row.Position, merr.Reason)
			}
		}
		return merr
	}

	header := normaliseHeader(row.Header)
	g := a.group(id, header)
	if g.header != header && g.err == nil {
		g.err = fmt.Errorf("%w: row %d differs from the first row", domain.ErrInconsistentHeader, row.Position)
	}
	g.lines = append(g.lines, line)
	return nil
}

// Result returns the assembled invoices. The assembler must not be reused.
func (a *Assembler) Result() AssemblyResult {
	res := AssemblyResult{
		Invoices:  make([]domain.Invoice, 0, len(a.order)),
		Malformed: a.malformed,
		Rows:      a.rows,
	}

	for _, id := range a.order {
		g := a.groups[id]
		if g.err != nil {
			res.Failures = append(res.Failures, domain.InvoiceFailure{
				InvoiceID: id,
				Stage:     domain.StageAssembler,
				Reason:    g.err.Error(),
			})
			continue
		}
		res.Invoices = append(res.Invoices, buildInvoice(id, g))
	}

	return res
}

func (a *Assembler) group(id string, header domain.Header) *invoiceGroup {
	g, ok := a.groups[id]
	if !ok {
		g = &invoiceGroup{header: header}
		a.groups[id] = g
		a.order = append(a.order, id)
	}
	return g
}

func (a *Assembler) parseLine(row domain.RawRow, id string) (domain.LineItem, *domain.MalformedRowError) {
	bad := func(field, value, reason string) *domain.MalformedRowError {
		return &domain.MalformedRowError{
			Position:  row.Position,
			InvoiceID: id,
			Field:     field,
			Value:     value,
			Reason:    reason,
		}
	}

	raw := row.Line
	amount, ok := parseDecimal(raw.Amount)
	if !ok {
		return domain.LineItem{}, bad("total", raw.Amount, "not a number")
	}

	rate := decimal.Zero
	if v := strings.TrimSpace(raw.TaxRate); v != "" {
		parsed, ok := parseDecimal(v)
		if !ok {
			return domain.LineItem{}, bad("iva", raw.TaxRate, "not a number")
		}
		rate = parsed
		if a.opts.TaxRateFormat == domain.TaxRateFactor {
			rate = rate.Sub(decimal.NewFromInt(1))
		}
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return domain.LineItem{}, bad("iva", raw.TaxRate, "tax rate out of range")
		}
	}

	var optional [3]decimal.NullDecimal
	for i, f := range []struct{ name, value string }{
		{"cantidad", raw.Quantity},
		{"precio", raw.Price},
		{"descuento", raw.Discount},
	} {
		if strings.TrimSpace(f.value) == "" {
			continue
		}
		d, ok := parseDecimal(f.value)
		if !ok {
			return domain.LineItem{}, bad(f.name, f.value, "not a number")
		}
		optional[i] = decimal.NewNullDecimal(d)
	}

	// Tax is computed from the amount as delivered; each is rounded once.
	return domain.LineItem{
		ArticleID:   strings.TrimSpace(raw.ArticleID),
		Description: strings.TrimSpace(raw.Description),
		Quantity:    optional[0],
		Price:       optional[1],
		Discount:    optional[2],
		Amount:      domain.RoundMoney(amount),
		TaxRate:     rate,
		TaxAmount:   domain.RoundMoney(amount.Mul(rate)),
	}, nil
}

// buildInvoice sums the already rounded per-line values.
func buildInvoice(id string, g *invoiceGroup) domain.Invoice {
	net := decimal.Zero
	iva := decimal.Zero
	for _, line := range g.lines {
		net = net.Add(line.Amount)
		iva = iva.Add(line.TaxAmount)
	}

	lines := make([]domain.LineItem, len(g.lines))
	copy(lines, g.lines)

	return domain.Invoice{
		ID:         id,
		Header:     g.header,
		Lines:      lines,
		NetTotal:   net,
		IVATotal:   iva,
		GrandTotal: net.Add(iva),
	}
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func normaliseHeader(h domain.Header) domain.Header {
	return domain.Header{
		InvoiceNumber:   strings.TrimSpace(h.InvoiceNumber),
		InvoiceYear:     strings.TrimSpace(h.InvoiceYear),
		InvoiceDate:     strings.TrimSpace(h.InvoiceDate),
		Notes:           strings.TrimSpace(h.Notes),
		DeliveryNumber:  strings.TrimSpace(h.DeliveryNumber),
		DeliveryDate:    strings.TrimSpace(h.DeliveryDate),
		OrderID:         strings.TrimSpace(h.OrderID),
		OrderNumber:     strings.TrimSpace(h.OrderNumber),
		OrderYear:       strings.TrimSpace(h.OrderYear),
		OrderDate:       strings.TrimSpace(h.OrderDate),
		CustomerOrderID: strings.TrimSpace(h.CustomerOrderID),
		CustomerID:      strings.TrimSpace(h.CustomerID),
		Customer:        strings.TrimSpace(h.Customer),
		Address:         strings.TrimSpace(h.Address),
		PostalCode:      strings.TrimSpace(h.PostalCode),
		City:            strings.TrimSpace(h.City),
		Province:        strings.TrimSpace(h.Province),
		Country:         strings.TrimSpace(h.Country),
		TaxID:           strings.TrimSpace(h.TaxID),
	}
}
