package domain

// Header holds the invoice-level columns shared by every row of one invoice.
// Values are kept as delivered by the source, as text.
type Header struct {
	InvoiceNumber   string
	InvoiceYear     string
	InvoiceDate     string
	Notes           string
	DeliveryNumber  string
	DeliveryDate    string
	OrderID         string
	OrderNumber     string
	OrderYear       string
	OrderDate       string
	CustomerOrderID string
	CustomerID      string
	Customer        string
	Address         string
	PostalCode      string
	City            string
	Province        string
	Country         string
	TaxID           string
}

// RawLine holds the line-level columns of a row.
// Numeric columns are text so the assembler owns validation.
type RawLine struct {
	ArticleID   string
	Description string
	Quantity    string
	Price       string
	Discount    string
	Amount      string
	TaxRate     string
}

// RawRow is one tuple produced by a RowFetcher.
// It is ephemeral and consumed once by the assembler.
type RawRow struct {
	// Position is the 1-based ordinal of the row within its fetch.
	Position int

	// InvoiceID is the grouping key. Empty means the row is malformed.
	InvoiceID string

	Header Header
	Line   RawLine
}
