package domain

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimal places every amount is rounded to.
const MoneyPlaces = 2

// LineItem is one assembled invoice line.
type LineItem struct {
	ArticleID   string
	Description string
	Quantity    decimal.NullDecimal
	Price       decimal.NullDecimal
	Discount    decimal.NullDecimal

	// Amount is the taxable line total as delivered by the source.
	Amount decimal.Decimal

	// TaxRate is a fraction, e.g. 0.21 for 21%.
	TaxRate decimal.Decimal

	// TaxAmount is Amount × TaxRate rounded half-up to MoneyPlaces.
	TaxAmount decimal.Decimal
}

// Invoice is the canonical unit of work.
// It is immutable once assembled; totals are always derived from Lines.
type Invoice struct {
	ID     string
	Header Header
	Lines  []LineItem

	// NetTotal is the sum of line amounts.
	NetTotal decimal.Decimal

	// IVATotal is the sum of per-line tax amounts.
	IVATotal decimal.Decimal

	// GrandTotal is NetTotal + IVATotal.
	GrandTotal decimal.Decimal
}

// Reference returns a human-oriented reference for the invoice.
// The customer's order id is preferred; otherwise it is derived from the id.
func (i *Invoice) Reference() string {
	if i.Header.CustomerOrderID != "" {
		return i.Header.CustomerOrderID
	}
	return "id_factura_" + i.ID
}

// RoundMoney rounds an amount to MoneyPlaces, half away from zero.
// For non-negative amounts this is round-half-up.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}
