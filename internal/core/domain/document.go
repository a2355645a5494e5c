package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// DocumentSchemaVersion is written into every document as schema_version.
// Bump it whenever a field is renamed, removed or changes meaning.
const DocumentSchemaVersion = 1

// DocumentContentType is the MIME type of an encoded Document.
const DocumentContentType = "application/json"

// Money is an amount serialised as a JSON number with exactly two decimals.
type Money struct {
	decimal.Decimal
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.StringFixed(MoneyPlaces)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Money) UnmarshalJSON(data []byte) error {
	d, err := decimal.NewFromString(string(bytes.Trim(data, `"`)))
	if err != nil {
		return fmt.Errorf("decode money: %w", err)
	}
	m.Decimal = d
	return nil
}

// Number is an optional quantity serialised as a JSON number, or null.
type Number struct {
	decimal.NullDecimal
}

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return []byte(n.Decimal.String()), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		n.Valid = false
		return nil
	}
	d, err := decimal.NewFromString(string(bytes.Trim(data, `"`)))
	if err != nil {
		return fmt.Errorf("decode number: %w", err)
	}
	n.NullDecimal = decimal.NullDecimal{Decimal: d, Valid: true}
	return nil
}

// Document is the canonical published form of an Invoice.
// Field names and order are part of the published contract.
type Document struct {
	SchemaVersion   int    `json:"schema_version"`
	ID              string `json:"id"`
	Reference       string `json:"reference"`
	InvoiceNumber   string `json:"num_factura"`
	InvoiceYear     string `json:"año_factura"`
	InvoiceDate     string `json:"fecha_factura"`
	Notes           string `json:"observaciones"`
	DeliveryNumber  string `json:"num_albaran"`
	DeliveryDate    string `json:"fecha_albaran"`
	OrderID         string `json:"id_pedido"`
	OrderNumber     string `json:"num_pedido"`
	OrderYear       string `json:"año_pedido"`
	OrderDate       string `json:"fecha_pedido"`
	CustomerOrderID string `json:"id_pedido_cliente"`
	CustomerID      string `json:"id_cliente"`
	Customer        string `json:"cliente"`
	Address         string `json:"direccion"`
	PostalCode      string `json:"cod_postal"`
	City            string `json:"ciudad"`
	Province        string `json:"provincia"`
	Country         string `json:"pais"`
	TaxID           string `json:"nif"`

	NetTotal   Money `json:"total_iva_excl"`
	IVATotal   Money `json:"total_iva"`
	GrandTotal Money `json:"total_iva_incl"`

	Products []DocumentProduct `json:"products"`
}

// DocumentProduct wraps one line, matching the historical nesting.
type DocumentProduct struct {
	Product DocumentLine `json:"product"`
}

// DocumentLine is one invoice line in a Document.
type DocumentLine struct {
	ArticleID   string `json:"id_articulo"`
	Description string `json:"descripcion"`
	Quantity    Number `json:"cantidad"`
	Price       Number `json:"precio"`
	Discount    Number `json:"descuento"`
	Amount      Money  `json:"total"`
	TaxRate     Number `json:"iva"`
	TaxAmount   Money  `json:"cuota_iva"`
}

// NewDocument builds the canonical document for an invoice.
func NewDocument(inv *Invoice) *Document {
	h := inv.Header
	doc := &Document{
		SchemaVersion:   DocumentSchemaVersion,
		ID:              inv.ID,
		Reference:       inv.Reference(),
		InvoiceNumber:   h.InvoiceNumber,
		InvoiceYear:     h.InvoiceYear,
		InvoiceDate:     h.InvoiceDate,
		Notes:           h.Notes,
		DeliveryNumber:  h.DeliveryNumber,
		DeliveryDate:    h.DeliveryDate,
		OrderID:         h.OrderID,
		OrderNumber:     h.OrderNumber,
		OrderYear:       h.OrderYear,
		OrderDate:       h.OrderDate,
		CustomerOrderID: h.CustomerOrderID,
		CustomerID:      h.CustomerID,
		Customer:        h.Customer,
		Address:         h.Address,
		PostalCode:      h.PostalCode,
		City:            h.City,
		Province:        h.Province,
		Country:         h.Country,
		TaxID:           h.TaxID,
		NetTotal:        Money{inv.NetTotal},
		IVATotal:        Money{inv.IVATotal},
		GrandTotal:      Money{inv.GrandTotal},
		Products:        make([]DocumentProduct, 0, len(inv.Lines)),
	}

	for _, line := range inv.Lines {
		doc.Products = append(doc.Products, DocumentProduct{Product: DocumentLine{
			ArticleID:   line.ArticleID,
			Description: line.Description,
			Quantity:    Number{line.Quantity},
			Price:       Number{line.Price},
			Discount:    Number{line.Discount},
			Amount:      Money{line.Amount},
			TaxRate:     Number{decimal.NullDecimal{Decimal: line.TaxRate, Valid: true}},
			TaxAmount:   Money{line.TaxAmount},
		}})
	}

	return doc
}

// EncodeDocument serialises a document deterministically: two-space
// indentation, non-ASCII kept as UTF-8, trailing newline.
func EncodeDocument(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	return buf.Bytes(), nil
}

// DecodeDocument parses an encoded document.
func DecodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc.SchemaVersion > DocumentSchemaVersion {
		return nil, fmt.Errorf("%w: document schema version %d", ErrInvalidInput, doc.SchemaVersion)
	}
	return &doc, nil
}
