// Package canonical defines the format-agnostic document shape every
// extractor converges on. Its JSON form is the wire contract handed to the
// posting and accounting collaborators; field names must stay stable.
package canonical

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type DocType string

const (
	DocTypeInvoice        DocType = "invoice"
	DocTypeBankTx         DocType = "bank_tx"
	DocTypeExpenseReceipt DocType = "expense_receipt"
	DocTypeProduct        DocType = "product"
)

var AllDocTypes = []DocType{DocTypeInvoice, DocTypeBankTx, DocTypeExpenseReceipt, DocTypeProduct}

func (d DocType) Valid() bool {
	switch d {
	case DocTypeInvoice, DocTypeBankTx, DocTypeExpenseReceipt, DocTypeProduct:
		return true
	}
	return false
}

// InvoiceKind separates invoices we issued from invoices we received.
type InvoiceKind string

const (
	InvoiceKindSales    InvoiceKind = "sales"
	InvoiceKindPurchase InvoiceKind = "purchase"
)

type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

var (
	ErrPayloadMismatch   = errors.New("payload does not match doc_type")
	ErrTotalsMismatch    = errors.New("total does not equal subtotal plus tax")
	ErrMissingDirection  = errors.New("bank transaction direction is required")
	ErrNegativeAmount    = errors.New("bank transaction amount must be positive")
	ErrUnknownDocType    = errors.New("unknown doc_type")
	defaultTotalsEpsilon = decimal.New(1, -2)
)

// Source records where a document came from inside the uploaded file.
type Source struct {
	Format   string `json:"format"`
	Filename string `json:"filename,omitempty"`
	Ref      string `json:"ref,omitempty"`
}

type Party struct {
	Name    string `json:"name,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

func (p Party) IsZero() bool {
	return p.Name == "" && p.TaxID == "" && p.Phone == "" && p.Address == ""
}

type Line struct {
	Code        string          `json:"code,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

type Invoice struct {
	Kind    InvoiceKind `json:"kind"`
	Number  string      `json:"number,omitempty"`
	DueDate *Date       `json:"due_date,omitempty"`
	Vendor  Party       `json:"vendor"`
	Buyer   *Party      `json:"buyer,omitempty"`
	Totals  Totals      `json:"totals"`
	Lines   []Line      `json:"lines,omitempty"`
}

type BankTx struct {
	Amount      decimal.Decimal  `json:"amount"`
	Direction   Direction        `json:"direction"`
	ValueDate   *Date            `json:"value_date,omitempty"`
	Narrative   string           `json:"narrative,omitempty"`
	ExternalRef string           `json:"external_ref,omitempty"`
	Balance     *decimal.Decimal `json:"balance,omitempty"`
	AccountRef  string           `json:"account_ref,omitempty"`
}

type ExpenseReceipt struct {
	Merchant      Party  `json:"merchant"`
	ReceiptNumber string `json:"receipt_number,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
	Totals        Totals `json:"totals"`
	Lines         []Line `json:"lines,omitempty"`
}

type Product struct {
	SKU     string           `json:"sku"`
	Name    string           `json:"name"`
	Barcode string           `json:"barcode,omitempty"`
	Unit    string           `json:"unit,omitempty"`
	Price   decimal.Decimal  `json:"price"`
	Cost    *decimal.Decimal `json:"cost,omitempty"`
	TaxRate *decimal.Decimal `json:"tax_rate,omitempty"`
}

// RoutingProposal is an extractor's suggested ledger destination.
type RoutingProposal struct {
	Category    string  `json:"category"`
	AccountCode string  `json:"account_code"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason,omitempty"`
}

// Document is a tagged union: exactly one payload, matching DocType, is set.
type Document struct {
	DocType    DocType `json:"doc_type"`
	Country    string  `json:"country,omitempty"`
	Currency   string  `json:"currency,omitempty"`
	IssueDate  *Date   `json:"issue_date,omitempty"`
	Source     Source  `json:"source"`
	Confidence float64 `json:"confidence"`

	Invoice        *Invoice        `json:"invoice,omitempty"`
	BankTx         *BankTx         `json:"bank_tx,omitempty"`
	ExpenseReceipt *ExpenseReceipt `json:"expense_receipt,omitempty"`
	Product        *Product        `json:"product,omitempty"`

	RoutingProposal *RoutingProposal `json:"routing_proposal,omitempty"`
}

// Totals returns the document's totals block, or nil for types without one.
func (d *Document) Totals() *Totals {
	switch {
	case d.Invoice != nil:
		return &d.Invoice.Totals
	case d.ExpenseReceipt != nil:
		return &d.ExpenseReceipt.Totals
	}
	return nil
}

func (d *Document) payloadCount() int {
	n := 0
	if d.Invoice != nil {
		n++
	}
	if d.BankTx != nil {
		n++
	}
	if d.ExpenseReceipt != nil {
		n++
	}
	if d.Product != nil {
		n++
	}
	return n
}

// Validate checks the structural invariants of the union. It does not apply
// fiscal rules; those belong to the country rules registry.
func (d *Document) Validate() error {
	if !d.DocType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDocType, d.DocType)
	}
	if d.payloadCount() != 1 {
		return ErrPayloadMismatch
	}
	switch d.DocType {
	case DocTypeInvoice:
		if d.Invoice == nil {
			return ErrPayloadMismatch
		}
	case DocTypeBankTx:
		if d.BankTx == nil {
			return ErrPayloadMismatch
		}
		if d.BankTx.Direction != DirectionDebit && d.BankTx.Direction != DirectionCredit {
			return ErrMissingDirection
		}
		if !d.BankTx.Amount.IsPositive() {
			return ErrNegativeAmount
		}
	case DocTypeExpenseReceipt:
		if d.ExpenseReceipt == nil {
			return ErrPayloadMismatch
		}
	case DocTypeProduct:
		if d.Product == nil {
			return ErrPayloadMismatch
		}
	}
	if t := d.Totals(); t != nil && !t.Consistent(defaultTotalsEpsilon) {
		return ErrTotalsMismatch
	}
	return nil
}

// EntityType names the downstream entity a promoted document becomes.
func (d *Document) EntityType() string {
	switch d.DocType {
	case DocTypeInvoice:
		if d.Invoice != nil && d.Invoice.Kind == InvoiceKindSales {
			return "sales_invoice"
		}
		return "purchase_invoice"
	case DocTypeBankTx:
		return "bank_transaction"
	case DocTypeExpenseReceipt:
		return "expense"
	case DocTypeProduct:
		return "product"
	}
	return ""
}

// IdentifyingFields is the projection that decides "same logical document".
// Values are raw; the posting service normalizes them.
func (d *Document) IdentifyingFields() map[string]string {
	f := map[string]string{}
	date := ""
	if d.IssueDate != nil {
		date = d.IssueDate.String()
	}
	switch {
	case d.Invoice != nil:
		f["number"] = d.Invoice.Number
		if d.Invoice.Kind == InvoiceKindSales && d.Invoice.Buyer != nil {
			f["buyer"] = firstNonEmpty(d.Invoice.Buyer.TaxID, d.Invoice.Buyer.Name)
		} else {
			f["vendor"] = firstNonEmpty(d.Invoice.Vendor.TaxID, d.Invoice.Vendor.Name)
		}
		f["total"] = d.Invoice.Totals.Total.String()
		f["issue_date"] = date
	case d.BankTx != nil:
		f["external_ref"] = d.BankTx.ExternalRef
		f["amount"] = d.BankTx.Amount.String()
		f["direction"] = string(d.BankTx.Direction)
		if d.BankTx.ValueDate != nil {
			f["value_date"] = d.BankTx.ValueDate.String()
		}
		if d.BankTx.ExternalRef == "" {
			f["narrative"] = d.BankTx.Narrative
		}
	case d.ExpenseReceipt != nil:
		f["merchant"] = firstNonEmpty(d.ExpenseReceipt.Merchant.TaxID, d.ExpenseReceipt.Merchant.Name)
		f["number"] = d.ExpenseReceipt.ReceiptNumber
		f["total"] = d.ExpenseReceipt.Totals.Total.String()
		f["issue_date"] = date
	case d.Product != nil:
		f["sku"] = d.Product.SKU
		if d.Product.SKU == "" {
			f["name"] = d.Product.Name
		}
	}
	return f
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
