// Package countryrules holds per-country fiscal validators looked up by ISO
// country code.
package countryrules

import (
	"strings"
	"sync"
	"time"

	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/shopspring/decimal"
)

// RuleSet validates fiscal identifiers of one country. Every check returns
// (ok, message) and never panics.
type RuleSet interface {
	Country() string
	TaxType() string
	TaxRate(dt canonical.DocType) (decimal.Decimal, bool)
	ValidateTaxID(value string) (bool, string)
	ValidateInvoiceNumber(value string) (bool, string)
	ValidateFiscalDate(value canonical.Date) (bool, string)
}

// Field keys used in the error map returned by ValidateDocument.
const (
	FieldVendorTaxID   = "vendor.tax_id"
	FieldBuyerTaxID    = "buyer.tax_id"
	FieldMerchantTaxID = "merchant.tax_id"
	FieldInvoiceNumber = "invoice.number"
	FieldIssueDate     = "issue_date"
	FieldTax           = "totals.tax"
)

const DefaultTaxTolerance = 0.05

type Registry struct {
	mu        sync.RWMutex
	sets      map[string]RuleSet
	tolerance decimal.Decimal
}

// NewRegistry returns an empty registry. A non-positive tolerance means the
// default of 5%.
func NewRegistry(tolerance float64) *Registry {
	if tolerance <= 0 {
		tolerance = DefaultTaxTolerance
	}
	return &Registry{sets: map[string]RuleSet{}, tolerance: decimal.NewFromFloat(tolerance)}
}

// Default returns a registry with the built-in rule sets.
func Default(tolerance float64) *Registry {
	r := NewRegistry(tolerance)
	clock := time.Now
	r.Register(NewSpain(clock))
	r.Register(NewMexico(clock))
	r.Register(NewEcuador(clock))
	r.Register(NewColombia(clock))
	return r
}

// Register adds or replaces the rule set for its country.
func (r *Registry) Register(rs RuleSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[strings.ToUpper(rs.Country())] = rs
}

func (r *Registry) Get(country string) (RuleSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.sets[strings.ToUpper(strings.TrimSpace(country))]
	return rs, ok
}

func (r *Registry) Countries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sets))
	for c := range r.sets {
		out = append(out, c)
	}
	return out
}

// ValidateDocument runs every applicable check for the document's country
// and returns a field-keyed error map. Unknown countries pass unchecked.
func (r *Registry) ValidateDocument(doc *canonical.Document) map[string]string {
	errs := map[string]string{}
	if doc == nil {
		return errs
	}
	rs, ok := r.Get(doc.Country)
	if !ok {
		return errs
	}

	checkTaxID := func(field string, p *canonical.Party) {
		if p == nil || strings.TrimSpace(p.TaxID) == "" {
			return
		}
		if ok, msg := rs.ValidateTaxID(p.TaxID); !ok {
			errs[field] = msg
		}
	}

	switch doc.DocType {
	case canonical.DocTypeInvoice:
		if inv := doc.Invoice; inv != nil {
			checkTaxID(FieldVendorTaxID, &inv.Vendor)
			checkTaxID(FieldBuyerTaxID, inv.Buyer)
			if inv.Kind == canonical.InvoiceKindSales || inv.Kind == canonical.InvoiceKindPurchase {
				if ok, msg := rs.ValidateInvoiceNumber(inv.Number); !ok {
					errs[FieldInvoiceNumber] = msg
				}
			}
		}
	case canonical.DocTypeExpenseReceipt:
		if rc := doc.ExpenseReceipt; rc != nil {
			checkTaxID(FieldMerchantTaxID, &rc.Merchant)
		}
	}

	if doc.IssueDate != nil && doc.DocType != canonical.DocTypeProduct {
		if ok, msg := rs.ValidateFiscalDate(*doc.IssueDate); !ok {
			errs[FieldIssueDate] = msg
		}
	}

	if rate, ok := rs.TaxRate(doc.DocType); ok {
		if totals := doc.Totals(); totals != nil {
			if msg := r.crossCheckTax(*totals, rate); msg != "" {
				errs[FieldTax] = msg
			}
		}
	}
	return errs
}

// crossCheckTax compares reported tax with subtotal*rate. A document with no
// tax breakdown (zero tax, subtotal equal to total) is skipped.
func (r *Registry) crossCheckTax(t canonical.Totals, rate decimal.Decimal) string {
	if !t.Subtotal.IsPositive() || rate.IsZero() {
		return ""
	}
	if t.Tax.IsZero() && t.Subtotal.Equal(t.Total) {
		return ""
	}
	expected := t.Subtotal.Mul(rate)
	allowed := expected.Mul(r.tolerance).Abs()
	if t.Tax.Sub(expected).Abs().GreaterThan(allowed) {
		return "tax " + t.Tax.StringFixed(2) + " does not match " + rate.Mul(decimal.NewFromInt(100)).String() +
			"% of subtotal (expected " + expected.StringFixed(2) + ")"
	}
	return ""
}
