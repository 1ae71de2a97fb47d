package extractors

import "github.com/mmdatafocus/books_imports/imports/canonical"

// RequiredCoverage is the share of a document's required fields that were filled.
func RequiredCoverage(doc *canonical.Document) float64 {
	var checks []bool
	switch {
	case doc.Invoice != nil:
		inv := doc.Invoice
		party := inv.Vendor
		if inv.Kind == canonical.InvoiceKindSales && inv.Buyer != nil {
			party = *inv.Buyer
		}
		checks = []bool{inv.Number != "", !party.IsZero(), doc.IssueDate != nil, inv.Totals.Total.IsPositive()}
	case doc.BankTx != nil:
		tx := doc.BankTx
		checks = []bool{tx.Amount.IsPositive(), tx.Direction != "", tx.ValueDate != nil, tx.Narrative != "" || tx.ExternalRef != ""}
	case doc.ExpenseReceipt != nil:
		rec := doc.ExpenseReceipt
		checks = []bool{!rec.Merchant.IsZero(), rec.Totals.Total.IsPositive(), doc.IssueDate != nil}
	case doc.Product != nil:
		p := doc.Product
		checks = []bool{p.SKU != "" || p.Name != "", !p.Price.IsNegative() && (p.Price.IsPositive() || p.SKU != "")}
	default:
		return 0
	}
	filled := 0
	for _, c := range checks {
		if c {
			filled++
		}
	}
	return float64(filled) / float64(len(checks))
}

// MappingScore rates how completely the source mapped onto the canonical
// schema: average required-field coverage, less 0.05 per unmapped field.
func (r Result) MappingScore() float64 {
	if len(r.Documents) == 0 {
		return 0
	}
	sum := 0.0
	for i := range r.Documents {
		sum += RequiredCoverage(&r.Documents[i])
	}
	return roundScore(sum/float64(len(r.Documents)) - 0.05*float64(len(r.UnmappedFields)))
}
