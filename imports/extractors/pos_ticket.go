package extractors

import (
	"regexp"
	"strings"

	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/shopspring/decimal"
)

var (
	reTicketLine   = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)\s*[xX×*]\s*(.+?)\s*-\s*(\(?-?[\d.,]+\)?)\s*(?:€|\$|[A-Z]{3})?$`)
	reTicketNumber = regexp.MustCompile(`(?i)\b(?:ticket|tiquet|recibo|folio|receipt)\s*(?:n[ºo°]\.?|no\.?|#)?\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]*\d[A-Z0-9\-/]*)`)
)

// extractPOSTicket reads "qty x description - price" item lines. The price is
// the line amount; a ticket without a total line totals its items.
func extractPOSTicket(in Input) Result {
	text := NormalizeText(in.text())
	if text == "" {
		return failed(newParseError(FormatPOSTicket, ErrCodeEmptyInput, "no text to extract"))
	}
	lines := nonEmptyLines(text)
	country := strings.ToUpper(in.Country)
	mapped := map[string]string{}

	rec := &canonical.ExpenseReceipt{}
	if name := firstNameLine(lines); name != "" {
		rec.Merchant.Name = name
		mapped["merchant.name"] = name
	}
	if ids := findTaxIDs(text); len(ids) > 0 {
		rec.Merchant.TaxID = ids[0]
		mapped["merchant.tax_id"] = "tax id label"
	}
	if phone := findPhone(text, country); phone != "" {
		rec.Merchant.Phone = phone
		mapped["merchant.phone"] = "phone label"
	}
	if m := reTicketNumber.FindStringSubmatch(text); m != nil {
		rec.ReceiptNumber = m[1]
		mapped["number"] = "ticket label"
	}

	var subtotal, total *decimal.Decimal
	for _, l := range lines {
		if m := reTicketLine.FindStringSubmatch(l); m != nil {
			qty, okQty := ParseNumber(m[1])
			amount, okAmount := ParseNumber(m[3])
			if !okQty || !okAmount || !hasLetter(m[2]) {
				continue
			}
			if !qty.IsPositive() && !amount.IsPositive() {
				continue
			}
			unit := amount
			if qty.IsPositive() {
				unit = amount.DivRound(qty, 4)
			}
			rec.Lines = append(rec.Lines, canonical.Line{
				Description: strings.TrimSpace(m[2]), Quantity: qty, UnitPrice: unit, Total: amount,
			})
			continue
		}
		low := normalizeLabel(l)
		switch {
		case containsWordIn(low, []string{"subtotal", "sub total", "base imponible"}):
			if d, ok := lastAmount(l); ok {
				subtotal = &d
			}
		case strings.Contains(low, "total") && !containsWordIn(low, []string{"iva", "tax", "impuesto", "igv"}):
			if d, ok := lastAmount(l); ok {
				total = &d
			}
		case containsWordIn(low, []string{"efectivo", "cash", "contado"}):
			rec.PaymentMethod = "cash"
		case containsWordIn(low, []string{"tarjeta", "card", "visa", "mastercard", "debito", "credito"}):
			rec.PaymentMethod = "card"
		}
	}
	if len(rec.Lines) > 0 {
		mapped["lines"] = "item rows"
	}
	if rec.PaymentMethod != "" {
		mapped["payment_method"] = "payment label"
	}

	if total == nil {
		if len(rec.Lines) == 0 {
			return failed(newParseError(FormatPOSTicket, ErrCodeNoDocuments, "no total or item lines found"))
		}
		t := canonical.SumLines(rec.Lines)
		total = &t
		mapped["totals.total"] = "sum of lines"
	} else {
		mapped["totals.total"] = "total label"
	}
	rec.Totals = canonical.ComputeTotals(subtotal, *total)

	issue, _ := findDate(text)
	if issue != nil {
		mapped["issue_date"] = "first date"
	}

	doc := canonical.Document{
		DocType:        canonical.DocTypeExpenseReceipt,
		Country:        country,
		Currency:       detectCurrency(text, in.Currency, country),
		IssueDate:      issue,
		Source:         canonical.Source{Format: string(FormatPOSTicket), Filename: in.Filename, Ref: in.Ref},
		ExpenseReceipt: rec,
	}
	score := 0.0
	if rec.Merchant.Name != "" {
		score += 0.2
	}
	if issue != nil {
		score += 0.2
	}
	if len(rec.Lines) > 0 {
		score += 0.3
	}
	if mapped["totals.total"] == "total label" {
		score += 0.3
	} else {
		score += 0.15
	}
	doc.Confidence = roundScore(score)
	doc.RoutingProposal = proposeRouting(&doc)

	return Result{
		Documents:        []canonical.Document{doc},
		Routing:          doc.RoutingProposal,
		ParserConfidence: doc.Confidence,
		MappedFields:     mapped,
	}
}
