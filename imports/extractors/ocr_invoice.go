package extractors

import (
	"regexp"
	"strings"

	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/shopspring/decimal"
)

var (
	reInvoiceNumber  = regexp.MustCompile(`(?i)\b(?:factura|invoice|fra\.?)\s*(?:n[ºo°]\.?|no\.?|num\.?|n[uú]mero|number|#)?\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]*\d[A-Z0-9\-/]*)`)
	reNumberFallback = regexp.MustCompile(`(?i)(?:\bn[ºo°]|\bno\.|\bnum\.)\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]*\d[A-Z0-9\-/]*)`)
	reBuyerLabel     = regexp.MustCompile(`(?i)^\s*(?:cliente|client|customer|bill to|facturar a|receptor)\s*[:\-]?\s*(.*)$`)
)

// invoiceLine is an item row recognized in OCR text.
type invoiceLine struct {
	qty, unit, total decimal.Decimal
	desc             string
}

// parseItemLine recognizes "qty desc unit_price total" with up to three
// leading tokens (codes, line numbers), then "desc qty unit_price total".
func parseItemLine(line string) (invoiceLine, bool) {
	tokens := strings.Fields(line)
	if len(tokens) < 4 {
		return invoiceLine{}, false
	}
	n := len(tokens)
	unit, okUnit := isNumericToken(tokens[n-2])
	total, okTotal := isNumericToken(tokens[n-1])
	if !okUnit || !okTotal {
		return invoiceLine{}, false
	}

	for lead := 0; lead <= 3 && lead+1 < n-2; lead++ {
		qty, ok := isNumericToken(tokens[lead])
		if !ok {
			continue
		}
		desc := strings.Join(tokens[lead+1:n-2], " ")
		if !hasLetter(desc) || !hasLetter(tokens[lead+1]) {
			continue
		}
		return keepLine(invoiceLine{qty: qty, unit: unit, total: total, desc: desc})
	}

	if qty, ok := isNumericToken(tokens[n-3]); ok {
		desc := strings.Join(tokens[:n-3], " ")
		if hasLetter(desc) {
			return keepLine(invoiceLine{qty: qty, unit: unit, total: total, desc: desc})
		}
	}
	return invoiceLine{}, false
}

func keepLine(l invoiceLine) (invoiceLine, bool) {
	if !hasLetter(l.desc) {
		return invoiceLine{}, false
	}
	if !l.qty.IsPositive() && !l.total.IsPositive() {
		return invoiceLine{}, false
	}
	return l, true
}

func extractOCRInvoice(in Input) Result {
	text := NormalizeText(in.text())
	if text == "" {
		return failed(newParseError(FormatOCRInvoice, ErrCodeEmptyInput, "no text to extract"))
	}
	lines := nonEmptyLines(text)
	mapped := map[string]string{}
	country := strings.ToUpper(in.Country)

	inv := &canonical.Invoice{Kind: canonical.InvoiceKindPurchase}
	if in.InvoiceKind != "" {
		inv.Kind = in.InvoiceKind
	}

	if name := firstNameLine(lines); name != "" {
		inv.Vendor.Name = name
		mapped["vendor.name"] = name
	}
	taxIDs := findTaxIDs(text)
	if len(taxIDs) > 0 {
		inv.Vendor.TaxID = taxIDs[0]
		mapped["vendor.tax_id"] = "tax id label"
	}
	if phone := findPhone(text, country); phone != "" {
		inv.Vendor.Phone = phone
		mapped["vendor.phone"] = "phone label"
	}

	if m := reInvoiceNumber.FindStringSubmatch(text); m != nil {
		inv.Number = m[1]
		mapped["number"] = "invoice label"
	} else if m := reNumberFallback.FindStringSubmatch(text); m != nil {
		inv.Number = m[1]
		mapped["number"] = "number label"
	}

	var issue *canonical.Date
	for i, l := range lines {
		low := normalizeLabel(l)
		switch {
		case issue == nil && containsWordIn(low, []string{"fecha", "date", "emision"}) && !containsWordIn(low, []string{"vencimiento", "due"}):
			if d, _ := findDate(l); d != nil {
				issue = d
				mapped["issue_date"] = "date label"
			}
		case inv.DueDate == nil && containsWordIn(low, []string{"vencimiento", "due"}):
			if d, _ := findDate(l); d != nil {
				inv.DueDate = d
				mapped["due_date"] = "due label"
			}
		}
		if m := reBuyerLabel.FindStringSubmatch(l); m != nil && inv.Buyer == nil {
			name := strings.TrimSpace(m[1])
			if name == "" && i+1 < len(lines) {
				name = lines[i+1]
			}
			if name != "" {
				inv.Buyer = &canonical.Party{Name: name}
				if len(taxIDs) > 1 {
					inv.Buyer.TaxID = taxIDs[1]
				}
				mapped["buyer.name"] = "buyer label"
			}
		}
	}
	if issue == nil {
		if d, _ := findDate(text); d != nil {
			issue = d
			mapped["issue_date"] = "first date"
		}
	}

	var subtotal, total, payable *decimal.Decimal
	consumed := map[int]bool{}
	for i, l := range lines {
		low := normalizeLabel(l)
		switch {
		case containsWordIn(low, []string{"subtotal", "sub total", "base imponible"}):
			if d, ok := lastAmount(l); ok {
				subtotal = &d
				consumed[i] = true
			}
		case containsWordIn(low, []string{"total a pagar", "importe total", "total factura", "grand total", "amount due"}):
			if d, ok := lastAmount(l); ok {
				payable = &d
				consumed[i] = true
			}
		case strings.Contains(low, "total") && !containsWordIn(low, []string{"iva", "tax", "impuesto", "igv"}):
			if d, ok := lastAmount(l); ok {
				total = &d
				consumed[i] = true
			}
		case containsWordIn(low, []string{"iva", "tax", "impuesto", "igv"}):
			consumed[i] = true
		}
	}
	if payable != nil {
		total = payable
	}

	for i, l := range lines {
		low := normalizeLabel(l)
		if consumed[i] || containsWordIn(low, summaryWords) || containsWordIn(low, headerWords) {
			continue
		}
		if il, ok := parseItemLine(l); ok {
			inv.Lines = append(inv.Lines, canonical.Line{
				Description: il.desc, Quantity: il.qty, UnitPrice: il.unit, Total: il.total,
			})
		}
	}
	if len(inv.Lines) > 0 {
		mapped["lines"] = "item rows"
	}

	switch {
	case total != nil:
		mapped["totals.total"] = "total label"
	case subtotal != nil:
		t := *subtotal
		total = &t
	case len(inv.Lines) > 0:
		t := canonical.SumLines(inv.Lines)
		total = &t
	default:
		return failed(newParseError(FormatOCRInvoice, ErrCodeNoDocuments, "no total or item lines found"))
	}
	if subtotal != nil {
		mapped["totals.subtotal"] = "subtotal label"
	}
	inv.Totals = canonical.ComputeTotals(subtotal, *total)

	var unmapped []string
	for label := range labeledLines(lines) {
		if !containsAny(label, "factura", "invoice", "fecha", "date", "nif", "cif", "rfc", "ruc", "nit", "vat",
			"tel", "phone", "cliente", "client", "total", "subtotal", "base", "iva", "vencimiento", "due") {
			unmapped = append(unmapped, label)
		}
	}

	doc := canonical.Document{
		DocType:   canonical.DocTypeInvoice,
		Country:   country,
		Currency:  detectCurrency(text, in.Currency, country),
		IssueDate: issue,
		Source:    canonical.Source{Format: string(FormatOCRInvoice), Filename: in.Filename, Ref: in.Ref},
		Invoice:   inv,
	}
	conf := ocrInvoiceConfidence(inv, issue)
	doc.Confidence = conf
	routing := proposeRouting(&doc)
	doc.RoutingProposal = routing

	return Result{
		Documents:        []canonical.Document{doc},
		Routing:          routing,
		ParserConfidence: conf,
		MappedFields:     mapped,
		UnmappedFields:   sortedUnique(unmapped),
	}
}

func ocrInvoiceConfidence(inv *canonical.Invoice, issue *canonical.Date) float64 {
	score := 0.0
	if inv.Vendor.Name != "" || inv.Vendor.TaxID != "" {
		score += 0.2
	}
	if inv.Number != "" {
		score += 0.2
	}
	if issue != nil {
		score += 0.2
	}
	if inv.Totals.Total.IsPositive() {
		score += 0.3
	}
	if len(inv.Lines) > 0 {
		score += 0.1
	}
	return roundScore(score)
}
