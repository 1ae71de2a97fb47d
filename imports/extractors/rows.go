package extractors

import (
	"sort"
	"strconv"
	"strings"

	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/shopspring/decimal"
)

// rowSpec describes one tabular format: which aliases map its headers, how
// many fields make a header row, and how a mapped row becomes a document.
type rowSpec struct {
	format     Format
	aliases    aliases
	minFields  int
	positional bool
	convert    func(in Input, m columnMapping, row map[string]any) (canonical.Document, float64, *ParseError)
}

var (
	bankRows    = rowSpec{FormatCSVBank, bankAliases, 2, true, bankRowDocument}
	invoiceRows = rowSpec{FormatCSVInvoice, invoiceAliases, 2, false, invoiceRowDocument}
	productRows = rowSpec{FormatXLSXProduct, productAliases, 2, false, productRowDocument}
)

func extractCSVBank(in Input) Result     { return extractRows(bankRows, FormatCSVBank, in, readCSVRecords) }
func extractXLSXBank(in Input) Result    { return extractRows(bankRows, FormatXLSXBank, in, readXLSXRecords) }
func extractCSVInvoice(in Input) Result  { return extractRows(invoiceRows, FormatCSVInvoice, in, readCSVRecords) }
func extractXLSXInvoice(in Input) Result { return extractRows(invoiceRows, FormatXLSXInvoice, in, readXLSXRecords) }
func extractXLSXProduct(in Input) Result {
	return extractRows(productRows, FormatXLSXProduct, in, readXLSXRecords)
}

// extractRows handles both a single pre-split row (in.Row) and a whole file.
// In whole-file mode bad rows are skipped and lower the parser confidence;
// the result only fails when no row converts.
func extractRows(spec rowSpec, f Format, in Input, read func([]byte) ([][]string, error)) Result {
	if in.Row != nil {
		m := rowMapping(spec, rowHeaders(in))
		doc, conf, perr := spec.convert(in, m, in.Row)
		if perr != nil {
			perr.Format = f
			return failed(perr)
		}
		doc.Source = canonical.Source{Format: string(f), Filename: in.Filename, Ref: in.Ref}
		return Result{
			Documents:        []canonical.Document{doc},
			Routing:          doc.RoutingProposal,
			ParserConfidence: conf,
			MappedFields:     m.byField,
			UnmappedFields:   nonEmptyUnmapped(m, in.Row),
		}
	}

	data := in.Data
	if len(data) == 0 {
		data = []byte(in.Text)
	}
	if len(data) == 0 {
		return failed(newParseError(f, ErrCodeEmptyInput, "no rows to extract"))
	}
	records, err := read(data)
	if err != nil {
		return failed(newParseError(f, ErrCodeMalformed, "%v", err))
	}
	t, err := buildTable(records, spec.aliases, spec.minFields, spec.positional)
	if err != nil {
		return failed(newParseError(f, ErrCodeHeaderNotFound, "%v", err))
	}
	m := rowMapping(spec, t.headers)

	res := Result{MappedFields: m.byField, UnmappedFields: sortedUnique(m.unmapped)}
	var sum float64
	var firstErr *ParseError
	for i, row := range t.rows {
		doc, conf, perr := spec.convert(in, m, row)
		if perr != nil {
			if firstErr == nil {
				perr.Format = f
				perr.Line = t.lines[i]
				firstErr = perr
			}
			continue
		}
		doc.Source = canonical.Source{Format: string(f), Filename: in.Filename, Ref: rowRef(t.lines[i])}
		res.Documents = append(res.Documents, doc)
		sum += conf
	}
	if len(res.Documents) == 0 {
		if firstErr == nil {
			firstErr = newParseError(f, ErrCodeNoDocuments, "file has no data rows")
		}
		return failed(firstErr)
	}
	res.ParserConfidence = roundScore(sum / float64(len(t.rows)))
	res.Routing = res.Documents[0].RoutingProposal
	return res
}

// rowHeaders returns the row's column order: the one recorded at split time,
// or positional/alphabetical order when none was kept.
func rowHeaders(in Input) []string {
	if len(in.Headers) > 0 {
		return in.Headers
	}
	headers := make([]string, 0, len(in.Row))
	for h := range in.Row {
		headers = append(headers, h)
	}
	sort.Slice(headers, func(i, j int) bool {
		a, aok := positionalIndex(headers[i])
		b, bok := positionalIndex(headers[j])
		if aok && bok {
			return a < b
		}
		return headers[i] < headers[j]
	})
	return headers
}

func positionalIndex(h string) (int, bool) {
	if !strings.HasPrefix(h, positionalPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(h, positionalPrefix))
	return n, err == nil
}

func rowMapping(spec rowSpec, headers []string) columnMapping {
	if spec.positional && len(headers) > 0 && strings.HasPrefix(headers[0], positionalPrefix) {
		return positionalBankMapping(headers)
	}
	return mapHeaders(headers, spec.aliases)
}

// positionalBankMapping lays out headerless statements by column count.
func positionalBankMapping(headers []string) columnMapping {
	var fields []string
	switch n := len(headers); {
	case n >= 6:
		fields = []string{"date", "narrative", "external_ref", "debit", "credit", "balance"}
	case n == 5:
		fields = []string{"date", "narrative", "external_ref", "amount", "balance"}
	case n == 4:
		fields = []string{"date", "narrative", "amount", "balance"}
	default:
		fields = []string{"date", "narrative", "amount"}
	}
	m := columnMapping{byField: map[string]string{}}
	for i, h := range headers {
		if i < len(fields) {
			m.byField[fields[i]] = h
		} else {
			m.unmapped = append(m.unmapped, h)
		}
	}
	return m
}

func nonEmptyUnmapped(m columnMapping, row map[string]any) []string {
	var out []string
	for _, h := range m.unmapped {
		if cellString(row[h]) != "" {
			out = append(out, h)
		}
	}
	return sortedUnique(out)
}

func rowRef(line int) string {
	return "row:" + itoa(line)
}

func rowError(code, format string, args ...any) *ParseError {
	return newParseError("", code, format, args...)
}

var (
	debitWords  = []string{"d", "db", "dr", "debit", "debito", "cargo", "debe", "egreso", "retiro", "-"}
	creditWords = []string{"c", "cr", "credit", "credito", "abono", "haber", "ingreso", "deposito", "+"}
)

func bankRowDocument(in Input, m columnMapping, row map[string]any) (canonical.Document, float64, *ParseError) {
	tx := &canonical.BankTx{
		Narrative:   m.str(row, "narrative"),
		ExternalRef: m.str(row, "external_ref"),
		AccountRef:  m.str(row, "account"),
	}
	conf := 1.0

	debit, hasDebit := parseCell(m.value(row, "debit"))
	credit, hasCredit := parseCell(m.value(row, "credit"))
	switch {
	case hasCredit && !credit.IsZero():
		tx.Amount, tx.Direction = credit.Abs(), canonical.DirectionCredit
	case hasDebit && !debit.IsZero():
		tx.Amount, tx.Direction = debit.Abs(), canonical.DirectionDebit
	default:
		amount, ok := parseCell(m.value(row, "amount"))
		if !ok || amount.IsZero() {
			return canonical.Document{}, 0, rowError(ErrCodeInvalidRow, "amount is missing or zero")
		}
		tx.Amount = amount.Abs()
		tx.Direction = canonical.DirectionCredit
		if amount.IsNegative() {
			tx.Direction = canonical.DirectionDebit
		}
		if dir := normalizeLabel(m.str(row, "direction")); dir != "" {
			switch {
			case containsWordIn(dir, debitWords):
				tx.Direction = canonical.DirectionDebit
			case containsWordIn(dir, creditWords):
				tx.Direction = canonical.DirectionCredit
			default:
				conf -= 0.1
			}
		}
	}

	if raw := m.value(row, "balance"); cellString(raw) != "" {
		if b, ok := parseCell(raw); ok {
			tx.Balance = &b
		} else {
			conf -= 0.1
		}
	}

	var issue *canonical.Date
	if d, ok := parseDateCell(m.value(row, "date")); ok {
		issue = d
		tx.ValueDate = d
	} else {
		conf -= 0.3
	}
	if tx.Narrative == "" && tx.ExternalRef == "" {
		conf -= 0.1
	}
	if strings.HasPrefix(m.byField["date"], positionalPrefix) {
		conf -= 0.05
	}

	country := strings.ToUpper(in.Country)
	doc := canonical.Document{
		DocType:   canonical.DocTypeBankTx,
		Country:   country,
		Currency:  firstNonEmptyString(strings.ToUpper(m.str(row, "currency")), strings.ToUpper(in.Currency), countryCurrency[country]),
		IssueDate: issue,
		BankTx:    tx,
	}
	doc.Confidence = roundScore(conf)
	doc.RoutingProposal = proposeRouting(&doc)
	return doc, doc.Confidence, nil
}

func containsWordIn(s string, words []string) bool {
	for _, w := range words {
		if s == w || containsWords(s, w) {
			return true
		}
	}
	return false
}

var (
	salesWords    = []string{"venta", "ventas", "sales", "sale", "emitida", "emitidas", "ingreso", "issued"}
	purchaseWords = []string{"compra", "compras", "purchase", "recibida", "recibidas", "gasto", "received"}
)

func invoiceRowDocument(in Input, m columnMapping, row map[string]any) (canonical.Document, float64, *ParseError) {
	total, ok := parseCell(m.value(row, "total"))
	if !ok {
		return canonical.Document{}, 0, rowError(ErrCodeInvalidRow, "total is missing")
	}
	conf := 1.0

	var subtotal *decimal.Decimal
	if s, ok := parseCell(m.value(row, "subtotal")); ok {
		subtotal = &s
	}
	totals := canonical.ComputeTotals(subtotal, total)
	if tax, ok := parseCell(m.value(row, "tax")); ok && subtotal != nil && !tax.Sub(totals.Tax).Abs().LessThanOrEqual(decimal.New(1, -2)) {
		conf -= 0.2
	}

	inv := &canonical.Invoice{
		Kind:   canonical.InvoiceKindPurchase,
		Number: m.str(row, "number"),
		Totals: totals,
	}
	if in.InvoiceKind != "" {
		inv.Kind = in.InvoiceKind
	}
	if kind := normalizeLabel(m.str(row, "kind")); kind != "" {
		switch {
		case containsWordIn(kind, salesWords):
			inv.Kind = canonical.InvoiceKindSales
		case containsWordIn(kind, purchaseWords):
			inv.Kind = canonical.InvoiceKindPurchase
		}
	}
	party := canonical.Party{Name: m.str(row, "party_name"), TaxID: cleanTaxID(m.str(row, "party_tax_id"))}
	if inv.Kind == canonical.InvoiceKindSales {
		if !party.IsZero() {
			inv.Buyer = &party
		}
	} else {
		inv.Vendor = party
	}
	if desc := m.str(row, "description"); desc != "" {
		inv.Lines = []canonical.Line{{Description: desc, Quantity: decimal.NewFromInt(1), UnitPrice: totals.Subtotal, Total: totals.Subtotal}}
	}
	if inv.Number == "" {
		conf -= 0.2
	}
	if party.IsZero() {
		conf -= 0.2
	}

	var issue *canonical.Date
	if d, ok := parseDateCell(m.value(row, "issue_date")); ok {
		issue = d
	} else {
		conf -= 0.2
	}
	if d, ok := parseDateCell(m.value(row, "due_date")); ok {
		inv.DueDate = d
	}

	country := strings.ToUpper(in.Country)
	doc := canonical.Document{
		DocType:   canonical.DocTypeInvoice,
		Country:   country,
		Currency:  firstNonEmptyString(strings.ToUpper(m.str(row, "currency")), strings.ToUpper(in.Currency), countryCurrency[country]),
		IssueDate: issue,
		Invoice:   inv,
	}
	doc.Confidence = roundScore(conf)
	doc.RoutingProposal = proposeRouting(&doc)
	return doc, doc.Confidence, nil
}

func productRowDocument(in Input, m columnMapping, row map[string]any) (canonical.Document, float64, *ParseError) {
	p := &canonical.Product{
		SKU:     m.str(row, "sku"),
		Name:    m.str(row, "name"),
		Barcode: m.str(row, "barcode"),
		Unit:    m.str(row, "unit"),
	}
	if p.SKU == "" && p.Name == "" {
		return canonical.Document{}, 0, rowError(ErrCodeInvalidRow, "product needs a sku or a name")
	}
	price, ok := parseCell(m.value(row, "price"))
	if !ok {
		return canonical.Document{}, 0, rowError(ErrCodeInvalidRow, "price is missing")
	}
	p.Price = price
	conf := 1.0
	if p.SKU == "" || p.Name == "" {
		conf -= 0.2
	}
	if raw := m.value(row, "cost"); cellString(raw) != "" {
		if c, ok := parseCell(raw); ok {
			p.Cost = &c
		} else {
			conf -= 0.1
		}
	}
	if raw := m.value(row, "tax_rate"); cellString(raw) != "" {
		if r, ok := parseCell(raw); ok {
			if r.GreaterThan(decimal.NewFromInt(1)) {
				r = r.Div(decimal.NewFromInt(100))
			}
			p.TaxRate = &r
		} else {
			conf -= 0.1
		}
	}
	if p.Barcode != "" {
		p.Barcode = stripNonDigits(p.Barcode)
	}

	country := strings.ToUpper(in.Country)
	doc := canonical.Document{
		DocType:  canonical.DocTypeProduct,
		Country:  country,
		Currency: firstNonEmptyString(strings.ToUpper(in.Currency), countryCurrency[country]),
		Product:  p,
	}
	doc.Confidence = roundScore(conf)
	doc.RoutingProposal = proposeRouting(&doc)
	return doc, doc.Confidence, nil
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
