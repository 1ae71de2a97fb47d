package extractors

import (
	"regexp"
	"strings"

	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/shopspring/decimal"
)

var (
	reMT940Tag     = regexp.MustCompile(`^:(\d{2}[A-Z]?):(.*)$`)
	reMT940Line    = regexp.MustCompile(`^(\d{6})(\d{4})?(R?[CD])([A-Z])?(\d+,\d{0,2})([A-Z]\w{3})([^/]*)(?://(.*))?`)
	reMT940Balance = regexp.MustCompile(`^([CD])(\d{6})([A-Z]{3})([\d,]+)`)
	reMT940SubTag  = regexp.MustCompile(`\?\d{2}`)
)

type mt940Field struct {
	tag   string
	value string
	line  int
}

// mt940Fields splits a statement into tags, folding continuation lines into
// the preceding tag.
func mt940Fields(text string) []mt940Field {
	var out []mt940Field
	for i, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line := strings.TrimRight(raw, " \r")
		if line == "" || line == "-" || strings.HasPrefix(line, "{") {
			continue
		}
		if m := reMT940Tag.FindStringSubmatch(line); m != nil {
			out = append(out, mt940Field{tag: m[1], value: m[2], line: i + 1})
			continue
		}
		if len(out) > 0 {
			out[len(out)-1].value += "\n" + line
		}
	}
	return out
}

// mt940Amount reads an MT940 amount; the comma is always the decimal mark.
func mt940Amount(s string) (decimal.Decimal, bool) {
	s = strings.TrimRight(strings.ReplaceAll(s, ",", "."), ".")
	d, err := decimal.NewFromString(s)
	return d, err == nil
}

// extractMT940 pairs every :61: statement line with the :86: that follows it.
// Currency comes from the opening balance (:60F:/:60M:).
func extractMT940(in Input) Result {
	text := in.text()
	if strings.TrimSpace(text) == "" {
		return failed(newParseError(FormatMT940, ErrCodeEmptyInput, "no statement text"))
	}
	fields := mt940Fields(text)
	country := strings.ToUpper(in.Country)
	currency := strings.ToUpper(in.Currency)
	account := ""

	res := Result{MappedFields: map[string]string{
		"value_date":   ":61: value date",
		"amount":       ":61: amount",
		"direction":    ":61: debit/credit mark",
		"external_ref": ":61: reference",
		"narrative":    ":86:",
	}}
	var firstErr *ParseError
	lines := 0

	for i, f := range fields {
		switch f.tag {
		case "25":
			account = strings.TrimSpace(f.value)
		case "60F", "60M":
			if m := reMT940Balance.FindStringSubmatch(strings.TrimSpace(f.value)); m != nil {
				currency = m[3]
			}
		case "61":
			lines++
			m := reMT940Line.FindStringSubmatch(strings.ReplaceAll(f.value, "\n", ""))
			if m == nil {
				if firstErr == nil {
					firstErr = &ParseError{Format: FormatMT940, Code: ErrCodeInvalidRow, Message: "unreadable :61: line", Line: f.line}
				}
				continue
			}
			amount, ok := mt940Amount(m[5])
			if !ok || amount.IsZero() {
				if firstErr == nil {
					firstErr = &ParseError{Format: FormatMT940, Code: ErrCodeInvalidRow, Message: "invalid amount " + m[5], Line: f.line}
				}
				continue
			}
			tx := &canonical.BankTx{Amount: amount, AccountRef: account}
			// RC reverses a credit and RD a debit.
			switch m[3] {
			case "C", "RD":
				tx.Direction = canonical.DirectionCredit
			default:
				tx.Direction = canonical.DirectionDebit
			}
			ref := strings.TrimSpace(m[7])
			if strings.EqualFold(ref, "NONREF") {
				ref = ""
			}
			bankRef := strings.TrimSpace(m[8])
			tx.ExternalRef = firstNonEmptyString(ref, bankRef)

			conf := 1.0
			var date *canonical.Date
			if d, ok := canonical.ParseDate("20" + m[1]); ok {
				date = d
				tx.ValueDate = d
			} else {
				conf -= 0.3
			}
			if i+1 < len(fields) && fields[i+1].tag == "86" {
				tx.Narrative = mt940Narrative(fields[i+1].value)
			} else {
				conf -= 0.1
			}
			if currency == "" {
				conf -= 0.1
			}
			doc := canonical.Document{
				DocType:   canonical.DocTypeBankTx,
				Country:   country,
				Currency:  firstNonEmptyString(currency, countryCurrency[country]),
				IssueDate: date,
				Source:    canonical.Source{Format: string(FormatMT940), Filename: in.Filename, Ref: firstNonEmptyString(in.Ref, "line:"+itoa(f.line))},
				BankTx:    tx,
			}
			doc.Confidence = roundScore(conf)
			doc.RoutingProposal = proposeRouting(&doc)
			res.Documents = append(res.Documents, doc)
			res.ParserConfidence += doc.Confidence
		}
	}

	if len(res.Documents) == 0 {
		if firstErr == nil {
			firstErr = newParseError(FormatMT940, ErrCodeNoDocuments, "no :61: statement lines found")
		}
		return failed(firstErr)
	}
	res.ParserConfidence = roundScore(res.ParserConfidence / float64(lines))
	res.Routing = res.Documents[0].RoutingProposal
	return res
}

func mt940Narrative(s string) string {
	s = reMT940SubTag.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}
