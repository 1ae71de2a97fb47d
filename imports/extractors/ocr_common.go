package extractors

import (
	"regexp"
	"strings"

	"github.com/mmdatafocus/books_imports/utils"
	"github.com/shopspring/decimal"
)

var (
	reTaxID  = regexp.MustCompile(`(?i)\b(NIF|CIF|NIE|RFC|RUC|NIT|VAT ID|VAT|TAX ID)\b\s*[.:#-]?\s*([A-Z0-9][A-Z0-9.\-]{6,19})`)
	rePhone  = regexp.MustCompile(`(?i)(?:tel[a-zé]*|tlf|phone|m[oó]vil|cel)[.:\s]*(\+?\d[\d\s\-().]{6,}\d)`)
	reAmount = regexp.MustCompile(`\(?-?\d[\d.,]*\)?-?`)
	reLabel  = regexp.MustCompile(`^([A-Za-zÀ-ÿ][A-Za-zÀ-ÿ .º°/]{1,30}):\s*(\S.*)$`)
)

// cleanTaxID strips the separators OCR and humans sprinkle into tax ids.
func cleanTaxID(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "", ".", "").Replace(s)
	return strings.TrimRight(s, "-")
}

func findTaxIDs(text string) []string {
	var out []string
	for _, m := range reTaxID.FindAllStringSubmatch(text, -1) {
		if id := cleanTaxID(m[2]); strings.ContainsAny(id, "0123456789") {
			out = append(out, id)
		}
	}
	return out
}

func findPhone(text, country string) string {
	m := rePhone.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	raw := strings.TrimSpace(m[1])
	if country == "" {
		return raw
	}
	e164, err := utils.NormalizePhoneNumber(raw, strings.ToUpper(country))
	if err != nil {
		return raw
	}
	return e164
}

// lastAmount returns the right-most number on a line.
func lastAmount(line string) (decimal.Decimal, bool) {
	matches := reAmount.FindAllString(line, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		tok := matches[i]
		if strings.HasSuffix(strings.TrimSpace(line[strings.LastIndex(line, tok)+len(tok):]), "%") {
			continue
		}
		if d, ok := ParseNumber(tok); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// isNumericToken reports whether a whitespace-separated token is a number,
// optionally followed by a currency symbol.
func isNumericToken(tok string) (decimal.Decimal, bool) {
	tok = strings.TrimRight(tok, "€$")
	if tok == "" {
		return decimal.Zero, false
	}
	for _, r := range tok {
		if !(r >= '0' && r <= '9') && r != '.' && r != ',' && r != '-' && r != '(' && r != ')' {
			return decimal.Zero, false
		}
	}
	return ParseNumber(tok)
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

var summaryWords = []string{"total", "subtotal", "base imponible", "iva", "impuesto", "tax", "igv", "cambio", "efectivo", "tarjeta", "descuento"}

var headerWords = []string{
	"factura", "invoice", "fecha", "date", "nif", "cif", "rfc", "ruc", "nit", "vat",
	"tel", "telf", "telefono", "phone", "cliente", "client", "ticket", "recibo", "folio", "www", "direccion", "address",
}

// firstNameLine picks the first line that reads like a business name.
func firstNameLine(lines []string) string {
	for _, l := range lines {
		low := normalizeLabel(l)
		if !hasLetter(l) || containsWordIn(low, headerWords) || containsWordIn(low, summaryWords) {
			continue
		}
		return strings.TrimSpace(l)
	}
	return ""
}

// labeledLines returns "Label: value" pairs found in the text.
func labeledLines(lines []string) map[string]string {
	out := map[string]string{}
	for _, l := range lines {
		if m := reLabel.FindStringSubmatch(l); m != nil {
			out[normalizeLabel(m[1])] = strings.TrimSpace(m[2])
		}
	}
	return out
}
