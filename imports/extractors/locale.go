package extractors

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/books_imports/imports/canonical"
)

var countryCurrency = map[string]string{
	"ES": "EUR",
	"MX": "MXN",
	"EC": "USD",
	"CO": "COP",
	"US": "USD",
	"PE": "PEN",
	"AR": "ARS",
	"CL": "CLP",
}

var reCurrencyCode = regexp.MustCompile(`\b(EUR|USD|MXN|COP|PEN|ARS|CLP|GBP)\b`)

// detectCurrency looks for an explicit ISO code or symbol, then falls back to
// the caller's hint and finally the country's currency.
func detectCurrency(text, hint, country string) string {
	if m := reCurrencyCode.FindStringSubmatch(strings.ToUpper(text)); m != nil {
		return m[1]
	}
	if strings.Contains(text, "€") {
		return "EUR"
	}
	if strings.Contains(text, "£") {
		return "GBP"
	}
	if hint != "" {
		return strings.ToUpper(hint)
	}
	return countryCurrency[strings.ToUpper(country)]
}

var reLooseDate = regexp.MustCompile(`\b(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})\b|\b(\d{1,2})[-/.](\d{1,2})[-/.](\d{2,4})\b`)

// findDate returns the first plausible calendar date in s. Day-first order is
// assumed for d/m/y spellings.
func findDate(s string) (*canonical.Date, string) {
	for _, m := range reLooseDate.FindAllStringSubmatch(s, -1) {
		var y, mo, d int
		if m[1] != "" {
			y, _ = strconv.Atoi(m[1])
			mo, _ = strconv.Atoi(m[2])
			d, _ = strconv.Atoi(m[3])
		} else {
			d, _ = strconv.Atoi(m[4])
			mo, _ = strconv.Atoi(m[5])
			y, _ = strconv.Atoi(m[6])
			if len(m[6]) == 2 {
				y += 2000
			}
		}
		if date, ok := buildDate(y, mo, d); ok {
			return date, m[0]
		}
	}
	return nil, ""
}

func buildDate(y, mo, d int) (*canonical.Date, bool) {
	if y < 1900 || mo < 1 || mo > 12 || d < 1 || d > 31 {
		return nil, false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d {
		return nil, false
	}
	return canonical.NewDate(t), true
}

// parseDateCell accepts a spreadsheet date: text in any supported spelling or
// an Excel serial day number.
func parseDateCell(v any) (*canonical.Date, bool) {
	if f, ok := v.(float64); ok {
		return excelSerialDate(f)
	}
	s := cellString(v)
	if d, ok := canonical.ParseDate(s); ok {
		return d, true
	}
	if d, _ := findDate(s); d != nil {
		return d, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 20000 && f < 80000 {
		return excelSerialDate(f)
	}
	return nil, false
}

func excelSerialDate(f float64) (*canonical.Date, bool) {
	if f < 1 {
		return nil, false
	}
	base := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
	return canonical.NewDate(base.AddDate(0, 0, int(f))), true
}
