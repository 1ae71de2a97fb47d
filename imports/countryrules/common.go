package countryrules

import (
	"regexp"
	"strings"
	"time"

	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/shopspring/decimal"
)

var earliestFiscalDate = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// base carries what every built-in rule set shares.
type base struct {
	country string
	taxType string
	rates   map[canonical.DocType]decimal.Decimal
	now     func() time.Time
}

func (b base) Country() string { return b.country }
func (b base) TaxType() string { return b.taxType }

func (b base) TaxRate(dt canonical.DocType) (decimal.Decimal, bool) {
	r, ok := b.rates[dt]
	return r, ok
}

// ValidateFiscalDate rejects dates in the future (one day of grace for time
// zones) and dates before 2000.
func (b base) ValidateFiscalDate(d canonical.Date) (bool, string) {
	if d.IsZero() {
		return false, "fiscal date is required"
	}
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	if d.After(now().AddDate(0, 0, 1)) {
		return false, "fiscal date " + d.String() + " is in the future"
	}
	if d.Before(earliestFiscalDate) {
		return false, "fiscal date " + d.String() + " is too old"
	}
	return true, ""
}

func compactID(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	return strings.NewReplacer(" ", "", "-", "", ".", "", "/", "").Replace(v)
}

func matchNumber(re *regexp.Regexp, value, example string) (bool, string) {
	v := strings.ToUpper(strings.TrimSpace(value))
	if v == "" {
		return false, "invoice number is required"
	}
	if !re.MatchString(v) {
		return false, "invoice number " + value + " does not match the expected format (e.g. " + example + ")"
	}
	return true, ""
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func rate(s string) decimal.Decimal { return decimal.RequireFromString(s) }
