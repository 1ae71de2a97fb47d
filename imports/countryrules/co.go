package countryrules

import (
	"regexp"
	"strings"
	"time"

	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/shopspring/decimal"
)

var (
	reNIT       = regexp.MustCompile(`^(\d{5,15})(?:-(\d))?$`)
	reCOInvoice = regexp.MustCompile(`^[A-Z]{0,4}-?\d{1,10}$`)
	nitWeights  = []int{3, 7, 13, 17, 19, 23, 29, 37, 41, 43, 47, 53, 59, 67, 71}
)

type colombia struct{ base }

func NewColombia(now func() time.Time) RuleSet {
	return colombia{base{
		country: "CO",
		taxType: "IVA",
		rates: map[canonical.DocType]decimal.Decimal{
			canonical.DocTypeInvoice: rate("0.19"),
		},
		now: now,
	}}
}

// ValidateTaxID checks a NIT. The check digit is verified when it is given
// after a dash.
func (colombia) ValidateTaxID(value string) (bool, string) {
	v := strings.NewReplacer(" ", "", ".", "", ",", "").Replace(strings.TrimSpace(value))
	m := reNIT.FindStringSubmatch(v)
	if m == nil {
		return false, "NIT " + value + " has an invalid format"
	}
	if m[2] != "" && nitCheckDigit(m[1]) != int(m[2][0]-'0') {
		return false, "NIT " + value + " has an invalid check digit"
	}
	return true, ""
}

func (colombia) ValidateInvoiceNumber(value string) (bool, string) {
	return matchNumber(reCOInvoice, value, "SETP-990000123")
}

func nitCheckDigit(nit string) int {
	sum := 0
	for i := 0; i < len(nit); i++ {
		d := int(nit[len(nit)-1-i] - '0')
		sum += d * nitWeights[i]
	}
	r := sum % 11
	if r > 1 {
		return 11 - r
	}
	return r
}
