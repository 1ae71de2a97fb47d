package countryrules

import (
	"regexp"
	"strings"
	"time"

	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/shopspring/decimal"
)

var reECInvoice = regexp.MustCompile(`^\d{3}-\d{3}-\d{9}$`)

type ecuador struct{ base }

func NewEcuador(now func() time.Time) RuleSet {
	return ecuador{base{
		country: "EC",
		taxType: "IVA",
		rates: map[canonical.DocType]decimal.Decimal{
			canonical.DocTypeInvoice: rate("0.15"),
		},
		now: now,
	}}
}

// ValidateTaxID accepts a 10 digit cédula or a 13 digit RUC. Natural-person
// identifiers are checked with the modulo 10 algorithm.
func (ecuador) ValidateTaxID(value string) (bool, string) {
	v := compactID(value)
	if !digitsOnly(v) || (len(v) != 10 && len(v) != 13) {
		return false, "RUC " + value + " must have 10 or 13 digits"
	}
	province := int(v[0]-'0')*10 + int(v[1]-'0')
	if (province < 1 || province > 24) && province != 30 {
		return false, "RUC " + value + " has an invalid province code"
	}
	if len(v) == 13 && v[10:] == "000" {
		return false, "RUC " + value + " has an invalid establishment code"
	}
	if v[2] < '6' && !validCedula(v[:10]) {
		return false, "RUC " + value + " has an invalid check digit"
	}
	return true, ""
}

// ValidateInvoiceNumber expects establishment-emission point-sequence, with
// the dashes optional.
func (ecuador) ValidateInvoiceNumber(value string) (bool, string) {
	v := strings.TrimSpace(value)
	if digitsOnly(v) && len(v) == 15 {
		v = v[:3] + "-" + v[3:6] + "-" + v[6:]
	}
	return matchNumber(reECInvoice, v, "001-001-000000123")
}

func validCedula(v string) bool {
	sum := 0
	for i := 0; i < 9; i++ {
		d := int(v[i] - '0')
		if i%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return (10-sum%10)%10 == int(v[9]-'0')
}
