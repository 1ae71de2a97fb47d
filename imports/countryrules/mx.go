package countryrules

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/shopspring/decimal"
)

var (
	reRFC       = regexp.MustCompile(`^([A-ZÑ&]{3,4})(\d{6})([A-Z0-9]{3})$`)
	reCFDIUUID  = regexp.MustCompile(`^[0-9A-F]{8}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{12}$`)
	reMXInvoice = regexp.MustCompile(`^[A-Z0-9\-]{1,40}$`)
)

type mexico struct{ base }

func NewMexico(now func() time.Time) RuleSet {
	return mexico{base{
		country: "MX",
		taxType: "IVA",
		rates: map[canonical.DocType]decimal.Decimal{
			canonical.DocTypeInvoice: rate("0.16"),
		},
		now: now,
	}}
}

// ValidateTaxID checks the RFC shape (12 chars for companies, 13 for
// individuals) and that its embedded date is real.
func (mexico) ValidateTaxID(value string) (bool, string) {
	v := strings.ToUpper(strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(value)))
	m := reRFC.FindStringSubmatch(v)
	if m == nil {
		return false, "RFC " + value + " has an invalid format"
	}
	mm, _ := strconv.Atoi(m[2][2:4])
	dd, _ := strconv.Atoi(m[2][4:6])
	if mm < 1 || mm > 12 || dd < 1 || dd > 31 {
		return false, "RFC " + value + " has an invalid date"
	}
	return true, ""
}

// ValidateInvoiceNumber accepts a CFDI folio fiscal (UUID) or a serie-folio.
func (mexico) ValidateInvoiceNumber(value string) (bool, string) {
	if reCFDIUUID.MatchString(strings.ToUpper(strings.TrimSpace(value))) {
		return true, ""
	}
	return matchNumber(reMXInvoice, value, "A-1234")
}
