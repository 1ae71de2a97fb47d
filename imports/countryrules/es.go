package countryrules

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/shopspring/decimal"
)

const nifLetters = "TRWAGMYFPDXBNJZSQVHLCKE"

var (
	reNIF       = regexp.MustCompile(`^\d{8}[A-Z]$`)
	reNIE       = regexp.MustCompile(`^[XYZ]\d{7}[A-Z]$`)
	reCIF       = regexp.MustCompile(`^[ABCDEFGHJNPQRSUVW]\d{7}[0-9A-J]$`)
	reESInvoice = regexp.MustCompile(`^[A-Z0-9][A-Z0-9/.\-]{0,29}$`)
)

type spain struct{ base }

func NewSpain(now func() time.Time) RuleSet {
	return spain{base{
		country: "ES",
		taxType: "IVA",
		rates: map[canonical.DocType]decimal.Decimal{
			canonical.DocTypeInvoice: rate("0.21"),
		},
		now: now,
	}}
}

// ValidateTaxID accepts NIF, NIE and CIF, with or without the ES prefix.
func (spain) ValidateTaxID(value string) (bool, string) {
	v := strings.TrimPrefix(compactID(value), "ES")
	switch {
	case reNIF.MatchString(v):
		n, _ := strconv.Atoi(v[:8])
		if nifLetters[n%23] != v[8] {
			return false, "NIF " + value + " has an invalid check letter"
		}
		return true, ""
	case reNIE.MatchString(v):
		prefix := strings.IndexByte("XYZ", v[0])
		n, _ := strconv.Atoi(strconv.Itoa(prefix) + v[1:8])
		if nifLetters[n%23] != v[8] {
			return false, "NIE " + value + " has an invalid check letter"
		}
		return true, ""
	case reCIF.MatchString(v):
		if !validCIF(v) {
			return false, "CIF " + value + " has an invalid control character"
		}
		return true, ""
	}
	return false, "tax id " + value + " is not a valid NIF, NIE or CIF"
}

func (spain) ValidateInvoiceNumber(value string) (bool, string) {
	return matchNumber(reESInvoice, value, "2024/A-0001")
}

func validCIF(v string) bool {
	sum := 0
	for i, r := range v[1:8] {
		d := int(r - '0')
		if i%2 == 0 {
			d *= 2
			d = d/10 + d%10
		}
		sum += d
	}
	control := (10 - sum%10) % 10
	last := v[8]
	if last >= '0' && last <= '9' {
		return int(last-'0') == control
	}
	return "JABCDEFGHI"[control] == last
}
