package countryrules

import (
	"testing"
	"time"

	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTaxIDs(t *testing.T) {
	cases := []struct {
		rs    RuleSet
		value string
		ok    bool
	}{
		{NewSpain(fixedNow), "12345678Z", true},
		{NewSpain(fixedNow), "ES 12345678-Z", true},
		{NewSpain(fixedNow), "12345678A", false},
		{NewSpain(fixedNow), "X1234567L", true},
		{NewSpain(fixedNow), "X1234567T", false},
		{NewSpain(fixedNow), "B12345674", true},
		{NewSpain(fixedNow), "B1234567D", true},
		{NewSpain(fixedNow), "B12345675", false},
		{NewSpain(fixedNow), "HELLO", false},
		{NewMexico(fixedNow), "XAXX010101000", true},
		{NewMexico(fixedNow), "ABC680524P76", true},
		{NewMexico(fixedNow), "ABC681324P76", false},
		{NewMexico(fixedNow), "AB680524P76", false},
		{NewEcuador(fixedNow), "1710034065", true},
		{NewEcuador(fixedNow), "1710034065001", true},
		{NewEcuador(fixedNow), "1710034066", false},
		{NewEcuador(fixedNow), "1710034065000", false},
		{NewEcuador(fixedNow), "9910034065", false},
		{NewEcuador(fixedNow), "1790011674001", true},
		{NewColombia(fixedNow), "900373115-3", true},
		{NewColombia(fixedNow), "900373115-4", false},
		{NewColombia(fixedNow), "800.197.268-4", true},
		{NewColombia(fixedNow), "900373115", true},
		{NewColombia(fixedNow), "90A", false},
	}
	for _, c := range cases {
		ok, msg := c.rs.ValidateTaxID(c.value)
		assert.Equal(t, c.ok, ok, "%s %q: %s", c.rs.Country(), c.value, msg)
		if !ok {
			assert.NotEmpty(t, msg)
		}
	}
}

func TestInvoiceNumbers(t *testing.T) {
	cases := []struct {
		rs    RuleSet
		value string
		ok    bool
	}{
		{NewSpain(fixedNow), "2024/A-0001", true},
		{NewSpain(fixedNow), "", false},
		{NewSpain(fixedNow), "#12", false},
		{NewMexico(fixedNow), "A-1234", true},
		{NewMexico(fixedNow), "6f9a1c2e-0b1d-4c3e-9f8a-1b2c3d4e5f60", true},
		{NewEcuador(fixedNow), "001-001-000000123", true},
		{NewEcuador(fixedNow), "001001000000123", true},
		{NewEcuador(fixedNow), "1-1-123", false},
		{NewColombia(fixedNow), "SETP-990000123", true},
		{NewColombia(fixedNow), "FE 12", false},
	}
	for _, c := range cases {
		ok, _ := c.rs.ValidateInvoiceNumber(c.value)
		assert.Equal(t, c.ok, ok, "%s %q", c.rs.Country(), c.value)
	}
}

func TestFiscalDate(t *testing.T) {
	es := NewSpain(fixedNow)
	ok, _ := es.ValidateFiscalDate(*canonical.NewDate(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, ok)
	ok, _ = es.ValidateFiscalDate(*canonical.NewDate(time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC)))
	assert.False(t, ok)
	ok, _ = es.ValidateFiscalDate(*canonical.NewDate(time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC)))
	assert.False(t, ok)
}

func spanishInvoice(tax string) *canonical.Document {
	sub := dec("100")
	return &canonical.Document{
		DocType:   canonical.DocTypeInvoice,
		Country:   "es",
		Currency:  "EUR",
		IssueDate: canonical.NewDate(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)),
		Invoice: &canonical.Invoice{
			Kind:   canonical.InvoiceKindPurchase,
			Number: "F-2025-001",
			Vendor: canonical.Party{Name: "Suministros SL", TaxID: "B12345674"},
			Totals: canonical.Totals{Subtotal: sub, Tax: dec(tax), Total: sub.Add(dec(tax))},
		},
	}
}

func newTestRegistry() *Registry {
	r := NewRegistry(0)
	r.Register(NewSpain(fixedNow))
	r.Register(NewMexico(fixedNow))
	return r
}

func TestValidateDocumentClean(t *testing.T) {
	errs := newTestRegistry().ValidateDocument(spanishInvoice("21"))
	assert.Empty(t, errs)
}

func TestValidateDocumentTaxTolerance(t *testing.T) {
	r := newTestRegistry()
	assert.Empty(t, r.ValidateDocument(spanishInvoice("20")))
	assert.Contains(t, r.ValidateDocument(spanishInvoice("19.9")), FieldTax)
	assert.Contains(t, r.ValidateDocument(spanishInvoice("10")), FieldTax)

	loose := NewRegistry(0.6)
	loose.Register(NewSpain(fixedNow))
	assert.Empty(t, loose.ValidateDocument(spanishInvoice("10")))
}

func TestValidateDocumentCollectsFieldErrors(t *testing.T) {
	doc := spanishInvoice("21")
	doc.Invoice.Number = ""
	doc.Invoice.Vendor.TaxID = "12345678A"
	doc.Invoice.Buyer = &canonical.Party{Name: "Cliente", TaxID: "X1234567T"}
	doc.IssueDate = canonical.NewDate(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	errs := newTestRegistry().ValidateDocument(doc)
	require.Len(t, errs, 4)
	for _, f := range []string{FieldInvoiceNumber, FieldVendorTaxID, FieldBuyerTaxID, FieldIssueDate} {
		assert.NotEmpty(t, errs[f], f)
	}
}

func TestValidateDocumentPermissiveDefaults(t *testing.T) {
	r := newTestRegistry()

	unknown := spanishInvoice("3")
	unknown.Country = "FR"
	assert.Empty(t, r.ValidateDocument(unknown))

	noBreakdown := spanishInvoice("0")
	assert.Empty(t, r.ValidateDocument(noBreakdown))

	bank := &canonical.Document{
		DocType: canonical.DocTypeBankTx,
		Country: "ES",
		BankTx:  &canonical.BankTx{Amount: dec("10"), Direction: canonical.DirectionDebit},
	}
	assert.Empty(t, r.ValidateDocument(bank))
	assert.Empty(t, r.ValidateDocument(nil))
}

func TestRegistryRegisterOverrides(t *testing.T) {
	r := Default(0)
	assert.ElementsMatch(t, []string{"ES", "MX", "EC", "CO"}, r.Countries())

	rs, ok := r.Get(" mx ")
	require.True(t, ok)
	assert.Equal(t, "IVA", rs.TaxType())
	rate, ok := rs.TaxRate(canonical.DocTypeInvoice)
	require.True(t, ok)
	assert.True(t, rate.Equal(dec("0.16")))
	_, ok = rs.TaxRate(canonical.DocTypeBankTx)
	assert.False(t, ok)

	r.Register(NewSpain(fixedNow))
	rs, _ = r.Get("ES")
	ok, _ = rs.ValidateFiscalDate(*canonical.NewDate(time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC)))
	assert.False(t, ok)
}
