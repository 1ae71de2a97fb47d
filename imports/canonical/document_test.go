package canonical

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeTotalsTaxPolicy(t *testing.T) {
	sub := dec("100.00")
	tot := ComputeTotals(&sub, dec("121.00"))
	assert.True(t, tot.Tax.Equal(dec("21.00")))
	assert.True(t, tot.Consistent(defaultTotalsEpsilon))

	// subtotal above total never yields negative tax
	sub = dec("130.00")
	tot = ComputeTotals(&sub, dec("121.00"))
	assert.True(t, tot.Tax.IsZero())

	tot = ComputeTotals(nil, dec("50.00"))
	assert.True(t, tot.Subtotal.Equal(dec("50.00")))
	assert.True(t, tot.Tax.IsZero())
}

func TestValidateRejectsMismatchedPayload(t *testing.T) {
	d := Document{DocType: DocTypeInvoice, BankTx: &BankTx{Amount: dec("1"), Direction: DirectionCredit}}
	assert.ErrorIs(t, d.Validate(), ErrPayloadMismatch)

	d = Document{DocType: DocTypeBankTx}
	assert.ErrorIs(t, d.Validate(), ErrPayloadMismatch)

	d = Document{DocType: "receipt"}
	assert.ErrorIs(t, d.Validate(), ErrUnknownDocType)
}

func TestValidateTotalsTolerance(t *testing.T) {
	d := Document{DocType: DocTypeInvoice, Invoice: &Invoice{
		Kind:   InvoiceKindPurchase,
		Totals: Totals{Subtotal: dec("100.00"), Tax: dec("21.00"), Total: dec("121.01")},
	}}
	require.NoError(t, d.Validate())

	d.Invoice.Totals.Total = dec("121.02")
	assert.ErrorIs(t, d.Validate(), ErrTotalsMismatch)
}

func TestValidateBankTxDirection(t *testing.T) {
	d := Document{DocType: DocTypeBankTx, BankTx: &BankTx{Amount: dec("10")}}
	assert.ErrorIs(t, d.Validate(), ErrMissingDirection)

	d.BankTx.Direction = DirectionDebit
	require.NoError(t, d.Validate())
}

func TestDocumentJSONWireFormat(t *testing.T) {
	date, ok := ParseDate("15/01/2025")
	require.True(t, ok)
	d := Document{
		DocType:   DocTypeBankTx,
		Country:   "ES",
		Currency:  "EUR",
		IssueDate: date,
		Source:    Source{Format: "csv_bank", Ref: "row:2"},
		BankTx:    &BankTx{Amount: dec("1500.00"), Direction: DirectionCredit, ExternalRef: "TRX123"},
	}
	b, err := json.Marshal(d)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "bank_tx", m["doc_type"])
	assert.Equal(t, "2025-01-15", m["issue_date"])
	assert.NotContains(t, m, "invoice")
	tx := m["bank_tx"].(map[string]any)
	assert.Equal(t, "credit", tx["direction"])
	assert.Equal(t, "1500", tx["amount"])
}

func TestParseDateLayouts(t *testing.T) {
	cases := map[string]string{
		"2025-01-15": "2025-01-15",
		"15/01/2025": "2025-01-15",
		"15.01.2025": "2025-01-15",
		"20250115":   "2025-01-15",
		"15-01-25":   "2025-01-15",
	}
	for in, want := range cases {
		d, ok := ParseDate(in)
		if !ok {
			t.Fatalf("ParseDate(%q) failed", in)
		}
		assert.Equal(t, want, d.String(), in)
	}
	_, ok := ParseDate("not a date")
	assert.False(t, ok)
}

func TestIdentifyingFieldsPerType(t *testing.T) {
	inv := Document{DocType: DocTypeInvoice, Invoice: &Invoice{
		Number: "F-1", Vendor: Party{Name: "ACME", TaxID: "B12345678"}, Totals: Totals{Total: dec("10")},
	}}
	f := inv.IdentifyingFields()
	assert.Equal(t, "B12345678", f["vendor"])
	assert.Equal(t, "F-1", f["number"])
	assert.Equal(t, "purchase_invoice", inv.EntityType())

	p := Document{DocType: DocTypeProduct, Product: &Product{SKU: "SKU-1", Name: "Cafe"}}
	assert.Equal(t, map[string]string{"sku": "SKU-1"}, p.IdentifyingFields())
}
