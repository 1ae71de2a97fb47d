package extractors

import (
	"testing"

	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCSVBankHeaderlessRow(t *testing.T) {
	res := DefaultRegistry().Extract(FormatCSVBank, Input{
		Data:    []byte("2025-01-15,Transferencia recibida,TRX123,,1500.00,5500.00\n"),
		Country: "ES",
	})
	require.True(t, res.OK(), "%+v", res.Err)
	require.Len(t, res.Documents, 1)

	doc := res.Documents[0]
	require.NoError(t, doc.Validate())
	tx := doc.BankTx
	assert.Equal(t, canonical.DirectionCredit, tx.Direction)
	assert.True(t, tx.Amount.Equal(d("1500.00")))
	assert.Equal(t, "TRX123", tx.ExternalRef)
	assert.Equal(t, "Transferencia recibida", tx.Narrative)
	assert.Equal(t, "2025-01-15", tx.ValueDate.String())
	require.NotNil(t, tx.Balance)
	assert.True(t, tx.Balance.Equal(d("5500.00")))
	assert.Equal(t, "EUR", doc.Currency)
}

func TestCSVBankWithHeaderThroughSplit(t *testing.T) {
	file := []byte("Extracto cuenta 1234\n" +
		"Fecha,Concepto,Referencia,Cargo,Abono,Saldo\n" +
		"2025-01-15,Transferencia recibida,TRX123,,1500.00,5500.00\n" +
		",,,,,\n" +
		"16/01/2025,Comision mantenimiento,,12.50,,5487.50\n")

	items, perr := Split(FormatCSVBank, file)
	require.Nil(t, perr)
	require.Len(t, items, 2)
	assert.NotEqual(t, items[0].IdempotencyKey, items[1].IdempotencyKey)

	reg := DefaultRegistry()
	var docs []canonical.Document
	for _, it := range items {
		row, err := DecodeRow(it.Payload)
		require.NoError(t, err)
		res := reg.Extract(FormatCSVBank, Input{Row: row.Values, Headers: row.Headers, Country: "ES", Ref: it.Ref})
		require.True(t, res.OK(), "%+v", res.Err)
		assert.Equal(t, "Fecha", res.MappedFields["date"])
		docs = append(docs, res.Documents...)
	}
	assert.Equal(t, canonical.DirectionCredit, docs[0].BankTx.Direction)
	assert.Equal(t, "TRX123", docs[0].BankTx.ExternalRef)
	assert.Equal(t, canonical.DirectionDebit, docs[1].BankTx.Direction)
	assert.True(t, docs[1].BankTx.Amount.Equal(d("12.50")))
	assert.Equal(t, "bank_fees", docs[1].RoutingProposal.Category)
}

func TestCSVBankSignedAmountSemicolon(t *testing.T) {
	file := []byte("Fecha;Concepto;Importe;Saldo\n15/01/2025;Recibo luz Endesa;-45,30;1.200,00\n")
	res := DefaultRegistry().Extract(FormatCSVBank, Input{Data: file, Country: "ES"})
	require.True(t, res.OK(), "%+v", res.Err)
	tx := res.Documents[0].BankTx
	assert.Equal(t, canonical.DirectionDebit, tx.Direction)
	assert.True(t, tx.Amount.Equal(d("45.30")))
	assert.True(t, tx.Balance.Equal(d("1200")))
	assert.Equal(t, "utilities", res.Routing.Category)
}

func TestCSVBankRejectsZeroAmountRow(t *testing.T) {
	res := DefaultRegistry().Extract(FormatCSVBank, Input{
		Row:     map[string]any{"Fecha": "2025-01-15", "Concepto": "nada", "Importe": "0,00"},
		Headers: []string{"Fecha", "Concepto", "Importe"},
	})
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrCodeInvalidRow, res.Err.Code)
	assert.Equal(t, FormatCSVBank, res.Err.Format)
}

const mt940Sample = `:20:STARTUMSE
:25:ES7620770024003102575766
:28C:00001/001
:60F:C250114EUR5000,00
:61:2501150115C1500,00NTRFTRX123//BANKREF1
:86:Transferencia recibida
 cliente ACME
:61:2501160116D25,50NCHGNONREF//BANKREF2
:86:Comision mantenimiento
:62F:C250116EUR6474,50
-`

func TestMT940(t *testing.T) {
	res := DefaultRegistry().Extract(FormatMT940, Input{Text: mt940Sample, Country: "ES"})
	require.True(t, res.OK(), "%+v", res.Err)
	require.Len(t, res.Documents, 2)

	first := res.Documents[0]
	assert.Equal(t, "EUR", first.Currency)
	assert.Equal(t, canonical.DirectionCredit, first.BankTx.Direction)
	assert.True(t, first.BankTx.Amount.Equal(d("1500")))
	assert.Equal(t, "TRX123", first.BankTx.ExternalRef)
	assert.Equal(t, "Transferencia recibida cliente ACME", first.BankTx.Narrative)
	assert.Equal(t, "2025-01-15", first.BankTx.ValueDate.String())
	assert.Equal(t, "ES7620770024003102575766", first.BankTx.AccountRef)

	second := res.Documents[1]
	assert.Equal(t, canonical.DirectionDebit, second.BankTx.Direction)
	assert.True(t, second.BankTx.Amount.Equal(d("25.50")))
	assert.Equal(t, "BANKREF2", second.BankTx.ExternalRef)
	assert.Equal(t, 1.0, res.ParserConfidence)
}

func TestMT940SplitKeepsCurrency(t *testing.T) {
	items, perr := Split(FormatMT940, []byte(mt940Sample))
	require.Nil(t, perr)
	require.Len(t, items, 2)
	res := DefaultRegistry().Extract(FormatMT940, Input{Text: string(items[1].Payload)})
	require.True(t, res.OK())
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "EUR", res.Documents[0].Currency)
	assert.Equal(t, "Comision mantenimiento", res.Documents[0].BankTx.Narrative)
}

const camtSample = `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
 <BkToCstmrStmt><Stmt>
  <Acct><Id><IBAN>ES9121000418450200051332</IBAN></Id></Acct>
  <Ntry>
   <Amt Ccy="EUR">250.00</Amt>
   <CdtDbtInd>CRDT</CdtDbtInd>
   <BookgDt><Dt>2025-02-01</Dt></BookgDt>
   <ValDt><Dt>2025-02-02</Dt></ValDt>
   <NtryDtls><TxDtls>
    <Refs><EndToEndId>E2E-001</EndToEndId></Refs>
    <RmtInf><Ustrd>Pago factura F-77</Ustrd></RmtInf>
   </TxDtls></NtryDtls>
  </Ntry>
  <Ntry>
   <Amt Ccy="EUR">80.10</Amt>
   <CdtDbtInd>DBIT</CdtDbtInd>
   <BookgDt><DtTm>2025-02-03T10:00:00</DtTm></BookgDt>
   <AcctSvcrRef>SVC-9</AcctSvcrRef>
   <AddtlNtryInf>Recibo alquiler febrero</AddtlNtryInf>
  </Ntry>
 </Stmt></BkToCstmrStmt>
</Document>`

func TestCAMT053(t *testing.T) {
	res := DefaultRegistry().Extract(FormatCAMT053, Input{Text: camtSample, Country: "ES"})
	require.True(t, res.OK(), "%+v", res.Err)
	require.Len(t, res.Documents, 2)

	in := res.Documents[0].BankTx
	assert.Equal(t, canonical.DirectionCredit, in.Direction)
	assert.True(t, in.Amount.Equal(d("250")))
	assert.Equal(t, "E2E-001", in.ExternalRef)
	assert.Equal(t, "Pago factura F-77", in.Narrative)
	assert.Equal(t, "2025-02-02", in.ValueDate.String())
	assert.Equal(t, "ES9121000418450200051332", in.AccountRef)

	out := res.Documents[1].BankTx
	assert.Equal(t, canonical.DirectionDebit, out.Direction)
	assert.Equal(t, "SVC-9", out.ExternalRef)
	assert.Equal(t, "2025-02-03", out.ValueDate.String())
	assert.Equal(t, "rent", res.Documents[1].RoutingProposal.Category)

	items, perr := Split(FormatCAMT053, []byte(camtSample))
	require.Nil(t, perr)
	require.Len(t, items, 2)
	one := DefaultRegistry().Extract(FormatCAMT053, Input{Data: items[1].Payload})
	require.True(t, one.OK())
	assert.Equal(t, "ES9121000418450200051332", one.Documents[0].BankTx.AccountRef)
}

const invoiceText = `ACME Suministros S.L.
NIF: B12345678
Tel: 912 345 678
Factura Nº: F-2025-001
Fecha: 15/01/2025
Cliente: Bar Pepe
2 Tornillos acero 10,00 20,00
A-77 1 Taladro 80,00 80,00
Base imponible: 100,00
IVA 21%: 21,00
Total: 121,00 €`

func TestOCRInvoice(t *testing.T) {
	res := DefaultRegistry().Extract(FormatOCRInvoice, Input{Text: invoiceText, Country: "ES"})
	require.True(t, res.OK(), "%+v", res.Err)
	doc := res.Documents[0]
	require.NoError(t, doc.Validate())

	inv := doc.Invoice
	assert.Equal(t, "ACME Suministros S.L.", inv.Vendor.Name)
	assert.Equal(t, "B12345678", inv.Vendor.TaxID)
	assert.Equal(t, "+34912345678", inv.Vendor.Phone)
	assert.Equal(t, "F-2025-001", inv.Number)
	assert.Equal(t, "2025-01-15", doc.IssueDate.String())
	require.NotNil(t, inv.Buyer)
	assert.Equal(t, "Bar Pepe", inv.Buyer.Name)
	assert.True(t, inv.Totals.Subtotal.Equal(d("100")))
	assert.True(t, inv.Totals.Tax.Equal(d("21")))
	assert.True(t, inv.Totals.Total.Equal(d("121")))
	require.Len(t, inv.Lines, 2)
	assert.Equal(t, "Tornillos acero", inv.Lines[0].Description)
	assert.Equal(t, "Taladro", inv.Lines[1].Description)
	assert.Equal(t, "EUR", doc.Currency)
	assert.Equal(t, 1.0, res.ParserConfidence)
	assert.Empty(t, res.UnmappedFields)
}

func TestItemLineFamilies(t *testing.T) {
	l, ok := parseItemLine("3 Cajas de papel 4,50 13,50")
	require.True(t, ok)
	assert.Equal(t, "Cajas de papel", l.desc)
	assert.True(t, l.qty.Equal(d("3")))

	l, ok = parseItemLine("10 20 30 2 Widget 1.00 2.00")
	require.True(t, ok)
	assert.Equal(t, "Widget", l.desc)

	l, ok = parseItemLine("Servicio mensual 1 50,00 50,00")
	require.True(t, ok)
	assert.Equal(t, "Servicio mensual", l.desc)

	_, ok = parseItemLine("001 002 10,00 20,00")
	assert.False(t, ok, "description without letters")

	_, ok = parseItemLine("0 Regalo 0,00 0,00")
	assert.False(t, ok, "zero quantity and total")
}

func TestPOSTicketMissingTotalSumsLines(t *testing.T) {
	text := "CAFETERIA LUNA\nTicket: T-0042\n15/01/2025 10:32\n2 x Cafe con leche - 3,00\n1 x Croissant - 1,50\nEfectivo\n"
	res := DefaultRegistry().Extract(FormatPOSTicket, Input{Text: text, Country: "ES"})
	require.True(t, res.OK(), "%+v", res.Err)
	doc := res.Documents[0]
	require.NoError(t, doc.Validate())
	rec := doc.ExpenseReceipt
	assert.Equal(t, "CAFETERIA LUNA", rec.Merchant.Name)
	assert.Equal(t, "T-0042", rec.ReceiptNumber)
	require.Len(t, rec.Lines, 2)
	assert.True(t, rec.Totals.Total.Equal(d("4.50")))
	assert.True(t, rec.Totals.Subtotal.Equal(d("4.50")))
	assert.True(t, rec.Totals.Tax.IsZero())
	assert.Equal(t, "cash", rec.PaymentMethod)
	assert.Equal(t, "meals", res.Routing.Category)
	assert.Equal(t, "sum of lines", res.MappedFields["totals.total"])
}

func TestCSVInvoiceKinds(t *testing.T) {
	file := []byte("Numero,Fecha,Cliente,NIF,Base,IVA,Total,Tipo\n" +
		"V-1,15/01/2025,Bar Pepe,B87654321,100.00,21.00,121.00,Venta\n" +
		"C-9,16/01/2025,ACME,B12345678,50.00,10.50,60.50,Compra\n")
	res := DefaultRegistry().Extract(FormatCSVInvoice, Input{Data: file, Country: "ES"})
	require.True(t, res.OK(), "%+v", res.Err)
	require.Len(t, res.Documents, 2)

	sale := res.Documents[0].Invoice
	assert.Equal(t, canonical.InvoiceKindSales, sale.Kind)
	require.NotNil(t, sale.Buyer)
	assert.Equal(t, "B87654321", sale.Buyer.TaxID)
	assert.True(t, sale.Totals.Tax.Equal(d("21")))
	assert.Equal(t, "sales_invoice", res.Documents[0].EntityType())

	purchase := res.Documents[1].Invoice
	assert.Equal(t, canonical.InvoiceKindPurchase, purchase.Kind)
	assert.Equal(t, "ACME", purchase.Vendor.Name)
}

func TestCSVInvoiceWithoutHeaderFails(t *testing.T) {
	res := DefaultRegistry().Extract(FormatCSVInvoice, Input{Data: []byte("a,b,c\n1,2,3\n")})
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrCodeHeaderNotFound, res.Err.Code)
}

func productWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Código", "Nombre", "Código de barras", "Precio", "Costo", "IVA"},
		{"SKU-1", "Café molido 250g", "8410000000017", "4,95", "2,10", "10"},
		{},
		{"SKU-2", "Azúcar 1kg", "", "1,20", "", "0.04"},
		{"", "", "", "", "", ""},
		{"SKU-3", "Sin precio", "", "", "", ""},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestXLSXProduct(t *testing.T) {
	data := productWorkbook(t)
	res := DefaultRegistry().Extract(FormatXLSXProduct, Input{Data: data, Country: "ES"})
	require.True(t, res.OK(), "%+v", res.Err)
	require.Len(t, res.Documents, 2)

	p := res.Documents[0].Product
	assert.Equal(t, "SKU-1", p.SKU)
	assert.Equal(t, "Café molido 250g", p.Name)
	assert.Equal(t, "8410000000017", p.Barcode)
	assert.True(t, p.Price.Equal(d("4.95")))
	require.NotNil(t, p.TaxRate)
	assert.True(t, p.TaxRate.Equal(d("0.1")))
	assert.True(t, res.Documents[1].Product.TaxRate.Equal(d("0.04")))
	assert.Less(t, res.ParserConfidence, 1.0)

	items, perr := Split(FormatXLSXProduct, data)
	require.Nil(t, perr)
	assert.Len(t, items, 3)
}

func TestRegistryUnknownFormatAndEmptyInput(t *testing.T) {
	reg := DefaultRegistry()
	res := reg.Extract("pdf_magic", Input{Text: "x"})
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrCodeUnsupportedFormat, res.Err.Code)

	res = reg.Extract(FormatOCRInvoice, Input{})
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrCodeEmptyInput, res.Err.Code)

	assert.Len(t, reg.Formats(), len(AllFormats))
}

func TestRegistryRecoversFromPanics(t *testing.T) {
	reg := Registry{FormatCSVBank: extractorFunc{FormatCSVBank, func(Input) Result { panic("boom") }}}
	res := reg.Extract(FormatCSVBank, Input{Text: "x"})
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrCodePanic, res.Err.Code)
}

func TestClassify(t *testing.T) {
	dt, conf := Classify(FormatOCRInvoice, invoiceText)
	assert.Equal(t, canonical.DocTypeInvoice, dt)
	assert.Greater(t, conf, 0.7)

	dt, _ = Classify(FormatOCRInvoice, "BAR LUNA\nTicket 12\n1 x Cafe - 1,20\nGracias por su visita")
	assert.Equal(t, canonical.DocTypeExpenseReceipt, dt)
	assert.Equal(t, FormatPOSTicket, FormatFor(dt, FormatOCRInvoice))

	dt, conf = Classify(FormatMT940, "")
	assert.Equal(t, canonical.DocTypeBankTx, dt)
	assert.Equal(t, 1.0, conf)
}

func TestNormalizeText(t *testing.T) {
	in := "Total:\t\t1O5,00\r\n\r\n\r\n\r\n-----\nGracias   "
	assert.Equal(t, "Total: 105,00\n\nGracias", NormalizeText(in))
	assert.Equal(t, "Facturacion electronica", FoldAccents("Facturación electrónica"))
}

func TestMappingScore(t *testing.T) {
	res := DefaultRegistry().Extract(FormatCSVBank, Input{Data: []byte("2025-01-15,Transferencia recibida,TRX123,,1500.00,5500.00\n")})
	require.True(t, res.OK())
	assert.Equal(t, 1.0, res.MappingScore())

	res = DefaultRegistry().Extract(FormatCSVBank, Input{
		Row:     map[string]any{"Importe": "10", "Notas": "x", "Oficina": "0042"},
		Headers: []string{"Importe", "Notas", "Oficina"},
	})
	require.True(t, res.OK())
	// amount and direction only; two unmapped non-empty columns.
	assert.Equal(t, 0.4, res.MappingScore())
}
