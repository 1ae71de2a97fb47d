package extractors

import (
	"github.com/mmdatafocus/books_imports/imports/canonical"
)

var (
	invoiceSignals = []string{
		"factura", "invoice", "base imponible", "nif", "cif", "rfc", "ruc", "nit", "vencimiento",
		"razon social", "folio fiscal", "cufe", "clave de acceso", "forma de pago", "condiciones de pago",
	}
	receiptSignals = []string{
		"ticket", "tiquet", "recibo", "gracias", "cambio", "efectivo", "caja", "cajero", "tpv",
		"iva incluido", "simplificada", "atendido", "su visita", "vuelva pronto",
	}
)

// Classify decides the document type of an item. Structured formats are
// unambiguous; free text is scored on invoice against receipt vocabulary,
// and the source format breaks ties.
func Classify(f Format, text string) (canonical.DocType, float64) {
	if f != FormatOCRInvoice && f != FormatPOSTicket {
		if dt := f.DocType(); dt != "" {
			return dt, 1
		}
		return "", 0
	}
	low := normalizeLabel(text)
	inv, rec := 0, 0
	for _, w := range invoiceSignals {
		if containsWords(low, w) {
			inv++
		}
	}
	for _, w := range receiptSignals {
		if containsWords(low, w) {
			rec++
		}
	}
	for _, l := range nonEmptyLines(NormalizeText(text)) {
		if reTicketLine.MatchString(l) {
			rec++
			break
		}
	}
	if inv == rec {
		if inv == 0 && len(low) == 0 {
			return f.DocType(), 0
		}
		return f.DocType(), 0.5
	}
	hi, lo := max(inv, rec), min(inv, rec)
	conf := roundScore(0.5 + 0.5*float64(hi-lo)/float64(hi+lo))
	if inv > rec {
		return canonical.DocTypeInvoice, conf
	}
	return canonical.DocTypeExpenseReceipt, conf
}

// FormatFor picks the extractor for a classified item: free-text items follow
// their classification, structured items keep their source format.
func FormatFor(dt canonical.DocType, source Format) Format {
	if source != FormatOCRInvoice && source != FormatPOSTicket {
		return source
	}
	switch dt {
	case canonical.DocTypeInvoice:
		return FormatOCRInvoice
	case canonical.DocTypeExpenseReceipt:
		return FormatPOSTicket
	}
	return source
}
