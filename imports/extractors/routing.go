package extractors

import (
	"github.com/mmdatafocus/books_imports/imports/canonical"
)

type routeRule struct {
	keywords    []string
	category    string
	accountCode string
	confidence  float64
}

// Account codes follow the Spanish general chart; tenants on other charts map
// them through their account templates.
var bankRoutes = []routeRule{
	{[]string{"nomina", "salario", "payroll", "salary", "sueldo"}, "payroll", "640", 0.8},
	{[]string{"alquiler", "arrendamiento", "rent", "renta local"}, "rent", "621", 0.8},
	{[]string{"luz", "electricidad", "agua", "gas natural", "telefono", "internet", "movistar", "endesa", "iberdrola", "telmex", "cfe", "utility"}, "utilities", "628", 0.75},
	{[]string{"comision", "commission", "fee", "mantenimiento cuenta", "cuota"}, "bank_fees", "626", 0.8},
	{[]string{"impuesto", "hacienda", "aeat", "sat", "dian", "sri", "tax", "seguridad social", "imss"}, "taxes", "475", 0.75},
	{[]string{"seguro", "insurance", "poliza"}, "insurance", "625", 0.75},
	{[]string{"prestamo", "loan", "credito hipotecario", "amortizacion"}, "loans", "520", 0.7},
	{[]string{"tpv", "datafono", "liquidacion tarjetas", "card settlement", "pos"}, "card_settlements", "430", 0.7},
}

var receiptRoutes = []routeRule{
	{[]string{"restaurante", "restaurant", "cafe", "cafeteria", "bar", "comida", "menu", "almuerzo"}, "meals", "629", 0.7},
	{[]string{"gasolina", "combustible", "fuel", "gasolinera", "diesel", "repsol", "cepsa", "pemex", "petro"}, "fuel", "628", 0.75},
	{[]string{"taxi", "uber", "cabify", "parking", "aparcamiento", "peaje", "toll", "metro", "tren", "vuelo"}, "travel", "629", 0.7},
	{[]string{"papeleria", "oficina", "office", "toner", "impresora"}, "office_supplies", "629", 0.7},
	{[]string{"hotel", "hostal", "alojamiento"}, "lodging", "629", 0.7},
	{[]string{"farmacia", "pharmacy"}, "health", "629", 0.6},
	{[]string{"supermercado", "mercadona", "walmart", "oxxo", "exito", "supermaxi"}, "supplies", "602", 0.6},
}

func matchRoute(text string, rules []routeRule) *routeRule {
	text = normalizeLabel(text)
	for i := range rules {
		if containsWordIn(text, rules[i].keywords) {
			return &rules[i]
		}
	}
	return nil
}

// proposeRouting suggests where a document should land in the ledger.
func proposeRouting(doc *canonical.Document) *canonical.RoutingProposal {
	switch {
	case doc.BankTx != nil:
		if r := matchRoute(doc.BankTx.Narrative+" "+doc.BankTx.ExternalRef, bankRoutes); r != nil {
			return &canonical.RoutingProposal{Category: r.category, AccountCode: r.accountCode, Confidence: r.confidence, Reason: "narrative keyword"}
		}
		if doc.BankTx.Direction == canonical.DirectionCredit {
			return &canonical.RoutingProposal{Category: "customer_receipt", AccountCode: "430", Confidence: 0.5, Reason: "incoming transfer"}
		}
		return &canonical.RoutingProposal{Category: "supplier_payment", AccountCode: "400", Confidence: 0.5, Reason: "outgoing payment"}

	case doc.Invoice != nil:
		if doc.Invoice.Kind == canonical.InvoiceKindSales {
			return &canonical.RoutingProposal{Category: "sales", AccountCode: "700", Confidence: 0.85, Reason: "sales invoice"}
		}
		text := doc.Invoice.Vendor.Name
		for _, l := range doc.Invoice.Lines {
			text += " " + l.Description
		}
		if r := matchRoute(text, receiptRoutes); r != nil {
			return &canonical.RoutingProposal{Category: r.category, AccountCode: r.accountCode, Confidence: r.confidence, Reason: "vendor or line keyword"}
		}
		return &canonical.RoutingProposal{Category: "purchases", AccountCode: "600", Confidence: 0.6, Reason: "purchase invoice"}

	case doc.ExpenseReceipt != nil:
		text := doc.ExpenseReceipt.Merchant.Name
		for _, l := range doc.ExpenseReceipt.Lines {
			text += " " + l.Description
		}
		if r := matchRoute(text, receiptRoutes); r != nil {
			return &canonical.RoutingProposal{Category: r.category, AccountCode: r.accountCode, Confidence: r.confidence, Reason: "merchant or line keyword"}
		}
		return &canonical.RoutingProposal{Category: "other_expenses", AccountCode: "629", Confidence: 0.4, Reason: "default expense"}

	case doc.Product != nil:
		return &canonical.RoutingProposal{Category: "merchandise", AccountCode: "300", Confidence: 0.6, Reason: "catalog item"}
	}
	return nil
}
