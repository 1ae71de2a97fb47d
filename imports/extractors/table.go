package extractors

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// aliases maps a canonical field to the header spellings that feed it.
type aliases map[string][]string

var bankAliases = aliases{
	"date":         {"fecha", "date", "fecha valor", "fecha operacion", "value date", "booking date", "fecha contable", "f valor", "f operacion", "fecha transaccion", "fecha movimiento"},
	"narrative":    {"concepto", "descripcion", "description", "narrative", "detalle", "memo", "movimiento", "details", "glosa"},
	"external_ref": {"referencia", "reference", "ref", "id", "transaction id", "id transaccion", "numero", "documento", "num documento", "no documento", "comprobante"},
	"debit":        {"cargo", "cargos", "debe", "debit", "debito", "retiro", "retiros", "egreso", "egresos", "withdrawal", "salida", "salidas"},
	"credit":       {"abono", "abonos", "haber", "credit", "credito", "deposito", "depositos", "ingreso", "ingresos", "deposit", "entrada", "entradas"},
	"amount":       {"importe", "monto", "amount", "valor", "cantidad"},
	"balance":      {"saldo", "balance", "saldo disponible", "saldo contable"},
	"direction":    {"tipo", "type", "dc", "d c", "signo", "naturaleza", "cargo abono"},
	"currency":     {"moneda", "divisa", "currency"},
	"account":      {"cuenta", "account", "iban", "numero cuenta"},
}

var invoiceAliases = aliases{
	"number":       {"numero", "numero factura", "factura", "invoice", "invoice number", "no factura", "n factura", "num factura", "folio", "serie numero"},
	"issue_date":   {"fecha", "fecha emision", "date", "issue date", "fecha factura", "invoice date"},
	"due_date":     {"vencimiento", "fecha vencimiento", "due date", "due"},
	"party_name":   {"cliente", "proveedor", "razon social", "nombre", "customer", "supplier", "vendor", "tercero", "name", "emisor", "receptor"},
	"party_tax_id": {"nif", "cif", "rfc", "ruc", "nit", "tax id", "cif nif", "nif cif", "identificacion", "vat number"},
	"subtotal":     {"subtotal", "base", "base imponible", "neto", "net", "importe neto", "net amount"},
	"tax":          {"iva", "impuesto", "tax", "cuota iva", "igv", "vat", "tax amount"},
	"total":        {"total", "importe total", "total factura", "amount", "importe", "gross", "total amount"},
	"kind":         {"tipo", "type", "kind", "clase"},
	"currency":     {"moneda", "divisa", "currency"},
	"description":  {"descripcion", "concepto", "description", "detalle"},
}

var productAliases = aliases{
	"sku":      {"sku", "codigo", "code", "referencia", "ref", "codigo producto", "item code", "cod"},
	"name":     {"nombre", "name", "producto", "descripcion", "description", "articulo", "item", "product"},
	"barcode":  {"codigo de barras", "barcode", "ean", "upc", "gtin", "ean13"},
	"price":    {"precio", "price", "pvp", "precio venta", "sale price", "precio unitario", "unit price"},
	"cost":     {"costo", "coste", "cost", "precio compra", "purchase price", "costo unitario"},
	"tax_rate": {"iva", "tax", "impuesto", "tax rate", "tasa iva", "tipo iva", "iva pct"},
	"unit":     {"unidad", "unit", "uom", "unidad medida", "um"},
}

// columnMapping is the result of matching a header row against aliases.
type columnMapping struct {
	byField  map[string]string // canonical field -> header
	unmapped []string
}

func (m columnMapping) has(field string) bool {
	_, ok := m.byField[field]
	return ok
}

func (m columnMapping) value(row map[string]any, field string) any {
	h, ok := m.byField[field]
	if !ok {
		return nil
	}
	return row[h]
}

func (m columnMapping) str(row map[string]any, field string) string {
	return cellString(m.value(row, field))
}

// mapHeaders assigns each header to at most one field. Exact matches win over
// word matches; ties go to the earlier column.
func mapHeaders(headers []string, a aliases) columnMapping {
	type candidate struct {
		header, field string
		score, col    int
	}
	var cands []candidate
	for col, h := range headers {
		norm := normalizeLabel(h)
		if norm == "" {
			continue
		}
		for field, names := range a {
			best := 0
			for _, name := range names {
				switch {
				case norm == name:
					best = max(best, 3)
				case containsWords(norm, name):
					best = max(best, 2)
				}
			}
			if best > 0 {
				cands = append(cands, candidate{h, field, best, col})
			}
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if cands[i].col != cands[j].col {
			return cands[i].col < cands[j].col
		}
		return cands[i].field < cands[j].field
	})

	m := columnMapping{byField: map[string]string{}}
	usedHeader := map[string]bool{}
	for _, c := range cands {
		if usedHeader[c.header] || m.has(c.field) {
			continue
		}
		m.byField[c.field] = c.header
		usedHeader[c.header] = true
	}
	for _, h := range headers {
		if !usedHeader[h] && strings.TrimSpace(h) != "" {
			m.unmapped = append(m.unmapped, h)
		}
	}
	return m
}

// containsWords reports whether phrase occurs in s on word boundaries.
func containsWords(s, phrase string) bool {
	return strings.Contains(" "+s+" ", " "+phrase+" ")
}

// table is a header row plus its data rows keyed by header.
type table struct {
	headers []string
	rows    []map[string]any
	// lines holds the 1-based source line of each row.
	lines []int
}

const positionalPrefix = "column_"

func positionalHeaders(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", positionalPrefix, i+1)
	}
	return out
}

// buildTable finds the header row among the first records and keys the rest
// by it. When no header is found and positional is true, columns are named
// column_1..column_n and every record is data.
func buildTable(records [][]string, a aliases, minFields int, positional bool) (*table, error) {
	headerIdx := -1
	for i := 0; i < len(records) && i < 20; i++ {
		if len(mapHeaders(records[i], a).byField) >= minFields {
			headerIdx = i
			break
		}
	}
	var headers []string
	start := 0
	if headerIdx >= 0 {
		headers = trimAll(records[headerIdx])
		start = headerIdx + 1
	} else {
		if !positional {
			return nil, errHeaderNotFound
		}
		width := 0
		for _, r := range records {
			width = max(width, len(r))
		}
		headers = positionalHeaders(width)
	}

	t := &table{headers: headers}
	for i, rec := range records[start:] {
		if isBlankRecord(rec) {
			continue
		}
		row := make(map[string]any, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			} else {
				row[h] = ""
			}
		}
		t.rows = append(t.rows, row)
		t.lines = append(t.lines, start+i+1)
	}
	return t, nil
}

var errHeaderNotFound = errors.New("header row not found")

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

func isBlankRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// SniffDelimiter picks the most frequent of , ; tab | on the first non-empty
// line, ignoring quoted text.
func SniffDelimiter(data []byte) rune {
	line := ""
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			line = l
			break
		}
	}
	counts := map[rune]int{}
	inQuote := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
		case !inQuote && (r == ',' || r == ';' || r == '\t' || r == '|'):
			counts[r]++
		}
	}
	best, bestN := ',', 0
	for _, r := range []rune{',', ';', '\t', '|'} {
		if counts[r] > bestN {
			best, bestN = r, counts[r]
		}
	}
	return best
}

// NewCSVReader returns a lenient csv.Reader for bank and spreadsheet exports.
func NewCSVReader(r io.Reader, delimiter rune) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false
	return cr
}

func readCSVRecords(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return NewCSVReader(bytes.NewReader(data), SniffDelimiter(data)).ReadAll()
}

func readXLSXRecords(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}
