package extractors

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// RawItem is one document-sized slice of an uploaded file.
type RawItem struct {
	Ref            string
	Payload        []byte
	IdempotencyKey string
}

// RowPayload is how a spreadsheet row travels as an item payload.
type RowPayload struct {
	Headers []string       `json:"headers"`
	Values  map[string]any `json:"values"`
}

func EncodeRow(headers []string, values map[string]any) []byte {
	b, _ := json.Marshal(RowPayload{Headers: headers, Values: values})
	return b
}

func DecodeRow(payload []byte) (RowPayload, error) {
	var p RowPayload
	err := json.Unmarshal(payload, &p)
	return p, err
}

// ItemKey derives the ingestion idempotency key of a split item. The position
// is part of the key so identical rows in one file stay distinct, while
// re-ingesting the same file maps onto the same keys.
func ItemKey(f Format, ref string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(f))
	h.Write([]byte{0})
	h.Write([]byte(ref))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Split cuts a whole file into per-document payloads: one per spreadsheet row,
// MT940 statement line or CAMT entry, and a single item for OCR text.
func Split(f Format, data []byte) ([]RawItem, *ParseError) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, newParseError(f, ErrCodeEmptyInput, "file is empty")
	}
	var items []RawItem
	add := func(ref string, payload []byte) {
		items = append(items, RawItem{Ref: ref, Payload: payload, IdempotencyKey: ItemKey(f, ref, payload)})
	}

	switch f {
	case FormatOCRInvoice, FormatPOSTicket:
		add("document", data)

	case FormatCSVBank, FormatXLSXBank, FormatCSVInvoice, FormatXLSXInvoice, FormatXLSXProduct:
		spec, read := rowSpecFor(f)
		records, err := read(data)
		if err != nil {
			return nil, newParseError(f, ErrCodeMalformed, "%v", err)
		}
		t, err := buildTable(records, spec.aliases, spec.minFields, spec.positional)
		if err != nil {
			return nil, newParseError(f, ErrCodeHeaderNotFound, "%v", err)
		}
		for i, row := range t.rows {
			add(rowRef(t.lines[i]), EncodeRow(t.headers, row))
		}

	case FormatMT940:
		var header []string
		fields := mt940Fields(string(data))
		for i, fl := range fields {
			switch fl.tag {
			case "20", "25", "28C", "60F", "60M":
				header = upsertTag(header, fl.tag, ":"+fl.tag+":"+fl.value)
			case "61":
				var b strings.Builder
				for _, h := range header {
					b.WriteString(h)
					b.WriteByte('\n')
				}
				b.WriteString(":61:" + fl.value)
				if i+1 < len(fields) && fields[i+1].tag == "86" {
					b.WriteString("\n:86:" + fields[i+1].value)
				}
				add("line:"+itoa(fl.line), []byte(b.String()))
			}
		}

	case FormatCAMT053:
		_, raws, account, err := camtEntries(data)
		if err != nil && len(raws) == 0 {
			return nil, newParseError(f, ErrCodeMalformed, "%v", err)
		}
		for i, raw := range raws {
			payload := raw
			if account != "" {
				payload = []byte("<Stmt><Acct><Id><IBAN>" + account + "</IBAN></Id></Acct>" + string(raw) + "</Stmt>")
			}
			add("entry:"+itoa(i+1), payload)
		}

	default:
		return nil, newParseError(f, ErrCodeUnsupportedFormat, "cannot split this format")
	}

	if len(items) == 0 {
		return nil, newParseError(f, ErrCodeNoDocuments, "file has no documents")
	}
	return items, nil
}

func upsertTag(header []string, tag, line string) []string {
	prefix := ":" + tag + ":"
	for i, h := range header {
		if strings.HasPrefix(h, prefix) {
			header[i] = line
			return header
		}
	}
	return append(header, line)
}

func rowSpecFor(f Format) (rowSpec, func([]byte) ([][]string, error)) {
	switch f {
	case FormatCSVBank:
		return bankRows, readCSVRecords
	case FormatXLSXBank:
		return bankRows, readXLSXRecords
	case FormatCSVInvoice:
		return invoiceRows, readCSVRecords
	case FormatXLSXInvoice:
		return invoiceRows, readXLSXRecords
	default:
		return productRows, readXLSXRecords
	}
}

// IsHeaderRow reports whether rec maps enough known columns to be the header
// row of tabular format f.
func IsHeaderRow(f Format, rec []string) bool {
	spec, _ := rowSpecFor(f)
	return len(mapHeaders(rec, spec.aliases).byField) >= spec.minFields
}

// AcceptsHeaderless reports whether f can be read by column position when no
// header row is found.
func AcceptsHeaderless(f Format) bool {
	spec, _ := rowSpecFor(f)
	return spec.positional
}

// PositionalHeaders names n columns column_1..column_n.
func PositionalHeaders(n int) []string { return positionalHeaders(n) }
