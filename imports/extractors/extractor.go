// Package extractors turns raw document payloads into canonical documents.
//
// Every extractor is pure: it sees only its Input and reports problems in the
// returned Result, never by panicking or returning a Go error.
package extractors

import (
	"fmt"
	"sort"

	"github.com/mmdatafocus/books_imports/imports/canonical"
)

type Format string

const (
	FormatOCRInvoice  Format = "ocr_invoice"
	FormatPOSTicket   Format = "pos_ticket"
	FormatCSVBank     Format = "csv_bank"
	FormatXLSXBank    Format = "xlsx_bank"
	FormatMT940       Format = "mt940"
	FormatCAMT053     Format = "camt053"
	FormatCSVInvoice  Format = "csv_invoice"
	FormatXLSXInvoice Format = "xlsx_invoice"
	FormatXLSXProduct Format = "xlsx_product"
)

var AllFormats = []Format{
	FormatOCRInvoice, FormatPOSTicket,
	FormatCSVBank, FormatXLSXBank, FormatMT940, FormatCAMT053,
	FormatCSVInvoice, FormatXLSXInvoice, FormatXLSXProduct,
}

func (f Format) Valid() bool {
	for _, x := range AllFormats {
		if x == f {
			return true
		}
	}
	return false
}

// IsText reports whether the format's items carry free text (OCR output or a
// statement fragment) rather than a spreadsheet row.
func (f Format) IsText() bool {
	switch f {
	case FormatOCRInvoice, FormatPOSTicket, FormatMT940, FormatCAMT053:
		return true
	}
	return false
}

// DocType is the document type a format produces before classification.
func (f Format) DocType() canonical.DocType {
	switch f {
	case FormatOCRInvoice, FormatCSVInvoice, FormatXLSXInvoice:
		return canonical.DocTypeInvoice
	case FormatPOSTicket:
		return canonical.DocTypeExpenseReceipt
	case FormatCSVBank, FormatXLSXBank, FormatMT940, FormatCAMT053:
		return canonical.DocTypeBankTx
	case FormatXLSXProduct:
		return canonical.DocTypeProduct
	}
	return ""
}

// Input is one item to extract. Text formats read Text (or Data when Text is
// empty); row formats read Row, or the whole file in Data.
type Input struct {
	Text        string
	Data        []byte
	Row         map[string]any
	Headers     []string
	Country     string
	Currency    string
	InvoiceKind canonical.InvoiceKind
	Filename    string
	Ref         string
}

func (in Input) text() string {
	if in.Text != "" {
		return in.Text
	}
	return string(in.Data)
}

const (
	ErrCodeEmptyInput        = "empty_input"
	ErrCodeUnsupportedFormat = "unsupported_format"
	ErrCodeHeaderNotFound    = "header_not_found"
	ErrCodeInvalidRow        = "invalid_row"
	ErrCodeMalformed         = "malformed"
	ErrCodeNoDocuments       = "no_documents"
	ErrCodePanic             = "extractor_panic"
)

// ParseError describes why an item could not be (fully) extracted.
type ParseError struct {
	Format  Format `json:"format"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s (line %d): %s", e.Format, e.Code, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Format, e.Code, e.Message)
}

func newParseError(f Format, code, format string, args ...any) *ParseError {
	return &ParseError{Format: f, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Result is everything an extractor learned about one input.
type Result struct {
	Documents        []canonical.Document       `json:"documents"`
	Routing          *canonical.RoutingProposal `json:"routing,omitempty"`
	ParserConfidence float64                    `json:"parser_confidence"`
	// MappedFields maps canonical field names to the source label they came from.
	MappedFields   map[string]string `json:"mapped_fields,omitempty"`
	UnmappedFields []string          `json:"unmapped_fields,omitempty"`
	Err            *ParseError       `json:"error,omitempty"`
}

// OK reports whether extraction produced at least one document without error.
func (r Result) OK() bool {
	return r.Err == nil && len(r.Documents) > 0
}

func failed(err *ParseError) Result {
	return Result{Err: err}
}

type Extractor interface {
	Format() Format
	Extract(in Input) Result
}

type extractorFunc struct {
	format Format
	fn     func(Input) Result
}

func (e extractorFunc) Format() Format          { return e.format }
func (e extractorFunc) Extract(in Input) Result { return e.fn(in) }

// Registry is the closed table of extractors keyed by format.
type Registry map[Format]Extractor

// DefaultRegistry returns a registry with every built-in extractor.
func DefaultRegistry() Registry {
	r := Registry{}
	for _, e := range []Extractor{
		extractorFunc{FormatOCRInvoice, extractOCRInvoice},
		extractorFunc{FormatPOSTicket, extractPOSTicket},
		extractorFunc{FormatCSVBank, extractCSVBank},
		extractorFunc{FormatXLSXBank, extractXLSXBank},
		extractorFunc{FormatMT940, extractMT940},
		extractorFunc{FormatCAMT053, extractCAMT053},
		extractorFunc{FormatCSVInvoice, extractCSVInvoice},
		extractorFunc{FormatXLSXInvoice, extractXLSXInvoice},
		extractorFunc{FormatXLSXProduct, extractXLSXProduct},
	} {
		r[e.Format()] = e
	}
	return r
}

// Extract runs the extractor for f. Unknown formats and extractor panics come
// back as a ParseError.
func (r Registry) Extract(f Format, in Input) (res Result) {
	e, ok := r[f]
	if !ok {
		return failed(newParseError(f, ErrCodeUnsupportedFormat, "no extractor registered"))
	}
	defer func() {
		if p := recover(); p != nil {
			res = failed(newParseError(f, ErrCodePanic, "%v", p))
		}
	}()
	res = e.Extract(in)
	if res.Err == nil && len(res.Documents) == 0 {
		res.Err = newParseError(f, ErrCodeNoDocuments, "no document found in input")
	}
	return res
}

// Formats lists the registered formats in stable order.
func (r Registry) Formats() []Format {
	out := make([]Format, 0, len(r))
	for f := range r {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
