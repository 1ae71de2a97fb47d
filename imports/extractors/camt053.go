package extractors

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/shopspring/decimal"
)

type camtDate struct {
	Dt   string `xml:"Dt"`
	DtTm string `xml:"DtTm"`
}

func (d camtDate) date() (*canonical.Date, bool) {
	if d.Dt != "" {
		return canonical.ParseDate(d.Dt)
	}
	if len(d.DtTm) >= 10 {
		return canonical.ParseDate(d.DtTm[:10])
	}
	return nil, false
}

type camtEntry struct {
	NtryRef string `xml:"NtryRef"`
	Amt     struct {
		Value string `xml:",chardata"`
		Ccy   string `xml:"Ccy,attr"`
	} `xml:"Amt"`
	CdtDbtInd    string   `xml:"CdtDbtInd"`
	BookgDt      camtDate `xml:"BookgDt"`
	ValDt        camtDate `xml:"ValDt"`
	AcctSvcrRef  string   `xml:"AcctSvcrRef"`
	AddtlNtryInf string   `xml:"AddtlNtryInf"`
	TxDtls       []struct {
		Refs struct {
			EndToEndId  string `xml:"EndToEndId"`
			TxId        string `xml:"TxId"`
			InstrId     string `xml:"InstrId"`
			AcctSvcrRef string `xml:"AcctSvcrRef"`
		} `xml:"Refs"`
		RmtInf struct {
			Ustrd []string `xml:"Ustrd"`
		} `xml:"RmtInf"`
		AddtlTxInf string `xml:"AddtlTxInf"`
	} `xml:"NtryDtls>TxDtls"`
}

func (e camtEntry) reference() string {
	for _, tx := range e.TxDtls {
		for _, ref := range []string{tx.Refs.EndToEndId, tx.Refs.AcctSvcrRef, tx.Refs.TxId, tx.Refs.InstrId} {
			ref = strings.TrimSpace(ref)
			if ref != "" && !strings.EqualFold(ref, "NOTPROVIDED") {
				return ref
			}
		}
	}
	return firstNonEmptyString(strings.TrimSpace(e.AcctSvcrRef), strings.TrimSpace(e.NtryRef))
}

func (e camtEntry) narrative() string {
	var parts []string
	for _, tx := range e.TxDtls {
		for _, u := range tx.RmtInf.Ustrd {
			if u = strings.TrimSpace(u); u != "" {
				parts = append(parts, u)
			}
		}
	}
	if len(parts) == 0 {
		for _, tx := range e.TxDtls {
			if s := strings.TrimSpace(tx.AddtlTxInf); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if len(parts) == 0 && strings.TrimSpace(e.AddtlNtryInf) != "" {
		parts = append(parts, strings.TrimSpace(e.AddtlNtryInf))
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// camtEntries scans the document for <Ntry> elements regardless of namespace
// and returns each decoded entry with its raw XML. The first <IBAN> outside an
// entry is reported as the statement account.
func camtEntries(data []byte) (entries []camtEntry, raws [][]byte, account string, err error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = false
	for {
		start := d.InputOffset()
		tok, tokErr := d.Token()
		if errors.Is(tokErr, io.EOF) {
			return entries, raws, account, nil
		}
		if tokErr != nil {
			return entries, raws, account, tokErr
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "IBAN":
			if account == "" {
				var v string
				if err := d.DecodeElement(&v, &se); err == nil {
					account = strings.TrimSpace(v)
				}
			}
		case "Ntry":
			var e camtEntry
			if err := d.DecodeElement(&e, &se); err != nil {
				return entries, raws, account, err
			}
			entries = append(entries, e)
			raws = append(raws, data[start:d.InputOffset()])
		}
	}
}

// extractCAMT053 reads ISO 20022 bank-to-customer statements.
func extractCAMT053(in Input) Result {
	data := in.Data
	if len(data) == 0 {
		data = []byte(in.Text)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return failed(newParseError(FormatCAMT053, ErrCodeEmptyInput, "no statement xml"))
	}
	entries, _, account, err := camtEntries(data)
	if err != nil && len(entries) == 0 {
		return failed(newParseError(FormatCAMT053, ErrCodeMalformed, "%v", err))
	}
	country := strings.ToUpper(in.Country)
	res := Result{MappedFields: map[string]string{
		"amount":       "Ntry/Amt",
		"direction":    "Ntry/CdtDbtInd",
		"value_date":   "Ntry/ValDt",
		"external_ref": "Ntry/NtryDtls/TxDtls/Refs",
		"narrative":    "Ntry/NtryDtls/TxDtls/RmtInf/Ustrd",
	}}
	var firstErr *ParseError
	for i, e := range entries {
		amount, aerr := decimal.NewFromString(strings.TrimSpace(e.Amt.Value))
		if aerr != nil || amount.IsZero() {
			if firstErr == nil {
				firstErr = newParseError(FormatCAMT053, ErrCodeInvalidRow, "entry %d: invalid amount %q", i+1, e.Amt.Value)
			}
			continue
		}
		tx := &canonical.BankTx{Amount: amount.Abs(), AccountRef: account}
		conf := 1.0
		switch strings.ToUpper(strings.TrimSpace(e.CdtDbtInd)) {
		case "CRDT":
			tx.Direction = canonical.DirectionCredit
		case "DBIT":
			tx.Direction = canonical.DirectionDebit
		default:
			if firstErr == nil {
				firstErr = newParseError(FormatCAMT053, ErrCodeInvalidRow, "entry %d: missing CdtDbtInd", i+1)
			}
			continue
		}
		tx.ExternalRef = e.reference()
		tx.Narrative = e.narrative()

		var date *canonical.Date
		if d, ok := e.ValDt.date(); ok {
			date = d
		} else if d, ok := e.BookgDt.date(); ok {
			date = d
		} else {
			conf -= 0.3
		}
		tx.ValueDate = date
		if tx.Narrative == "" && tx.ExternalRef == "" {
			conf -= 0.1
		}

		doc := canonical.Document{
			DocType:   canonical.DocTypeBankTx,
			Country:   country,
			Currency:  firstNonEmptyString(strings.ToUpper(e.Amt.Ccy), strings.ToUpper(in.Currency), countryCurrency[country]),
			IssueDate: date,
			Source:    canonical.Source{Format: string(FormatCAMT053), Filename: in.Filename, Ref: firstNonEmptyString(in.Ref, "entry:"+itoa(i+1))},
			BankTx:    tx,
		}
		doc.Confidence = roundScore(conf)
		doc.RoutingProposal = proposeRouting(&doc)
		res.Documents = append(res.Documents, doc)
		res.ParserConfidence += doc.Confidence
	}
	if len(res.Documents) == 0 {
		if firstErr == nil {
			firstErr = newParseError(FormatCAMT053, ErrCodeNoDocuments, "no <Ntry> entries found")
		}
		return failed(firstErr)
	}
	res.ParserConfidence = roundScore(res.ParserConfidence / float64(len(entries)))
	res.Routing = res.Documents[0].RoutingProposal
	return res
}
