package largefile

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mmdatafocus/books_imports/imports/extractors"
	"github.com/xuri/excelize/v2"
)

const sniffBytes = 64 * 1024

// Row is one data row keyed by header.
type Row map[string]string

// BatchReader yields rows in fixed-size batches. Next returns io.EOF once
// every row has been returned; the last batch may be short. Lines gives the
// source line of each row of the last batch.
type BatchReader interface {
	Headers() []string
	Next() ([]Row, error)
	Lines() []int
	Close() error
}

// rowSource yields raw records one at a time.
type rowSource interface {
	next() ([]string, error)
	close() error
}

// HeaderPolicy decides which record is the header. With a nil IsHeader the
// first non-blank record is the header.
type HeaderPolicy struct {
	IsHeader func([]string) bool
	// Headerless allows reading by column position when no header shows up
	// in the first headerScanLimit records.
	Headerless bool
}

const headerScanLimit = 20

var ErrHeaderNotFound = errors.New("no header row found")

type batchReader struct {
	src       rowSource
	size      int
	headers   []string
	line      int
	pending   [][]string
	pendLines []int
	lastLines []int
}

func newBatchReader(src rowSource, size int, policy HeaderPolicy) (*batchReader, error) {
	if size <= 0 {
		size = 500
	}
	b := &batchReader{src: src, size: size}
	width := 0
	for len(b.pending) < headerScanLimit {
		rec, err := src.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		b.line++
		if blank(rec) {
			continue
		}
		if policy.IsHeader == nil || policy.IsHeader(rec) {
			b.headers = headerNames(rec)
			b.pending, b.pendLines = nil, nil
			return b, nil
		}
		b.pending = append(b.pending, rec)
		b.pendLines = append(b.pendLines, b.line)
		width = max(width, len(rec))
	}
	if len(b.pending) == 0 {
		return b, nil
	}
	if !policy.Headerless {
		return nil, ErrHeaderNotFound
	}
	b.headers = extractors.PositionalHeaders(width)
	return b, nil
}

func (b *batchReader) Headers() []string { return b.headers }

// Lines returns the 1-based source line of each row of the last batch.
func (b *batchReader) Lines() []int { return b.lastLines }

func (b *batchReader) record() ([]string, int, error) {
	if len(b.pending) > 0 {
		rec, line := b.pending[0], b.pendLines[0]
		b.pending, b.pendLines = b.pending[1:], b.pendLines[1:]
		return rec, line, nil
	}
	for {
		rec, err := b.src.next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				err = fmt.Errorf("line %d: %w", b.line+1, err)
			}
			return nil, 0, err
		}
		b.line++
		if !blank(rec) {
			return rec, b.line, nil
		}
	}
}

func (b *batchReader) Next() ([]Row, error) {
	if b.headers == nil {
		return nil, io.EOF
	}
	rows := make([]Row, 0, b.size)
	lines := make([]int, 0, b.size)
	for len(rows) < b.size {
		rec, line, err := b.record()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(Row, len(b.headers))
		for i, h := range b.headers {
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
		lines = append(lines, line)
	}
	b.lastLines = lines
	if len(rows) == 0 {
		return nil, io.EOF
	}
	return rows, nil
}

func (b *batchReader) Close() error { return b.src.close() }

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// headerNames names empty or repeated header cells column_N.
func headerNames(rec []string) []string {
	out := make([]string, len(rec))
	seen := map[string]bool{}
	for i, h := range rec {
		h = strings.TrimSpace(h)
		if h == "" || seen[h] {
			h = "column_" + strconv.Itoa(i+1)
		}
		seen[h] = true
		out[i] = h
	}
	return out
}

type csvSource struct {
	r      *csv.Reader
	closer io.Closer
}

func (c *csvSource) next() ([]string, error) { return c.r.Read() }

func (c *csvSource) close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// NewCSVBatchReader streams r. The delimiter is sniffed from the first
// non-empty line; a UTF-8 BOM is dropped.
func NewCSVBatchReader(r io.Reader, batchSize int, policy HeaderPolicy) (BatchReader, error) {
	br := bufio.NewReaderSize(r, sniffBytes)
	if bom, _ := br.Peek(3); bytes.Equal(bom, []byte("\xef\xbb\xbf")) {
		_, _ = br.Discard(3)
	}
	head, err := br.Peek(sniffBytes)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}
	src := &csvSource{r: extractors.NewCSVReader(br, extractors.SniffDelimiter(head))}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return newBatchReader(src, batchSize, policy)
}

type xlsxSource struct {
	f    *excelize.File
	rows *excelize.Rows
}

func (x *xlsxSource) next() ([]string, error) {
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return x.rows.Columns()
}

func (x *xlsxSource) close() error {
	_ = x.rows.Close()
	return x.f.Close()
}

// NewXLSXBatchReader streams the first sheet of a workbook row by row.
func NewXLSXBatchReader(r io.Reader, batchSize int, policy HeaderPolicy) (BatchReader, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	br, err := newBatchReader(&xlsxSource{f: f, rows: rows}, batchSize, policy)
	if err != nil {
		_ = rows.Close()
		_ = f.Close()
		return nil, err
	}
	return br, nil
}

// NewBatchReader picks the reader and header policy for a tabular format.
func NewBatchReader(format extractors.Format, r io.Reader, batchSize int) (BatchReader, error) {
	policy := HeaderPolicy{
		IsHeader:   func(rec []string) bool { return extractors.IsHeaderRow(format, rec) },
		Headerless: extractors.AcceptsHeaderless(format),
	}
	switch format {
	case extractors.FormatCSVBank, extractors.FormatCSVInvoice:
		return NewCSVBatchReader(r, batchSize, policy)
	case extractors.FormatXLSXBank, extractors.FormatXLSXInvoice, extractors.FormatXLSXProduct:
		return NewXLSXBatchReader(r, batchSize, policy)
	}
	return nil, fmt.Errorf("format %s cannot be streamed", format)
}
