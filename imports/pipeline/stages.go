package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/mmdatafocus/books_imports/imports/confidence"
	"github.com/mmdatafocus/books_imports/imports/extractors"
	"github.com/mmdatafocus/books_imports/imports/resolution"
	"github.com/mmdatafocus/books_imports/models"
	"github.com/mmdatafocus/books_imports/utils"
	"gorm.io/gorm"
)

var (
	ErrNoRecognizer   = errors.New("image item needs a text recognizer")
	ErrNoText         = errors.New("no text recognized")
	ErrMultipleDocs   = errors.New("item holds more than one document")
	ErrUnclassifiable = errors.New("document type could not be determined")
	ErrBadRow         = errors.New("row payload is unreadable")
)

// unreadable reports whether err comes from the item's own content. Such
// items go to review with the detail attached; running them again cannot help.
func unreadable(err error) bool {
	var perr *extractors.ParseError
	return errors.As(err, &perr) || errors.Is(err, ErrBadRow) || errors.Is(err, ErrMultipleDocs)
}

// TextRecognizer turns a preprocessed page image into text.
type TextRecognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// itemState is what the stages of one run share. Stages read their inputs
// from the item columns so a resumed chain sees the same state as a fresh one.
type itemState struct {
	item      *models.ImportItem
	batch     *models.ImportBatch
	promotion *Promotion
}

// stageFunc mutates st.item and returns the columns it changed.
type stageFunc func(ctx context.Context, db *gorm.DB, st *itemState) ([]string, error)

type stage struct {
	name   string
	status models.ImportItemStatus
	fn     stageFunc
}

const (
	StagePreprocess = "preprocess"
	StageOCR        = "ocr"
	StageClassify   = "classify"
	StageExtract    = "extract"
	StageValidate   = "validate"
	StagePublish    = "publish"
)

func (r *Runner) chain() []stage {
	return []stage{
		{StagePreprocess, models.ImportItemStatusPreprocessing, r.preprocess},
		{StageOCR, models.ImportItemStatusOCR, r.recognize},
		{StageClassify, models.ImportItemStatusClassifying, r.classify},
		{StageExtract, models.ImportItemStatusExtracting, r.extract},
		{StageValidate, models.ImportItemStatusValidating, r.validate},
		{StagePublish, models.ImportItemStatusValidating, r.publish},
	}
}

// resumeAt is the index of the stage an item in status s continues from.
func resumeAt(chain []stage, s models.ImportItemStatus) int {
	for i, st := range chain {
		if st.status == s {
			return i
		}
	}
	return 0
}

func isImageItem(item *models.ImportItem) bool {
	f := extractors.Format(item.Format)
	if f != extractors.FormatOCRInvoice && f != extractors.FormatPOSTicket {
		return false
	}
	ct := item.ContentType
	if ct == "" {
		ct = http.DetectContentType(item.Raw)
	}
	return strings.HasPrefix(ct, "image/")
}

func (r *Runner) preprocess(_ context.Context, _ *gorm.DB, st *itemState) ([]string, error) {
	item := st.item
	f := extractors.Format(item.Format)
	item.Preprocessed = nil

	switch {
	case isImageItem(item):
		img, err := imaging.Decode(bytes.NewReader(item.Raw), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, prepareImage(img, r.maxImageSide), imaging.PNG); err != nil {
			return nil, fmt.Errorf("encode image: %w", err)
		}
		item.Preprocessed = buf.Bytes()
		item.Normalized = ""
	case f == extractors.FormatOCRInvoice || f == extractors.FormatPOSTicket:
		item.Normalized = extractors.NormalizeText(string(item.Raw))
	case f.IsText():
		item.Normalized = strings.TrimSpace(string(item.Raw))
	default:
		if _, err := extractors.DecodeRow(item.Raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRow, err)
		}
		item.Normalized = string(item.Raw)
	}
	return []string{"preprocessed", "normalized"}, nil
}

// prepareImage grays the page, lifts contrast and caps its longest side.
func prepareImage(img image.Image, maxSide int) image.Image {
	out := imaging.Grayscale(img)
	out = imaging.AdjustContrast(out, 20)
	if maxSide > 0 {
		b := out.Bounds()
		if b.Dx() > maxSide || b.Dy() > maxSide {
			out = imaging.Fit(out, maxSide, maxSide, imaging.Lanczos)
		}
	}
	return out
}

// recognize runs OCR on preprocessed images; text items pass through.
func (r *Runner) recognize(ctx context.Context, _ *gorm.DB, st *itemState) ([]string, error) {
	item := st.item
	if len(item.Preprocessed) == 0 {
		return nil, nil
	}
	if r.recognizer == nil {
		return nil, ErrNoRecognizer
	}
	text, err := r.recognizer.Recognize(ctx, item.Preprocessed)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	item.Normalized = extractors.NormalizeText(text)
	if item.Normalized == "" {
		return nil, ErrNoText
	}
	return []string{"normalized"}, nil
}

func (r *Runner) classify(_ context.Context, _ *gorm.DB, st *itemState) ([]string, error) {
	item := st.item
	dt, conf := extractors.Classify(extractors.Format(item.Format), item.Normalized)
	if dt == "" {
		return nil, ErrUnclassifiable
	}
	item.ClassifiedDocType = string(dt)
	item.ClassificationConfidence = conf
	return []string{"classified_doc_type", "classification_confidence"}, nil
}

func invoiceKindFor(sourceType string) canonical.InvoiceKind {
	if strings.Contains(strings.ToLower(sourceType), "sales") {
		return canonical.InvoiceKindSales
	}
	return canonical.InvoiceKindPurchase
}

func (r *Runner) extract(_ context.Context, _ *gorm.DB, st *itemState) ([]string, error) {
	item, batch := st.item, st.batch
	source := extractors.Format(item.Format)
	f := extractors.FormatFor(canonical.DocType(item.ClassifiedDocType), source)

	in := extractors.Input{
		Country:     batch.Country,
		Currency:    batch.Currency,
		InvoiceKind: invoiceKindFor(batch.SourceType),
		Filename:    item.Filename,
		Ref:         item.Ref,
	}
	if source.IsText() {
		in.Text = item.Normalized
	} else {
		row, err := extractors.DecodeRow(item.Raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRow, err)
		}
		in.Row, in.Headers = row.Values, row.Headers
	}

	res := r.extractors.Extract(f, in)
	if res.Err != nil {
		return nil, res.Err
	}
	if len(res.Documents) != 1 {
		return nil, fmt.Errorf("%w: %d", ErrMultipleDocs, len(res.Documents))
	}
	doc := res.Documents[0]
	if doc.Country == "" {
		doc.Country = batch.Country
	}
	if doc.Currency == "" {
		doc.Currency = batch.Currency
	}

	item.Canonical = utils.MustJSON(doc)
	item.MappedFields = utils.MustJSON(res.MappedFields)
	item.UnmappedFields = utils.MustJSON(res.UnmappedFields)
	item.ParserConfidence = res.ParserConfidence
	item.MappingConfidence = clampScore(res.MappingScore())
	return []string{"canonical", "mapped_fields", "unmapped_fields", "parser_confidence", "mapping_confidence"}, nil
}

// validate applies structural and fiscal checks, resolves the document's
// parties and scores the item.
func (r *Runner) validate(ctx context.Context, _ *gorm.DB, st *itemState) ([]string, error) {
	item := st.item
	doc, err := decodeCanonical(item)
	if err != nil {
		return nil, err
	}

	errs := map[string]string{}
	if err := doc.Validate(); err != nil {
		errs["document"] = err.Error()
	}
	for field, msg := range r.rules.ValidateDocument(doc) {
		errs[field] = msg
	}
	if err := r.resolveParties(ctx, st, doc); err != nil {
		return nil, err
	}

	item.ValidationErrors = utils.MustJSON(errs)
	item.ValidationConfidence = validationScore(errs)

	gate := r.gate(item)
	decision := r.policy.Decide(gate)
	tracker := r.facets(item, gate, decision)

	item.OverallConfidence = gate.Overall()
	item.ConfidenceLevel = string(gate.Level())
	item.Decision = string(decision)
	item.LowConfidenceFacets = utils.MustJSON(tracker.Low())
	item.ConfirmedFacets = utils.MustJSON(tracker.Confirmed())
	return []string{
		"validation_errors", "validation_confidence", "overall_confidence", "confidence_level",
		"decision", "low_confidence_facets", "confirmed_facets",
	}, nil
}

func (r *Runner) publish(ctx context.Context, _ *gorm.DB, st *itemState) ([]string, error) {
	p, err := r.promote(ctx, st)
	if err != nil {
		return nil, err
	}
	st.promotion = &p
	return promotionColumns, nil
}

// resolveParties records a resolution memo for each named party so later
// imports reuse the decision. Unresolved parties do not block promotion.
func (r *Runner) resolveParties(ctx context.Context, st *itemState, doc *canonical.Document) error {
	if r.resolver == nil {
		return nil
	}
	type party struct {
		entity string
		p      canonical.Party
	}
	var parties []party
	switch {
	case doc.Invoice != nil:
		if doc.Invoice.Kind == canonical.InvoiceKindSales {
			if doc.Invoice.Buyer != nil {
				parties = append(parties, party{resolution.EntityCustomer, *doc.Invoice.Buyer})
			}
		} else {
			parties = append(parties, party{resolution.EntitySupplier, doc.Invoice.Vendor})
		}
	case doc.ExpenseReceipt != nil:
		parties = append(parties, party{resolution.EntitySupplier, doc.ExpenseReceipt.Merchant})
	case doc.Product != nil:
		parties = append(parties, party{resolution.EntityProduct, canonical.Party{Name: doc.Product.Name}})
	}
	for _, p := range parties {
		_, _, err := r.resolver.Resolve(ctx, st.item.TenantId, st.item.BatchId, p.entity, p.p.Name, p.p.TaxID)
		if err != nil && !errors.Is(err, resolution.ErrEmptyValue) {
			return fmt.Errorf("resolve %s: %w", p.entity, err)
		}
	}
	return nil
}

func decodeCanonical(item *models.ImportItem) (*canonical.Document, error) {
	if len(item.Canonical) == 0 {
		return nil, errors.New("item has no canonical document")
	}
	var doc canonical.Document
	if err := json.Unmarshal(item.Canonical, &doc); err != nil {
		return nil, fmt.Errorf("decode canonical document: %w", err)
	}
	return &doc, nil
}

func decodeErrors(item *models.ImportItem) map[string]string {
	errs := map[string]string{}
	if len(item.ValidationErrors) > 0 {
		_ = json.Unmarshal(item.ValidationErrors, &errs)
	}
	return errs
}

func decodeFacets(raw []byte) []confidence.Component {
	var out []confidence.Component
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

// validationScore is 1 for a clean document and drops with each error.
func validationScore(errs map[string]string) float64 {
	return 1 / float64(1+len(errs))
}

func (r *Runner) gate(item *models.ImportItem) *confidence.Gate {
	return confidence.Evaluate(r.weights, confidence.Scores{
		Parser:     item.ParserConfidence,
		DocType:    item.ClassificationConfidence,
		Mapping:    item.MappingConfidence,
		Validation: item.ValidationConfidence,
	})
}

// facets rebuilds the item's facet tracker against fresh scores. An item
// that is not auto-approved but has no weak component is asked to confirm
// its weakest one, so every review has something to confirm.
func (r *Runner) facets(item *models.ImportItem, g *confidence.Gate, d confidence.Decision) *confidence.FacetTracker {
	prevConfirmed := decodeFacets(item.ConfirmedFacets)
	t := confidence.NewFacetTracker(r.facetThreshold)
	t.Restore(decodeFacets(item.LowConfidenceFacets), prevConfirmed)
	low := t.Track(g.Scores())
	if d != confidence.DecisionAutoApprove && len(low) == 0 {
		t.Restore([]confidence.Component{weakest(g.Scores())}, prevConfirmed)
	}
	return t
}

func weakest(s confidence.Scores) confidence.Component {
	w := confidence.Components[0]
	for _, c := range confidence.Components[1:] {
		if s.Get(c) < s.Get(w) {
			w = c
		}
	}
	return w
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
