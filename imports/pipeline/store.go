package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/books_imports/imports/extractors"
	"github.com/mmdatafocus/books_imports/imports/largefile"
	"github.com/mmdatafocus/books_imports/imports/tenancy"
	"github.com/mmdatafocus/books_imports/models"
	"github.com/mmdatafocus/books_imports/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBatchNotFound = errors.New("import batch not found")
	ErrItemNotFound  = errors.New("import item not found")
	ErrInvalidInput  = errors.New("invalid import input")
)

// InputError carries the field map produced by struct validation.
type InputError struct {
	Fields map[string]string
}

func (e *InputError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, tag := range e.Fields {
		parts = append(parts, f+":"+tag)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidInput, strings.Join(parts, ", "))
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

func validateInput(v any) error {
	if err := utils.ValidateStruct(v); err != nil {
		return &InputError{Fields: utils.ProcessValidationErrors(err)}
	}
	return nil
}

type NewBatch struct {
	TenantID   string  `json:"tenant_id" validate:"required,max=64"`
	SourceType string  `json:"source_type" validate:"required,max=50"`
	Origin     string  `json:"origin" validate:"required,max=100"`
	FileKey    *string `json:"file_key,omitempty" validate:"omitempty,max=255"`
	Country    string  `json:"country,omitempty" validate:"omitempty,len=2"`
	Currency   string  `json:"currency,omitempty" validate:"omitempty,len=3"`
}

// ParsedItem is one raw document handed over for ingestion.
type ParsedItem struct {
	Format         extractors.Format `json:"format" validate:"required"`
	Payload        []byte            `json:"payload" validate:"required"`
	Ref            string            `json:"ref,omitempty"`
	Filename       string            `json:"filename,omitempty"`
	ContentType    string            `json:"content_type,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

type ParseResult struct {
	Items       []ParsedItem            `json:"items" validate:"dive"`
	DocType     string                  `json:"doc_type,omitempty"`
	Metadata    map[string]any          `json:"metadata,omitempty"`
	ParseErrors []extractors.ParseError `json:"parse_errors,omitempty"`
}

// IngestResult reports what an ingest call wrote.
type IngestResult struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	ItemIDs []string `json:"item_ids"`
}

// Store is the tenant-explicit repository for batches and items.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateBatch(ctx context.Context, in NewBatch) (*models.ImportBatch, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	db, err := tenancy.DB(ctx, s.db, in.TenantID)
	if err != nil {
		return nil, err
	}
	batch := &models.ImportBatch{
		ID:         uuid.NewString(),
		TenantId:   in.TenantID,
		SourceType: in.SourceType,
		Origin:     in.Origin,
		FileKey:    in.FileKey,
		Country:    strings.ToUpper(in.Country),
		Currency:   strings.ToUpper(in.Currency),
		Status:     models.ImportBatchStatusOpen,
	}
	if err := db.Create(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *Store) Batch(ctx context.Context, tenantID, batchID string) (*models.ImportBatch, error) {
	db, err := tenancy.DB(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	return loadBatch(db, batchID)
}

func loadBatch(db *gorm.DB, batchID string) (*models.ImportBatch, error) {
	var batch models.ImportBatch
	if err := db.Where("id = ?", batchID).First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return &batch, nil
}

func (s *Store) Item(ctx context.Context, tenantID, itemID string) (*models.ImportItem, error) {
	db, err := tenancy.DB(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	return loadItem(db, itemID)
}

func loadItem(db *gorm.DB, itemID string) (*models.ImportItem, error) {
	var item models.ImportItem
	if err := db.Where("id = ?", itemID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

// Items lists a batch's items in ingestion order.
func (s *Store) Items(ctx context.Context, tenantID, batchID string) ([]models.ImportItem, error) {
	db, err := tenancy.DB(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	var items []models.ImportItem
	err = db.Where("batch_id = ?", batchID).Order("idx").Find(&items).Error
	return items, err
}

// Ingest appends the parse result's items to the batch. Items whose
// idempotency key is already present in the batch are skipped, so the same
// file can be ingested twice without duplicating work.
func (s *Store) Ingest(ctx context.Context, tenantID, batchID string, pr ParseResult) (IngestResult, error) {
	var out IngestResult
	if err := validateInput(pr); err != nil {
		return out, err
	}
	for i, it := range pr.Items {
		if !it.Format.Valid() {
			return out, &InputError{Fields: map[string]string{fmt.Sprintf("Items[%d].Format", i): "oneof"}}
		}
	}
	db, err := tenancy.DB(ctx, s.db, tenantID)
	if err != nil {
		return out, err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		batch, err := loadBatch(tx, batchID)
		if err != nil {
			return err
		}
		out, err = insertItems(tx, batch, pr.Items)
		if err != nil {
			return err
		}
		return recordParseMeta(tx, batch, pr)
	})
	return out, err
}

// IngestFile splits a whole file and ingests its documents.
func (s *Store) IngestFile(ctx context.Context, tenantID, batchID string, f extractors.Format, filename string, data []byte) (IngestResult, error) {
	raws, perr := extractors.Split(f, data)
	pr := ParseResult{DocType: string(f.DocType())}
	if perr != nil {
		pr.ParseErrors = append(pr.ParseErrors, *perr)
	}
	for _, r := range raws {
		pr.Items = append(pr.Items, ParsedItem{
			Format:         f,
			Payload:        r.Payload,
			Ref:            r.Ref,
			Filename:       filename,
			IdempotencyKey: r.IdempotencyKey,
		})
	}
	return s.Ingest(ctx, tenantID, batchID, pr)
}

// IngestStream reads a tabular file batch by batch and ingests each batch
// as it is read, so the file is never held in memory as a whole.
func (s *Store) IngestStream(ctx context.Context, tenantID, batchID string, f extractors.Format, filename string, r io.Reader, batchSize int) (IngestResult, error) {
	var total IngestResult
	br, err := largefile.NewBatchReader(f, r, batchSize)
	if err != nil {
		return total, err
	}
	defer br.Close()

	headers := br.Headers()
	for {
		rows, err := br.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, err
		}
		lines := br.Lines()
		pr := ParseResult{DocType: string(f.DocType()), Items: make([]ParsedItem, 0, len(rows))}
		for i, row := range rows {
			values := make(map[string]any, len(row))
			for k, v := range row {
				values[k] = v
			}
			ref := fmt.Sprintf("row:%d", lines[i])
			payload := extractors.EncodeRow(headers, values)
			pr.Items = append(pr.Items, ParsedItem{
				Format:         f,
				Payload:        payload,
				Ref:            ref,
				Filename:       filename,
				IdempotencyKey: extractors.ItemKey(f, ref, payload),
			})
		}
		res, err := s.Ingest(ctx, tenantID, batchID, pr)
		if err != nil {
			return total, err
		}
		total.Created += res.Created
		total.Skipped += res.Skipped
		total.ItemIDs = append(total.ItemIDs, res.ItemIDs...)
	}
	return total, nil
}

func insertItems(tx *gorm.DB, batch *models.ImportBatch, items []ParsedItem) (IngestResult, error) {
	var out IngestResult
	if len(items) == 0 {
		return out, nil
	}

	keys := make([]string, 0, len(items))
	for i := range items {
		if items[i].IdempotencyKey == "" {
			items[i].IdempotencyKey = extractors.ItemKey(items[i].Format, items[i].Ref, items[i].Payload)
		}
		keys = append(keys, items[i].IdempotencyKey)
	}

	seen := map[string]bool{}
	for _, chunk := range chunkStrings(keys, 500) {
		var existing []string
		if err := tx.Model(&models.ImportItem{}).
			Where("batch_id = ? AND idempotency_key IN ?", batch.ID, chunk).
			Pluck("idempotency_key", &existing).Error; err != nil {
			return out, err
		}
		for _, k := range existing {
			seen[k] = true
		}
	}

	var maxIdx sql.NullInt64
	if err := tx.Model(&models.ImportItem{}).Where("batch_id = ?", batch.ID).
		Select("MAX(idx)").Row().Scan(&maxIdx); err != nil {
		return out, err
	}
	next := 0
	if maxIdx.Valid {
		next = int(maxIdx.Int64) + 1
	}

	for _, in := range items {
		if seen[in.IdempotencyKey] {
			out.Skipped++
			continue
		}
		seen[in.IdempotencyKey] = true
		key := in.IdempotencyKey
		item := models.ImportItem{
			ID:             uuid.NewString(),
			TenantId:       batch.TenantId,
			BatchId:        batch.ID,
			Idx:            next,
			IdempotencyKey: &key,
			Format:         string(in.Format),
			Ref:            in.Ref,
			Filename:       in.Filename,
			ContentType:    in.ContentType,
			Raw:            in.Payload,
			Status:         models.ImportItemStatusPending,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&item)
		if res.Error != nil {
			return out, res.Error
		}
		if res.RowsAffected == 0 {
			out.Skipped++
			continue
		}
		next++
		out.Created++
		out.ItemIDs = append(out.ItemIDs, item.ID)
	}

	return out, tx.Model(&models.ImportBatch{}).Where("id = ?", batch.ID).
		Update("total_items", gorm.Expr("total_items + ?", out.Created)).Error
}

// recordParseMeta merges the parse result's doc type, metadata and parse
// errors into the batch.
func recordParseMeta(tx *gorm.DB, batch *models.ImportBatch, pr ParseResult) error {
	if pr.DocType == "" && len(pr.Metadata) == 0 && len(pr.ParseErrors) == 0 {
		return nil
	}
	meta := map[string]any{}
	if len(batch.Metadata) > 0 {
		_ = json.Unmarshal(batch.Metadata, &meta)
	}
	for k, v := range pr.Metadata {
		meta[k] = v
	}
	if len(pr.ParseErrors) > 0 {
		var prior []extractors.ParseError
		if raw, ok := meta["parse_errors"]; ok {
			b, _ := json.Marshal(raw)
			_ = json.Unmarshal(b, &prior)
		}
		meta["parse_errors"] = append(prior, pr.ParseErrors...)
	}
	updates := map[string]any{"metadata": utils.MustJSON(meta)}
	if pr.DocType != "" && batch.DocType == "" {
		updates["doc_type"] = pr.DocType
	}
	return tx.Model(&models.ImportBatch{}).Where("id = ?", batch.ID).Updates(updates).Error
}

// refreshBatch recomputes the counters from item states. The batch is
// completed once it has items and none of them is still moving.
func refreshBatch(db *gorm.DB, batchID string) (*models.ImportBatch, error) {
	type row struct {
		Status models.ImportItemStatus
		N      int
	}
	var rows []row
	if err := db.Model(&models.ImportItem{}).Select("status, COUNT(*) AS n").
		Where("batch_id = ?", batchID).Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	var total, promoted, review, failedN, moving int
	started := false
	for _, r := range rows {
		total += r.N
		switch r.Status {
		case models.ImportItemStatusPromoted:
			promoted += r.N
		case models.ImportItemStatusNeedsReview:
			review += r.N
		case models.ImportItemStatusFailed:
			failedN += r.N
		case models.ImportItemStatusPending:
			moving += r.N
		default:
			moving += r.N
			started = true
		}
	}

	status := models.ImportBatchStatusOpen
	if started || promoted+review+failedN > 0 {
		status = models.ImportBatchStatusProcessing
	}
	updates := map[string]any{
		"total_items":        total,
		"promoted_items":     promoted,
		"needs_review_items": review,
		"failed_items":       failedN,
		"completed_at":       nil,
	}
	if total > 0 && moving == 0 {
		status = models.ImportBatchStatusCompleted
		updates["completed_at"] = time.Now()
	}
	updates["status"] = status
	if err := db.Model(&models.ImportBatch{}).Where("id = ?", batchID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return loadBatch(db, batchID)
}

func markBatchProcessing(db *gorm.DB, batchID string) error {
	return db.Model(&models.ImportBatch{}).
		Where("id = ? AND status <> ?", batchID, models.ImportBatchStatusProcessing).
		Updates(map[string]any{"status": models.ImportBatchStatusProcessing, "completed_at": nil}).Error
}

func chunkStrings(in []string, size int) [][]string {
	var out [][]string
	for size < len(in) {
		in, out = in[size:], append(out, in[:size])
	}
	return append(out, in)
}
