package models

import "time"

type ImportItemStatus string

const (
	ImportItemStatusPending       ImportItemStatus = "pending"
	ImportItemStatusPreprocessing ImportItemStatus = "preprocessing"
	ImportItemStatusOCR           ImportItemStatus = "ocr"
	ImportItemStatusClassifying   ImportItemStatus = "classifying"
	ImportItemStatusExtracting    ImportItemStatus = "extracting"
	ImportItemStatusValidating    ImportItemStatus = "validating"
	ImportItemStatusPromoted      ImportItemStatus = "promoted"
	ImportItemStatusNeedsReview   ImportItemStatus = "needs_review"
	ImportItemStatusFailed        ImportItemStatus = "failed"
)

func (s ImportItemStatus) IsTerminal() bool {
	switch s {
	case ImportItemStatusPromoted, ImportItemStatusNeedsReview, ImportItemStatusFailed:
		return true
	}
	return false
}

// ImportItem is one document inside a batch. Raw is kept verbatim; every later
// column is written by a pipeline stage.
//
// Unique constraints:
//   - (batch_id, idx)
//   - (batch_id, idempotency_key)
//   - (tenant_id, dedupe_hash); dedupe_hash stays NULL until the item is promoted
type ImportItem struct {
	ID             string           `gorm:"primaryKey;size:36" json:"id"`
	TenantId       string           `gorm:"size:64;not null;index;index:uniq_import_item_dedupe,unique,priority:1" json:"tenant_id"`
	BatchId        string           `gorm:"size:36;not null;index:uniq_import_item_idx,unique,priority:1;index:uniq_import_item_idem,unique,priority:1" json:"batch_id"`
	Idx            int              `gorm:"not null;index:uniq_import_item_idx,unique,priority:2" json:"idx"`
	IdempotencyKey *string          `gorm:"size:128;index:uniq_import_item_idem,unique,priority:2" json:"idempotency_key"`
	Format         string           `gorm:"size:30;not null" json:"format"`
	Ref            string           `gorm:"size:100" json:"ref"`
	Filename       string           `gorm:"size:255" json:"filename"`
	ContentType    string           `gorm:"size:100" json:"content_type"`
	Raw            []byte           `gorm:"type:longblob" json:"-"`
	Preprocessed   []byte           `gorm:"type:longblob" json:"-"`
	Normalized     string           `gorm:"type:longtext" json:"normalized"`
	Status         ImportItemStatus `gorm:"size:20;not null;index;default:'pending'" json:"status"`

	ClassifiedDocType        string  `gorm:"size:30" json:"classified_doc_type"`
	ClassificationConfidence float64 `json:"classification_confidence"`

	Canonical        []byte `gorm:"type:json" json:"canonical"`
	MappedFields     []byte `gorm:"type:json" json:"mapped_fields"`
	UnmappedFields   []byte `gorm:"type:json" json:"unmapped_fields"`
	ValidationErrors []byte `gorm:"type:json" json:"validation_errors"`

	ParserConfidence     float64 `json:"parser_confidence"`
	MappingConfidence    float64 `json:"mapping_confidence"`
	ValidationConfidence float64 `json:"validation_confidence"`
	OverallConfidence    float64 `json:"overall_confidence"`
	ConfidenceLevel      string  `gorm:"size:10" json:"confidence_level"`
	Decision             string  `gorm:"size:20" json:"decision"`
	ReviewReason         *string `gorm:"type:text" json:"review_reason"`

	LowConfidenceFacets []byte `gorm:"type:json" json:"low_confidence_facets"`
	ConfirmedFacets     []byte `gorm:"type:json" json:"confirmed_facets"`

	DedupeHash     *string `gorm:"size:64;index:uniq_import_item_dedupe,unique,priority:2" json:"dedupe_hash"`
	PostingKey     *string `gorm:"size:64;index" json:"posting_key"`
	PostedEntityId *string `gorm:"size:36" json:"posted_entity_id"`
	DuplicateOf    *string `gorm:"size:36" json:"duplicate_of"`

	Error     *string   `gorm:"type:text" json:"error"`
	Attempts  int       `gorm:"not null;default:0" json:"attempts"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
