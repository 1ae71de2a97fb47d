package models

import "time"

type ImportBatchStatus string

const (
	ImportBatchStatusOpen       ImportBatchStatus = "open"
	ImportBatchStatusProcessing ImportBatchStatus = "processing"
	ImportBatchStatusCompleted  ImportBatchStatus = "completed"
)

// ImportBatch is one uploaded file (or one external pull) and the items it produced.
// Counters are derived from item states and recomputed after every terminal transition.
type ImportBatch struct {
	ID               string            `gorm:"primaryKey;size:36" json:"id"`
	TenantId         string            `gorm:"size:64;not null;index" json:"tenant_id"`
	SourceType       string            `gorm:"size:50;not null" json:"source_type"`
	Origin           string            `gorm:"size:100;not null" json:"origin"`
	FileKey          *string           `gorm:"size:255" json:"file_key"`
	Country          string            `gorm:"size:2" json:"country"`
	Currency         string            `gorm:"size:3" json:"currency"`
	DocType          string            `gorm:"size:30" json:"doc_type"`
	Metadata         []byte            `gorm:"type:json" json:"metadata"`
	Status           ImportBatchStatus `gorm:"size:20;not null;index;default:'open'" json:"status"`
	TotalItems       int               `gorm:"not null;default:0" json:"total_items"`
	PromotedItems    int               `gorm:"not null;default:0" json:"promoted_items"`
	NeedsReviewItems int               `gorm:"not null;default:0" json:"needs_review_items"`
	FailedItems      int               `gorm:"not null;default:0" json:"failed_items"`
	CompletedAt      *time.Time        `json:"completed_at"`
	CreatedAt        time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
