package models

import "time"

// PostingRecord is the append-only registry of posted documents.
// Unique constraint: (tenant_id, posting_key).
type PostingRecord struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	TenantId   string    `gorm:"size:64;not null;index:uniq_posting_key,unique,priority:1" json:"tenant_id"`
	PostingKey string    `gorm:"size:64;not null;index:uniq_posting_key,unique,priority:2" json:"posting_key"`
	BatchId    string    `gorm:"size:36;index" json:"batch_id"`
	ItemId     string    `gorm:"size:36" json:"item_id"`
	EntityType string    `gorm:"size:50;not null" json:"entity_type"`
	EntityId   string    `gorm:"size:36;not null" json:"entity_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ImportedDocument is the ledger-side entity created for a promoted item. The
// accounting consumer picks it up through the outbox.
type ImportedDocument struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	TenantId   string    `gorm:"size:64;not null;index" json:"tenant_id"`
	BatchId    string    `gorm:"size:36;index" json:"batch_id"`
	ItemId     string    `gorm:"size:36;index" json:"item_id"`
	EntityType string    `gorm:"size:50;not null" json:"entity_type"`
	DocType    string    `gorm:"size:30;not null" json:"doc_type"`
	PostingKey string    `gorm:"size:64;not null" json:"posting_key"`
	Payload    []byte    `gorm:"type:json" json:"payload"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
