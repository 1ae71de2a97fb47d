package models

import "time"

type ImportResolutionStatus string

const (
	ImportResolutionStatusPending  ImportResolutionStatus = "pending"
	ImportResolutionStatusResolved ImportResolutionStatus = "resolved"
	ImportResolutionStatusRejected ImportResolutionStatus = "rejected"
)

// ImportResolution remembers how a raw value seen in an import maps to a
// tenant entity so the next import does not ask again.
// Unique constraint: (tenant_id, entity_type, normalized_value).
type ImportResolution struct {
	ID              string                 `gorm:"primaryKey;size:36" json:"id"`
	TenantId        string                 `gorm:"size:64;not null;index:uniq_import_resolution,unique,priority:1" json:"tenant_id"`
	ImportJobId     string                 `gorm:"size:36;index" json:"import_job_id"`
	EntityType      string                 `gorm:"size:50;not null;index:uniq_import_resolution,unique,priority:2" json:"entity_type"`
	RawValue        string                 `gorm:"size:255;not null" json:"raw_value"`
	NormalizedValue string                 `gorm:"size:255;not null;index:uniq_import_resolution,unique,priority:3" json:"normalized_value"`
	ResolvedId      *string                `gorm:"size:64" json:"resolved_id"`
	Status          ImportResolutionStatus `gorm:"size:20;not null;default:'pending'" json:"status"`
	Confidence      float64                `json:"confidence"`
	ResolvedBy      string                 `gorm:"size:64" json:"resolved_by"`
	CreatedAt       time.Time              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time              `gorm:"autoUpdateTime" json:"updated_at"`
}

// ImportEntity is a minimal resolvable target (supplier, customer, account,
// product) as seen by the resolution service.
type ImportEntity struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	TenantId   string    `gorm:"size:64;not null;index:idx_import_entity_lookup,priority:1" json:"tenant_id"`
	EntityType string    `gorm:"size:50;not null;index:idx_import_entity_lookup,priority:2" json:"entity_type"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	TaxId      string    `gorm:"size:64" json:"tax_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
