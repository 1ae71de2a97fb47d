package posting

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/mmdatafocus/books_imports/models"
	"github.com/mmdatafocus/books_imports/utils"
	"gorm.io/gorm"
)

// DocumentPostedEvent is the outbox payload read by the accounting consumer.
type DocumentPostedEvent struct {
	TenantID   string          `json:"tenant_id"`
	EntityID   string          `json:"entity_id"`
	EntityType string          `json:"entity_type"`
	DocType    string          `json:"doc_type"`
	BatchID    string          `json:"batch_id"`
	ItemID     string          `json:"item_id"`
	PostingKey string          `json:"posting_key"`
	Document   json.RawMessage `json:"document"`
}

// LedgerPoster stores the canonical document as an ImportedDocument and queues
// a document.posted message in the same transaction (transactional outbox).
type LedgerPoster struct{}

func (LedgerPoster) CreateEntity(ctx context.Context, tx *gorm.DB, c Candidate, postingKey, entityID string) error {
	payload, err := json.Marshal(c.Document)
	if err != nil {
		return err
	}
	doc := models.ImportedDocument{
		ID:         entityID,
		TenantId:   c.TenantID,
		BatchId:    c.BatchID,
		ItemId:     c.ItemID,
		EntityType: c.entityType(),
		DocType:    string(c.Document.DocType),
		PostingKey: postingKey,
		Payload:    payload,
	}
	if err := tx.Create(&doc).Error; err != nil {
		return err
	}

	event, err := json.Marshal(DocumentPostedEvent{
		TenantID:   c.TenantID,
		EntityID:   entityID,
		EntityType: doc.EntityType,
		DocType:    doc.DocType,
		BatchID:    c.BatchID,
		ItemID:     c.ItemID,
		PostingKey: postingKey,
		Document:   payload,
	})
	if err != nil {
		return err
	}
	msg := models.ImportOutboxMessage{
		TenantId:      c.TenantID,
		AggregateType: doc.EntityType,
		AggregateId:   entityID,
		EventType:     models.OutboxEventDocumentPosted,
		Payload:       event,
		PublishStatus: models.OutboxPublishStatusPending,
		CorrelationId: correlationID(ctx),
	}
	return tx.Create(&msg).Error
}

func correlationID(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
