package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/books_imports/imports/confidence"
	"github.com/mmdatafocus/books_imports/imports/tenancy"
	"github.com/mmdatafocus/books_imports/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var ErrItemTerminal = errors.New("import item already finished")

// Orchestrator is the caller-facing API of the pipeline: batches, ingest,
// triggers and review actions.
type Orchestrator struct {
	db       *gorm.DB
	logger   *logrus.Logger
	store    *Store
	runner   *Runner
	executor Executor
}

func NewOrchestrator(db *gorm.DB, logger *logrus.Logger, runner *Runner, executor Executor) *Orchestrator {
	if executor == nil {
		executor = NewInlineExecutor(runner, runner.collector)
	}
	return &Orchestrator{db: db, logger: logger, store: NewStore(db), runner: runner, executor: executor}
}

func (o *Orchestrator) Store() *Store       { return o.store }
func (o *Orchestrator) Executor() Executor { return o.executor }

func (o *Orchestrator) CreateBatch(ctx context.Context, in NewBatch) (string, error) {
	b, err := o.store.CreateBatch(ctx, in)
	if err != nil {
		return "", err
	}
	return b.ID, nil
}

func (o *Orchestrator) Ingest(ctx context.Context, tenantID, batchID string, pr ParseResult) (IngestResult, error) {
	return o.store.Ingest(ctx, tenantID, batchID, pr)
}

// EnqueueItemPipeline schedules one item. A failed item is reset first;
// promoted or reviewed items are not run again.
func (o *Orchestrator) EnqueueItemPipeline(ctx context.Context, tenantID, itemID string) (string, error) {
	db, err := tenancy.DB(ctx, o.db, tenantID)
	if err != nil {
		return "", err
	}
	item, err := loadItem(db, itemID)
	if err != nil {
		return "", err
	}
	switch item.Status {
	case models.ImportItemStatusPromoted, models.ImportItemStatusNeedsReview:
		return "", fmt.Errorf("%w: %s", ErrItemTerminal, item.Status)
	case models.ImportItemStatusFailed:
		if _, err := resetFailed(db, item.BatchId, item.ID); err != nil {
			return "", err
		}
	}
	if err := markBatchProcessing(db, item.BatchId); err != nil {
		return "", err
	}
	handles, err := o.executor.Submit(ctx, []ItemTask{{TenantID: tenantID, BatchID: item.BatchId, ItemID: item.ID}})
	if err != nil {
		return "", err
	}
	return handles[0], nil
}

// EnqueueBatchPipeline fans out every pending or failed item of the batch as
// an independent chain and returns how many were scheduled.
func (o *Orchestrator) EnqueueBatchPipeline(ctx context.Context, tenantID, batchID string) (int, error) {
	db, err := tenancy.DB(ctx, o.db, tenantID)
	if err != nil {
		return 0, err
	}
	if _, err := loadBatch(db, batchID); err != nil {
		return 0, err
	}
	if _, err := resetFailed(db, batchID, ""); err != nil {
		return 0, err
	}
	var ids []string
	if err := db.Model(&models.ImportItem{}).
		Where("batch_id = ? AND status = ?", batchID, models.ImportItemStatusPending).
		Order("idx").Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	return o.submit(ctx, db, tenantID, batchID, ids)
}

// RetryFailedItems puts the batch's failed items back to pending, clears
// their error and schedules their whole chain again.
func (o *Orchestrator) RetryFailedItems(ctx context.Context, tenantID, batchID string) (int, error) {
	db, err := tenancy.DB(ctx, o.db, tenantID)
	if err != nil {
		return 0, err
	}
	if _, err := loadBatch(db, batchID); err != nil {
		return 0, err
	}
	ids, err := resetFailed(db, batchID, "")
	if err != nil {
		return 0, err
	}
	if o.logger != nil {
		o.logger.WithFields(logrus.Fields{
			"field":     "Pipeline",
			"tenant_id": tenantID,
			"batch_id":  batchID,
			"count":     len(ids),
		}).Info("retrying failed items")
	}
	return o.submit(ctx, db, tenantID, batchID, ids)
}

func (o *Orchestrator) submit(ctx context.Context, db *gorm.DB, tenantID, batchID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := markBatchProcessing(db, batchID); err != nil {
		return 0, err
	}
	tasks := make([]ItemTask, len(ids))
	for i, id := range ids {
		tasks[i] = ItemTask{TenantID: tenantID, BatchID: batchID, ItemID: id}
	}
	handles, err := o.executor.Submit(ctx, tasks)
	return len(handles), err
}

// resetFailed moves failed items (all of the batch, or just itemID) back to
// pending and returns their ids.
func resetFailed(db *gorm.DB, batchID, itemID string) ([]string, error) {
	var ids []string
	err := db.Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.ImportItem{}).Where("batch_id = ? AND status = ?", batchID, models.ImportItemStatusFailed)
		if itemID != "" {
			q = q.Where("id = ?", itemID)
		}
		if err := q.Order("idx").Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.ImportItem{}).
			Where("id IN ? AND status = ?", ids, models.ImportItemStatusFailed).
			Updates(map[string]any{
				"status":        models.ImportItemStatusPending,
				"error":         nil,
				"review_reason": nil,
			}).Error
	})
	if err != nil || len(ids) == 0 {
		return ids, err
	}
	_, err = refreshBatch(db, batchID)
	return ids, err
}

// Promote applies the promotion contract to an item in review.
func (o *Orchestrator) Promote(ctx context.Context, tenantID, itemID string) (Promotion, error) {
	return o.runner.Promote(ctx, tenantID, itemID)
}

func (o *Orchestrator) ConfirmFacet(ctx context.Context, tenantID, itemID string, facet confidence.Component) (Promotion, error) {
	return o.runner.ConfirmFacet(ctx, tenantID, itemID, facet)
}
