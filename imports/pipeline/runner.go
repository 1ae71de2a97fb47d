// Package pipeline drives import items through the stage chain
// preprocess → ocr → classify → extract → validate → publish and decides
// their terminal state. How items are scheduled is the Executor's business;
// every executor ends up calling the same Runner.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/books_imports/config"
	"github.com/mmdatafocus/books_imports/imports/confidence"
	"github.com/mmdatafocus/books_imports/imports/countryrules"
	"github.com/mmdatafocus/books_imports/imports/extractors"
	"github.com/mmdatafocus/books_imports/imports/monitoring"
	"github.com/mmdatafocus/books_imports/imports/posting"
	"github.com/mmdatafocus/books_imports/imports/resolution"
	"github.com/mmdatafocus/books_imports/imports/tenancy"
	"github.com/mmdatafocus/books_imports/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const defaultMaxImageSide = 2400

// ItemTask is the unit of work an executor schedules.
type ItemTask struct {
	TenantID string `json:"tenant_id"`
	BatchID  string `json:"batch_id"`
	ItemID   string `json:"item_id"`
}

func (t ItemTask) Validate() error {
	if t.TenantID == "" {
		return tenancy.ErrTenantRequired
	}
	if t.ItemID == "" {
		return fmt.Errorf("%w: item_id is required", ErrInvalidInput)
	}
	return nil
}

func DecodeTask(data []byte) (ItemTask, error) {
	var t ItemTask
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return t, t.Validate()
}

// Deps are the collaborators of a Runner. Nil fields get defaults built
// from the database and settings.
type Deps struct {
	Extractors extractors.Registry
	Rules      *countryrules.Registry
	Resolver   *resolution.Resolver
	Posting    *posting.Service
	Recognizer TextRecognizer
	Locker     ItemLocker
	Collector  *monitoring.Collector
	Tracer     trace.Tracer
}

type Runner struct {
	db         *gorm.DB
	logger     *logrus.Logger
	extractors extractors.Registry
	rules      *countryrules.Registry
	resolver   *resolution.Resolver
	posting    *posting.Service
	recognizer TextRecognizer
	locker     ItemLocker
	collector  *monitoring.Collector
	tracer     trace.Tracer

	weights        confidence.Weights
	policy         confidence.Policy
	facetThreshold float64
	maxImageSide   int
}

func NewRunner(db *gorm.DB, logger *logrus.Logger, s config.ImportSettings, d Deps) *Runner {
	r := &Runner{
		db:         db,
		logger:     logger,
		extractors: d.Extractors,
		rules:      d.Rules,
		resolver:   d.Resolver,
		posting:    d.Posting,
		recognizer: d.Recognizer,
		locker:     d.Locker,
		collector:  d.Collector,
		tracer:     d.Tracer,
		weights: confidence.Weights{
			Parser:     s.WeightParser,
			DocType:    s.WeightDocType,
			Mapping:    s.WeightMapping,
			Validation: s.WeightValidation,
		},
		policy: confidence.Policy{
			AutoApprove: s.AutoApproveThreshold,
			Confirm:     s.ConfirmThreshold,
		},
		facetThreshold: s.FacetThreshold,
		maxImageSide:   defaultMaxImageSide,
	}
	if r.extractors == nil {
		r.extractors = extractors.DefaultRegistry()
	}
	if r.rules == nil {
		r.rules = countryrules.Default(s.TaxTolerance)
	}
	if r.resolver == nil {
		r.resolver = resolution.NewResolver(db, logger)
	}
	if r.posting == nil {
		r.posting = posting.NewService(db, logger, nil)
	}
	if r.locker == nil {
		r.locker = NewMutexLocker()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("github.com/mmdatafocus/books_imports/imports/pipeline")
	}
	if r.facetThreshold <= 0 {
		r.facetThreshold = confidence.DefaultPolicy().Confirm
	}
	return r
}

// Run drives one item from its current status to a terminal one. Terminal
// items are left alone, so redelivered tasks are harmless. A stage error
// marks the item failed, or sends it to review when its content cannot be
// read, and is not returned; an error is returned only when
// the item could not be loaded, locked or saved, and the task should be
// delivered again.
func (r *Runner) Run(ctx context.Context, task ItemTask) (models.ImportItemStatus, error) {
	r.collector.Dequeued()
	if err := task.Validate(); err != nil {
		return "", err
	}
	db, err := tenancy.DB(ctx, r.db, task.TenantID)
	if err != nil {
		return "", err
	}
	release, err := r.locker.Acquire(ctx, task.ItemID)
	if err != nil {
		return "", err
	}
	defer release()

	item, err := loadItem(db, task.ItemID)
	if err != nil {
		return "", err
	}
	if item.Status.IsTerminal() {
		return item.Status, nil
	}
	batch, err := loadBatch(db, item.BatchId)
	if err != nil {
		return "", err
	}

	ctx, span := r.tracer.Start(db.Statement.Context, "imports.item", trace.WithAttributes(
		attribute.String("tenant_id", item.TenantId),
		attribute.String("batch_id", item.BatchId),
		attribute.String("item_id", item.ID),
		attribute.String("format", item.Format),
	))
	defer span.End()
	db = db.WithContext(ctx)

	if err := db.Model(item).Update("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
		return "", err
	}
	item.Attempts++

	st := &itemState{item: item, batch: batch}
	chain := r.chain()
	for _, s := range chain[resumeAt(chain, item.Status):] {
		if err := r.runStage(ctx, db, st, s); err != nil {
			var perr persistError
			if errors.As(err, &perr) {
				span.RecordError(err)
				return item.Status, perr.err
			}
			if unreadable(err) {
				if rerr := r.reject(db, st, s.name, err); rerr != nil {
					return item.Status, rerr
				}
				span.SetStatus(codes.Error, err.Error())
				return item.Status, nil
			}
			if ferr := r.fail(db, st, s.name, err); ferr != nil {
				return item.Status, ferr
			}
			span.SetStatus(codes.Error, err.Error())
			return item.Status, nil
		}
	}
	if err := r.finish(db, st); err != nil {
		return item.Status, err
	}
	return item.Status, nil
}

// persistError wraps failures to save stage output; they leave the item
// where it was so the task can be delivered again.
type persistError struct{ err error }

func (e persistError) Error() string { return e.err.Error() }

func (r *Runner) runStage(ctx context.Context, db *gorm.DB, st *itemState, s stage) error {
	if st.item.Status != s.status {
		if err := db.Model(st.item).Update("status", s.status).Error; err != nil {
			return persistError{err}
		}
		st.item.Status = s.status
	}

	ctx, span := r.tracer.Start(ctx, "imports.stage."+s.name)
	defer span.End()
	started := time.Now()
	cols, err := s.fn(ctx, db, st)
	r.collector.ObserveStage(s.name, time.Since(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if len(cols) == 0 {
		return nil
	}
	if err := db.Model(st.item).Select(cols).Updates(st.item).Error; err != nil {
		return persistError{err}
	}
	return nil
}

func (r *Runner) fail(db *gorm.DB, st *itemState, stageName string, cause error) error {
	msg := fmt.Sprintf("%s: %v", stageName, cause)
	st.item.Status = models.ImportItemStatusFailed
	st.item.Error = &msg
	if err := db.Model(st.item).Select("status", "error").Updates(st.item).Error; err != nil {
		return err
	}
	config.LogError(r.logger, "pipeline", "Run", st.item.ID, map[string]any{
		"tenant_id": st.item.TenantId,
		"batch_id":  st.item.BatchId,
		"stage":     stageName,
	}, cause)
	return r.finish(db, st)
}

// reject sends an item whose content could not be read to review, keeping
// the stage error as its detail.
func (r *Runner) reject(db *gorm.DB, st *itemState, stageName string, cause error) error {
	msg := fmt.Sprintf("%s: %v", stageName, cause)
	reason := "unreadable document"
	st.item.Status = models.ImportItemStatusNeedsReview
	st.item.Error = &msg
	st.item.ReviewReason = &reason
	if err := db.Model(st.item).Select("status", "error", "review_reason").Updates(st.item).Error; err != nil {
		return err
	}
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{
			"field":     "Pipeline",
			"tenant_id": st.item.TenantId,
			"batch_id":  st.item.BatchId,
			"item_id":   st.item.ID,
			"stage":     stageName,
		}).Warn("item sent to review: " + cause.Error())
	}
	return r.finish(db, st)
}

// finish records a terminal transition on the batch and in monitoring.
func (r *Runner) finish(db *gorm.DB, st *itemState) error {
	r.collector.ObserveItem(string(st.item.Status))
	batch, err := refreshBatch(db, st.item.BatchId)
	if err != nil {
		return err
	}
	st.batch = batch
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{
			"field":     "Pipeline",
			"tenant_id": st.item.TenantId,
			"batch_id":  st.item.BatchId,
			"item_id":   st.item.ID,
			"status":    st.item.Status,
			"decision":  st.item.Decision,
		}).Info("import item finished")
	}
	return nil
}
