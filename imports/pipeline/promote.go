package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/books_imports/imports/confidence"
	"github.com/mmdatafocus/books_imports/imports/posting"
	"github.com/mmdatafocus/books_imports/imports/tenancy"
	"github.com/mmdatafocus/books_imports/models"
	"github.com/mmdatafocus/books_imports/utils"
	"github.com/sirupsen/logrus"
)

type Outcome string

const (
	OutcomePromoted    Outcome = "promoted"
	OutcomeNeedsReview Outcome = "needs_review"
	OutcomeBlocked     Outcome = "blocked"
)

var ErrNotPromotable = errors.New("import item is not awaiting promotion")

// Promotion is the result of the promotion contract for one item.
type Promotion struct {
	Outcome     Outcome `json:"outcome"`
	Reason      string  `json:"reason,omitempty"`
	PostingKey  string  `json:"posting_key,omitempty"`
	EntityID    string  `json:"entity_id,omitempty"`
	DuplicateOf string  `json:"duplicate_of,omitempty"`
}

var promotionColumns = []string{
	"status", "review_reason", "confirmed_facets", "dedupe_hash", "posting_key", "posted_entity_id", "duplicate_of",
}

// promote decides the item's terminal state from its persisted scores and
// validation errors, posting it when approved. It writes st.item in memory
// only; callers persist promotionColumns.
func (r *Runner) promote(ctx context.Context, st *itemState) (Promotion, error) {
	item := st.item
	gate := r.gate(item)
	decision := r.policy.Decide(gate)
	tracker := r.facets(item, gate, decision)
	item.ConfirmedFacets = utils.MustJSON(tracker.Confirmed())

	var p Promotion
	errs := decodeErrors(item)
	switch {
	case len(errs) > 0:
		p.Outcome = OutcomeNeedsReview
		if decision == confidence.DecisionBlock {
			p.Outcome = OutcomeBlocked
		}
		p.Reason = "validation failed: " + strings.Join(sortedKeys(errs), ", ")
	case decision == confidence.DecisionAutoApprove:
	case gate.Level() == confidence.LevelUnknown:
		p.Outcome, p.Reason = OutcomeBlocked, "confidence unknown"
	case len(tracker.Low()) > 0 && tracker.AllConfirmed():
	case decision == confidence.DecisionBlock:
		p.Outcome = OutcomeBlocked
		p.Reason = fmt.Sprintf("confidence %s (%.2f); confirm facets: %s", gate.Level(), gate.Overall(), joinFacets(tracker.Pending()))
	default:
		p.Outcome = OutcomeNeedsReview
		p.Reason = fmt.Sprintf("confirmation required (%.2f); facets: %s", gate.Overall(), joinFacets(tracker.Pending()))
	}

	if p.Outcome != "" {
		item.Status = models.ImportItemStatusNeedsReview
		item.ReviewReason = &p.Reason
		return p, nil
	}

	doc, err := decodeCanonical(item)
	if err != nil {
		return p, err
	}
	res, err := r.posting.Post(ctx, posting.Candidate{
		TenantID:   item.TenantId,
		BatchID:    item.BatchId,
		ItemID:     item.ID,
		SourceType: st.batch.SourceType,
		Document:   doc,
	})
	if errors.Is(err, posting.ErrNoIdentifier) {
		p.Outcome, p.Reason = OutcomeNeedsReview, "document has no identifying fields"
		item.Status = models.ImportItemStatusNeedsReview
		item.ReviewReason = &p.Reason
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("post: %w", err)
	}

	p.Outcome = OutcomePromoted
	p.PostingKey = res.PostingKey
	p.EntityID = res.EntityID
	item.Status = models.ImportItemStatusPromoted
	item.PostingKey = &res.PostingKey
	item.PostedEntityId = &res.EntityID
	item.ReviewReason = nil
	if res.Duplicate && res.DuplicateOf.ItemId != item.ID {
		// Only the first promoted item of a logical document owns its hash.
		p.DuplicateOf = res.DuplicateOf.ItemId
		p.Reason = "already posted by item " + res.DuplicateOf.ItemId
		item.DuplicateOf = &p.DuplicateOf
		item.ReviewReason = &p.Reason
		item.DedupeHash = nil
	} else {
		item.DedupeHash = &res.PostingKey
		item.DuplicateOf = nil
	}
	return p, nil
}

func joinFacets(cs []confidence.Component) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}

// Promote re-applies the promotion contract to an item waiting in review,
// for instance after its scores were recomputed or its parties resolved.
func (r *Runner) Promote(ctx context.Context, tenantID, itemID string) (Promotion, error) {
	return r.review(ctx, tenantID, itemID, nil)
}

// ConfirmFacet records a reviewer's confirmation of one weak component and
// promotes the item once every weak component is confirmed and validation
// is clean.
func (r *Runner) ConfirmFacet(ctx context.Context, tenantID, itemID string, facet confidence.Component) (Promotion, error) {
	return r.review(ctx, tenantID, itemID, func(st *itemState) error {
		gate := r.gate(st.item)
		t := r.facets(st.item, gate, r.policy.Decide(gate))
		if err := t.Confirm(facet); err != nil {
			return err
		}
		st.item.LowConfidenceFacets = utils.MustJSON(t.Low())
		st.item.ConfirmedFacets = utils.MustJSON(t.Confirmed())
		return nil
	})
}

func (r *Runner) review(ctx context.Context, tenantID, itemID string, change func(*itemState) error) (Promotion, error) {
	db, err := tenancy.DB(ctx, r.db, tenantID)
	if err != nil {
		return Promotion{}, err
	}
	release, err := r.locker.Acquire(ctx, itemID)
	if err != nil {
		return Promotion{}, err
	}
	defer release()

	item, err := loadItem(db, itemID)
	if err != nil {
		return Promotion{}, err
	}
	if item.Status == models.ImportItemStatusPromoted {
		return Promotion{
			Outcome:     OutcomePromoted,
			PostingKey:  utils.DereferencePtr(item.PostingKey),
			EntityID:    utils.DereferencePtr(item.PostedEntityId),
			DuplicateOf: utils.DereferencePtr(item.DuplicateOf),
		}, nil
	}
	if item.Status != models.ImportItemStatusNeedsReview {
		return Promotion{}, fmt.Errorf("%w: status %s", ErrNotPromotable, item.Status)
	}
	if len(item.Canonical) == 0 {
		return Promotion{}, fmt.Errorf("%w: no extracted document", ErrNotPromotable)
	}
	batch, err := loadBatch(db, item.BatchId)
	if err != nil {
		return Promotion{}, err
	}

	st := &itemState{item: item, batch: batch}
	cols := promotionColumns
	if change != nil {
		if err := change(st); err != nil {
			return Promotion{}, err
		}
		cols = append([]string{"low_confidence_facets"}, promotionColumns...)
	}
	p, err := r.promote(db.Statement.Context, st)
	if err != nil {
		return Promotion{}, err
	}
	if err := db.Model(item).Select(cols).Updates(item).Error; err != nil {
		return Promotion{}, err
	}
	if p.Outcome == OutcomePromoted {
		if err := r.finish(db, st); err != nil {
			return p, err
		}
	}
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{
			"field":     "Pipeline",
			"tenant_id": tenantID,
			"item_id":   itemID,
			"outcome":   p.Outcome,
		}).Info("review applied")
	}
	return p, nil
}
