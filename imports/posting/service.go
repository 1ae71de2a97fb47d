package posting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mmdatafocus/books_imports/config"
	"github.com/mmdatafocus/books_imports/imports/canonical"
	"github.com/mmdatafocus/books_imports/imports/tenancy"
	"github.com/mmdatafocus/books_imports/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNoDocument   = errors.New("posting candidate has no document")
	ErrNoIdentifier = errors.New("posting candidate has no identifying fields")
)

// Candidate is a promoted item ready to become a downstream entity.
type Candidate struct {
	TenantID   string
	BatchID    string
	ItemID     string
	SourceType string
	Document   *canonical.Document
}

func (c Candidate) entityType() string {
	if c.Document == nil {
		return ""
	}
	return c.Document.EntityType()
}

// Key returns the candidate's posting key.
func (c Candidate) Key() (string, error) {
	if c.Document == nil {
		return "", ErrNoDocument
	}
	fields := c.Document.IdentifyingFields()
	empty := true
	for _, v := range fields {
		if NormalizeValue(v) != "" {
			empty = false
			break
		}
	}
	if empty {
		return "", ErrNoIdentifier
	}
	return ComputePostingKey(c.TenantID, c.SourceType, c.entityType(), fields), nil
}

// Result describes the outcome of Post. A duplicate is a successful no-op
// pointing at the earlier posting.
type Result struct {
	PostingKey  string
	EntityID    string
	Duplicate   bool
	DuplicateOf *models.PostingRecord
}

// Poster creates the downstream entity inside the posting transaction.
type Poster interface {
	CreateEntity(ctx context.Context, tx *gorm.DB, c Candidate, postingKey, entityID string) error
}

type Service struct {
	db     *gorm.DB
	logger *logrus.Logger
	poster Poster
}

// NewService wires a posting service. A nil poster means the default
// ImportedDocument + outbox poster.
func NewService(db *gorm.DB, logger *logrus.Logger, poster Poster) *Service {
	if poster == nil {
		poster = LedgerPoster{}
	}
	return &Service{db: db, logger: logger, poster: poster}
}

// CheckAndRegister inserts rec unless a record with the same
// (tenant_id, posting_key) exists. It returns the stored record and whether
// rec lost to an earlier one.
func (s *Service) CheckAndRegister(ctx context.Context, tenantID string, rec models.PostingRecord) (models.PostingRecord, bool, error) {
	db, err := tenancy.DB(ctx, s.db, tenantID)
	if err != nil {
		return rec, false, err
	}
	var (
		stored models.PostingRecord
		dup    bool
	)
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		stored, dup, err = checkAndRegister(tx, tenantID, rec)
		return err
	})
	return stored, dup, err
}

func checkAndRegister(tx *gorm.DB, tenantID string, rec models.PostingRecord) (models.PostingRecord, bool, error) {
	rec.TenantId = tenantID
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "posting_key"}},
		DoNothing: true,
	}).Create(&rec)
	if res.Error != nil {
		return rec, false, res.Error
	}
	if res.RowsAffected == 1 {
		return rec, false, nil
	}
	var winner models.PostingRecord
	if err := tx.Where("posting_key = ?", rec.PostingKey).First(&winner).Error; err != nil {
		return rec, false, fmt.Errorf("read existing posting %s: %w", rec.PostingKey, err)
	}
	return winner, true, nil
}

// IsDuplicate looks the key up without writing.
func (s *Service) IsDuplicate(ctx context.Context, tenantID, postingKey string) (*models.PostingRecord, bool, error) {
	db, err := tenancy.DB(ctx, s.db, tenantID)
	if err != nil {
		return nil, false, err
	}
	var rec models.PostingRecord
	err = db.Where("posting_key = ?", postingKey).Limit(1).Find(&rec).Error
	if err != nil {
		return nil, false, err
	}
	if rec.ID == "" {
		return nil, false, nil
	}
	return &rec, true, nil
}

// Post registers the candidate's key and creates its entity in one
// transaction. Concurrent posts of the same document create one entity; the
// others return Duplicate with the winner's record.
func (s *Service) Post(ctx context.Context, c Candidate) (Result, error) {
	key, err := c.Key()
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(c.TenantID) == "" {
		return Result{}, tenancy.ErrTenantRequired
	}
	db, err := tenancy.DB(ctx, s.db, c.TenantID)
	if err != nil {
		return Result{}, err
	}
	scoped := db.Statement.Context

	out := Result{PostingKey: key}
	err = db.Transaction(func(tx *gorm.DB) error {
		rec := models.PostingRecord{
			PostingKey: key,
			BatchId:    c.BatchID,
			ItemId:     c.ItemID,
			EntityType: c.entityType(),
			EntityId:   uuid.NewString(),
		}
		stored, dup, err := checkAndRegister(tx, c.TenantID, rec)
		if err != nil {
			return err
		}
		if dup {
			out.Duplicate = true
			out.DuplicateOf = &stored
			out.EntityID = stored.EntityId
			return nil
		}
		if err := s.poster.CreateEntity(scoped, tx, c, key, stored.EntityId); err != nil {
			return fmt.Errorf("create %s: %w", c.entityType(), err)
		}
		out.EntityID = stored.EntityId
		return nil
	})
	if err != nil {
		config.LogError(s.logger, "posting", "Post", c.ItemID, map[string]any{
			"tenant_id": c.TenantID, "batch_id": c.BatchID, "posting_key": key,
		}, err)
		return Result{}, err
	}

	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"field":       "Posting",
			"tenant_id":   c.TenantID,
			"batch_id":    c.BatchID,
			"item_id":     c.ItemID,
			"posting_key": key,
			"entity_id":   out.EntityID,
			"duplicate":   out.Duplicate,
		}).Info("posting processed")
	}
	return out, nil
}
