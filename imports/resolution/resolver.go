// Package resolution maps raw party and account names seen in imports to
// tenant entities, remembering each decision for later imports.
package resolution

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/mmdatafocus/books_imports/imports/tenancy"
	"github.com/mmdatafocus/books_imports/models"
	"github.com/mmdatafocus/books_imports/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	EntitySupplier = "supplier"
	EntityCustomer = "customer"
	EntityProduct  = "product"

	ResolvedByAuto = "auto"
)

var ErrEmptyValue = errors.New("resolution value is empty")

var legalSuffixes = map[string]bool{
	"sl": true, "slu": true, "sa": true, "sas": true, "sac": true, "srl": true, "cv": true,
	"ltda": true, "cia": true, "inc": true, "llc": true, "ltd": true, "gmbh": true, "bv": true, "eirl": true,
}

type Candidate struct {
	EntityID string  `json:"entity_id"`
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
}

type Resolver struct {
	db     *gorm.DB
	logger *logrus.Logger
	// AutoThreshold is the similarity at or above which a match resolves
	// without a human.
	AutoThreshold float64
	// MinScore drops candidates that are not worth showing.
	MinScore float64
	// MaxCandidates caps the suggestion list.
	MaxCandidates int
}

func NewResolver(db *gorm.DB, logger *logrus.Logger) *Resolver {
	return &Resolver{db: db, logger: logger, AutoThreshold: 0.92, MinScore: 0.6, MaxCandidates: 5}
}

// NormalizeName folds accents, lower-cases, strips punctuation and trailing
// legal-form words: "Suministros Martínez, S.L." -> "suministros martinez".
func NormalizeName(raw string) string {
	s := strings.ToLower(utils.FoldAccents(raw))
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return r
		case r == '.' || r == '\'':
			return -1
		}
		return ' '
	}, s)
	words := strings.Fields(s)
	for len(words) > 1 {
		last := words[len(words)-1]
		if !legalSuffixes[last] && !(last == "de" && len(words) > 2) {
			break
		}
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// Similarity is 1 minus the edit distance over the longer length.
func Similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// Resolve returns the memo for raw, creating it on first sight. A memo that
// is already resolved or rejected is returned unchanged; otherwise entities
// of the type are ranked and a strong enough match resolves automatically.
func (r *Resolver) Resolve(ctx context.Context, tenantID, jobID, entityType, raw, taxID string) (models.ImportResolution, []Candidate, error) {
	norm := NormalizeName(raw)
	if norm == "" && strings.TrimSpace(taxID) == "" {
		return models.ImportResolution{}, nil, ErrEmptyValue
	}
	if norm == "" {
		norm = strings.ToLower(strings.TrimSpace(taxID))
	}
	db, err := tenancy.DB(ctx, r.db, tenantID)
	if err != nil {
		return models.ImportResolution{}, nil, err
	}

	var memo models.ImportResolution
	if err := db.Where("entity_type = ? AND normalized_value = ?", entityType, norm).Limit(1).Find(&memo).Error; err != nil {
		return memo, nil, err
	}
	if memo.ID != "" && memo.Status != models.ImportResolutionStatusPending {
		return memo, nil, nil
	}

	candidates, err := r.rank(db, entityType, norm, taxID)
	if err != nil {
		return memo, nil, err
	}

	update := models.ImportResolution{
		ImportJobId:     jobID,
		EntityType:      entityType,
		RawValue:        strings.TrimSpace(raw),
		NormalizedValue: norm,
		Status:          models.ImportResolutionStatusPending,
	}
	if len(candidates) > 0 {
		best := candidates[0]
		update.Confidence = best.Score
		if best.Score >= r.AutoThreshold {
			update.Status = models.ImportResolutionStatusResolved
			update.ResolvedId = &best.EntityID
			update.ResolvedBy = ResolvedByAuto
		}
	}

	if memo.ID == "" {
		update.ID = uuid.NewString()
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&update).Error; err != nil {
			return memo, nil, err
		}
	} else if err := db.Model(&models.ImportResolution{}).
		Where("id = ? AND status = ?", memo.ID, models.ImportResolutionStatusPending).
		Updates(map[string]any{
			"import_job_id": jobID,
			"raw_value":     update.RawValue,
			"confidence":    update.Confidence,
			"status":        update.Status,
			"resolved_id":   update.ResolvedId,
			"resolved_by":   update.ResolvedBy,
		}).Error; err != nil {
		return memo, nil, err
	}

	var stored models.ImportResolution
	if err := db.Where("entity_type = ? AND normalized_value = ?", entityType, norm).First(&stored).Error; err != nil {
		return stored, nil, err
	}
	if r.logger != nil && stored.Status == models.ImportResolutionStatusResolved {
		r.logger.WithFields(logrus.Fields{
			"field":       "Resolution",
			"tenant_id":   tenantID,
			"entity_type": entityType,
			"raw_value":   stored.RawValue,
			"confidence":  stored.Confidence,
		}).Debug("resolved automatically")
	}
	return stored, candidates, nil
}

func (r *Resolver) rank(db *gorm.DB, entityType, norm, taxID string) ([]Candidate, error) {
	var entities []models.ImportEntity
	if err := db.Where("entity_type = ?", entityType).Find(&entities).Error; err != nil {
		return nil, err
	}
	taxID = strings.ToUpper(strings.TrimSpace(taxID))
	var out []Candidate
	for _, e := range entities {
		score := Similarity(norm, NormalizeName(e.Name))
		if taxID != "" && strings.EqualFold(strings.TrimSpace(e.TaxId), taxID) {
			score = 1
		}
		if score < r.MinScore {
			continue
		}
		out = append(out, Candidate{EntityID: e.ID, Name: e.Name, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	if r.MaxCandidates > 0 && len(out) > r.MaxCandidates {
		out = out[:r.MaxCandidates]
	}
	return out, nil
}

// Confirm records a user's choice for raw; later imports reuse it.
func (r *Resolver) Confirm(ctx context.Context, tenantID, entityType, raw, entityID, user string) error {
	return r.decide(ctx, tenantID, entityType, raw, map[string]any{
		"status":      models.ImportResolutionStatusResolved,
		"resolved_id": &entityID,
		"resolved_by": user,
		"confidence":  1.0,
	})
}

// Reject records that raw has no matching entity.
func (r *Resolver) Reject(ctx context.Context, tenantID, entityType, raw, user string) error {
	return r.decide(ctx, tenantID, entityType, raw, map[string]any{
		"status":      models.ImportResolutionStatusRejected,
		"resolved_id": nil,
		"resolved_by": user,
	})
}

func (r *Resolver) decide(ctx context.Context, tenantID, entityType, raw string, updates map[string]any) error {
	norm := NormalizeName(raw)
	if norm == "" {
		return ErrEmptyValue
	}
	db, err := tenancy.DB(ctx, r.db, tenantID)
	if err != nil {
		return err
	}
	res := db.Model(&models.ImportResolution{}).
		Where("entity_type = ? AND normalized_value = ?", entityType, norm).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Pending lists unresolved memos of one import job.
func (r *Resolver) Pending(ctx context.Context, tenantID, jobID string) ([]models.ImportResolution, error) {
	db, err := tenancy.DB(ctx, r.db, tenantID)
	if err != nil {
		return nil, err
	}
	var out []models.ImportResolution
	err = db.Where("import_job_id = ? AND status = ?", jobID, models.ImportResolutionStatusPending).
		Order("raw_value").Find(&out).Error
	return out, err
}
