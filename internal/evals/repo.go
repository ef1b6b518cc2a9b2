package evals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catermatch-backend/internal/repo"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
)

type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) CreateLocation(ctx context.Context, eval *models.LocationEval) error {
	if eval.ID == uuid.Nil {
		eval.ID = uuid.New()
	}
	if eval.CreatedAt.IsZero() {
		eval.CreatedAt = time.Now().UTC()
	}
	return r.DB(ctx).Create(eval).Error
}

func (r *Repository) CreateMatching(ctx context.Context, eval *models.MatchingEval) error {
	if eval.ID == uuid.Nil {
		eval.ID = uuid.New()
	}
	if eval.CreatedAt.IsZero() {
		eval.CreatedAt = time.Now().UTC()
	}
	return r.DB(ctx).Create(eval).Error
}

// VerifyLocation stores a reviewer's verdict on a location eval. Returns gorm.ErrRecordNotFound
// for unknown ids.
func (r *Repository) VerifyLocation(ctx context.Context, id uuid.UUID, correct bool, correctedCity *string, at time.Time) (*models.LocationEval, error) {
	var out models.LocationEval
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.LocationEval{}).Where("id = ?", id).Updates(map[string]any{
			"is_correct":     correct,
			"corrected_city": correctedCity,
			"verified_at":    at.UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("id = ?", id).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordMatchingOutcome attaches outcome to the newest successful matching eval of the request.
// It reports whether any eval was updated.
func (r *Repository) RecordMatchingOutcome(ctx context.Context, requestID uuid.UUID, outcome string, at time.Time) (bool, error) {
	latest := r.DB(ctx).Model(&models.MatchingEval{}).
		Select("id").
		Where("event_request_id = ? AND success = ?", requestID, true).
		Order("created_at DESC").
		Limit(1)
	res := r.DB(ctx).Model(&models.MatchingEval{}).
		Where("id = (?)", latest).
		Updates(map[string]any{
			"outcome":    outcome,
			"outcome_at": at.UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

type locationCounts struct {
	Total    int64
	Found    int64
	Verified int64
	Correct  int64
}

func (r *Repository) LocationCounts(ctx context.Context, since time.Time) (locationCounts, error) {
	var out locationCounts
	err := r.DB(ctx).Model(&models.LocationEval{}).
		Select(`COUNT(*) AS total,
  COALESCE(SUM(CASE WHEN found THEN 1 ELSE 0 END), 0) AS found,
  COALESCE(SUM(CASE WHEN is_correct IS NOT NULL THEN 1 ELSE 0 END), 0) AS verified,
  COALESCE(SUM(CASE WHEN is_correct THEN 1 ELSE 0 END), 0) AS correct`).
		Where("created_at >= ?", since.UTC()).
		Scan(&out).Error
	return out, err
}

type matchingCounts struct {
	Total     int64
	Succeeded int64
	Outcomes  int64
	Accepted  int64
}

func (r *Repository) MatchingCounts(ctx context.Context, since time.Time) (matchingCounts, error) {
	var out matchingCounts
	err := r.DB(ctx).Model(&models.MatchingEval{}).
		Select(`COUNT(*) AS total,
  COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS succeeded,
  COALESCE(SUM(CASE WHEN outcome IS NOT NULL THEN 1 ELSE 0 END), 0) AS outcomes,
  COALESCE(SUM(CASE WHEN outcome = 'accepted' THEN 1 ELSE 0 END), 0) AS accepted`).
		Where("created_at >= ?", since.UTC()).
		Scan(&out).Error
	return out, err
}

type sourceCount struct {
	Source string
	Total  int64
}

func (r *Repository) MatchingBySource(ctx context.Context, since time.Time) ([]sourceCount, error) {
	var out []sourceCount
	err := r.DB(ctx).Model(&models.MatchingEval{}).
		Select("source, COUNT(*) AS total").
		Where("created_at >= ?", since.UTC()).
		Group("source").
		Order("source").
		Scan(&out).Error
	return out, err
}
