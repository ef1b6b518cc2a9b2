package locations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/catermatch-backend/internal/repo"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
)

type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// FindByAlias returns gorm.ErrRecordNotFound when the alias was never learned.
func (r *Repository) FindByAlias(ctx context.Context, alias string) (*models.LearnedLocation, error) {
	var loc models.LearnedLocation
	if err := r.DB(ctx).Where("alias = ?", alias).First(&loc).Error; err != nil {
		return nil, err
	}
	return &loc, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.LearnedLocation, error) {
	var loc models.LearnedLocation
	if err := r.DB(ctx).Where("id = ?", id).First(&loc).Error; err != nil {
		return nil, err
	}
	return &loc, nil
}

// IncrementUsage bumps the alias usage counter in place.
func (r *Repository) IncrementUsage(ctx context.Context, alias string) error {
	return r.DB(ctx).Model(&models.LearnedLocation{}).
		Where("alias = ?", alias).
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1")).Error
}

// Upsert inserts loc or overwrites the place data of the existing alias. The usage count of an
// existing row is kept.
func (r *Repository) Upsert(ctx context.Context, loc *models.LearnedLocation) (*models.LearnedLocation, error) {
	now := time.Now().UTC()
	if loc.ID == uuid.Nil {
		loc.ID = uuid.New()
	}
	loc.CreatedAt = now
	loc.UpdatedAt = now

	var out models.LearnedLocation
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "alias"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name", "city", "region", "latitude", "longitude", "source", "updated_at",
			}),
		}).Create(loc).Error
		if err != nil {
			return err
		}
		return tx.Where("alias = ?", loc.Alias).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes the location and returns the deleted row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (*models.LearnedLocation, error) {
	var out models.LearnedLocation
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&out).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.LearnedLocation{}).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListParams pages through learned locations, most used first.
type ListParams struct {
	Query  string
	Limit  int
	Offset int
}

func (r *Repository) List(ctx context.Context, params ListParams) ([]models.LearnedLocation, int64, error) {
	scoped := func() *gorm.DB {
		stmt := r.DB(ctx).Model(&models.LearnedLocation{})
		if q := NormalizeAlias(params.Query); q != "" {
			stmt = stmt.Where("alias LIKE ?", "%"+q+"%")
		}
		return stmt
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	stmt := scoped().Order("usage_count DESC, alias ASC")
	if params.Limit > 0 {
		stmt = stmt.Limit(params.Limit)
	}
	if params.Offset > 0 {
		stmt = stmt.Offset(params.Offset)
	}
	var out []models.LearnedLocation
	if err := stmt.Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
