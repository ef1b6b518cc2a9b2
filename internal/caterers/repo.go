package caterers

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catermatch-backend/internal/repo"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

// CandidateFilter narrows the directory read used by matching.
type CandidateFilter struct {
	// MinCapacity keeps caterers whose max_guests is at least this value.
	MinCapacity int
	Tier        *enums.CatererTier
	// City is matched as a case-insensitive substring of the caterer's city.
	City  string
	Limit int
}

// Repository reads the caterer directory.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// ListCandidates returns active, subscribed caterers passing the filter, least recently assigned first.
func (r *Repository) ListCandidates(ctx context.Context, filter CandidateFilter) ([]models.Caterer, error) {
	q := r.DB(ctx).Model(&models.Caterer{}).
		Where("is_active = ? AND subscription_active = ?", true, true)
	if filter.MinCapacity > 0 {
		q = q.Where("max_guests >= ?", filter.MinCapacity)
	}
	if filter.Tier != nil {
		q = q.Where("tier = ?", *filter.Tier)
	}
	if city := NormalizeCity(filter.City); city != "" {
		q = q.Where(`LOWER(city) LIKE ? ESCAPE '\'`, ContainsPattern(city))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var out []models.Caterer
	if err := q.Order(RotationOrder).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Caterer, error) {
	var caterer models.Caterer
	if err := r.DB(ctx).Where("id = ?", id).First(&caterer).Error; err != nil {
		return nil, err
	}
	return &caterer, nil
}

// FindByIDs loads the requested caterers keyed by id, inside tx when one is supplied. Missing ids
// are simply absent.
func (r *Repository) FindByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]models.Caterer, error) {
	out := make(map[uuid.UUID]models.Caterer, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Caterer
	if err := r.Conn(ctx, tx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// RotationOrder puts never-assigned caterers first, then the longest-waiting, with stable tie-breaks.
const RotationOrder = "last_job_assigned_at ASC NULLS FIRST, created_at ASC, id ASC"

// NormalizeCity trims, collapses inner whitespace and lowercases a city name.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.Join(strings.Fields(city), " "))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern builds a LIKE pattern matching value anywhere, escaping wildcards.
func ContainsPattern(value string) string {
	return "%" + likeEscaper.Replace(value) + "%"
}
