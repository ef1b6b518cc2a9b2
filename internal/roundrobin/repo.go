package roundrobin

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catermatch-backend/internal/caterers"
	"github.com/angelmondragon/catermatch-backend/internal/repo"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

// advanceCursorSQL moves the (tier, city) cursor forward in a single statement so concurrent
// commits serialize on the row instead of reading and writing back a stale index.
const advanceCursorSQL = `INSERT INTO round_robin_states (tier, city, assignment_index, last_assigned_caterer_id, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (tier, city) DO UPDATE SET
  assignment_index = round_robin_states.assignment_index + EXCLUDED.assignment_index,
  last_assigned_caterer_id = COALESCE(EXCLUDED.last_assigned_caterer_id, round_robin_states.last_assigned_caterer_id),
  updated_at = EXCLUDED.updated_at
RETURNING assignment_index`

// stampStep separates the assignment stamps of one batch; it is the timestamptz resolution.
const stampStep = time.Microsecond

// TierCap is the monthly cap applied when stamping a caterer of Tier.
type TierCap struct {
	Tier    enums.CatererTier
	Limit   int
	Limited bool
}

// PoolQuery selects the caterers a rotation walks over.
type PoolQuery struct {
	// Tier restricts the pool; nil means any tier (fallback pools).
	Tier *enums.CatererTier
	// City is the normalized city, matched as a substring.
	City string
	// RequireSubscription keeps only caterers with an active subscription.
	RequireSubscription bool
	Limit               int
}

type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// ListPool returns active caterers for q in rotation order. tx may be nil.
func (r *Repository) ListPool(ctx context.Context, tx *gorm.DB, q PoolQuery) ([]models.Caterer, error) {
	stmt := r.Conn(ctx, tx).Model(&models.Caterer{}).Where("is_active = ?", true)
	if q.RequireSubscription {
		stmt = stmt.Where("subscription_active = ?", true)
	}
	if q.Tier != nil {
		stmt = stmt.Where("tier = ?", *q.Tier)
	}
	if q.City != "" {
		stmt = stmt.Where(`LOWER(city) LIKE ? ESCAPE '\'`, caterers.ContainsPattern(q.City))
	}
	if q.Limit > 0 {
		stmt = stmt.Limit(q.Limit)
	}
	var out []models.Caterer
	if err := stmt.Order(caterers.RotationOrder).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// GetState returns the cursor for (tier, city), or a zero state when none exists yet.
func (r *Repository) GetState(ctx context.Context, tx *gorm.DB, tier enums.CatererTier, city string) (*models.RoundRobinState, error) {
	var state models.RoundRobinState
	err := r.Conn(ctx, tx).Where("tier = ? AND city = ?", tier, city).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.RoundRobinState{Tier: tier, City: city}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// AdvanceCursor adds delta to the (tier, city) assignment index and returns the new value.
func (r *Repository) AdvanceCursor(ctx context.Context, tx *gorm.DB, tier enums.CatererTier, city string, delta int64, last *uuid.UUID) (int64, error) {
	var index int64
	err := r.Conn(ctx, tx).
		Raw(advanceCursorSQL, tier, city, delta, last, time.Now().UTC()).
		Scan(&index).Error
	if err != nil {
		return 0, err
	}
	return index, nil
}

// StampAssignment records a lead for each caterer still under its tier's monthly cap. Stamped
// caterers get last_job_assigned_at = now, now+1µs, ... in ids order so the batch keeps its turn
// order. Counters whose window predates monthStart restart at one. It returns the stamped and
// skipped ids.
func (r *Repository) StampAssignment(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, caps []TierCap, now, monthStart time.Time) (stamped, skipped []uuid.UUID, err error) {
	capSQL, capArgs := capPredicate(caps)
	staleWindow := "(jobs_month_started_at IS NULL OR jobs_month_started_at < ?)"

	for _, id := range ids {
		at := now.Add(time.Duration(len(stamped)) * stampStep)
		args := []any{monthStart}
		args = append(args, capArgs...)
		res := r.Conn(ctx, tx).Model(&models.Caterer{}).
			Where("id = ?", id).
			Where("("+staleWindow+" OR "+capSQL+")", args...).
			Updates(map[string]any{
				"last_job_assigned_at":  at,
				"jobs_this_month":       gorm.Expr("CASE WHEN "+staleWindow+" THEN 1 ELSE jobs_this_month + 1 END", monthStart),
				"jobs_month_started_at": gorm.Expr("CASE WHEN "+staleWindow+" THEN ? ELSE jobs_month_started_at END", monthStart, monthStart),
				"updated_at":            now,
			})
		if res.Error != nil {
			return nil, nil, res.Error
		}
		if res.RowsAffected == 1 {
			stamped = append(stamped, id)
		} else {
			skipped = append(skipped, id)
		}
	}
	return stamped, skipped, nil
}

// ResetMonthlyCounters zeroes counters whose window started before monthStart.
func (r *Repository) ResetMonthlyCounters(ctx context.Context, monthStart time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.Caterer{}).
		Where("jobs_this_month > 0 AND (jobs_month_started_at IS NULL OR jobs_month_started_at < ?)", monthStart).
		Updates(map[string]any{
			"jobs_this_month":       0,
			"jobs_month_started_at": monthStart,
			"updated_at":            time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func capPredicate(caps []TierCap) (string, []any) {
	if len(caps) == 0 {
		return "1 = 0", nil
	}
	clauses := make([]string, 0, len(caps))
	args := make([]any, 0, len(caps)*2)
	for _, c := range caps {
		if c.Limited {
			clauses = append(clauses, "(tier = ? AND jobs_this_month < ?)")
			args = append(args, c.Tier, c.Limit)
			continue
		}
		clauses = append(clauses, "tier = ?")
		args = append(args, c.Tier)
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args
}
