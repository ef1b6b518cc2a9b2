package eventrequests

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catermatch-backend/internal/repo"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

// Repository persists event requests.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.EventRequest, error) {
	var req models.EventRequest
	if err := r.DB(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// UpdateStatus moves the request to status. When tx is nil the update runs on its own.
func (r *Repository) UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status enums.EventRequestStatus) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if status == enums.EventRequestStatusMatched {
		updates["matched_at"] = time.Now().UTC()
	}
	res := r.Conn(ctx, tx).Model(&models.EventRequest{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClaimForMatching flips a matchable request into the matching state. It reports false when
// the request is booked, cancelled or already being matched.
func (r *Repository) ClaimForMatching(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.DB(ctx).Model(&models.EventRequest{}).
		Where("id = ? AND status IN ?", id, []enums.EventRequestStatus{
			enums.EventRequestStatusPending,
			enums.EventRequestStatusMatched,
		}).
		Updates(map[string]any{
			"status":     enums.EventRequestStatusMatching,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseStale returns requests stuck in matching since before cutoff to pending.
func (r *Repository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.EventRequest{}).
		Where("status = ? AND updated_at < ?", enums.EventRequestStatusMatching, cutoff.UTC()).
		Updates(map[string]any{
			"status":     enums.EventRequestStatusPending,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
