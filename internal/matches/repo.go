package matches

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/catermatch-backend/internal/repo"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

var (
	// ErrAlreadyAccepted is returned when another match of the same request won acceptance.
	ErrAlreadyAccepted = errors.New("event request already has an accepted match")
	// ErrInvalidTransition is returned when the match is not in a state the change allows.
	ErrInvalidTransition = errors.New("match status does not allow this transition")
)

// Upsert is one ranked caterer to persist for a request.
type Upsert struct {
	CatererID uuid.UUID
	Score     int
	Status    enums.MatchStatus
	Source    enums.MatchSource
	Reasons   []string
	Concerns  []string
	Summary   *string
	Rank      int
}

// reRankable statuses may be overwritten by a later ranking; anything else is customer progress.
var reRankable = []enums.MatchStatus{enums.MatchStatusPending, enums.MatchStatusLowMatch}

type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// UpsertRanking writes every match of a ranking and marks the request matched, all in one
// transaction. Existing (request, caterer) rows are overwritten in place.
func (r *Repository) UpsertRanking(ctx context.Context, requestID uuid.UUID, rows []Upsert) ([]models.Match, error) {
	var out []models.Match
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		if err := upsertMatches(tx, requestID, rows); err != nil {
			return err
		}
		now := time.Now().UTC()
		res := tx.Model(&models.EventRequest{}).
			Where("id = ?", requestID).
			Updates(map[string]any{
				"status":     enums.EventRequestStatusMatched,
				"matched_at": now,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("event_request_id = ?", requestID).
			Order("rank ASC, score DESC").
			Find(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertWithTx writes matches inside a caller-owned transaction without touching the request.
func (r *Repository) UpsertWithTx(tx *gorm.DB, requestID uuid.UUID, rows []Upsert) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	return upsertMatches(tx, requestID, rows)
}

func upsertMatches(tx *gorm.DB, requestID uuid.UUID, rows []Upsert) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	records := make([]models.Match, 0, len(rows))
	for _, row := range rows {
		records = append(records, models.Match{
			ID:             uuid.New(),
			EventRequestID: requestID,
			CatererID:      row.CatererID,
			Score:          row.Score,
			Status:         row.Status,
			Source:         row.Source,
			Reasons:        pq.StringArray(nonNil(row.Reasons)),
			Concerns:       pq.StringArray(nonNil(row.Concerns)),
			Summary:        row.Summary,
			Rank:           row.Rank,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_request_id"}, {Name: "caterer_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"score":    gorm.Expr("excluded.score"),
			"source":   gorm.Expr("excluded.source"),
			"reasons":  gorm.Expr("excluded.reasons"),
			"concerns": gorm.Expr("excluded.concerns"),
			"summary":  gorm.Expr("excluded.summary"),
			"rank":     gorm.Expr("excluded.rank"),
			"status": gorm.Expr("CASE WHEN matches.status IN (?, ?) THEN excluded.status ELSE matches.status END",
				reRankable[0], reRankable[1]),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&records).Error
}

// Accept marks matchID accepted and declines its siblings. The request row is claimed with a
// conditional update first, so of two concurrent accepts for one request exactly one succeeds.
func (r *Repository) Accept(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	var accepted models.Match
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", matchID).First(&accepted).Error; err != nil {
			return err
		}
		if accepted.Status == enums.MatchStatusAccepted {
			return nil
		}
		if accepted.Status == enums.MatchStatusDeclined {
			return ErrInvalidTransition
		}

		now := time.Now().UTC()
		claim := tx.Model(&models.EventRequest{}).
			Where("id = ? AND accepted_match_id IS NULL", accepted.EventRequestID).
			Updates(map[string]any{
				"accepted_match_id": matchID,
				"status":            enums.EventRequestStatusBooked,
				"updated_at":        now,
			})
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return ErrAlreadyAccepted
		}

		if err := tx.Model(&models.Match{}).
			Where("id = ?", matchID).
			Updates(map[string]any{
				"status":       enums.MatchStatusAccepted,
				"responded_at": now,
				"updated_at":   now,
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Match{}).
			Where("event_request_id = ? AND id <> ? AND status <> ?", accepted.EventRequestID, matchID, enums.MatchStatusDeclined).
			Updates(map[string]any{
				"status":       enums.MatchStatusDeclined,
				"responded_at": now,
				"updated_at":   now,
			}).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", matchID).First(&accepted).Error
	})
	if err != nil {
		return nil, err
	}
	return &accepted, nil
}

// Transition moves a match to status when its current status is one of from. stampColumn, when
// set, records the transition time.
func (r *Repository) Transition(ctx context.Context, matchID uuid.UUID, to enums.MatchStatus, from []enums.MatchStatus, stampColumn string) (*models.Match, error) {
	var out models.Match
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		updates := map[string]any{"status": to, "updated_at": now}
		if stampColumn != "" {
			updates[stampColumn] = now
		}
		res := tx.Model(&models.Match{}).
			Where("id = ? AND status IN ?", matchID, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Where("id = ?", matchID).First(&out).Error; err != nil {
			return err
		}
		if res.RowsAffected == 0 && out.Status != to {
			return ErrInvalidTransition
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	var m models.Match
	if err := r.DB(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListForRequest returns the request's matches, best ranked first.
func (r *Repository) ListForRequest(ctx context.Context, requestID uuid.UUID) ([]models.Match, error) {
	var out []models.Match
	if err := r.DB(ctx).
		Where("event_request_id = ?", requestID).
		Order("rank ASC, score DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
