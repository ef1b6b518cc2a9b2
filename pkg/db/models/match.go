package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

// Match links an event request to a caterer. (event_request_id, caterer_id) is unique.
type Match struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventRequestID uuid.UUID         `gorm:"column:event_request_id;type:uuid;not null"`
	CatererID      uuid.UUID         `gorm:"column:caterer_id;type:uuid;not null"`
	Score          int               `gorm:"column:score;not null"`
	Status         enums.MatchStatus `gorm:"column:status;type:match_status;not null"`
	Source         enums.MatchSource `gorm:"column:source;not null"`
	Reasons        pq.StringArray    `gorm:"column:reasons;type:text[]"`
	Concerns       pq.StringArray    `gorm:"column:concerns;type:text[]"`
	Summary        *string           `gorm:"column:summary"`
	Rank           int               `gorm:"column:rank;not null"`
	ViewedAt       *time.Time        `gorm:"column:viewed_at"`
	ContactedAt    *time.Time        `gorm:"column:contacted_at"`
	QuotedAt       *time.Time        `gorm:"column:quoted_at"`
	RespondedAt    *time.Time        `gorm:"column:responded_at"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Match) TableName() string { return "matches" }
