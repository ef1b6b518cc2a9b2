package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

// RoundRobinState is the rotation cursor for one (tier, city) pool.
type RoundRobinState struct {
	Tier                  enums.CatererTier `gorm:"column:tier;type:caterer_tier;primaryKey"`
	City                  string            `gorm:"column:city;primaryKey"`
	AssignmentIndex       int64             `gorm:"column:assignment_index;not null"`
	LastAssignedCatererID *uuid.UUID        `gorm:"column:last_assigned_caterer_id;type:uuid"`
	UpdatedAt             time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (RoundRobinState) TableName() string { return "round_robin_states" }
