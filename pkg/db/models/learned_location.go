package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

// LearnedLocation maps a normalized free-text alias to a canonical place.
type LearnedLocation struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Alias       string               `gorm:"column:alias;not null;uniqueIndex"`
	DisplayName string               `gorm:"column:display_name;not null"`
	City        string               `gorm:"column:city;not null"`
	Region      *string              `gorm:"column:region"`
	Latitude    float64              `gorm:"column:latitude;not null"`
	Longitude   float64              `gorm:"column:longitude;not null"`
	Source      enums.LocationSource `gorm:"column:source;type:location_source;not null"`
	UsageCount  int64                `gorm:"column:usage_count;not null"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (LearnedLocation) TableName() string { return "learned_locations" }
