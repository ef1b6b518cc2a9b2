package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

// Caterer is a vendor profile in the directory, including the counters used for lead distribution.
type Caterer struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name               string            `gorm:"column:name;not null"`
	Tier               enums.CatererTier `gorm:"column:tier;type:caterer_tier;not null"`
	City               string            `gorm:"column:city;not null"`
	Cuisines           pq.StringArray    `gorm:"column:cuisines;type:text[]"`
	ServiceStyles      pq.StringArray    `gorm:"column:service_styles;type:text[]"`
	Description        *string           `gorm:"column:description"`
	MinGuests          int               `gorm:"column:min_guests;not null"`
	MaxGuests          int               `gorm:"column:max_guests;not null"`
	MinPricePerPerson  decimal.Decimal   `gorm:"column:min_price_per_person;type:numeric(12,2);not null"`
	MaxPricePerPerson  decimal.Decimal   `gorm:"column:max_price_per_person;type:numeric(12,2);not null"`
	Latitude           *float64          `gorm:"column:latitude"`
	Longitude          *float64          `gorm:"column:longitude"`
	AverageRating      *float64          `gorm:"column:average_rating"`
	ReviewCount        int               `gorm:"column:review_count;not null"`
	IsActive           bool              `gorm:"column:is_active;not null"`
	SubscriptionActive bool              `gorm:"column:subscription_active;not null"`
	JobsThisMonth      int               `gorm:"column:jobs_this_month;not null"`
	JobsMonthStartedAt *time.Time        `gorm:"column:jobs_month_started_at"`
	LastJobAssignedAt  *time.Time        `gorm:"column:last_job_assigned_at"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Caterer) TableName() string { return "caterers" }
