package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

// EventRequest is a customer's request for catering quotes.
type EventRequest struct {
	ID                  uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerName        string                   `gorm:"column:customer_name;not null"`
	CustomerEmail       string                   `gorm:"column:customer_email;not null"`
	EventType           string                   `gorm:"column:event_type"`
	EventDate           *time.Time               `gorm:"column:event_date"`
	GuestCount          int                      `gorm:"column:guest_count;not null"`
	BudgetMin           decimal.Decimal          `gorm:"column:budget_min;type:numeric(12,2);not null"`
	BudgetMax           decimal.Decimal          `gorm:"column:budget_max;type:numeric(12,2);not null"`
	Cuisines            pq.StringArray           `gorm:"column:cuisines;type:text[]"`
	DietaryRestrictions pq.StringArray           `gorm:"column:dietary_restrictions;type:text[]"`
	ServiceStyle        string                   `gorm:"column:service_style"`
	LocationText        string                   `gorm:"column:location_text"`
	City                string                   `gorm:"column:city"`
	Latitude            *float64                 `gorm:"column:latitude"`
	Longitude           *float64                 `gorm:"column:longitude"`
	Notes               *string                  `gorm:"column:notes"`
	Status              enums.EventRequestStatus `gorm:"column:status;type:event_request_status;not null"`
	AcceptedMatchID     *uuid.UUID               `gorm:"column:accepted_match_id;type:uuid"`
	MatchedAt           *time.Time               `gorm:"column:matched_at"`
	CreatedAt           time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (EventRequest) TableName() string { return "event_requests" }
