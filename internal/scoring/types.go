package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/angelmondragon/catermatch-backend/internal/geo"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

// MatchCriteria is the customer side of a match: what the event needs.
type MatchCriteria struct {
	GuestCount          int
	BudgetMin           decimal.Decimal
	BudgetMax           decimal.Decimal
	Cuisines            []string
	DietaryRestrictions []string
	Location            *geo.Point
	City                string
	EventDate           *time.Time
	EventType           string
	// ServiceStyle is how the food is served, e.g. buffet or plated. It informs the AI ranking
	// only.
	ServiceStyle string
}

// BudgetPerPerson is budgetMax spread over the guest list.
func (c MatchCriteria) BudgetPerPerson() decimal.Decimal {
	if c.GuestCount <= 0 {
		return decimal.Zero
	}
	return c.BudgetMax.Div(decimal.NewFromInt(int64(c.GuestCount)))
}

// Validate reports every input problem at once.
func (c MatchCriteria) Validate() error {
	var err error
	if c.GuestCount <= 0 {
		err = multierr.Append(err, fmt.Errorf("guest count must be positive"))
	}
	if !c.BudgetMax.IsPositive() {
		err = multierr.Append(err, fmt.Errorf("maximum budget must be positive"))
	}
	if c.BudgetMin.IsNegative() {
		err = multierr.Append(err, fmt.Errorf("minimum budget must not be negative"))
	}
	if c.BudgetMin.GreaterThan(c.BudgetMax) {
		err = multierr.Append(err, fmt.Errorf("minimum budget exceeds maximum budget"))
	}
	if c.Location != nil && !c.Location.Valid() {
		err = multierr.Append(err, fmt.Errorf("event location is out of range"))
	}
	return err
}

// CatererProfile is the caterer side of a match.
type CatererProfile struct {
	ID                uuid.UUID
	Name              string
	Tier              enums.CatererTier
	City              string
	Cuisines          []string
	MinGuests         int
	MaxGuests         int
	MinPricePerPerson decimal.Decimal
	MaxPricePerPerson decimal.Decimal
	Location          *geo.Point
	// AverageRating is nil for unrated caterers. It is trusted on its own: imported and
	// admin-set ratings carry no review count.
	AverageRating *float64
	ReviewCount   int
	ServiceStyles []string
	Description   string
}

// Rated reports whether the caterer has a rating to score on.
func (p CatererProfile) Rated() bool {
	return p.AverageRating != nil
}

// Breakdown is the per-factor credit behind a base score.
type Breakdown struct {
	Cuisine       float64  `json:"cuisine"`
	Capacity      float64  `json:"capacity"`
	Price         float64  `json:"price"`
	Distance      float64  `json:"distance"`
	Rating        float64  `json:"rating"`
	DistanceMiles *float64 `json:"distance_miles,omitempty"`
	Total         int      `json:"total"`
}

// Ranked pairs a caterer with its base score.
type Ranked struct {
	Profile   CatererProfile
	Score     int
	Breakdown Breakdown
}

func normalizeTerm(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}
