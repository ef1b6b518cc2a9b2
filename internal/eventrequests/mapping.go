package eventrequests

import (
	"github.com/angelmondragon/catermatch-backend/internal/geo"
	"github.com/angelmondragon/catermatch-backend/internal/scoring"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
)

// ToCriteria projects a stored request onto the matching criteria.
func ToCriteria(m models.EventRequest) scoring.MatchCriteria {
	criteria := scoring.MatchCriteria{
		GuestCount:          m.GuestCount,
		BudgetMin:           m.BudgetMin,
		BudgetMax:           m.BudgetMax,
		Cuisines:            append([]string(nil), m.Cuisines...),
		DietaryRestrictions: append([]string(nil), m.DietaryRestrictions...),
		City:                m.City,
		EventDate:           m.EventDate,
		EventType:           m.EventType,
		ServiceStyle:        m.ServiceStyle,
	}
	if m.Latitude != nil && m.Longitude != nil {
		criteria.Location = &geo.Point{Lat: *m.Latitude, Lng: *m.Longitude}
	}
	return criteria
}
