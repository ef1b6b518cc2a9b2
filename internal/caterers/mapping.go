package caterers

import (
	"github.com/angelmondragon/catermatch-backend/internal/geo"
	"github.com/angelmondragon/catermatch-backend/internal/scoring"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
)

// ToProfile projects a caterer row onto the scoring profile.
func ToProfile(m models.Caterer) scoring.CatererProfile {
	profile := scoring.CatererProfile{
		ID:                m.ID,
		Name:              m.Name,
		Tier:              m.Tier,
		City:              m.City,
		Cuisines:          append([]string(nil), m.Cuisines...),
		ServiceStyles:     append([]string(nil), m.ServiceStyles...),
		MinGuests:         m.MinGuests,
		MaxGuests:         m.MaxGuests,
		MinPricePerPerson: m.MinPricePerPerson,
		MaxPricePerPerson: m.MaxPricePerPerson,
		AverageRating:     m.AverageRating,
		ReviewCount:       m.ReviewCount,
	}
	if m.Description != nil {
		profile.Description = *m.Description
	}
	if m.Latitude != nil && m.Longitude != nil {
		profile.Location = &geo.Point{Lat: *m.Latitude, Lng: *m.Longitude}
	}
	return profile
}

func ToProfiles(rows []models.Caterer) []scoring.CatererProfile {
	out := make([]scoring.CatererProfile, 0, len(rows))
	for _, row := range rows {
		out = append(out, ToProfile(row))
	}
	return out
}
