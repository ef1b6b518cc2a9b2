package ranking

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/catermatch-backend/internal/scoring"
)

//go:embed prompt.md
var promptTemplate string

type promptEvent struct {
	EventType           string   `json:"event_type,omitempty"`
	ServiceStyle        string   `json:"service_style,omitempty"`
	EventDate           string   `json:"event_date,omitempty"`
	GuestCount          int      `json:"guest_count"`
	BudgetMin           string   `json:"budget_min"`
	BudgetMax           string   `json:"budget_max"`
	BudgetPerPerson     string   `json:"budget_per_person"`
	Cuisines            []string `json:"cuisines,omitempty"`
	DietaryRestrictions []string `json:"dietary_restrictions,omitempty"`
	City                string   `json:"city,omitempty"`
}

type promptCandidate struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Cuisines          []string `json:"cuisines,omitempty"`
	ServiceStyles     []string `json:"service_styles,omitempty"`
	MinGuests         int      `json:"min_guests"`
	MaxGuests         int      `json:"max_guests"`
	MinPricePerPerson string   `json:"min_price_per_person"`
	MaxPricePerPerson string   `json:"max_price_per_person"`
	DistanceMiles     *float64 `json:"distance_miles,omitempty"`
	AverageRating     *float64 `json:"average_rating,omitempty"`
	ReviewCount       int      `json:"review_count"`
	Description       string   `json:"description,omitempty"`
	BaseScore         int      `json:"base_score"`
}

func buildPrompt(criteria scoring.MatchCriteria, candidates []scoring.Ranked) (string, error) {
	event := promptEvent{
		EventType:           criteria.EventType,
		ServiceStyle:        criteria.ServiceStyle,
		GuestCount:          criteria.GuestCount,
		BudgetMin:           criteria.BudgetMin.StringFixed(2),
		BudgetMax:           criteria.BudgetMax.StringFixed(2),
		BudgetPerPerson:     criteria.BudgetPerPerson().StringFixed(2),
		Cuisines:            criteria.Cuisines,
		DietaryRestrictions: criteria.DietaryRestrictions,
		City:                criteria.City,
	}
	if criteria.EventDate != nil {
		event.EventDate = criteria.EventDate.Format("2006-01-02")
	}

	list := make([]promptCandidate, 0, len(candidates))
	for _, c := range candidates {
		list = append(list, promptCandidate{
			ID:                c.Profile.ID.String(),
			Name:              c.Profile.Name,
			Cuisines:          c.Profile.Cuisines,
			ServiceStyles:     c.Profile.ServiceStyles,
			MinGuests:         c.Profile.MinGuests,
			MaxGuests:         c.Profile.MaxGuests,
			MinPricePerPerson: c.Profile.MinPricePerPerson.StringFixed(2),
			MaxPricePerPerson: c.Profile.MaxPricePerPerson.StringFixed(2),
			DistanceMiles:     c.Breakdown.DistanceMiles,
			AverageRating:     c.Profile.AverageRating,
			ReviewCount:       c.Profile.ReviewCount,
			Description:       c.Profile.Description,
			BaseScore:         c.Score,
		})
	}

	eventJSON, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal event payload: %w", err)
	}
	candidatesJSON, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal candidates payload: %w", err)
	}

	prompt := strings.ReplaceAll(promptTemplate, "{{EVENT_JSON}}", string(eventJSON))
	prompt = strings.ReplaceAll(prompt, "{{CANDIDATES_JSON}}", string(candidatesJSON))
	return prompt, nil
}
