package ranking

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/catermatch-backend/internal/scoring"
)

func TestBuildPromptCarriesServiceStyles(t *testing.T) {
	criteria := scoring.MatchCriteria{
		GuestCount:   40,
		BudgetMax:    decimal.NewFromInt(2000),
		ServiceStyle: "family style",
	}
	candidates := []scoring.Ranked{{
		Profile: scoring.CatererProfile{
			ID:            uuid.New(),
			Name:          "Long Table",
			ServiceStyles: []string{"family style", "plated"},
		},
		Score: 70,
	}}

	prompt, err := buildPrompt(criteria, candidates)
	require.NoError(t, err)
	require.Contains(t, prompt, `"service_style": "family style"`)
	require.Contains(t, prompt, `"service_styles": [`)
	require.Contains(t, prompt, `"plated"`)
	require.NotContains(t, prompt, "{{EVENT_JSON}}")
}

func TestBuildPromptOmitsMissingServiceStyle(t *testing.T) {
	prompt, err := buildPrompt(scoring.MatchCriteria{GuestCount: 10, BudgetMax: decimal.NewFromInt(500)}, nil)
	require.NoError(t, err)
	require.NotContains(t, prompt, "service_style")
}
