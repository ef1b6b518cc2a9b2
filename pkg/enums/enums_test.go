package enums

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCatererTier(t *testing.T) {
	tier, err := ParseCatererTier(" Pro ")
	require.NoError(t, err)
	require.Equal(t, CatererTierPro, tier)

	_, err = ParseCatererTier("platinum")
	require.Error(t, err)
	require.False(t, CatererTier("platinum").IsValid())
}

func TestMatchStatusTerminal(t *testing.T) {
	require.True(t, MatchStatusAccepted.IsTerminal())
	require.True(t, MatchStatusDeclined.IsTerminal())
	require.False(t, MatchStatusLowMatch.IsTerminal())

	status, err := ParseMatchStatus("low_match")
	require.NoError(t, err)
	require.Equal(t, MatchStatusLowMatch, status)
	_, err = ParseMatchStatus("LOW_MATCH")
	require.Error(t, err)
}

func TestEventRequestStatusMatchable(t *testing.T) {
	require.True(t, EventRequestStatusPending.Matchable())
	require.True(t, EventRequestStatusMatched.Matchable())
	require.False(t, EventRequestStatusBooked.Matchable())
	require.False(t, EventRequestStatusCancelled.Matchable())
}

func TestParseLocationSource(t *testing.T) {
	src, err := ParseLocationSource("user_correction")
	require.NoError(t, err)
	require.Equal(t, LocationSourceUserCorrection, src)
	_, err = ParseLocationSource("robot")
	require.Error(t, err)
}
