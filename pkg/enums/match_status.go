package enums

import "fmt"

// MatchStatus tracks a caterer match through the customer's booking workflow.
type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusViewed    MatchStatus = "viewed"
	MatchStatusContacted MatchStatus = "contacted"
	MatchStatusQuoted    MatchStatus = "quoted"
	MatchStatusAccepted  MatchStatus = "accepted"
	MatchStatusDeclined  MatchStatus = "declined"
	MatchStatusLowMatch  MatchStatus = "low_match"
)

var validMatchStatuses = []MatchStatus{
	MatchStatusPending,
	MatchStatusViewed,
	MatchStatusContacted,
	MatchStatusQuoted,
	MatchStatusAccepted,
	MatchStatusDeclined,
	MatchStatusLowMatch,
}

// String implements fmt.Stringer.
func (s MatchStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s MatchStatus) IsValid() bool {
	for _, candidate := range validMatchStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s MatchStatus) IsTerminal() bool {
	return s == MatchStatusAccepted || s == MatchStatusDeclined
}

// ParseMatchStatus converts raw input into a MatchStatus.
func ParseMatchStatus(value string) (MatchStatus, error) {
	for _, candidate := range validMatchStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid match status %q", value)
}
