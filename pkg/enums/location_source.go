package enums

import "fmt"

// LocationSource records who taught the system a location alias.
type LocationSource string

const (
	LocationSourceSystem         LocationSource = "system"
	LocationSourceAdmin          LocationSource = "admin"
	LocationSourceUserCorrection LocationSource = "user_correction"
)

var validLocationSources = []LocationSource{
	LocationSourceSystem,
	LocationSourceAdmin,
	LocationSourceUserCorrection,
}

// String implements fmt.Stringer.
func (s LocationSource) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s LocationSource) IsValid() bool {
	for _, candidate := range validLocationSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLocationSource converts raw input into a LocationSource.
func ParseLocationSource(value string) (LocationSource, error) {
	for _, candidate := range validLocationSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid location source %q", value)
}
