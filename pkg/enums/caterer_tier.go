package enums

import (
	"fmt"
	"strings"
)

// CatererTier is the subscription tier that gates lead distribution.
type CatererTier string

const (
	CatererTierBasic    CatererTier = "basic"
	CatererTierPro      CatererTier = "pro"
	CatererTierBusiness CatererTier = "business"
)

var validCatererTiers = []CatererTier{
	CatererTierBasic,
	CatererTierPro,
	CatererTierBusiness,
}

// String implements fmt.Stringer.
func (t CatererTier) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t CatererTier) IsValid() bool {
	for _, candidate := range validCatererTiers {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseCatererTier converts raw input into a CatererTier. Matching is case-insensitive.
func ParseCatererTier(value string) (CatererTier, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validCatererTiers {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid caterer tier %q", value)
}
