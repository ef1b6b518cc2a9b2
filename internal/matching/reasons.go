package matching

import (
	"fmt"

	"github.com/angelmondragon/catermatch-backend/internal/scoring"
)

// baseReasons renders the factor points behind a base score for display on the match.
func baseReasons(b scoring.Breakdown) []string {
	reasons := []string{
		fmt.Sprintf("cuisine: %.1f pts", b.Cuisine),
		fmt.Sprintf("capacity: %.1f pts", b.Capacity),
		fmt.Sprintf("price: %.1f pts", b.Price),
	}
	if b.DistanceMiles != nil {
		reasons = append(reasons, fmt.Sprintf("distance: %.1f pts (%.1f mi)", b.Distance, *b.DistanceMiles))
	} else {
		reasons = append(reasons, "distance: unknown")
	}
	if b.Rating > 0 {
		reasons = append(reasons, fmt.Sprintf("rating: %.1f pts", b.Rating))
	}
	return reasons
}
