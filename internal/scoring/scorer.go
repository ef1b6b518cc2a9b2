// Package scoring computes the deterministic base score of a caterer for an event request.
package scoring

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/catermatch-backend/internal/geo"
	"github.com/angelmondragon/catermatch-backend/pkg/policy"
)

type Scorer struct {
	cfg policy.Scoring
}

func NewScorer(cfg policy.Scoring) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score returns the caterer's base score in 0..100.
func (s *Scorer) Score(c MatchCriteria, p CatererProfile) int {
	return s.Explain(c, p).Total
}

// Explain scores every factor and reports the breakdown alongside the rounded total.
func (s *Scorer) Explain(c MatchCriteria, p CatererProfile) Breakdown {
	w := s.cfg.Weights
	b := Breakdown{
		Cuisine:  w.Cuisine * s.cuisineCredit(c, p),
		Capacity: w.Capacity * s.capacityCredit(c, p),
		Price:    w.Price * s.priceCredit(c, p),
		Rating:   w.Rating * ratingCredit(p),
	}
	if c.Location != nil && p.Location != nil {
		miles := geo.DistanceMiles(*c.Location, *p.Location)
		b.DistanceMiles = &miles
		b.Distance = w.Distance * s.distanceCredit(miles)
	}

	total := math.Round(b.Cuisine + b.Capacity + b.Price + b.Distance + b.Rating)
	b.Total = int(math.Max(0, math.Min(100, total)))
	return b
}

func (s *Scorer) cuisineCredit(c MatchCriteria, p CatererProfile) float64 {
	requested := map[string]struct{}{}
	for _, cuisine := range c.Cuisines {
		if term := normalizeTerm(cuisine); term != "" {
			requested[term] = struct{}{}
		}
	}
	if len(requested) == 0 {
		return s.cfg.UnspecifiedCuisineCredit
	}
	offered := map[string]struct{}{}
	for _, cuisine := range p.Cuisines {
		offered[normalizeTerm(cuisine)] = struct{}{}
	}
	hits := 0
	for term := range requested {
		if _, ok := offered[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(requested))
}

func (s *Scorer) capacityCredit(c MatchCriteria, p CatererProfile) float64 {
	switch {
	case c.GuestCount > p.MaxGuests:
		return 0
	case c.GuestCount < p.MinGuests:
		return s.cfg.UnderCapacityCredit
	default:
		return 1
	}
}

func (s *Scorer) priceCredit(c MatchCriteria, p CatererProfile) float64 {
	if c.GuestCount <= 0 {
		return 0
	}
	perPerson := c.BudgetPerPerson()
	ceiling := p.MaxPricePerPerson.Mul(decimal.NewFromFloat(s.cfg.PriceTolerance))
	if perPerson.GreaterThanOrEqual(p.MinPricePerPerson) && perPerson.LessThanOrEqual(ceiling) {
		return 1
	}
	if perPerson.GreaterThanOrEqual(p.MinPricePerPerson.Mul(decimal.NewFromFloat(s.cfg.PriceNearMissRatio))) {
		return s.cfg.PriceNearMissCredit
	}
	return 0
}

func (s *Scorer) distanceCredit(miles float64) float64 {
	for _, band := range s.cfg.DistanceBands {
		if miles <= band.MaxMiles {
			return band.Credit
		}
	}
	return 0
}

func ratingCredit(p CatererProfile) float64 {
	if !p.Rated() {
		return 0
	}
	return math.Max(0, math.Min(5, *p.AverageRating)) / 5
}

// PassesHardFilters applies the cheap gates every candidate must clear before scoring: the
// caterer can serve the guest count, and the budget reaches at least the near-miss price floor.
func (s *Scorer) PassesHardFilters(c MatchCriteria, p CatererProfile) bool {
	if p.MaxGuests < c.GuestCount {
		return false
	}
	floor := p.MinPricePerPerson.Mul(decimal.NewFromFloat(s.cfg.PriceNearMissRatio))
	return c.BudgetPerPerson().GreaterThanOrEqual(floor)
}

// Rank scores every profile and orders them by descending score, keeping input order on ties.
func (s *Scorer) Rank(c MatchCriteria, profiles []CatererProfile) []Ranked {
	ranked := make([]Ranked, 0, len(profiles))
	for _, p := range profiles {
		b := s.Explain(c, p)
		ranked = append(ranked, Ranked{Profile: p, Score: b.Total, Breakdown: b})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}
