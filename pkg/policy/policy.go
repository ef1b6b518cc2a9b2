// Package policy holds the versioned tier, cap and scoring tables that drive matching and lead
// distribution. The compiled-in document is used unless an override file is supplied.
package policy

import (
	"bytes"
	_ "embed"
	"fmt"
	"reflect"
	"sort"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

//go:embed default_policy.yaml
var defaultDocument []byte

type Policy struct {
	Version           string     `mapstructure:"version"`
	LowMatchThreshold int        `mapstructure:"low_match_threshold"`
	Scoring           Scoring    `mapstructure:"scoring"`
	Tiers             []TierRule `mapstructure:"tiers"`
}

type Weights struct {
	Cuisine  float64 `mapstructure:"cuisine"`
	Capacity float64 `mapstructure:"capacity"`
	Price    float64 `mapstructure:"price"`
	Distance float64 `mapstructure:"distance"`
	Rating   float64 `mapstructure:"rating"`
}

// Total is the maximum score the weights can produce.
func (w Weights) Total() float64 {
	return w.Cuisine + w.Capacity + w.Price + w.Distance + w.Rating
}

type DistanceBand struct {
	MaxMiles float64 `mapstructure:"max_miles"`
	Credit   float64 `mapstructure:"credit"`
}

type Scoring struct {
	Weights                  Weights        `mapstructure:"weights"`
	UnspecifiedCuisineCredit float64        `mapstructure:"unspecified_cuisine_credit"`
	UnderCapacityCredit      float64        `mapstructure:"under_capacity_credit"`
	PriceTolerance           float64        `mapstructure:"price_tolerance"`
	PriceNearMissRatio       float64        `mapstructure:"price_near_miss_ratio"`
	PriceNearMissCredit      float64        `mapstructure:"price_near_miss_credit"`
	DistanceBands            []DistanceBand `mapstructure:"distance_bands"`
}

type TierRule struct {
	Tier        enums.CatererTier `mapstructure:"tier"`
	BudgetBelow decimal.Decimal   `mapstructure:"budget_below"`
	MonthlyCap  int               `mapstructure:"monthly_cap"`
	Unlimited   bool              `mapstructure:"unlimited"`
}

// Load reads the compiled-in policy and, when path is set, merges the override document on top.
func Load(path string) (*Policy, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultDocument)); err != nil {
		return nil, fmt.Errorf("reading default policy: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading policy %s: %w", path, err)
		}
	}

	var p Policy
	if err := v.Unmarshal(&p, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(decimalHook()))); err != nil {
		return nil, fmt.Errorf("decoding policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy %q: %w", p.Version, err)
	}
	p.normalize()
	return &p, nil
}

// Default returns the compiled-in policy.
func Default() *Policy {
	p, err := Load("")
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Policy) Validate() error {
	var err error
	if p.Version == "" {
		err = multierr.Append(err, fmt.Errorf("version is required"))
	}
	if p.LowMatchThreshold < 0 || p.LowMatchThreshold > 100 {
		err = multierr.Append(err, fmt.Errorf("low_match_threshold must be within 0..100"))
	}
	err = multierr.Append(err, p.Scoring.validate())

	if len(p.Tiers) == 0 {
		return multierr.Append(err, fmt.Errorf("at least one tier is required"))
	}
	seen := map[enums.CatererTier]bool{}
	unbounded := 0
	for _, rule := range p.Tiers {
		if !rule.Tier.IsValid() {
			err = multierr.Append(err, fmt.Errorf("unknown tier %q", rule.Tier))
		}
		if seen[rule.Tier] {
			err = multierr.Append(err, fmt.Errorf("tier %q listed twice", rule.Tier))
		}
		seen[rule.Tier] = true
		if rule.BudgetBelow.IsZero() {
			unbounded++
		} else if !rule.BudgetBelow.IsPositive() {
			err = multierr.Append(err, fmt.Errorf("tier %q budget_below must be positive", rule.Tier))
		}
		if !rule.Unlimited && rule.MonthlyCap <= 0 {
			err = multierr.Append(err, fmt.Errorf("tier %q needs a positive monthly_cap or unlimited", rule.Tier))
		}
	}
	if unbounded != 1 {
		err = multierr.Append(err, fmt.Errorf("exactly one tier must have no budget_below bound"))
	}
	return err
}

func (s Scoring) validate() error {
	var err error
	w := s.Weights
	for name, value := range map[string]float64{
		"cuisine": w.Cuisine, "capacity": w.Capacity, "price": w.Price, "distance": w.Distance, "rating": w.Rating,
	} {
		if value < 0 {
			err = multierr.Append(err, fmt.Errorf("weight %s must not be negative", name))
		}
	}
	if w.Total() != 100 {
		err = multierr.Append(err, fmt.Errorf("weights must sum to 100, got %v", w.Total()))
	}
	for name, value := range map[string]float64{
		"unspecified_cuisine_credit": s.UnspecifiedCuisineCredit,
		"under_capacity_credit":      s.UnderCapacityCredit,
		"price_near_miss_ratio":      s.PriceNearMissRatio,
		"price_near_miss_credit":     s.PriceNearMissCredit,
	} {
		if value < 0 || value > 1 {
			err = multierr.Append(err, fmt.Errorf("%s must be within 0..1", name))
		}
	}
	if s.PriceTolerance < 1 {
		err = multierr.Append(err, fmt.Errorf("price_tolerance must be at least 1"))
	}
	for _, band := range s.DistanceBands {
		if band.MaxMiles <= 0 || band.Credit < 0 || band.Credit > 1 {
			err = multierr.Append(err, fmt.Errorf("invalid distance band %+v", band))
		}
	}
	return err
}

// normalize orders tiers by budget with the unbounded band last, and distance bands by radius.
func (p *Policy) normalize() {
	sort.SliceStable(p.Tiers, func(i, j int) bool {
		a, b := p.Tiers[i].BudgetBelow, p.Tiers[j].BudgetBelow
		if a.IsZero() {
			return false
		}
		if b.IsZero() {
			return true
		}
		return a.LessThan(b)
	})
	sort.SliceStable(p.Scoring.DistanceBands, func(i, j int) bool {
		return p.Scoring.DistanceBands[i].MaxMiles < p.Scoring.DistanceBands[j].MaxMiles
	})
}

// TierForBudget maps an event's total budget to the caterer tier that serves it.
func (p *Policy) TierForBudget(total decimal.Decimal) enums.CatererTier {
	for _, rule := range p.Tiers {
		if rule.BudgetBelow.IsZero() || total.LessThan(rule.BudgetBelow) {
			return rule.Tier
		}
	}
	return p.Tiers[len(p.Tiers)-1].Tier
}

// MonthlyCap returns the tier's monthly lead cap; limited is false for uncapped tiers.
func (p *Policy) MonthlyCap(tier enums.CatererTier) (limit int, limited bool, ok bool) {
	for _, rule := range p.Tiers {
		if rule.Tier == tier {
			if rule.Unlimited {
				return 0, false, true
			}
			return rule.MonthlyCap, true, true
		}
	}
	return 0, false, false
}

// CanReceiveMoreJobs reports whether a caterer on tier may take another lead this month.
// Unknown tiers never receive leads.
func (p *Policy) CanReceiveMoreJobs(tier enums.CatererTier, jobsThisMonth int) bool {
	limit, limited, ok := p.MonthlyCap(tier)
	if !ok {
		return false
	}
	return !limited || jobsThisMonth < limit
}

func decimalHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(decimal.Decimal{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != target {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if v == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(v)
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		case nil:
			return decimal.Zero, nil
		}
		return data, nil
	}
}
