// Package locations normalizes free-text event locations into coordinates, learning aliases as
// it goes.
package locations

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catermatch-backend/internal/geo"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
	"github.com/angelmondragon/catermatch-backend/pkg/maps"
)

// Resolution sources.
const (
	SourceCache   = "cache"
	SourceLearned = "learned"
	SourcePlaces  = "places"
	SourceNone    = "none"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	placesScope      = "places_lookup"
)

// Location is a canonical place an alias resolves to.
type Location struct {
	ID          uuid.UUID            `json:"id"`
	Alias       string               `json:"alias"`
	DisplayName string               `json:"display_name"`
	City        string               `json:"city"`
	Region      string               `json:"region,omitempty"`
	Latitude    float64              `json:"latitude"`
	Longitude   float64              `json:"longitude"`
	Source      enums.LocationSource `json:"source"`
	UsageCount  int64                `json:"usage_count"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Point returns the location's coordinates.
func (l Location) Point() geo.Point {
	return geo.Point{Lat: l.Latitude, Lng: l.Longitude}
}

// Resolution is the outcome of resolving one piece of free text.
type Resolution struct {
	Input    string    `json:"input"`
	Alias    string    `json:"alias"`
	Found    bool      `json:"found"`
	Location *Location `json:"location,omitempty"`
	Source   string    `json:"source"`
	EvalID   uuid.UUID `json:"eval_id"`
}

type locationRepository interface {
	FindByAlias(ctx context.Context, alias string) (*models.LearnedLocation, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.LearnedLocation, error)
	IncrementUsage(ctx context.Context, alias string) error
	Upsert(ctx context.Context, loc *models.LearnedLocation) (*models.LearnedLocation, error)
	Delete(ctx context.Context, id uuid.UUID) (*models.LearnedLocation, error)
	List(ctx context.Context, params ListParams) ([]models.LearnedLocation, int64, error)
}

// Geocoder looks places up by text or id. *maps.Client satisfies it.
type Geocoder interface {
	SearchText(ctx context.Context, req maps.SearchTextRequest) ([]maps.PlaceDetails, error)
	ResolvePlace(ctx context.Context, placeID string) (*maps.PlaceDetails, error)
}

// NoopGeocoder finds nothing; used when no Places key is configured.
type NoopGeocoder struct{}

func (NoopGeocoder) SearchText(context.Context, maps.SearchTextRequest) ([]maps.PlaceDetails, error) {
	return nil, nil
}

func (NoopGeocoder) ResolvePlace(context.Context, string) (*maps.PlaceDetails, error) {
	return nil, pkgerrors.New(pkgerrors.CodeDependency, "place lookups are not configured")
}

// RateLimiter bounds outbound geocoding calls.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type evalRecorder interface {
	RecordLocation(ctx context.Context, eval models.LocationEval) error
}

type Service struct {
	repo         locationRepository
	cache        Cache
	geocoder     Geocoder
	limiter      RateLimiter
	evals        evalRecorder
	logg         *logger.Logger
	lookupLimit  int64
	lookupWindow time.Duration
	regionCode   string
	now          func() time.Time
}

type ServiceParams struct {
	Repo     locationRepository
	Cache    Cache
	Geocoder Geocoder
	// Limiter and LookupLimit cap Places calls per LookupWindow. A nil limiter means no cap.
	Limiter      RateLimiter
	LookupLimit  int64
	LookupWindow time.Duration
	RegionCode   string
	Evals        evalRecorder
	Logger       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("location repository required")
	}
	if params.Evals == nil {
		return nil, errors.New("eval recorder required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	svc := &Service{
		repo:         params.Repo,
		cache:        params.Cache,
		geocoder:     params.Geocoder,
		limiter:      params.Limiter,
		evals:        params.Evals,
		logg:         params.Logger,
		lookupLimit:  params.LookupLimit,
		lookupWindow: params.LookupWindow,
		regionCode:   strings.TrimSpace(params.RegionCode),
		now:          time.Now,
	}
	if svc.cache == nil {
		svc.cache = NoopCache{}
	}
	if svc.geocoder == nil {
		svc.geocoder = NoopGeocoder{}
	}
	if svc.lookupWindow <= 0 {
		svc.lookupWindow = time.Minute
	}
	return svc, nil
}

// Resolve maps free text to a location: cache, then learned aliases, then a Places text search
// whose answer is learned as a system alias. Every call is recorded as a location eval.
func (s *Service) Resolve(ctx context.Context, raw string) (*Resolution, error) {
	alias := NormalizeAlias(raw)
	if alias == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "location text is required")
	}
	started := s.now()
	ctx = s.logg.WithField(ctx, "location_alias", alias)

	res, err := s.lookup(ctx, raw, alias)
	if err != nil {
		return nil, err
	}
	res.EvalID = s.recordEval(ctx, res, s.now().Sub(started))
	return res, nil
}

func (s *Service) lookup(ctx context.Context, raw, alias string) (*Resolution, error) {
	res := &Resolution{Input: raw, Alias: alias, Source: SourceNone}

	if cached, ok, err := s.cache.Get(ctx, alias); err != nil {
		s.logg.WarnErr(ctx, "location cache read failed", err)
	} else if ok {
		s.bumpUsage(ctx, alias)
		res.Found, res.Location, res.Source = true, cached, SourceCache
		return res, nil
	}

	learned, err := s.repo.FindByAlias(ctx, alias)
	switch {
	case err == nil:
		s.bumpUsage(ctx, alias)
		learned.UsageCount++
		loc := toLocation(learned)
		s.fillCache(ctx, alias, loc)
		res.Found, res.Location, res.Source = true, &loc, SourceLearned
		return res, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load learned location")
	}

	place, ok := s.searchPlaces(ctx, raw)
	if !ok {
		return res, nil
	}
	region := place.Region()
	row, err := s.repo.Upsert(ctx, &models.LearnedLocation{
		Alias:       alias,
		DisplayName: displayName(place.FormattedAddress, raw),
		City:        place.City(),
		Region:      optional(region),
		Latitude:    place.Location.Latitude,
		Longitude:   place.Location.Longitude,
		Source:      enums.LocationSourceSystem,
		UsageCount:  1,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "learn location")
	}
	loc := toLocation(row)
	s.fillCache(ctx, alias, loc)
	res.Found, res.Location, res.Source = true, &loc, SourcePlaces
	return res, nil
}

func (s *Service) searchPlaces(ctx context.Context, raw string) (*maps.PlaceDetails, bool) {
	if s.limiter != nil && s.lookupLimit > 0 {
		allowed, _, err := s.limiter.FixedWindowAllow(ctx, placesScope, s.lookupLimit, s.lookupWindow)
		if err != nil {
			s.logg.WarnErr(ctx, "places rate limiter unavailable", err)
		} else if !allowed {
			s.logg.Warn(ctx, "places lookup skipped: rate limit reached")
			return nil, false
		}
	}

	places, err := s.geocoder.SearchText(ctx, maps.SearchTextRequest{
		TextQuery:  strings.TrimSpace(raw),
		RegionCode: s.regionCode,
		PageSize:   1,
	})
	if err != nil {
		s.logg.WarnErr(ctx, "places lookup failed", err)
		return nil, false
	}
	for i := range places {
		p := places[i]
		point := geo.Point{Lat: p.Location.Latitude, Lng: p.Location.Longitude}
		if p.City() != "" && point.Valid() {
			return &p, true
		}
	}
	return nil, false
}

// UpsertInput teaches or overwrites an alias. When PlaceID is set, coordinates and city come from
// the Places API unless given explicitly.
type UpsertInput struct {
	Alias       string
	DisplayName string
	City        string
	Region      string
	Latitude    *float64
	Longitude   *float64
	PlaceID     string
	Source      enums.LocationSource
}

// Upsert stores an administrative alias and invalidates its cache entry.
func (s *Service) Upsert(ctx context.Context, in UpsertInput) (*Location, error) {
	if in.Source == "" {
		in.Source = enums.LocationSourceAdmin
	}
	if !in.Source.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid location source").WithDetails(map[string]any{"source": in.Source})
	}
	alias := NormalizeAlias(in.Alias)
	if alias == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "alias is required")
	}

	if strings.TrimSpace(in.PlaceID) != "" && (in.Latitude == nil || in.Longitude == nil || strings.TrimSpace(in.City) == "") {
		place, err := s.geocoder.ResolvePlace(ctx, in.PlaceID)
		if err != nil {
			return nil, err
		}
		if in.Latitude == nil || in.Longitude == nil {
			in.Latitude, in.Longitude = &place.Location.Latitude, &place.Location.Longitude
		}
		if strings.TrimSpace(in.City) == "" {
			in.City = place.City()
		}
		if strings.TrimSpace(in.Region) == "" {
			in.Region = place.Region()
		}
		if strings.TrimSpace(in.DisplayName) == "" {
			in.DisplayName = place.FormattedAddress
		}
	}

	details := map[string]any{}
	if strings.TrimSpace(in.City) == "" {
		details["city"] = "is required"
	}
	if in.Latitude == nil || in.Longitude == nil {
		details["coordinates"] = "are required"
	} else if !(geo.Point{Lat: *in.Latitude, Lng: *in.Longitude}).Valid() {
		details["coordinates"] = "are out of range"
	}
	if len(details) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid location").WithDetails(details)
	}

	row, err := s.repo.Upsert(ctx, &models.LearnedLocation{
		Alias:       alias,
		DisplayName: displayName(in.DisplayName, in.Alias),
		City:        strings.TrimSpace(in.City),
		Region:      optional(in.Region),
		Latitude:    *in.Latitude,
		Longitude:   *in.Longitude,
		Source:      in.Source,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save location")
	}
	s.invalidate(ctx, alias)
	loc := toLocation(row)
	return &loc, nil
}

// Correct records a user's correction of what an alias means.
func (s *Service) Correct(ctx context.Context, in UpsertInput) (*Location, error) {
	in.Source = enums.LocationSourceUserCorrection
	return s.Upsert(ctx, in)
}

// Delete removes a learned location.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	row, err := s.repo.Delete(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "location not found")
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete location")
	}
	s.invalidate(ctx, row.Alias)
	return nil
}

// Get returns one learned location by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Location, error) {
	row, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "location not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load location")
	}
	loc := toLocation(row)
	return &loc, nil
}

// List pages through learned locations.
func (s *Service) List(ctx context.Context, params ListParams) ([]Location, int64, error) {
	if params.Limit <= 0 {
		params.Limit = defaultListLimit
	}
	if params.Limit > maxListLimit {
		params.Limit = maxListLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	rows, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list locations")
	}
	out := make([]Location, 0, len(rows))
	for i := range rows {
		out = append(out, toLocation(&rows[i]))
	}
	return out, total, nil
}

func (s *Service) bumpUsage(ctx context.Context, alias string) {
	if err := s.repo.IncrementUsage(ctx, alias); err != nil {
		s.logg.WarnErr(ctx, "location usage increment failed", err)
	}
}

func (s *Service) fillCache(ctx context.Context, alias string, loc Location) {
	if err := s.cache.Set(ctx, alias, loc); err != nil {
		s.logg.WarnErr(ctx, "location cache write failed", err)
	}
}

func (s *Service) invalidate(ctx context.Context, alias string) {
	if err := s.cache.Delete(ctx, alias); err != nil {
		s.logg.WarnErr(ctx, "location cache invalidation failed", err)
	}
}

func (s *Service) recordEval(ctx context.Context, res *Resolution, latency time.Duration) uuid.UUID {
	eval := models.LocationEval{
		ID:         uuid.New(),
		Input:      res.Input,
		Normalized: res.Alias,
		Found:      res.Found,
		Source:     optional(res.Source),
		LatencyMS:  latency.Milliseconds(),
		CreatedAt:  s.now().UTC(),
	}
	if res.Location != nil {
		eval.ResolvedCity = optional(res.Location.City)
		lat, lng := res.Location.Latitude, res.Location.Longitude
		eval.Latitude, eval.Longitude = &lat, &lng
	}
	if err := s.evals.RecordLocation(ctx, eval); err != nil {
		s.logg.WarnErr(ctx, "location eval not recorded", err)
	}
	return eval.ID
}

func toLocation(row *models.LearnedLocation) Location {
	loc := Location{
		ID:          row.ID,
		Alias:       row.Alias,
		DisplayName: row.DisplayName,
		City:        row.City,
		Latitude:    row.Latitude,
		Longitude:   row.Longitude,
		Source:      row.Source,
		UsageCount:  row.UsageCount,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.Region != nil {
		loc.Region = *row.Region
	}
	return loc
}

func displayName(preferred, fallback string) string {
	if v := strings.TrimSpace(preferred); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
