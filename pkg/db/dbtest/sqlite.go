// Package dbtest opens throwaway SQLite databases carrying the production table layout, for
// repository tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS caterers (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  tier TEXT NOT NULL,
  city TEXT NOT NULL,
  cuisines TEXT,
  service_styles TEXT,
  description TEXT,
  min_guests INTEGER NOT NULL DEFAULT 0,
  max_guests INTEGER NOT NULL,
  min_price_per_person NUMERIC NOT NULL,
  max_price_per_person NUMERIC NOT NULL,
  latitude REAL,
  longitude REAL,
  average_rating REAL,
  review_count INTEGER NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  subscription_active INTEGER NOT NULL DEFAULT 0,
  jobs_this_month INTEGER NOT NULL DEFAULT 0,
  jobs_month_started_at DATETIME,
  last_job_assigned_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS event_requests (
  id TEXT PRIMARY KEY,
  customer_name TEXT NOT NULL,
  customer_email TEXT NOT NULL,
  event_type TEXT,
  event_date DATETIME,
  guest_count INTEGER NOT NULL,
  budget_min NUMERIC NOT NULL DEFAULT 0,
  budget_max NUMERIC NOT NULL,
  cuisines TEXT,
  dietary_restrictions TEXT,
  service_style TEXT,
  location_text TEXT,
  city TEXT,
  latitude REAL,
  longitude REAL,
  notes TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  accepted_match_id TEXT,
  matched_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS matches (
  id TEXT PRIMARY KEY,
  event_request_id TEXT NOT NULL,
  caterer_id TEXT NOT NULL,
  score INTEGER NOT NULL,
  status TEXT NOT NULL,
  source TEXT NOT NULL,
  reasons TEXT,
  concerns TEXT,
  summary TEXT,
  rank INTEGER NOT NULL DEFAULT 0,
  viewed_at DATETIME,
  contacted_at DATETIME,
  quoted_at DATETIME,
  responded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT matches_request_caterer_key UNIQUE (event_request_id, caterer_id)
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS matches_one_accepted_per_request
  ON matches (event_request_id) WHERE status = 'accepted';`,
	`CREATE TABLE IF NOT EXISTS round_robin_states (
  tier TEXT NOT NULL,
  city TEXT NOT NULL,
  assignment_index INTEGER NOT NULL DEFAULT 0,
  last_assigned_caterer_id TEXT,
  updated_at DATETIME,
  PRIMARY KEY (tier, city)
);`,
	`CREATE TABLE IF NOT EXISTS learned_locations (
  id TEXT PRIMARY KEY,
  alias TEXT NOT NULL UNIQUE,
  display_name TEXT NOT NULL,
  city TEXT NOT NULL,
  region TEXT,
  latitude REAL NOT NULL,
  longitude REAL NOT NULL,
  source TEXT NOT NULL,
  usage_count INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS location_evals (
  id TEXT PRIMARY KEY,
  input TEXT NOT NULL,
  normalized TEXT NOT NULL,
  found INTEGER NOT NULL,
  source TEXT,
  resolved_city TEXT,
  latitude REAL,
  longitude REAL,
  latency_ms INTEGER NOT NULL DEFAULT 0,
  is_correct INTEGER,
  corrected_city TEXT,
  verified_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS matching_evals (
  id TEXT PRIMARY KEY,
  event_request_id TEXT NOT NULL,
  source TEXT NOT NULL,
  candidate_count INTEGER NOT NULL DEFAULT 0,
  match_count INTEGER NOT NULL DEFAULT 0,
  top_score INTEGER,
  matched_caterer_ids TEXT NOT NULL DEFAULT '{}',
  model TEXT,
  latency_ms INTEGER NOT NULL DEFAULT 0,
  success INTEGER NOT NULL,
  failure_step TEXT,
  error_message TEXT,
  outcome TEXT,
  outcome_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns an isolated in-memory database with every table created. The pool is limited to a
// single connection so concurrent transactions serialize the way row locks would.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}

// CatererOption customizes MustCreateCaterer.
type CatererOption func(*models.Caterer)

func WithTier(tier enums.CatererTier) CatererOption {
	return func(c *models.Caterer) { c.Tier = tier }
}

func WithCity(city string) CatererOption {
	return func(c *models.Caterer) { c.City = city }
}

func WithName(name string) CatererOption {
	return func(c *models.Caterer) { c.Name = name }
}

// WithJobs sets the counter for the current calendar month.
func WithJobs(jobs int) CatererOption {
	return func(c *models.Caterer) {
		now := time.Now().UTC()
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		c.JobsThisMonth = jobs
		c.JobsMonthStartedAt = &start
	}
}

// WithJobsSince sets a counter whose window started at monthStart.
func WithJobsSince(jobs int, monthStart time.Time) CatererOption {
	return func(c *models.Caterer) {
		monthStart = monthStart.UTC()
		c.JobsThisMonth = jobs
		c.JobsMonthStartedAt = &monthStart
	}
}

func WithLastAssigned(at time.Time) CatererOption {
	return func(c *models.Caterer) {
		at = at.UTC()
		c.LastJobAssignedAt = &at
	}
}

func WithCreatedAt(at time.Time) CatererOption {
	return func(c *models.Caterer) { c.CreatedAt = at.UTC() }
}

func WithSubscription(active bool) CatererOption {
	return func(c *models.Caterer) { c.SubscriptionActive = active }
}

func WithActive(active bool) CatererOption {
	return func(c *models.Caterer) { c.IsActive = active }
}

func WithCapacity(minGuests, maxGuests int) CatererOption {
	return func(c *models.Caterer) {
		c.MinGuests = minGuests
		c.MaxGuests = maxGuests
	}
}

func WithPrice(minPerPerson, maxPerPerson int64) CatererOption {
	return func(c *models.Caterer) {
		c.MinPricePerPerson = decimal.NewFromInt(minPerPerson)
		c.MaxPricePerPerson = decimal.NewFromInt(maxPerPerson)
	}
}

func WithCuisines(cuisines ...string) CatererOption {
	return func(c *models.Caterer) { c.Cuisines = pq.StringArray(cuisines) }
}

func WithServiceStyles(styles ...string) CatererOption {
	return func(c *models.Caterer) { c.ServiceStyles = pq.StringArray(styles) }
}

func WithLocation(lat, lng float64) CatererOption {
	return func(c *models.Caterer) {
		c.Latitude = &lat
		c.Longitude = &lng
	}
}

func WithRating(avg float64, reviews int) CatererOption {
	return func(c *models.Caterer) {
		c.AverageRating = &avg
		c.ReviewCount = reviews
	}
}

// MustCreateCaterer inserts an active, subscribed basic-tier Austin caterer.
func MustCreateCaterer(t *testing.T, db *gorm.DB, opts ...CatererOption) *models.Caterer {
	t.Helper()
	caterer := &models.Caterer{
		ID:                 uuid.New(),
		Name:               "Caterer " + uuid.NewString()[:8],
		Tier:               enums.CatererTierBasic,
		City:               "Austin",
		Cuisines:           pq.StringArray{"bbq"},
		MinGuests:          10,
		MaxGuests:          200,
		MinPricePerPerson:  decimal.NewFromInt(20),
		MaxPricePerPerson:  decimal.NewFromInt(60),
		IsActive:           true,
		SubscriptionActive: true,
		CreatedAt:          time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(caterer)
	}
	if err := db.Create(caterer).Error; err != nil {
		t.Fatalf("create caterer: %v", err)
	}
	return caterer
}

// EventRequestOption customizes MustCreateEventRequest.
type EventRequestOption func(*models.EventRequest)

func WithGuests(guests int) EventRequestOption {
	return func(r *models.EventRequest) { r.GuestCount = guests }
}

func WithBudget(minBudget, maxBudget int64) EventRequestOption {
	return func(r *models.EventRequest) {
		r.BudgetMin = decimal.NewFromInt(minBudget)
		r.BudgetMax = decimal.NewFromInt(maxBudget)
	}
}

func WithRequestCity(city string) EventRequestOption {
	return func(r *models.EventRequest) { r.City = city }
}

func WithRequestStatus(status enums.EventRequestStatus) EventRequestOption {
	return func(r *models.EventRequest) { r.Status = status }
}

func WithRequestCuisines(cuisines ...string) EventRequestOption {
	return func(r *models.EventRequest) { r.Cuisines = pq.StringArray(cuisines) }
}

func WithRequestServiceStyle(style string) EventRequestOption {
	return func(r *models.EventRequest) { r.ServiceStyle = style }
}

func WithRequestUpdatedAt(at time.Time) EventRequestOption {
	return func(r *models.EventRequest) { r.UpdatedAt = at.UTC() }
}

// MustCreateEventRequest inserts a pending 100-guest Austin request with a 5000 budget.
func MustCreateEventRequest(t *testing.T, db *gorm.DB, opts ...EventRequestOption) *models.EventRequest {
	t.Helper()
	req := &models.EventRequest{
		ID:            uuid.New(),
		CustomerName:  "Dana Customer",
		CustomerEmail: fmt.Sprintf("cm_test_%s@example.com", uuid.NewString()),
		EventType:     "wedding",
		GuestCount:    100,
		BudgetMin:     decimal.NewFromInt(3000),
		BudgetMax:     decimal.NewFromInt(5000),
		Cuisines:      pq.StringArray{"bbq"},
		City:          "Austin",
		Status:        enums.EventRequestStatusPending,
	}
	for _, opt := range opts {
		opt(req)
	}
	if err := db.Create(req).Error; err != nil {
		t.Fatalf("create event request: %v", err)
	}
	return req
}
