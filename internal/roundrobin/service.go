// Package roundrobin distributes leads fairly across caterers of a tier within a city. A pool is
// served least recently assigned first, so nobody repeats before the whole pool had a turn. Each
// (tier, city) pool also keeps a persisted cursor that every assignment advances atomically.
package roundrobin

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/catermatch-backend/internal/caterers"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
	"github.com/angelmondragon/catermatch-backend/pkg/policy"
)

// EligibleCaterer is a caterer in a rotation pool.
type EligibleCaterer struct {
	ID                uuid.UUID         `json:"id"`
	Name              string            `json:"name"`
	Tier              enums.CatererTier `json:"tier"`
	City              string            `json:"city"`
	JobsThisMonth     int               `json:"jobs_this_month"`
	LastJobAssignedAt *time.Time        `json:"last_job_assigned_at,omitempty"`
}

// Selection is a read-only preview of who would receive the next leads.
type Selection struct {
	Tier       enums.CatererTier `json:"tier"`
	City       string            `json:"city"`
	Caterers   []EligibleCaterer `json:"caterers"`
	StartIndex int64             `json:"start_index"`
	PoolSize   int               `json:"pool_size"`
	// Fallback is set when the tier pool was empty and any active caterer in the city was used.
	Fallback bool `json:"fallback"`
}

// Assignment is the committed result of distributing leads.
type Assignment struct {
	Tier            enums.CatererTier `json:"tier"`
	City            string            `json:"city"`
	Caterers        []EligibleCaterer `json:"caterers"`
	AssignmentIndex int64             `json:"assignment_index"`
	Fallback        bool              `json:"fallback"`
	SkippedAtCap    []uuid.UUID       `json:"skipped_at_cap,omitempty"`
}

// AssignedIDs lists the caterers that received the lead.
func (a *Assignment) AssignedIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(a.Caterers))
	for _, c := range a.Caterers {
		ids = append(ids, c.ID)
	}
	return ids
}

type rotationRepository interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	ListPool(ctx context.Context, tx *gorm.DB, q PoolQuery) ([]models.Caterer, error)
	GetState(ctx context.Context, tx *gorm.DB, tier enums.CatererTier, city string) (*models.RoundRobinState, error)
	AdvanceCursor(ctx context.Context, tx *gorm.DB, tier enums.CatererTier, city string, delta int64, last *uuid.UUID) (int64, error)
	StampAssignment(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, caps []TierCap, now, monthStart time.Time) ([]uuid.UUID, []uuid.UUID, error)
}

// Observer is notified of committed assignments (metrics).
type Observer interface {
	ObserveAssignment(tier enums.CatererTier, fallback bool, assigned, skipped int)
}

type noopObserver struct{}

func (noopObserver) ObserveAssignment(enums.CatererTier, bool, int, int) {}

type Service struct {
	repo     rotationRepository
	policy   *policy.Policy
	observer Observer
	logg     *logger.Logger
	maxLimit int
	now      func() time.Time
}

type ServiceParams struct {
	Repo     rotationRepository
	Policy   *policy.Policy
	Observer Observer
	Logger   *logger.Logger
	// MaxLimit bounds how many caterers one call may select. Zero means unbounded.
	MaxLimit int
	Now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("round robin repository required")
	}
	if params.Policy == nil {
		return nil, errors.New("policy required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	observer := params.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     params.Repo,
		policy:   params.Policy,
		observer: observer,
		logg:     params.Logger,
		maxLimit: params.MaxLimit,
		now:      now,
	}, nil
}

// CanReceiveMoreJobs reports whether a caterer on tier with jobsThisMonth leads may take another.
func (s *Service) CanReceiveMoreJobs(tier enums.CatererTier, jobsThisMonth int) bool {
	return s.policy.CanReceiveMoreJobs(tier, jobsThisMonth)
}

// SelectNext previews the next caterers to receive a lead for an event with totalBudget in city.
// Nothing is written.
func (s *Service) SelectNext(ctx context.Context, totalBudget decimal.Decimal, city string, limit int) (*Selection, error) {
	tier, normCity, err := s.resolve(totalBudget, city, limit)
	if err != nil {
		return nil, err
	}

	pool, _, err := s.tierPool(ctx, nil, tier, normCity)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load rotation pool").WithStep("select")
	}
	if len(pool) == 0 {
		fallback, _, err := s.fallbackPool(ctx, nil, normCity, limit)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load fallback pool").WithStep("select")
		}
		return &Selection{Tier: tier, City: normCity, Caterers: fallback, PoolSize: len(fallback), Fallback: true}, nil
	}

	state, err := s.repo.GetState(ctx, nil, tier, normCity)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load rotation state").WithStep("select")
	}
	return &Selection{
		Tier:       tier,
		City:       normCity,
		Caterers:   head(pool, limit),
		StartIndex: state.AssignmentIndex % int64(len(pool)),
		PoolSize:   len(pool),
	}, nil
}

// CommitAssignment records that ids received a lead from the (tier, city) pool: the cursor moves
// forward by len(ids) and each caterer still under its monthly cap is stamped, in order, as the
// most recently assigned member of the pool.
func (s *Service) CommitAssignment(ctx context.Context, tier enums.CatererTier, city string, ids []uuid.UUID) (*Assignment, error) {
	if !tier.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown caterer tier").WithDetails(map[string]any{"tier": tier})
	}
	normCity := caterers.NormalizeCity(city)
	if normCity == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "city is required")
	}
	if len(ids) == 0 {
		state, err := s.repo.GetState(ctx, nil, tier, normCity)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load rotation state").WithStep("commit")
		}
		return &Assignment{Tier: tier, City: normCity, AssignmentIndex: state.AssignmentIndex}, nil
	}

	out := &Assignment{Tier: tier, City: normCity}
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		last := ids[len(ids)-1]
		index, err := s.repo.AdvanceCursor(ctx, tx, tier, normCity, int64(len(ids)), &last)
		if err != nil {
			return err
		}
		out.AssignmentIndex = index

		_, latest, err := s.tierPool(ctx, tx, tier, normCity)
		if err != nil {
			return err
		}
		stamped, skipped, err := s.stamp(ctx, tx, ids, latest)
		if err != nil {
			return err
		}
		for _, id := range stamped {
			out.Caterers = append(out.Caterers, EligibleCaterer{ID: id, Tier: tier, City: normCity})
		}
		out.SkippedAtCap = skipped
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "commit assignment").WithStep("commit")
	}
	s.observer.ObserveAssignment(tier, false, len(out.Caterers), len(out.SkippedAtCap))
	return out, nil
}

// CommitSelection commits a previewed selection. Fallback selections stamp caterers without
// moving any cursor.
func (s *Service) CommitSelection(ctx context.Context, sel *Selection) (*Assignment, error) {
	if sel == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "selection is required")
	}
	ids := make([]uuid.UUID, 0, len(sel.Caterers))
	for _, c := range sel.Caterers {
		ids = append(ids, c.ID)
	}
	if !sel.Fallback {
		return s.CommitAssignment(ctx, sel.Tier, sel.City, ids)
	}

	out := &Assignment{Tier: sel.Tier, City: sel.City, Fallback: true}
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		_, latest, err := s.fallbackPool(ctx, tx, sel.City, len(ids))
		if err != nil {
			return err
		}
		stamped, skipped, err := s.stamp(ctx, tx, ids, latest)
		if err != nil {
			return err
		}
		out.Caterers = pick(sel.Caterers, stamped)
		out.SkippedAtCap = skipped
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "commit fallback assignment").WithStep("commit")
	}
	s.observer.ObserveAssignment(sel.Tier, true, len(out.Caterers), len(out.SkippedAtCap))
	return out, nil
}

// PersistFunc runs inside the assignment transaction once caterers are stamped. An error rolls
// the whole assignment back.
type PersistFunc func(ctx context.Context, tx *gorm.DB, a *Assignment) error

// Assign selects and commits in one transaction. The pool cursor row is locked before the pool is
// read, so concurrent calls for the same pool serialize and never hand out the same turn twice.
func (s *Service) Assign(ctx context.Context, totalBudget decimal.Decimal, city string, limit int) (*Assignment, error) {
	return s.AssignWith(ctx, totalBudget, city, limit, nil)
}

// AssignWith is Assign with persist executed in the same transaction when anyone was assigned.
func (s *Service) AssignWith(ctx context.Context, totalBudget decimal.Decimal, city string, limit int, persist PersistFunc) (*Assignment, error) {
	tier, normCity, err := s.resolve(totalBudget, city, limit)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"tier": tier, "city": normCity})

	out := &Assignment{Tier: tier, City: normCity}
	err = s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		// A zero step takes the cursor row lock without moving it.
		index, err := s.repo.AdvanceCursor(ctx, tx, tier, normCity, 0, nil)
		if err != nil {
			return err
		}
		out.AssignmentIndex = index

		pool, latest, err := s.tierPool(ctx, tx, tier, normCity)
		if err != nil {
			return err
		}
		var chosen []EligibleCaterer
		if len(pool) == 0 {
			out.Fallback = true
			if chosen, latest, err = s.fallbackPool(ctx, tx, normCity, limit); err != nil {
				return err
			}
		} else {
			chosen = head(pool, limit)
		}
		if len(chosen) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(chosen))
		for _, c := range chosen {
			ids = append(ids, c.ID)
		}
		stamped, skipped, err := s.stamp(ctx, tx, ids, latest)
		if err != nil {
			return err
		}
		out.Caterers = pick(chosen, stamped)
		out.SkippedAtCap = skipped

		if !out.Fallback {
			var last *uuid.UUID
			if len(stamped) > 0 {
				last = &stamped[len(stamped)-1]
			}
			if out.AssignmentIndex, err = s.repo.AdvanceCursor(ctx, tx, tier, normCity, int64(len(chosen)), last); err != nil {
				return err
			}
		}
		if persist != nil && len(out.Caterers) > 0 {
			return persist(ctx, tx, out)
		}
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "assign leads").WithStep("commit")
	}

	s.observer.ObserveAssignment(tier, out.Fallback, len(out.Caterers), len(out.SkippedAtCap))
	if len(out.SkippedAtCap) > 0 {
		s.logg.Warn(s.logg.WithField(ctx, "skipped", len(out.SkippedAtCap)), "caterers reached their monthly cap during assignment")
	}
	return out, nil
}

func (s *Service) resolve(totalBudget decimal.Decimal, city string, limit int) (enums.CatererTier, string, error) {
	details := map[string]any{}
	if totalBudget.IsNegative() {
		details["total_budget"] = "must not be negative"
	}
	normCity := caterers.NormalizeCity(city)
	if normCity == "" {
		details["city"] = "is required"
	}
	if limit <= 0 {
		details["limit"] = "must be positive"
	} else if s.maxLimit > 0 && limit > s.maxLimit {
		details["limit"] = "exceeds the maximum batch size"
	}
	if len(details) > 0 {
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "invalid round robin request").WithDetails(details)
	}
	return s.policy.TierForBudget(totalBudget), normCity, nil
}

// tierPool returns the eligible caterers of a (tier, city) pool, least recently assigned first,
// along with the latest assignment stamp anyone in the pool carries.
func (s *Service) tierPool(ctx context.Context, tx *gorm.DB, tier enums.CatererTier, city string) ([]EligibleCaterer, time.Time, error) {
	rows, err := s.repo.ListPool(ctx, tx, PoolQuery{Tier: &tier, City: city, RequireSubscription: true})
	if err != nil {
		return nil, time.Time{}, err
	}
	return s.underCap(rows), latestStamp(rows), nil
}

func (s *Service) fallbackPool(ctx context.Context, tx *gorm.DB, city string, limit int) ([]EligibleCaterer, time.Time, error) {
	rows, err := s.repo.ListPool(ctx, tx, PoolQuery{City: city})
	if err != nil {
		return nil, time.Time{}, err
	}
	return head(s.underCap(rows), limit), latestStamp(rows), nil
}

// underCap drops caterers whose current-month counter already reached their tier's cap.
func (s *Service) underCap(rows []models.Caterer) []EligibleCaterer {
	monthStart := startOfMonth(s.now())
	out := make([]EligibleCaterer, 0, len(rows))
	for _, row := range rows {
		jobs := row.JobsThisMonth
		if row.JobsMonthStartedAt == nil || row.JobsMonthStartedAt.Before(monthStart) {
			jobs = 0
		}
		if !s.policy.CanReceiveMoreJobs(row.Tier, jobs) {
			continue
		}
		out = append(out, EligibleCaterer{
			ID:                row.ID,
			Name:              row.Name,
			Tier:              row.Tier,
			City:              row.City,
			JobsThisMonth:     jobs,
			LastJobAssignedAt: row.LastJobAssignedAt,
		})
	}
	return out
}

// stamp marks ids as assigned. Stamps always land after latest so the freshly assigned caterers
// sort behind everyone else in the pool even when clocks tie or drift.
func (s *Service) stamp(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, latest time.Time) ([]uuid.UUID, []uuid.UUID, error) {
	now := s.now().UTC()
	at := now
	if !latest.IsZero() && !at.After(latest) {
		at = latest.UTC().Add(stampStep)
	}
	return s.repo.StampAssignment(ctx, tx, ids, s.caps(), at, startOfMonth(now))
}

func (s *Service) caps() []TierCap {
	caps := make([]TierCap, 0, len(s.policy.Tiers))
	for _, rule := range s.policy.Tiers {
		limit, limited, _ := s.policy.MonthlyCap(rule.Tier)
		caps = append(caps, TierCap{Tier: rule.Tier, Limit: limit, Limited: limited})
	}
	return caps
}

func head(pool []EligibleCaterer, limit int) []EligibleCaterer {
	if len(pool) == 0 || limit <= 0 {
		return nil
	}
	return pool[:min(limit, len(pool))]
}

func latestStamp(rows []models.Caterer) time.Time {
	var latest time.Time
	for _, row := range rows {
		if row.LastJobAssignedAt != nil && row.LastJobAssignedAt.After(latest) {
			latest = *row.LastJobAssignedAt
		}
	}
	return latest
}

func pick(candidates []EligibleCaterer, ids []uuid.UUID) []EligibleCaterer {
	keep := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	out := make([]EligibleCaterer, 0, len(ids))
	for _, c := range candidates {
		if _, ok := keep[c.ID]; ok {
			out = append(out, c)
		}
	}
	return out
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
