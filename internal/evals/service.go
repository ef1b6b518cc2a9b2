package evals

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/catermatch-backend/pkg/db"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

const defaultStatsWindow = 30 * 24 * time.Hour

type evalRepository interface {
	VerifyLocation(ctx context.Context, id uuid.UUID, correct bool, correctedCity *string, at time.Time) (*models.LocationEval, error)
	RecordMatchingOutcome(ctx context.Context, requestID uuid.UUID, outcome string, at time.Time) (bool, error)
	LocationCounts(ctx context.Context, since time.Time) (locationCounts, error)
	MatchingCounts(ctx context.Context, since time.Time) (matchingCounts, error)
	MatchingBySource(ctx context.Context, since time.Time) ([]sourceCount, error)
}

// LocationStats summarizes location resolution quality.
type LocationStats struct {
	Total    int64    `json:"total"`
	Found    int64    `json:"found"`
	Verified int64    `json:"verified"`
	Correct  int64    `json:"correct"`
	HitRate  *float64 `json:"hit_rate"`
	Accuracy *float64 `json:"accuracy"`
}

// MatchingStats summarizes matching and distribution runs.
type MatchingStats struct {
	Total          int64            `json:"total"`
	Succeeded      int64            `json:"succeeded"`
	Outcomes       int64            `json:"outcomes"`
	Accepted       int64            `json:"accepted"`
	SuccessRate    *float64         `json:"success_rate"`
	AcceptanceRate *float64         `json:"acceptance_rate"`
	BySource       map[string]int64 `json:"by_source"`
}

type Stats struct {
	Since    time.Time     `json:"since"`
	Location LocationStats `json:"location"`
	Matching MatchingStats `json:"matching"`
}

// Service exposes eval review and reporting.
type Service struct {
	repo evalRepository
	logg *logger.Logger
	now  func() time.Time
}

type ServiceParams struct {
	Repo   evalRepository
	Logger *logger.Logger
	Now    func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("eval repository required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: params.Repo, logg: params.Logger, now: now}, nil
}

// VerifyInput is a reviewer's verdict on one location eval.
type VerifyInput struct {
	Correct       bool
	CorrectedCity string
}

func (s *Service) VerifyLocation(ctx context.Context, id uuid.UUID, input VerifyInput) (*models.LocationEval, error) {
	corrected := strings.TrimSpace(input.CorrectedCity)
	if input.Correct && corrected != "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "corrected_city only applies to incorrect resolutions")
	}
	var correctedCity *string
	if corrected != "" {
		correctedCity = &corrected
	}

	eval, err := s.repo.VerifyLocation(ctx, id, input.Correct, correctedCity, s.now().UTC())
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "location eval not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify location eval")
	}
	return eval, nil
}

// RecordOutcome attaches a booking outcome to the request's latest successful matching eval.
// Failures are logged; outcomes never block the customer workflow.
func (s *Service) RecordOutcome(ctx context.Context, requestID uuid.UUID, outcome string) {
	ctx = s.logg.WithEventRequestID(ctx, requestID.String())
	updated, err := s.repo.RecordMatchingOutcome(ctx, requestID, outcome, s.now().UTC())
	if err != nil {
		s.logg.WarnErr(ctx, "matching outcome not recorded", err)
		return
	}
	if !updated {
		s.logg.Debug(ctx, "no matching eval for outcome")
	}
}

// Stats reports quality figures for evals created at or after since. A zero since covers the
// last 30 days.
func (s *Service) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	if since.IsZero() {
		since = s.now().UTC().Add(-defaultStatsWindow)
	}
	loc, err := s.repo.LocationCounts(ctx, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "location eval stats")
	}
	match, err := s.repo.MatchingCounts(ctx, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "matching eval stats")
	}
	sources, err := s.repo.MatchingBySource(ctx, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "matching eval sources")
	}

	bySource := make(map[string]int64, len(sources))
	for _, sc := range sources {
		bySource[sc.Source] = sc.Total
	}
	return &Stats{
		Since: since.UTC(),
		Location: LocationStats{
			Total:    loc.Total,
			Found:    loc.Found,
			Verified: loc.Verified,
			Correct:  loc.Correct,
			HitRate:  ratio(loc.Found, loc.Total),
			Accuracy: ratio(loc.Correct, loc.Verified),
		},
		Matching: MatchingStats{
			Total:          match.Total,
			Succeeded:      match.Succeeded,
			Outcomes:       match.Outcomes,
			Accepted:       match.Accepted,
			SuccessRate:    ratio(match.Succeeded, match.Total),
			AcceptanceRate: ratio(match.Accepted, match.Outcomes),
			BySource:       bySource,
		},
	}, nil
}

// ratio is nil when there is nothing to divide by.
func ratio(num, den int64) *float64 {
	if den == 0 {
		return nil
	}
	v := float64(num) / float64(den)
	return &v
}
