package matches

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

type matchRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Match, error)
	ListForRequest(ctx context.Context, requestID uuid.UUID) ([]models.Match, error)
	Accept(ctx context.Context, matchID uuid.UUID) (*models.Match, error)
	Transition(ctx context.Context, matchID uuid.UUID, to enums.MatchStatus, from []enums.MatchStatus, stampColumn string) (*models.Match, error)
}

// OutcomeRecorder receives booking outcomes for matching evals.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, requestID uuid.UUID, outcome string)
}

type noopOutcomes struct{}

func (noopOutcomes) RecordOutcome(context.Context, uuid.UUID, string) {}

type transition struct {
	from  []enums.MatchStatus
	stamp string
}

var transitions = map[enums.MatchStatus]transition{
	enums.MatchStatusViewed: {
		from:  []enums.MatchStatus{enums.MatchStatusPending, enums.MatchStatusLowMatch},
		stamp: "viewed_at",
	},
	enums.MatchStatusContacted: {
		from:  []enums.MatchStatus{enums.MatchStatusPending, enums.MatchStatusLowMatch, enums.MatchStatusViewed},
		stamp: "contacted_at",
	},
	enums.MatchStatusQuoted: {
		from:  []enums.MatchStatus{enums.MatchStatusPending, enums.MatchStatusLowMatch, enums.MatchStatusViewed, enums.MatchStatusContacted},
		stamp: "quoted_at",
	},
	enums.MatchStatusDeclined: {
		from: []enums.MatchStatus{
			enums.MatchStatusPending, enums.MatchStatusLowMatch, enums.MatchStatusViewed,
			enums.MatchStatusContacted, enums.MatchStatusQuoted,
		},
		stamp: "responded_at",
	},
}

// Service runs the customer-facing match workflow.
type Service struct {
	repo     matchRepository
	outcomes OutcomeRecorder
	logg     *logger.Logger
}

type ServiceParams struct {
	Repo     matchRepository
	Outcomes OutcomeRecorder
	Logger   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("match repository required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	outcomes := params.Outcomes
	if outcomes == nil {
		outcomes = noopOutcomes{}
	}
	return &Service{repo: params.Repo, outcomes: outcomes, logg: params.Logger}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	m, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "load match")
	}
	return m, nil
}

func (s *Service) ListForRequest(ctx context.Context, requestID uuid.UUID) ([]models.Match, error) {
	rows, err := s.repo.ListForRequest(ctx, requestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list matches")
	}
	return rows, nil
}

// Accept books the caterer behind matchID and declines every other match of the request.
func (s *Service) Accept(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	ctx = s.logg.WithField(ctx, "match_id", matchID.String())
	m, err := s.repo.Accept(ctx, matchID)
	if err != nil {
		return nil, mapRepoError(err, "accept match")
	}
	s.logg.Info(ctx, "match accepted")
	s.outcomes.RecordOutcome(ctx, m.EventRequestID, string(enums.MatchStatusAccepted))
	return m, nil
}

func (s *Service) Decline(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	return s.transition(ctx, matchID, enums.MatchStatusDeclined)
}

func (s *Service) MarkViewed(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	return s.transition(ctx, matchID, enums.MatchStatusViewed)
}

func (s *Service) MarkContacted(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	return s.transition(ctx, matchID, enums.MatchStatusContacted)
}

func (s *Service) MarkQuoted(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	return s.transition(ctx, matchID, enums.MatchStatusQuoted)
}

func (s *Service) transition(ctx context.Context, matchID uuid.UUID, to enums.MatchStatus) (*models.Match, error) {
	rule, ok := transitions[to]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported match status").
			WithDetails(map[string]any{"status": to})
	}
	m, err := s.repo.Transition(ctx, matchID, to, rule.from, rule.stamp)
	if err != nil {
		return nil, mapRepoError(err, "update match status")
	}
	return m, nil
}

// StatusForScore maps a ranking score to the initial match status.
func StatusForScore(score, lowMatchThreshold int) enums.MatchStatus {
	if score >= lowMatchThreshold {
		return enums.MatchStatusPending
	}
	return enums.MatchStatusLowMatch
}

func mapRepoError(err error, action string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "match not found")
	case errors.Is(err, ErrAlreadyAccepted):
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "another caterer was already accepted for this event")
	case errors.Is(err, ErrInvalidTransition):
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "match cannot move to the requested status")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, action)
	}
}
