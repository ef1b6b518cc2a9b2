package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/catermatch-backend/api/responses"
	"github.com/angelmondragon/catermatch-backend/api/validators"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

// MatchWorkflow moves a match through the customer workflow.
type MatchWorkflow interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Match, error)
	Accept(ctx context.Context, matchID uuid.UUID) (*models.Match, error)
	Decline(ctx context.Context, matchID uuid.UUID) (*models.Match, error)
	MarkViewed(ctx context.Context, matchID uuid.UUID) (*models.Match, error)
	MarkContacted(ctx context.Context, matchID uuid.UUID) (*models.Match, error)
	MarkQuoted(ctx context.Context, matchID uuid.UUID) (*models.Match, error)
}

// MatchAction names a workflow step exposed as POST /matches/{matchId}/{action}.
type MatchAction string

const (
	MatchActionAccept    MatchAction = "accept"
	MatchActionDecline   MatchAction = "decline"
	MatchActionViewed    MatchAction = "viewed"
	MatchActionContacted MatchAction = "contacted"
	MatchActionQuoted    MatchAction = "quoted"
)

func (a MatchAction) apply(ctx context.Context, svc MatchWorkflow, id uuid.UUID) (*models.Match, error) {
	switch a {
	case MatchActionAccept:
		return svc.Accept(ctx, id)
	case MatchActionDecline:
		return svc.Decline(ctx, id)
	case MatchActionViewed:
		return svc.MarkViewed(ctx, id)
	case MatchActionContacted:
		return svc.MarkContacted(ctx, id)
	case MatchActionQuoted:
		return svc.MarkQuoted(ctx, id)
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown match action").WithDetails(map[string]any{"action": string(a)})
}

// GetMatch returns one match.
func GetMatch(svc MatchWorkflow, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "match service unavailable"))
			return
		}
		matchID, err := validators.ParseUUIDParam(r, "matchId", "match")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		match, err := svc.Get(r.Context(), matchID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toMatchDTO(match))
	}
}

// MatchTransition applies action to the match in the path.
func MatchTransition(svc MatchWorkflow, action MatchAction, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "match service unavailable"))
			return
		}
		matchID, err := validators.ParseUUIDParam(r, "matchId", "match")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"match_id": matchID.String(), "action": string(action)})
		}
		match, err := action.apply(ctx, svc, matchID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithEventRequestID(ctx, match.EventRequestID.String()), "match.transitioned")
		}
		responses.WriteSuccess(w, toMatchDTO(match))
	}
}
