package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/catermatch-backend/api/responses"
	"github.com/angelmondragon/catermatch-backend/api/validators"
	"github.com/angelmondragon/catermatch-backend/internal/matching"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

// MatchingService runs the matching pipeline for one event request.
type MatchingService interface {
	Match(ctx context.Context, requestID uuid.UUID) (*matching.Outcome, error)
	Distribute(ctx context.Context, requestID uuid.UUID, limit int) (*matching.Outcome, error)
	Preview(ctx context.Context, requestID uuid.UUID) (*matching.Preview, error)
}

// MatchReader lists the persisted matches of a request.
type MatchReader interface {
	ListForRequest(ctx context.Context, requestID uuid.UUID) ([]models.Match, error)
}

type distributeRequest struct {
	Limit *int `json:"limit,omitempty" validate:"omitempty,min=1"`
}

// MatchEventRequest runs the full match pipeline and returns the persisted ranking.
func MatchEventRequest(svc MatchingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "matching service unavailable"))
			return
		}
		requestID, err := validators.ParseUUIDParam(r, "requestId", "event request")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithEventRequestID(ctx, requestID.String())
		}
		out, err := svc.Match(ctx, requestID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOutcomeDTO(out))
	}
}

// DistributeEventRequest hands the request to the next caterers in the fair rotation. The limit
// defaults to the configured lead count and is capped at maxLimit.
func DistributeEventRequest(svc MatchingService, maxLimit int, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "matching service unavailable"))
			return
		}
		requestID, err := validators.ParseUUIDParam(r, "requestId", "event request")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body distributeRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		limit := 0
		if body.Limit != nil {
			limit = *body.Limit
			if maxLimit > 0 && limit > maxLimit {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit out of range").WithDetails(map[string]any{"field": "limit", "max": maxLimit}))
				return
			}
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithEventRequestID(ctx, requestID.String())
		}
		out, err := svc.Distribute(ctx, requestID, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOutcomeDTO(out))
	}
}

// EventRequestScores returns the deterministic base-score breakdown for every candidate.
func EventRequestScores(svc MatchingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "matching service unavailable"))
			return
		}
		requestID, err := validators.ParseUUIDParam(r, "requestId", "event request")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		preview, err := svc.Preview(r.Context(), requestID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, preview)
	}
}

// EventRequestMatches lists a request's matches in rank order.
func EventRequestMatches(svc MatchReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "match service unavailable"))
			return
		}
		requestID, err := validators.ParseUUIDParam(r, "requestId", "event request")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListForRequest(r.Context(), requestID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"request_id": requestID,
			"matches":    toMatchDTOs(rows),
		})
	}
}
