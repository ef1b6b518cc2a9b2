package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/catermatch-backend/api/responses"
	"github.com/angelmondragon/catermatch-backend/api/validators"
	"github.com/angelmondragon/catermatch-backend/internal/evals"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

// EvalService exposes eval quality figures and human verification.
type EvalService interface {
	Stats(ctx context.Context, since time.Time) (*evals.Stats, error)
	VerifyLocation(ctx context.Context, id uuid.UUID, input evals.VerifyInput) (*models.LocationEval, error)
}

type verifyLocationRequest struct {
	Correct       *bool  `json:"correct" validate:"required"`
	CorrectedCity string `json:"corrected_city,omitempty" validate:"max=120"`
}

// AdminEvalStats reports eval figures since the optional ?since= time.
func AdminEvalStats(svc EvalService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "eval service unavailable"))
			return
		}
		since, err := validators.ParseQueryTime(r, "since")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stats, err := svc.Stats(r.Context(), since)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// AdminVerifyLocationEval records a reviewer's verdict on a location resolution.
func AdminVerifyLocationEval(svc EvalService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "eval service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "evalId", "eval")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body verifyLocationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		eval, err := svc.VerifyLocation(r.Context(), id, evals.VerifyInput{
			Correct:       *body.Correct,
			CorrectedCity: body.CorrectedCity,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toLocationEvalDTO(eval))
	}
}
