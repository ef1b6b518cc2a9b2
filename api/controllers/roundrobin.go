package controllers

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/catermatch-backend/api/responses"
	"github.com/angelmondragon/catermatch-backend/api/validators"
	"github.com/angelmondragon/catermatch-backend/internal/roundrobin"
	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

// RotationPreviewer shows who would receive the next leads without committing.
type RotationPreviewer interface {
	SelectNext(ctx context.Context, totalBudget decimal.Decimal, city string, limit int) (*roundrobin.Selection, error)
}

type roundRobinPreviewRequest struct {
	TotalBudget decimal.Decimal `json:"total_budget"`
	City        string          `json:"city" validate:"required,max=120"`
	Limit       int             `json:"limit" validate:"omitempty,min=1"`
}

// RoundRobinPreview returns the next caterers for a budget and city. Limit defaults to
// defaultLimit and may not exceed maxLimit.
func RoundRobinPreview(svc RotationPreviewer, defaultLimit, maxLimit int, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "round-robin service unavailable"))
			return
		}
		var body roundRobinPreviewRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !body.TotalBudget.IsPositive() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(map[string]string{"total_budget": "must be greater than 0"}))
			return
		}
		limit := body.Limit
		if limit == 0 {
			limit = defaultLimit
		}
		if maxLimit > 0 && limit > maxLimit {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit out of range").WithDetails(map[string]any{"field": "limit", "max": maxLimit}))
			return
		}

		sel, err := svc.SelectNext(r.Context(), body.TotalBudget, validators.CleanText(body.City, 120), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sel)
	}
}
