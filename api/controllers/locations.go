package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/catermatch-backend/api/responses"
	"github.com/angelmondragon/catermatch-backend/api/validators"
	"github.com/angelmondragon/catermatch-backend/internal/locations"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

const maxLocationQuery = 200

// LocationService resolves free-text locations and manages learned aliases.
type LocationService interface {
	Resolve(ctx context.Context, raw string) (*locations.Resolution, error)
	Upsert(ctx context.Context, in locations.UpsertInput) (*locations.Location, error)
	Correct(ctx context.Context, in locations.UpsertInput) (*locations.Location, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, params locations.ListParams) ([]locations.Location, int64, error)
}

type resolveLocationRequest struct {
	Query string `json:"query" validate:"required,max=200"`
}

type upsertLocationRequest struct {
	Alias       string   `json:"alias" validate:"required,max=200"`
	DisplayName string   `json:"display_name,omitempty" validate:"max=200"`
	City        string   `json:"city,omitempty" validate:"max=120"`
	Region      string   `json:"region,omitempty" validate:"max=120"`
	Latitude    *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude   *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
	PlaceID     string   `json:"place_id,omitempty" validate:"max=300"`
	// Correction marks the write as a user correction of an existing alias.
	Correction bool `json:"correction,omitempty"`
}

func (b upsertLocationRequest) toInput() locations.UpsertInput {
	return locations.UpsertInput{
		Alias:       b.Alias,
		DisplayName: b.DisplayName,
		City:        b.City,
		Region:      b.Region,
		Latitude:    b.Latitude,
		Longitude:   b.Longitude,
		PlaceID:     b.PlaceID,
		Source:      enums.LocationSourceAdmin,
	}
}

// ResolveLocation maps free text to a known location.
func ResolveLocation(svc LocationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "location service unavailable"))
			return
		}
		var body resolveLocationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.Resolve(r.Context(), validators.CleanText(body.Query, maxLocationQuery))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

// AdminListLocations pages through learned aliases, optionally filtered by q.
func AdminListLocations(svc LocationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "location service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items, total, err := svc.List(r.Context(), locations.ListParams{
			Query:  validators.CleanText(r.URL.Query().Get("q"), maxLocationQuery),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"items":  items,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}

// AdminUpsertLocation teaches or overwrites an alias.
func AdminUpsertLocation(svc LocationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "location service unavailable"))
			return
		}
		var body upsertLocationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var (
			loc *locations.Location
			err error
		)
		if body.Correction {
			loc, err = svc.Correct(r.Context(), body.toInput())
		} else {
			loc, err = svc.Upsert(r.Context(), body.toInput())
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, loc)
	}
}

// AdminDeleteLocation removes a learned alias.
func AdminDeleteLocation(svc LocationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "location service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "locationId", "location")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"id": id, "deleted": true})
	}
}
