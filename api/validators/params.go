package validators

import (
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
)

// ParseUUIDParam reads a chi path parameter as a UUID. label names the resource in error messages.
func ParseUUIDParam(r *http.Request, param, label string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, param))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, label+" id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+label+" id").WithDetails(map[string]any{"field": param})
	}
	return id, nil
}

// ParseQueryInt returns fallback when key is absent and rejects values outside [lo, hi].
func ParseQueryInt(r *http.Request, key string, fallback, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, queryError(key, "must be an integer")
	}
	if value < lo || value > hi {
		return 0, queryError(key, "out of range").WithDetails(map[string]any{"field": key, "min": lo, "max": hi})
	}
	return value, nil
}

// ParseQueryTime accepts an RFC 3339 timestamp or a YYYY-MM-DD date. An empty value yields the zero
// time.
func ParseQueryTime(r *http.Request, key string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, queryError(key, "must be an RFC 3339 time or a date")
}

func queryError(key, problem string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, "query parameter "+key+" "+problem).WithDetails(map[string]any{"field": key})
}

// CleanText trims input, collapses internal whitespace runs to one space and cuts the result to at
// most maxRunes runes. Location queries and city names go through it before hitting the cache.
func CleanText(input string, maxRunes int) string {
	out := strings.Join(strings.Fields(input), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(out) <= maxRunes {
		return out
	}
	return strings.TrimSpace(string([]rune(out)[:maxRunes]))
}
