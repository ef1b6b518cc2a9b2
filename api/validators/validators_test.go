package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
)

type resolveBody struct {
	Query string `json:"query" validate:"required,max=200"`
}

func TestDecodeJSONBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query":"downtown austin"}`))
	var body resolveBody
	require.NoError(t, DecodeJSONBody(req, &body))
	require.Equal(t, "downtown austin", body.Query)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query":""}`))
	err := DecodeJSONBody(req, &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	require.Equal(t, map[string]string{"query": "is required"}, pkgerrors.As(err).Details())

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query":"x","extra":1}`))
	require.True(t, pkgerrors.IsCode(DecodeJSONBody(req, &body), pkgerrors.CodeValidation))
}

func withParam(key, value string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	got, err := ParseUUIDParam(withParam("matchId", id.String()), "matchId", "match")
	require.NoError(t, err)
	require.Equal(t, id, got)

	_, err = ParseUUIDParam(withParam("matchId", "nope"), "matchId", "match")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ParseUUIDParam(withParam("matchId", " "), "matchId", "match")
	require.Equal(t, "match id is required", pkgerrors.As(err).Message())
}

func TestParseQueryTime(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?since=2024-07-01", nil)
	got, err := ParseQueryTime(req, "since")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), got)

	req = httptest.NewRequest(http.MethodGet, "/?since=2024-07-01T10:00:00-05:00", nil)
	got, err = ParseQueryTime(req, "since")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 7, 1, 15, 0, 0, 0, time.UTC), got)

	got, err = ParseQueryTime(httptest.NewRequest(http.MethodGet, "/", nil), "since")
	require.NoError(t, err)
	require.True(t, got.IsZero())

	_, err = ParseQueryTime(httptest.NewRequest(http.MethodGet, "/?since=yesterday", nil), "since")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryInt(t *testing.T) {
	v, err := ParseQueryInt(httptest.NewRequest(http.MethodGet, "/?limit=5", nil), "limit", 3, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 5, v)

	v, err = ParseQueryInt(httptest.NewRequest(http.MethodGet, "/", nil), "limit", 3, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 3, v)

	_, err = ParseQueryInt(httptest.NewRequest(http.MethodGet, "/?limit=50", nil), "limit", 3, 1, 10)
	require.Equal(t, "query parameter limit out of range", pkgerrors.As(err).Message())

	_, err = ParseQueryInt(httptest.NewRequest(http.MethodGet, "/?limit=ten", nil), "limit", 3, 1, 10)
	require.Equal(t, "query parameter limit must be an integer", pkgerrors.As(err).Message())
}

func TestDecodeJSONBodyErrors(t *testing.T) {
	var body resolveBody

	err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")), &body)
	require.Equal(t, "request body is required", pkgerrors.As(err).Message())

	err = DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query":12}`)), &body)
	require.Equal(t, map[string]string{"query": "must be a string"}, pkgerrors.As(err).Details())

	err = DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query":"a"}{"query":"b"}`)), &body)
	require.Equal(t, "request body must contain a single JSON object", pkgerrors.As(err).Message())

	huge := `{"query":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	err = DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(huge)), &body)
	require.Equal(t, "request body too large", pkgerrors.As(err).Message())
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "south congress austin", CleanText("  south\tcongress \n austin ", 0))
	require.Equal(t, "São", CleanText("São Paulo", 3))
	require.Equal(t, "ab", CleanText("ab cd", 3))
	require.Empty(t, CleanText("   ", 10))
}
