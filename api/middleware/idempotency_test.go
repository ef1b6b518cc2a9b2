package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
	"github.com/angelmondragon/catermatch-backend/pkg/redis"
)

const distributePath = "/api/v1/event-requests/3f1c/distribute"

func newIdempotencyStore(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.FromClient(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func post(h http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, distributePath, strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestIdempotencyRequiredKeyRejectsMissingHeader(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	called := false
	h := Idempotency(store, RequiredKey, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := post(h, "", `{"limit":3}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(pkgerrors.CodeValidation), errorCode(t, rec))
	require.False(t, called)
}

func TestIdempotencyOptionalKeyPassesThrough(t *testing.T) {
	store, srv := newIdempotencyStore(t)
	calls := 0
	h := Idempotency(store, OptionalKey, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	post(h, "", "")
	post(h, "", "")
	require.Equal(t, 2, calls)
	require.Empty(t, srv.Keys())
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store, srv := newIdempotencyStore(t)
	calls := 0
	h := Idempotency(store, RequiredKey, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{"assigned":2}}`))
	}))

	first := post(h, "abc", `{"limit":2}`)
	require.Equal(t, http.StatusOK, first.Code)
	key := "cm:idempotency:POST|" + distributePath + ":abc"
	require.Equal(t, RequiredKey.TTL, srv.TTL(key))

	replay := post(h, "abc", `{"limit":2}`)
	require.Equal(t, http.StatusOK, replay.Code)
	require.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	require.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, `{"data":{"assigned":2}}`, replay.Body.String())
	require.Equal(t, 1, calls)
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store, srv := newIdempotencyStore(t)
	calls := 0
	h := Idempotency(store, RequiredKey, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	post(h, "retry-me", `{}`)
	post(h, "retry-me", `{}`)
	require.Equal(t, 2, calls)
	require.Empty(t, srv.Keys())
}

func TestIdempotencyDetectsBodyChange(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	h := Idempotency(store, RequiredKey, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	post(h, "xyz", `{"limit":2}`)
	rec := post(h, "xyz", `{"limit":5}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, rec))
}

func TestIdempotencyConflictsWhileInFlight(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	ctx := context.Background()
	body := `{"limit":2}`
	// Simulate a first request that reserved the key and has not finished.
	ok, err := reserve(ctx, store, store.IdempotencyKey("POST|"+distributePath, "busy"), requestHash(http.MethodPost, []byte(body)))
	require.NoError(t, err)
	require.True(t, ok)

	called := false
	h := Idempotency(store, RequiredKey, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	rec := post(h, "busy", body)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "still in progress")
	require.False(t, called)
}

func TestIdempotencyKeysAreScopedToPath(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	calls := 0
	h := Idempotency(store, OptionalKey, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	for _, path := range []string{"/api/v1/matches/a/viewed", "/api/v1/matches/b/viewed"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Idempotency-Key", "same")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	require.Equal(t, 2, calls)
}

func TestRequestHashIncludesMethod(t *testing.T) {
	require.NotEqual(t, requestHash(http.MethodPost, []byte("{}")), requestHash(http.MethodPut, []byte("{}")))
	require.Equal(t, requestHash(http.MethodPost, nil), requestHash(http.MethodPost, []byte{}))
}
