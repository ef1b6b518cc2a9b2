package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/catermatch-backend/internal/evals"
	"github.com/angelmondragon/catermatch-backend/internal/locations"
	"github.com/angelmondragon/catermatch-backend/internal/matching"
	"github.com/angelmondragon/catermatch-backend/internal/roundrobin"
	"github.com/angelmondragon/catermatch-backend/pkg/config"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		Retryable bool           `json:"retryable"`
		Details   map[string]any `json:"details"`
	} `json:"error"`
}

func serve(t *testing.T, h http.HandlerFunc, method, target string, body io.Reader, params map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

type stubMatching struct {
	outcome   *matching.Outcome
	preview   *matching.Preview
	err       error
	lastLimit int
}

func (s *stubMatching) Match(_ context.Context, id uuid.UUID) (*matching.Outcome, error) {
	return s.outcome, s.err
}

func (s *stubMatching) Distribute(_ context.Context, id uuid.UUID, limit int) (*matching.Outcome, error) {
	s.lastLimit = limit
	return s.outcome, s.err
}

func (s *stubMatching) Preview(_ context.Context, id uuid.UUID) (*matching.Preview, error) {
	return s.preview, s.err
}

func TestMatchEventRequestReturnsOutcome(t *testing.T) {
	requestID := uuid.New()
	svc := &stubMatching{outcome: &matching.Outcome{
		RequestID:      requestID,
		Source:         enums.MatchSourceAI,
		CandidateCount: 1,
		Summary:        "one strong fit",
		Matches: []models.Match{{
			ID:    uuid.New(), EventRequestID: requestID, CatererID: uuid.New(),
			Score: 88, Rank: 1, Status: enums.MatchStatusPending, Source: enums.MatchSourceAI,
		}},
	}}

	rec, env := serve(t, MatchEventRequest(svc, logger.Nop()), http.MethodPost, "/", nil, map[string]string{"requestId": requestID.String()})
	require.Equal(t, http.StatusOK, rec.Code)

	var out outcomeDTO
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Equal(t, requestID, out.RequestID)
	require.Equal(t, enums.MatchSourceAI, out.Source)
	require.Len(t, out.Matches, 1)
	require.Equal(t, 88, out.Matches[0].Score)
	require.Empty(t, out.Matches[0].Reasons)
	require.NotNil(t, out.Matches[0].Reasons, "reasons serialize as an empty list")
}

func TestMatchEventRequestMapsErrors(t *testing.T) {
	svc := &stubMatching{err: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("deadline"), "re-rank timed out").WithStep("model")}
	rec, env := serve(t, MatchEventRequest(svc, logger.Nop()), http.MethodPost, "/", nil, map[string]string{"requestId": uuid.NewString()})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.True(t, env.Error.Retryable)
	require.Equal(t, "re-rank timed out", env.Error.Message)

	rec, env = serve(t, MatchEventRequest(svc, logger.Nop()), http.MethodPost, "/", nil, map[string]string{"requestId": "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(pkgerrors.CodeValidation), env.Error.Code)
}

func TestDistributeEventRequestLimit(t *testing.T) {
	svc := &stubMatching{outcome: &matching.Outcome{Source: enums.MatchSourceRoundRobin}}
	params := map[string]string{"requestId": uuid.NewString()}

	rec, _ := serve(t, DistributeEventRequest(svc, 10, nil), http.MethodPost, "/", nil, params)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, svc.lastLimit, "an empty body leaves the default to the service")

	rec, _ = serve(t, DistributeEventRequest(svc, 10, nil), http.MethodPost, "/", strings.NewReader(`{"limit":4}`), params)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 4, svc.lastLimit)

	rec, env := serve(t, DistributeEventRequest(svc, 10, nil), http.MethodPost, "/", strings.NewReader(`{"limit":11}`), params)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "limit out of range", env.Error.Message)

	rec, _ = serve(t, DistributeEventRequest(svc, 10, nil), http.MethodPost, "/", strings.NewReader(`{"limit":0}`), params)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventRequestScores(t *testing.T) {
	requestID := uuid.New()
	svc := &stubMatching{preview: &matching.Preview{RequestID: requestID, Candidates: []matching.PreviewCandidate{{CatererID: uuid.New(), Score: 75, Eligible: true}}}}
	rec, env := serve(t, EventRequestScores(svc, nil), http.MethodGet, "/", nil, map[string]string{"requestId": requestID.String()})
	require.Equal(t, http.StatusOK, rec.Code)

	var preview matching.Preview
	require.NoError(t, json.Unmarshal(env.Data, &preview))
	require.Len(t, preview.Candidates, 1)
	require.Equal(t, 75, preview.Candidates[0].Score)
}

type stubMatches struct {
	match   *models.Match
	rows    []models.Match
	err     error
	applied string
}

func (s *stubMatches) record(action string) (*models.Match, error) {
	s.applied = action
	return s.match, s.err
}

func (s *stubMatches) Get(context.Context, uuid.UUID) (*models.Match, error) { return s.record("get") }
func (s *stubMatches) Accept(context.Context, uuid.UUID) (*models.Match, error) {
	return s.record("accept")
}
func (s *stubMatches) Decline(context.Context, uuid.UUID) (*models.Match, error) {
	return s.record("decline")
}
func (s *stubMatches) MarkViewed(context.Context, uuid.UUID) (*models.Match, error) {
	return s.record("viewed")
}
func (s *stubMatches) MarkContacted(context.Context, uuid.UUID) (*models.Match, error) {
	return s.record("contacted")
}
func (s *stubMatches) MarkQuoted(context.Context, uuid.UUID) (*models.Match, error) {
	return s.record("quoted")
}
func (s *stubMatches) ListForRequest(context.Context, uuid.UUID) ([]models.Match, error) {
	return s.rows, s.err
}

func TestMatchTransitionDispatchesAction(t *testing.T) {
	matchID := uuid.New()
	for _, action := range []MatchAction{MatchActionAccept, MatchActionDecline, MatchActionViewed, MatchActionContacted, MatchActionQuoted} {
		svc := &stubMatches{match: &models.Match{ID: matchID, EventRequestID: uuid.New(), Status: enums.MatchStatusViewed}}
		rec, _ := serve(t, MatchTransition(svc, action, logger.Nop()), http.MethodPost, "/", nil, map[string]string{"matchId": matchID.String()})
		require.Equal(t, http.StatusOK, rec.Code, string(action))
		require.Equal(t, string(action), svc.applied)
	}
}

func TestMatchTransitionConflict(t *testing.T) {
	svc := &stubMatches{err: pkgerrors.New(pkgerrors.CodeStateConflict, "request already booked")}
	rec, env := serve(t, MatchTransition(svc, MatchActionAccept, nil), http.MethodPost, "/", nil, map[string]string{"matchId": uuid.NewString()})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "request already booked", env.Error.Message)
}

func TestEventRequestMatchesLists(t *testing.T) {
	requestID := uuid.New()
	svc := &stubMatches{rows: []models.Match{{ID: uuid.New(), EventRequestID: requestID, Rank: 1}, {ID: uuid.New(), EventRequestID: requestID, Rank: 2}}}
	rec, env := serve(t, EventRequestMatches(svc, nil), http.MethodGet, "/", nil, map[string]string{"requestId": requestID.String()})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Matches []matchDTO `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Matches, 2)
	require.Equal(t, 2, body.Matches[1].Rank)
}

type stubRotation struct {
	budget decimal.Decimal
	city   string
	limit  int
}

func (s *stubRotation) SelectNext(_ context.Context, budget decimal.Decimal, city string, limit int) (*roundrobin.Selection, error) {
	s.budget, s.city, s.limit = budget, city, limit
	return &roundrobin.Selection{Tier: enums.CatererTierPro, City: "austin", Caterers: []roundrobin.EligibleCaterer{{ID: uuid.New(), Name: "Fit"}}}, nil
}

func TestRoundRobinPreview(t *testing.T) {
	svc := &stubRotation{}
	rec, env := serve(t, RoundRobinPreview(svc, 3, 10, nil), http.MethodPost, "/", strings.NewReader(`{"total_budget":"6500","city":" Austin "}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decimal.NewFromInt(6500).Equal(svc.budget))
	require.Equal(t, "Austin", svc.city)
	require.Equal(t, 3, svc.limit)

	var sel roundrobin.Selection
	require.NoError(t, json.Unmarshal(env.Data, &sel))
	require.Equal(t, enums.CatererTierPro, sel.Tier)

	rec, env = serve(t, RoundRobinPreview(svc, 3, 10, nil), http.MethodPost, "/", strings.NewReader(`{"total_budget":0,"city":"Austin"}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "must be greater than 0", env.Error.Details["total_budget"])

	rec, _ = serve(t, RoundRobinPreview(svc, 3, 10, nil), http.MethodPost, "/", strings.NewReader(`{"total_budget":100,"city":"Austin","limit":20}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubLocations struct {
	resolved  string
	upserted  *locations.UpsertInput
	corrected bool
	deleteErr error
}

func (s *stubLocations) Resolve(_ context.Context, raw string) (*locations.Resolution, error) {
	s.resolved = raw
	return &locations.Resolution{Input: raw, Alias: "downtown austin", Found: true, Source: locations.SourceLearned}, nil
}

func (s *stubLocations) Upsert(_ context.Context, in locations.UpsertInput) (*locations.Location, error) {
	s.upserted = &in
	return &locations.Location{ID: uuid.New(), Alias: in.Alias, City: in.City, Source: in.Source}, nil
}

func (s *stubLocations) Correct(ctx context.Context, in locations.UpsertInput) (*locations.Location, error) {
	s.corrected = true
	in.Source = enums.LocationSourceUserCorrection
	return s.Upsert(ctx, in)
}

func (s *stubLocations) Delete(context.Context, uuid.UUID) error { return s.deleteErr }

func (s *stubLocations) List(_ context.Context, params locations.ListParams) ([]locations.Location, int64, error) {
	return []locations.Location{{Alias: "downtown austin"}}, 1, nil
}

func TestResolveLocation(t *testing.T) {
	svc := &stubLocations{}
	rec, env := serve(t, ResolveLocation(svc, nil), http.MethodPost, "/", strings.NewReader(`{"query":"  Downtown Austin "}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Downtown Austin", svc.resolved)

	var res locations.Resolution
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.True(t, res.Found)

	rec, _ = serve(t, ResolveLocation(svc, nil), http.MethodPost, "/", strings.NewReader(`{}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminUpsertLocation(t *testing.T) {
	svc := &stubLocations{}
	body := `{"alias":"the domain","city":"Austin","latitude":30.4,"longitude":-97.7}`
	rec, _ := serve(t, AdminUpsertLocation(svc, nil), http.MethodPut, "/", strings.NewReader(body), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, enums.LocationSourceAdmin, svc.upserted.Source)
	require.False(t, svc.corrected)

	body = `{"alias":"the domain","city":"Austin","latitude":30.4,"longitude":-97.7,"correction":true}`
	rec, _ = serve(t, AdminUpsertLocation(svc, nil), http.MethodPut, "/", strings.NewReader(body), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, svc.corrected)
	require.Equal(t, enums.LocationSourceUserCorrection, svc.upserted.Source)

	rec, env := serve(t, AdminUpsertLocation(svc, nil), http.MethodPut, "/", strings.NewReader(`{"alias":"x","latitude":123}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, env.Error.Details, "latitude")
}

func TestAdminDeleteAndListLocations(t *testing.T) {
	svc := &stubLocations{}
	rec, _ := serve(t, AdminDeleteLocation(svc, nil), http.MethodDelete, "/", nil, map[string]string{"locationId": uuid.NewString()})
	require.Equal(t, http.StatusOK, rec.Code)

	svc.deleteErr = pkgerrors.New(pkgerrors.CodeNotFound, "location not found")
	rec, _ = serve(t, AdminDeleteLocation(svc, nil), http.MethodDelete, "/", nil, map[string]string{"locationId": uuid.NewString()})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, env := serve(t, AdminListLocations(svc, nil), http.MethodGet, "/?limit=20&q=austin", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Total int64 `json:"total"`
		Limit int   `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Equal(t, int64(1), page.Total)
	require.Equal(t, 20, page.Limit)
}

type stubEvals struct {
	since  time.Time
	verify *evals.VerifyInput
}

func (s *stubEvals) Stats(_ context.Context, since time.Time) (*evals.Stats, error) {
	s.since = since
	return &evals.Stats{Since: since}, nil
}

func (s *stubEvals) VerifyLocation(_ context.Context, id uuid.UUID, in evals.VerifyInput) (*models.LocationEval, error) {
	s.verify = &in
	correct := in.Correct
	return &models.LocationEval{ID: id, Input: "downtown", IsCorrect: &correct}, nil
}

func TestAdminEvalStats(t *testing.T) {
	svc := &stubEvals{}
	rec, _ := serve(t, AdminEvalStats(svc, nil), http.MethodGet, "/?since=2024-07-01", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), svc.since)

	rec, _ = serve(t, AdminEvalStats(svc, nil), http.MethodGet, "/?since=last-week", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminVerifyLocationEval(t *testing.T) {
	svc := &stubEvals{}
	params := map[string]string{"evalId": uuid.NewString()}
	rec, env := serve(t, AdminVerifyLocationEval(svc, nil), http.MethodPost, "/", strings.NewReader(`{"correct":false,"corrected_city":"Round Rock"}`), params)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, svc.verify.Correct)
	require.Equal(t, "Round Rock", svc.verify.CorrectedCity)

	var dto locationEvalDTO
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	require.NotNil(t, dto.IsCorrect)
	require.False(t, *dto.IsCorrect)

	rec, _ = serve(t, AdminVerifyLocationEval(svc, nil), http.MethodPost, "/", strings.NewReader(`{}`), params)
	require.Equal(t, http.StatusBadRequest, rec.Code, "correct is required")
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	rec, _ := serve(t, HealthReady(cfg, logger.Nop(), map[string]Pinger{"db": stubPinger{}, "redis": nil}), http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "test", rec.Header().Get(envHeader))

	rec, env := serve(t, HealthReady(cfg, logger.Nop(), map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{err: errors.New("down")}}), http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	checks := env.Error.Details["checks"].(map[string]any)
	require.Equal(t, "unavailable", checks["redis"])
	require.Equal(t, "ok", checks["db"])
}
