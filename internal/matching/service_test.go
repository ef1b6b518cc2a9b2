package matching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/catermatch-backend/internal/caterers"
	"github.com/angelmondragon/catermatch-backend/internal/eventrequests"
	"github.com/angelmondragon/catermatch-backend/internal/leads"
	"github.com/angelmondragon/catermatch-backend/internal/matches"
	"github.com/angelmondragon/catermatch-backend/internal/ranking"
	"github.com/angelmondragon/catermatch-backend/internal/roundrobin"
	"github.com/angelmondragon/catermatch-backend/internal/scoring"
	"github.com/angelmondragon/catermatch-backend/pkg/db/dbtest"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/catermatch-backend/pkg/db/types"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
	"github.com/angelmondragon/catermatch-backend/pkg/policy"
)

type fakeRanker struct {
	matches *matches.Repository
	err     error
	calls   int
	got     ranking.Request
}

// Rerank persists the shortlist in reverse order, as a model disagreeing with the base scores would.
func (f *fakeRanker) Rerank(ctx context.Context, req ranking.Request) (*ranking.Result, error) {
	f.calls++
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	rows := make([]matches.Upsert, 0, len(req.Candidates))
	for i := len(req.Candidates) - 1; i >= 0; i-- {
		rows = append(rows, matches.Upsert{
			CatererID: req.Candidates[i].Profile.ID,
			Score:     90 - len(rows)*10,
			Status:    enums.MatchStatusPending,
			Source:    enums.MatchSourceAI,
			Reasons:   []string{"model pick"},
			Rank:      len(rows) + 1,
		})
	}
	saved, err := f.matches.UpsertRanking(ctx, req.RequestID, rows)
	if err != nil {
		return nil, err
	}
	return &ranking.Result{RequestID: req.RequestID, Matches: saved, Summary: "reversed", Model: f.Model()}, nil
}

func (f *fakeRanker) Model() string { return "fake-model" }

type memoryEvals struct {
	mu    sync.Mutex
	evals []models.MatchingEval
}

func (m *memoryEvals) RecordMatching(_ context.Context, eval models.MatchingEval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evals = append(m.evals, eval)
	return nil
}

func (m *memoryEvals) last(t *testing.T) models.MatchingEval {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.evals)
	return m.evals[len(m.evals)-1]
}

type recordingLeads struct {
	mu    sync.Mutex
	leads []leads.LeadAssigned
	err   error
}

func (r *recordingLeads) PublishAssigned(_ context.Context, lead leads.LeadAssigned) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leads = append(r.leads, lead)
	return r.err
}

type failingUpserts struct {
	*matches.Repository
}

func (failingUpserts) UpsertWithTx(*gorm.DB, uuid.UUID, []matches.Upsert) error {
	return errors.New("disk full")
}

type harness struct {
	db     *gorm.DB
	svc    *Service
	ranker *fakeRanker
	evals  *memoryEvals
	leads  *recordingLeads
}

type harnessOption func(*ServiceParams)

func withAI(params *ServiceParams) { params.AIRerank = true }

func withShortlist(n int) harnessOption {
	return func(params *ServiceParams) { params.ShortlistSize = n }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	db := dbtest.Open(t)
	pol := policy.Default()
	matchRepo := matches.NewRepository(db)

	rr, err := roundrobin.NewService(roundrobin.ServiceParams{
		Repo:     roundrobin.NewRepository(db),
		Policy:   pol,
		Logger:   logger.Nop(),
		MaxLimit: 10,
	})
	require.NoError(t, err)

	h := &harness{
		db:     db,
		ranker: &fakeRanker{matches: matchRepo},
		evals:  &memoryEvals{},
		leads:  &recordingLeads{},
	}
	params := ServiceParams{
		Requests:          eventrequests.NewRepository(db),
		Caterers:          caterers.NewRepository(db),
		Matches:           matchRepo,
		Ranker:            h.ranker,
		Distributor:       rr,
		Scorer:            scoring.NewScorer(pol.Scoring),
		Evals:             h.evals,
		Leads:             h.leads,
		Logger:            logger.Nop(),
		LowMatchThreshold: pol.LowMatchThreshold,
	}
	for _, opt := range opts {
		opt(&params)
	}
	h.svc, err = NewService(params)
	require.NoError(t, err)
	return h
}

func (h *harness) requestStatus(t *testing.T, id uuid.UUID) enums.EventRequestStatus {
	t.Helper()
	var req models.EventRequest
	require.NoError(t, h.db.Where("id = ?", id).First(&req).Error)
	return req.Status
}

func (h *harness) matchCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&models.Match{}).Count(&n).Error)
	return n
}

func TestNewServiceValidatesDeps(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
	require.ErrorContains(t, err, "scorer required")

	_, err = NewService(ServiceParams{
		Requests:    eventrequests.NewRepository(nil),
		Caterers:    caterers.NewRepository(nil),
		Matches:     matches.NewRepository(nil),
		Distributor: &roundrobin.Service{},
		Scorer:      scoring.NewScorer(policy.Default().Scoring),
		Logger:      logger.Nop(),
		AIRerank:    true,
	})
	require.ErrorContains(t, err, "ranker required")
}

func TestMatchPersistsBaseScoresWhenAIDisabled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	fit := dbtest.MustCreateCaterer(t, h.db, dbtest.WithName("Fit"))
	dbtest.MustCreateCaterer(t, h.db, dbtest.WithName("Small"), dbtest.WithCapacity(10, 50))
	dbtest.MustCreateCaterer(t, h.db, dbtest.WithName("Pricey"), dbtest.WithPrice(80, 120))
	sushi := dbtest.MustCreateCaterer(t, h.db, dbtest.WithName("Sushi"), dbtest.WithCuisines("sushi"))
	req := dbtest.MustCreateEventRequest(t, h.db)

	out, err := h.svc.Match(ctx, req.ID)
	require.NoError(t, err)
	require.False(t, out.NoCandidates)
	require.Equal(t, enums.MatchSourceBaseScore, out.Source)
	require.Equal(t, 2, out.CandidateCount)
	require.Len(t, out.Matches, 2)

	require.Equal(t, fit.ID, out.Matches[0].CatererID)
	require.Equal(t, 75, out.Matches[0].Score)
	require.Equal(t, enums.MatchStatusPending, out.Matches[0].Status)
	require.Equal(t, 1, out.Matches[0].Rank)
	require.NotEmpty(t, out.Matches[0].Reasons)

	require.Equal(t, sushi.ID, out.Matches[1].CatererID)
	require.Equal(t, 45, out.Matches[1].Score)
	require.Equal(t, enums.MatchStatusLowMatch, out.Matches[1].Status)

	require.Equal(t, enums.EventRequestStatusMatched, h.requestStatus(t, req.ID))
	require.Zero(t, h.ranker.calls)

	eval := h.evals.last(t)
	require.True(t, eval.Success)
	require.Equal(t, "base_score", eval.Source)
	require.Equal(t, 2, eval.CandidateCount)
	require.Equal(t, 2, eval.MatchCount)
	require.Equal(t, 75, *eval.TopScore)
	require.Equal(t, dbtypes.UUIDArray{fit.ID, sushi.ID}, eval.MatchedCatererIDs)
}

func TestMatchNoCandidatesShortCircuits(t *testing.T) {
	h := newHarness(t, withAI)
	req := dbtest.MustCreateEventRequest(t, h.db)

	out, err := h.svc.Match(context.Background(), req.ID)
	require.NoError(t, err)
	require.True(t, out.NoCandidates)
	require.Empty(t, out.Matches)
	require.Zero(t, h.ranker.calls)
	require.Equal(t, enums.EventRequestStatusPending, h.requestStatus(t, req.ID))

	eval := h.evals.last(t)
	require.True(t, eval.Success)
	require.Zero(t, eval.CandidateCount)
	require.Nil(t, eval.TopScore)
}

func TestMatchAIRerankUsesShortlist(t *testing.T) {
	h := newHarness(t, withAI, withShortlist(2))
	for i := 0; i < 3; i++ {
		dbtest.MustCreateCaterer(t, h.db)
	}
	req := dbtest.MustCreateEventRequest(t, h.db)

	out, err := h.svc.Match(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, 1, h.ranker.calls)
	require.Len(t, h.ranker.got.Candidates, 2)
	require.Equal(t, 100, h.ranker.got.Criteria.GuestCount)

	require.Equal(t, enums.MatchSourceAI, out.Source)
	require.Equal(t, "fake-model", out.Model)
	require.Equal(t, "reversed", out.Summary)
	require.Len(t, out.Matches, 2)
	require.Equal(t, h.ranker.got.Candidates[1].Profile.ID, out.Matches[0].CatererID)
	require.Equal(t, enums.EventRequestStatusMatched, h.requestStatus(t, req.ID))

	eval := h.evals.last(t)
	require.Equal(t, "ai_rerank", eval.Source)
	require.Equal(t, "fake-model", *eval.Model)
	require.Equal(t, 90, *eval.TopScore)
}

func TestMatchRankerFailureReleasesRequest(t *testing.T) {
	h := newHarness(t, withAI)
	h.ranker.err = pkgerrors.New(pkgerrors.CodeDependency, "ranking model returned invalid output").WithStep("validate_output")
	dbtest.MustCreateCaterer(t, h.db)
	req := dbtest.MustCreateEventRequest(t, h.db, dbtest.WithRequestStatus(enums.EventRequestStatusMatched))

	_, err := h.svc.Match(context.Background(), req.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	require.True(t, pkgerrors.As(err).Retryable())

	require.Equal(t, enums.EventRequestStatusMatched, h.requestStatus(t, req.ID))
	require.Zero(t, h.matchCount(t))

	eval := h.evals.last(t)
	require.False(t, eval.Success)
	require.Equal(t, "validate_output", *eval.FailureStep)
	require.Equal(t, "fake-model", *eval.Model)
	require.Equal(t, 1, eval.CandidateCount)
}

func TestMatchRejectsClosedOrMissingRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	booked := dbtest.MustCreateEventRequest(t, h.db, dbtest.WithRequestStatus(enums.EventRequestStatusBooked))
	_, err := h.svc.Match(ctx, booked.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	require.Equal(t, enums.EventRequestStatusBooked, h.requestStatus(t, booked.ID))

	inFlight := dbtest.MustCreateEventRequest(t, h.db, dbtest.WithRequestStatus(enums.EventRequestStatusMatching))
	_, err = h.svc.Match(ctx, inFlight.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	require.Equal(t, enums.EventRequestStatusMatching, h.requestStatus(t, inFlight.ID))

	_, err = h.svc.Match(ctx, uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	require.Equal(t, "load_request", *h.evals.last(t).FailureStep)
}

func TestMatchInvalidCriteria(t *testing.T) {
	h := newHarness(t)
	req := dbtest.MustCreateEventRequest(t, h.db, dbtest.WithGuests(0), dbtest.WithBudget(6000, 5000))

	_, err := h.svc.Match(context.Background(), req.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	require.Len(t, details["problems"], 2)
	require.Equal(t, enums.EventRequestStatusPending, h.requestStatus(t, req.ID))
}

func TestDistributeAssignsRotationAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	first := dbtest.MustCreateCaterer(t, h.db, dbtest.WithName("First"), dbtest.WithCreatedAt(base))
	second := dbtest.MustCreateCaterer(t, h.db, dbtest.WithName("Second"), dbtest.WithCreatedAt(base.Add(time.Minute)))
	dbtest.MustCreateCaterer(t, h.db, dbtest.WithName("Third"), dbtest.WithCreatedAt(base.Add(2*time.Minute)))
	req := dbtest.MustCreateEventRequest(t, h.db)

	out, err := h.svc.Distribute(ctx, req.ID, 2)
	require.NoError(t, err)
	require.Equal(t, enums.MatchSourceRoundRobin, out.Source)
	require.False(t, out.NoCandidates)
	require.Equal(t, enums.CatererTierBasic, out.Assignment.Tier)
	require.Equal(t, int64(2), out.Assignment.AssignmentIndex)

	require.Len(t, out.Matches, 2)
	require.Equal(t, first.ID, out.Matches[0].CatererID)
	require.Equal(t, second.ID, out.Matches[1].CatererID)
	for _, m := range out.Matches {
		require.Equal(t, enums.MatchSourceRoundRobin, m.Source)
		require.Equal(t, 75, m.Score)
	}
	require.Equal(t, enums.EventRequestStatusMatched, h.requestStatus(t, req.ID))

	var stamped models.Caterer
	require.NoError(t, h.db.Where("id = ?", first.ID).First(&stamped).Error)
	require.Equal(t, 1, stamped.JobsThisMonth)
	require.NotNil(t, stamped.LastJobAssignedAt)

	require.Len(t, h.leads.leads, 2)
	require.Equal(t, out.Matches[0].ID, h.leads.leads[0].MatchID)
	require.Equal(t, enums.CatererTierBasic, h.leads.leads[0].Tier)

	eval := h.evals.last(t)
	require.Equal(t, "round_robin", eval.Source)
	require.True(t, eval.Success)
	require.Equal(t, 2, eval.MatchCount)
}

func TestDistributeLeadFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.leads.err = errors.New("pubsub unavailable")
	dbtest.MustCreateCaterer(t, h.db)
	req := dbtest.MustCreateEventRequest(t, h.db)

	out, err := h.svc.Distribute(context.Background(), req.ID, 0)
	require.NoError(t, err)
	require.Len(t, out.Matches, 1)
	require.Len(t, h.leads.leads, 1)
}

func TestDistributePersistFailureRollsBackAssignment(t *testing.T) {
	h := newHarness(t)
	params := ServiceParams{
		Requests:    eventrequests.NewRepository(h.db),
		Caterers:    caterers.NewRepository(h.db),
		Matches:     failingUpserts{Repository: matches.NewRepository(h.db)},
		Distributor: h.svc.distributor,
		Scorer:      h.svc.scorer,
		Evals:       h.evals,
		Leads:       h.leads,
		Logger:      logger.Nop(),
	}
	svc, err := NewService(params)
	require.NoError(t, err)

	caterer := dbtest.MustCreateCaterer(t, h.db)
	req := dbtest.MustCreateEventRequest(t, h.db)

	_, err = svc.Distribute(context.Background(), req.ID, 1)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
	require.Equal(t, "persist", pkgerrors.As(err).Step())

	var states int64
	require.NoError(t, h.db.Model(&models.RoundRobinState{}).Count(&states).Error)
	require.Zero(t, states)

	var reloaded models.Caterer
	require.NoError(t, h.db.Where("id = ?", caterer.ID).First(&reloaded).Error)
	require.Zero(t, reloaded.JobsThisMonth)
	require.Nil(t, reloaded.LastJobAssignedAt)
	require.Equal(t, enums.EventRequestStatusPending, h.requestStatus(t, req.ID))
	require.Empty(t, h.leads.leads)
	require.Equal(t, "persist", *h.evals.last(t).FailureStep)
}

func TestDistributeWithoutCaterers(t *testing.T) {
	h := newHarness(t)
	req := dbtest.MustCreateEventRequest(t, h.db, dbtest.WithRequestCity("Nowhere"))

	out, err := h.svc.Distribute(context.Background(), req.ID, 3)
	require.NoError(t, err)
	require.True(t, out.NoCandidates)
	require.True(t, out.Assignment.Fallback)
	require.Empty(t, h.leads.leads)
	require.Equal(t, enums.EventRequestStatusPending, h.requestStatus(t, req.ID))
}

func TestDistributeRejectsBookedRequest(t *testing.T) {
	h := newHarness(t)
	dbtest.MustCreateCaterer(t, h.db)
	req := dbtest.MustCreateEventRequest(t, h.db, dbtest.WithRequestStatus(enums.EventRequestStatusBooked))

	_, err := h.svc.Distribute(context.Background(), req.ID, 1)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	require.Zero(t, h.matchCount(t))
}

func TestPreviewScoresWithoutWriting(t *testing.T) {
	h := newHarness(t)
	fit := dbtest.MustCreateCaterer(t, h.db, dbtest.WithName("Fit"))
	pricey := dbtest.MustCreateCaterer(t, h.db, dbtest.WithName("Pricey"), dbtest.WithPrice(80, 120))
	dbtest.MustCreateCaterer(t, h.db, dbtest.WithName("Small"), dbtest.WithCapacity(10, 50))
	req := dbtest.MustCreateEventRequest(t, h.db)

	preview, err := h.svc.Preview(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, preview.Candidates, 2)

	require.Equal(t, fit.ID, preview.Candidates[0].CatererID)
	require.True(t, preview.Candidates[0].Eligible)
	require.Equal(t, 75, preview.Candidates[0].Breakdown.Total)

	require.Equal(t, pricey.ID, preview.Candidates[1].CatererID)
	require.False(t, preview.Candidates[1].Eligible)

	require.Zero(t, h.matchCount(t))
	require.Equal(t, enums.EventRequestStatusPending, h.requestStatus(t, req.ID))
	require.Empty(t, h.evals.evals)
}
