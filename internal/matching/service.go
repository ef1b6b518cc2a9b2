// Package matching runs the request-to-caterer pipeline: load, filter, score, re-rank and
// persist, plus tier-gated round-robin distribution.
package matching

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/catermatch-backend/internal/caterers"
	"github.com/angelmondragon/catermatch-backend/internal/eventrequests"
	"github.com/angelmondragon/catermatch-backend/internal/leads"
	"github.com/angelmondragon/catermatch-backend/internal/matches"
	"github.com/angelmondragon/catermatch-backend/internal/ranking"
	"github.com/angelmondragon/catermatch-backend/internal/roundrobin"
	"github.com/angelmondragon/catermatch-backend/internal/scoring"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/catermatch-backend/pkg/db/types"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

const (
	OperationMatch      = "match"
	OperationDistribute = "distribute"

	defaultShortlistSize  = 10
	defaultCandidateLimit = 200
	defaultDistribution   = 3
	maxErrorMessageLength = 500
)

type requestRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.EventRequest, error)
	ClaimForMatching(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status enums.EventRequestStatus) error
}

type catererDirectory interface {
	ListCandidates(ctx context.Context, filter caterers.CandidateFilter) ([]models.Caterer, error)
	FindByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]models.Caterer, error)
}

type matchWriter interface {
	UpsertRanking(ctx context.Context, requestID uuid.UUID, rows []matches.Upsert) ([]models.Match, error)
	UpsertWithTx(tx *gorm.DB, requestID uuid.UUID, rows []matches.Upsert) error
	ListForRequest(ctx context.Context, requestID uuid.UUID) ([]models.Match, error)
}

type reranker interface {
	Rerank(ctx context.Context, req ranking.Request) (*ranking.Result, error)
	Model() string
}

type leadDistributor interface {
	AssignWith(ctx context.Context, totalBudget decimal.Decimal, city string, limit int, persist roundrobin.PersistFunc) (*roundrobin.Assignment, error)
}

type evalRecorder interface {
	RecordMatching(ctx context.Context, eval models.MatchingEval) error
}

// Observer is notified after every run (metrics).
type Observer interface {
	ObserveRun(operation string, source enums.MatchSource, success bool, duration time.Duration, matches int)
}

type noopObserver struct{}

func (noopObserver) ObserveRun(string, enums.MatchSource, bool, time.Duration, int) {}

type noopEvals struct{}

func (noopEvals) RecordMatching(context.Context, models.MatchingEval) error { return nil }

// Outcome is the result of a matching or distribution run.
type Outcome struct {
	RequestID uuid.UUID
	Source    enums.MatchSource
	Matches   []models.Match
	// NoCandidates is a normal empty result: nothing passed the filters.
	NoCandidates   bool
	CandidateCount int
	Summary        string
	Model          string
	Assignment     *roundrobin.Assignment
}

// PreviewCandidate is one caterer's deterministic base score for a request.
type PreviewCandidate struct {
	CatererID uuid.UUID         `json:"caterer_id"`
	Name      string            `json:"name"`
	Tier      enums.CatererTier `json:"tier"`
	City      string            `json:"city"`
	Score     int               `json:"score"`
	Breakdown scoring.Breakdown `json:"breakdown"`
	// Eligible is false when the caterer fails the affordability floor.
	Eligible bool `json:"eligible"`
}

type Preview struct {
	RequestID  uuid.UUID          `json:"request_id"`
	Candidates []PreviewCandidate `json:"candidates"`
}

type Service struct {
	requests          requestRepository
	caterers          catererDirectory
	matches           matchWriter
	ranker            reranker
	distributor       leadDistributor
	scorer            *scoring.Scorer
	evals             evalRecorder
	leads             leads.Publisher
	observer          Observer
	logg              *logger.Logger
	aiRerank          bool
	shortlistSize     int
	candidateLimit    int
	defaultLimit      int
	lowMatchThreshold int
	now               func() time.Time
}

type ServiceParams struct {
	Requests    requestRepository
	Caterers    catererDirectory
	Matches     matchWriter
	Ranker      reranker
	Distributor leadDistributor
	Scorer      *scoring.Scorer
	Evals       evalRecorder
	Leads       leads.Publisher
	Observer    Observer
	Logger      *logger.Logger
	// AIRerank sends the shortlist to the model; otherwise base scores are persisted directly.
	AIRerank          bool
	ShortlistSize     int
	CandidateLimit    int
	DefaultLimit      int
	LowMatchThreshold int
	Now               func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	var err error
	if params.Requests == nil {
		err = multierr.Append(err, errors.New("event request repository required"))
	}
	if params.Caterers == nil {
		err = multierr.Append(err, errors.New("caterer directory required"))
	}
	if params.Matches == nil {
		err = multierr.Append(err, errors.New("match repository required"))
	}
	if params.Distributor == nil {
		err = multierr.Append(err, errors.New("round robin distributor required"))
	}
	if params.Scorer == nil {
		err = multierr.Append(err, errors.New("scorer required"))
	}
	if params.Logger == nil {
		err = multierr.Append(err, errors.New("logger required"))
	}
	if params.AIRerank && params.Ranker == nil {
		err = multierr.Append(err, errors.New("ranker required when ai rerank is enabled"))
	}
	if err != nil {
		return nil, err
	}

	svc := &Service{
		requests:          params.Requests,
		caterers:          params.Caterers,
		matches:           params.Matches,
		ranker:            params.Ranker,
		distributor:       params.Distributor,
		scorer:            params.Scorer,
		evals:             params.Evals,
		leads:             params.Leads,
		observer:          params.Observer,
		logg:              params.Logger,
		aiRerank:          params.AIRerank,
		shortlistSize:     params.ShortlistSize,
		candidateLimit:    params.CandidateLimit,
		defaultLimit:      params.DefaultLimit,
		lowMatchThreshold: params.LowMatchThreshold,
		now:               params.Now,
	}
	if svc.evals == nil {
		svc.evals = noopEvals{}
	}
	if svc.leads == nil {
		svc.leads = leads.NoopPublisher{}
	}
	if svc.observer == nil {
		svc.observer = noopObserver{}
	}
	if svc.shortlistSize <= 0 {
		svc.shortlistSize = defaultShortlistSize
	}
	if svc.candidateLimit <= 0 {
		svc.candidateLimit = defaultCandidateLimit
	}
	if svc.defaultLimit <= 0 {
		svc.defaultLimit = defaultDistribution
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// Match scores every eligible caterer for the request, re-ranks the shortlist and persists the
// result. A request with no eligible caterers yields an Outcome with NoCandidates set.
func (s *Service) Match(ctx context.Context, requestID uuid.UUID) (out *Outcome, err error) {
	started := s.now()
	ctx = s.logg.WithEventRequestID(ctx, requestID.String())
	source := s.matchSource()
	candidateCount := 0
	defer func() {
		s.finish(ctx, OperationMatch, requestID, source, started, candidateCount, out, err)
	}()

	req, criteria, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}

	claimed, err := s.requests.ClaimForMatching(ctx, requestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim event request").WithStep("load_request")
	}
	if !claimed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "event request cannot be matched right now").
			WithDetails(map[string]any{"status": req.Status}).WithStep("load_request")
	}
	persisted := false
	defer func() {
		if !persisted {
			s.release(ctx, req)
		}
	}()

	ranked, err := s.shortlist(ctx, criteria)
	if err != nil {
		return nil, err
	}
	candidateCount = len(ranked)
	if len(ranked) == 0 {
		s.logg.Info(ctx, "no caterers passed the hard filters")
		return &Outcome{RequestID: requestID, Source: source, NoCandidates: true}, nil
	}

	if s.aiRerank {
		result, err := s.ranker.Rerank(ctx, ranking.Request{RequestID: requestID, Criteria: criteria, Candidates: ranked})
		if err != nil {
			return nil, err
		}
		persisted = true
		return &Outcome{
			RequestID:      requestID,
			Source:         source,
			Matches:        result.Matches,
			CandidateCount: len(ranked),
			Summary:        result.Summary,
			Model:          result.Model,
		}, nil
	}

	rows := make([]matches.Upsert, 0, len(ranked))
	for i, r := range ranked {
		rows = append(rows, s.baseScoreRow(r, enums.MatchSourceBaseScore, i+1))
	}
	saved, err := s.matches.UpsertRanking(ctx, requestID, rows)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist base score ranking").WithStep("persist")
	}
	persisted = true
	return &Outcome{RequestID: requestID, Source: source, Matches: saved, CandidateCount: len(ranked)}, nil
}

// Distribute hands the request to the next caterers of its budget tier in the request's city.
// The rotation commit, the match rows and the request status land in one transaction; lead
// events are published afterwards.
func (s *Service) Distribute(ctx context.Context, requestID uuid.UUID, limit int) (out *Outcome, err error) {
	started := s.now()
	ctx = s.logg.WithEventRequestID(ctx, requestID.String())
	candidateCount := 0
	defer func() {
		s.finish(ctx, OperationDistribute, requestID, enums.MatchSourceRoundRobin, started, candidateCount, out, err)
	}()

	if limit <= 0 {
		limit = s.defaultLimit
	}
	req, criteria, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Status.Matchable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "event request is closed").
			WithDetails(map[string]any{"status": req.Status}).WithStep("load_request")
	}

	assignment, err := s.distributor.AssignWith(ctx, criteria.BudgetMax, criteria.City, limit,
		func(ctx context.Context, tx *gorm.DB, a *roundrobin.Assignment) error {
			rows, err := s.assignmentRows(ctx, tx, criteria, a)
			if err != nil {
				return err
			}
			if err := s.matches.UpsertWithTx(tx, requestID, rows); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist distributed matches").WithStep("persist")
			}
			if err := s.requests.UpdateStatus(ctx, tx, requestID, enums.EventRequestStatusMatched); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark event request matched").WithStep("persist")
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	candidateCount = len(assignment.Caterers) + len(assignment.SkippedAtCap)

	out = &Outcome{
		RequestID:      requestID,
		Source:         enums.MatchSourceRoundRobin,
		Assignment:     assignment,
		CandidateCount: candidateCount,
		NoCandidates:   len(assignment.Caterers) == 0,
	}
	if out.NoCandidates {
		s.logg.Info(ctx, "no caterers available for distribution")
		return out, nil
	}

	out.Matches, err = s.distributedMatches(ctx, requestID, assignment)
	if err != nil {
		return nil, err
	}
	s.publishLeads(ctx, req, assignment, out.Matches)
	return out, nil
}

// Preview scores every capacity-eligible caterer without writing anything.
func (s *Service) Preview(ctx context.Context, requestID uuid.UUID) (*Preview, error) {
	_, criteria, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	rows, err := s.caterers.ListCandidates(ctx, caterers.CandidateFilter{
		MinCapacity: criteria.GuestCount,
		Limit:       s.candidateLimit,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load candidates").WithStep("load_candidates")
	}

	ranked := s.scorer.Rank(criteria, caterers.ToProfiles(rows))
	out := &Preview{RequestID: requestID, Candidates: make([]PreviewCandidate, 0, len(ranked))}
	for _, r := range ranked {
		out.Candidates = append(out.Candidates, PreviewCandidate{
			CatererID: r.Profile.ID,
			Name:      r.Profile.Name,
			Tier:      r.Profile.Tier,
			City:      r.Profile.City,
			Score:     r.Score,
			Breakdown: r.Breakdown,
			Eligible:  s.scorer.PassesHardFilters(criteria, r.Profile),
		})
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, requestID uuid.UUID) (*models.EventRequest, scoring.MatchCriteria, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, scoring.MatchCriteria{}, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "event request not found").WithStep("load_request")
		}
		return nil, scoring.MatchCriteria{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load event request").WithStep("load_request")
	}
	criteria := eventrequests.ToCriteria(*req)
	if err := criteria.Validate(); err != nil {
		problems := make([]string, 0)
		for _, e := range multierr.Errors(err) {
			problems = append(problems, e.Error())
		}
		return nil, scoring.MatchCriteria{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "event request cannot be matched").
			WithDetails(map[string]any{"problems": problems}).WithStep("load_request")
	}
	return req, criteria, nil
}

// shortlist reads the directory, applies the affordability floor and keeps the best base scores.
func (s *Service) shortlist(ctx context.Context, criteria scoring.MatchCriteria) ([]scoring.Ranked, error) {
	rows, err := s.caterers.ListCandidates(ctx, caterers.CandidateFilter{
		MinCapacity: criteria.GuestCount,
		Limit:       s.candidateLimit,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load candidates").WithStep("load_candidates")
	}

	profiles := make([]scoring.CatererProfile, 0, len(rows))
	for _, row := range rows {
		p := caterers.ToProfile(row)
		if s.scorer.PassesHardFilters(criteria, p) {
			profiles = append(profiles, p)
		}
	}
	ranked := s.scorer.Rank(criteria, profiles)
	if len(ranked) > s.shortlistSize {
		ranked = ranked[:s.shortlistSize]
	}
	return ranked, nil
}

func (s *Service) baseScoreRow(r scoring.Ranked, source enums.MatchSource, rank int) matches.Upsert {
	return matches.Upsert{
		CatererID: r.Profile.ID,
		Score:     r.Score,
		Status:    matches.StatusForScore(r.Score, s.lowMatchThreshold),
		Source:    source,
		Reasons:   baseReasons(r.Breakdown),
		Rank:      rank,
	}
}

// assignmentRows scores the assigned caterers; rank follows rotation order, not score.
func (s *Service) assignmentRows(ctx context.Context, tx *gorm.DB, criteria scoring.MatchCriteria, a *roundrobin.Assignment) ([]matches.Upsert, error) {
	found, err := s.caterers.FindByIDs(ctx, tx, a.AssignedIDs())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load assigned caterers").WithStep("persist")
	}
	rows := make([]matches.Upsert, 0, len(a.Caterers))
	for i, c := range a.Caterers {
		row, ok := found[c.ID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "assigned caterer disappeared").
				WithDetails(map[string]any{"caterer_id": c.ID}).WithStep("persist")
		}
		profile := caterers.ToProfile(row)
		b := s.scorer.Explain(criteria, profile)
		rows = append(rows, s.baseScoreRow(scoring.Ranked{Profile: profile, Score: b.Total, Breakdown: b}, enums.MatchSourceRoundRobin, i+1))
	}
	return rows, nil
}

func (s *Service) distributedMatches(ctx context.Context, requestID uuid.UUID, a *roundrobin.Assignment) ([]models.Match, error) {
	all, err := s.matches.ListForRequest(ctx, requestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load distributed matches").WithStep("persist")
	}
	byCaterer := make(map[uuid.UUID]models.Match, len(all))
	for _, m := range all {
		byCaterer[m.CatererID] = m
	}
	out := make([]models.Match, 0, len(a.Caterers))
	for _, c := range a.Caterers {
		if m, ok := byCaterer[c.ID]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Service) publishLeads(ctx context.Context, req *models.EventRequest, a *roundrobin.Assignment, rows []models.Match) {
	tiers := make(map[uuid.UUID]enums.CatererTier, len(a.Caterers))
	for _, c := range a.Caterers {
		tiers[c.ID] = c.Tier
	}
	for _, m := range rows {
		lead := leads.LeadAssigned{
			EventRequestID: req.ID,
			MatchID:        m.ID,
			CatererID:      m.CatererID,
			Tier:           tiers[m.CatererID],
			City:           a.City,
			Score:          m.Score,
			GuestCount:     req.GuestCount,
			BudgetMax:      req.BudgetMax,
			Fallback:       a.Fallback,
			AssignedAt:     s.now().UTC(),
		}
		if err := s.leads.PublishAssigned(ctx, lead); err != nil {
			s.logg.WarnErr(s.logg.WithCatererID(ctx, m.CatererID.String()), "lead event not published", err)
		}
	}
}

// release hands a claimed request back when the run ends without persisting a ranking.
func (s *Service) release(ctx context.Context, req *models.EventRequest) {
	ctx = context.WithoutCancel(ctx)
	if err := s.requests.UpdateStatus(ctx, nil, req.ID, req.Status); err != nil {
		s.logg.WarnErr(ctx, "event request left in matching state", err)
	}
}

func (s *Service) matchSource() enums.MatchSource {
	if s.aiRerank {
		return enums.MatchSourceAI
	}
	return enums.MatchSourceBaseScore
}

// finish records metrics and the matching eval for a run. Eval failures are logged only.
func (s *Service) finish(ctx context.Context, operation string, requestID uuid.UUID, source enums.MatchSource, started time.Time, candidates int, out *Outcome, runErr error) {
	elapsed := s.now().Sub(started)
	eval := models.MatchingEval{
		ID:             uuid.New(),
		EventRequestID: requestID,
		Source:         string(source),
		CandidateCount: candidates,
		LatencyMS:      elapsed.Milliseconds(),
		Success:        runErr == nil,
		CreatedAt:      s.now().UTC(),
	}
	matchCount := 0
	if out != nil {
		matchCount = len(out.Matches)
		eval.MatchCount = matchCount
		eval.MatchedCatererIDs = matchedCaterers(out.Matches)
		if top := topScore(out.Matches); top != nil {
			eval.TopScore = top
		}
		if out.Model != "" {
			model := out.Model
			eval.Model = &model
		}
	}
	if runErr != nil {
		step := "unknown"
		if typed := pkgerrors.As(runErr); typed != nil && typed.Step() != "" {
			step = typed.Step()
		}
		msg := truncate(runErr.Error(), maxErrorMessageLength)
		eval.FailureStep = &step
		eval.ErrorMessage = &msg
		if source == enums.MatchSourceAI && s.ranker != nil {
			model := s.ranker.Model()
			eval.Model = &model
		}
		s.logg.WarnErr(s.logg.WithFields(ctx, map[string]any{"operation": operation, "step": step}), "matching run failed", runErr)
	}

	s.observer.ObserveRun(operation, source, runErr == nil, elapsed, matchCount)
	if err := s.evals.RecordMatching(ctx, eval); err != nil {
		s.logg.WarnErr(ctx, "matching eval not recorded", err)
	}
}

func topScore(rows []models.Match) *int {
	if len(rows) == 0 {
		return nil
	}
	top := rows[0].Score
	for _, m := range rows[1:] {
		top = max(top, m.Score)
	}
	return &top
}

func matchedCaterers(rows []models.Match) dbtypes.UUIDArray {
	ids := make(dbtypes.UUIDArray, len(rows))
	for i, m := range rows {
		ids[i] = m.CatererID
	}
	return ids
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
