// Package ranking re-ranks a base-scored shortlist with a generative model and persists the
// validated result as matches.
package ranking

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/catermatch-backend/internal/matches"
	"github.com/angelmondragon/catermatch-backend/internal/scoring"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 2
	maxLogLength       = 200
)

type rankingPersister interface {
	UpsertRanking(ctx context.Context, requestID uuid.UUID, rows []matches.Upsert) ([]models.Match, error)
}

// Request is one shortlist to re-rank.
type Request struct {
	RequestID  uuid.UUID
	Criteria   scoring.MatchCriteria
	Candidates []scoring.Ranked
}

// Result is the persisted re-ranking.
type Result struct {
	RequestID    uuid.UUID
	Matches      []models.Match
	Summary      string
	NoCandidates bool
	Model        string
	Attempts     int
}

type Service struct {
	generator         Generator
	persister         rankingPersister
	logg              *logger.Logger
	timeout           time.Duration
	maxAttempts       int
	lowMatchThreshold int
}

type ServiceParams struct {
	Generator Generator
	Persister rankingPersister
	Logger    *logger.Logger
	// Timeout bounds each model call.
	Timeout time.Duration
	// MaxAttempts is how many responses are requested before non-conformant output is a failure.
	MaxAttempts       int
	LowMatchThreshold int
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Persister == nil {
		return nil, errors.New("ranking persister required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	generator := params.Generator
	if generator == nil {
		generator = DisabledGenerator{}
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attempts := params.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Service{
		generator:         generator,
		persister:         params.Persister,
		logg:              params.Logger,
		timeout:           timeout,
		maxAttempts:       attempts,
		lowMatchThreshold: params.LowMatchThreshold,
	}, nil
}

// Model names the configured model, empty when disabled.
func (s *Service) Model() string {
	return s.generator.Model()
}

// Rerank asks the model for a total order over every candidate, validates it and persists it.
// Nothing is written when the model fails or its output never validates.
func (s *Service) Rerank(ctx context.Context, req Request) (*Result, error) {
	if len(req.Candidates) == 0 {
		return &Result{RequestID: req.RequestID, NoCandidates: true}, nil
	}

	prompt, err := buildPrompt(req.Criteria, req.Candidates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build ranking prompt").WithStep("model")
	}

	ids := make([]uuid.UUID, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		ids = append(ids, c.Profile.ID)
	}

	output, attempts, err := s.generate(ctx, prompt, ids)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(output.Rankings, func(i, j int) bool {
		return output.Rankings[i].Score > output.Rankings[j].Score
	})

	var summary *string
	if output.Summary != "" {
		summary = &output.Summary
	}
	rows := make([]matches.Upsert, 0, len(output.Rankings))
	for i, r := range output.Rankings {
		rows = append(rows, matches.Upsert{
			CatererID: r.CatererID,
			Score:     r.Score,
			Status:    matches.StatusForScore(r.Score, s.lowMatchThreshold),
			Source:    enums.MatchSourceAI,
			Reasons:   r.Reasons,
			Concerns:  r.Concerns,
			Summary:   summary,
			Rank:      i + 1,
		})
	}

	persisted, err := s.persister.UpsertRanking(ctx, req.RequestID, rows)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist ranking").WithStep("persist")
	}

	return &Result{
		RequestID: req.RequestID,
		Matches:   persisted,
		Summary:   output.Summary,
		Model:     s.generator.Model(),
		Attempts:  attempts,
	}, nil
}

func (s *Service) generate(ctx context.Context, prompt string, ids []uuid.UUID) (*Output, int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		raw, err := s.generator.Generate(callCtx, prompt)
		cancel()
		if err != nil {
			return nil, attempt, modelError(ctx, err)
		}

		output, err := Validate(raw, ids)
		if err == nil {
			return output, attempt, nil
		}
		lastErr = err
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"attempt":          attempt,
			"response_preview": truncate(raw, maxLogLength),
		})
		s.logg.WarnErr(logCtx, "discarding non-conformant ranking output", err)
	}
	return nil, s.maxAttempts, pkgerrors.Wrap(pkgerrors.CodeDependency, lastErr, "ranking model returned invalid output").
		WithStep("validate_output")
}

func modelError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "ranking model timed out").WithStep("model")
	case errors.Is(err, ErrGeneratorDisabled):
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ranking model unavailable").WithStep("model")
	case ctx.Err() != nil:
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "request cancelled during ranking").WithStep("model")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ranking model call failed").WithStep("model")
	}
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
