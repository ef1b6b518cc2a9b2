package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/catermatch-backend/internal/matching"
	"github.com/angelmondragon/catermatch-backend/internal/roundrobin"
	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

type matchDTO struct {
	ID             uuid.UUID         `json:"id"`
	EventRequestID uuid.UUID         `json:"event_request_id"`
	CatererID      uuid.UUID         `json:"caterer_id"`
	Score          int               `json:"score"`
	Rank           int               `json:"rank"`
	Status         enums.MatchStatus `json:"status"`
	Source         enums.MatchSource `json:"source"`
	Reasons        []string          `json:"reasons"`
	Concerns       []string          `json:"concerns"`
	Summary        *string           `json:"summary,omitempty"`
	ViewedAt       *time.Time        `json:"viewed_at,omitempty"`
	ContactedAt    *time.Time        `json:"contacted_at,omitempty"`
	QuotedAt       *time.Time        `json:"quoted_at,omitempty"`
	RespondedAt    *time.Time        `json:"responded_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toMatchDTO(m *models.Match) matchDTO {
	reasons := []string(m.Reasons)
	if reasons == nil {
		reasons = []string{}
	}
	concerns := []string(m.Concerns)
	if concerns == nil {
		concerns = []string{}
	}
	return matchDTO{
		ID:             m.ID,
		EventRequestID: m.EventRequestID,
		CatererID:      m.CatererID,
		Score:          m.Score,
		Rank:           m.Rank,
		Status:         m.Status,
		Source:         m.Source,
		Reasons:        reasons,
		Concerns:       concerns,
		Summary:        m.Summary,
		ViewedAt:       m.ViewedAt,
		ContactedAt:    m.ContactedAt,
		QuotedAt:       m.QuotedAt,
		RespondedAt:    m.RespondedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toMatchDTOs(rows []models.Match) []matchDTO {
	out := make([]matchDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toMatchDTO(&rows[i]))
	}
	return out
}

type outcomeDTO struct {
	RequestID      uuid.UUID              `json:"request_id"`
	Source         enums.MatchSource      `json:"source"`
	NoCandidates   bool                   `json:"no_candidates"`
	CandidateCount int                    `json:"candidate_count"`
	Summary        string                 `json:"summary,omitempty"`
	Model          string                 `json:"model,omitempty"`
	Matches        []matchDTO             `json:"matches"`
	Assignment     *roundrobin.Assignment `json:"assignment,omitempty"`
}

func toOutcomeDTO(out *matching.Outcome) outcomeDTO {
	return outcomeDTO{
		RequestID:      out.RequestID,
		Source:         out.Source,
		NoCandidates:   out.NoCandidates,
		CandidateCount: out.CandidateCount,
		Summary:        out.Summary,
		Model:          out.Model,
		Matches:        toMatchDTOs(out.Matches),
		Assignment:     out.Assignment,
	}
}

type locationEvalDTO struct {
	ID            uuid.UUID  `json:"id"`
	Input         string     `json:"input"`
	Normalized    string     `json:"normalized"`
	Found         bool       `json:"found"`
	Source        *string    `json:"source,omitempty"`
	ResolvedCity  *string    `json:"resolved_city,omitempty"`
	IsCorrect     *bool      `json:"is_correct"`
	CorrectedCity *string    `json:"corrected_city,omitempty"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toLocationEvalDTO(e *models.LocationEval) locationEvalDTO {
	return locationEvalDTO{
		ID:            e.ID,
		Input:         e.Input,
		Normalized:    e.Normalized,
		Found:         e.Found,
		Source:        e.Source,
		ResolvedCity:  e.ResolvedCity,
		IsCorrect:     e.IsCorrect,
		CorrectedCity: e.CorrectedCity,
		VerifiedAt:    e.VerifiedAt,
		CreatedAt:     e.CreatedAt,
	}
}
