package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/angelmondragon/catermatch-backend/pkg/db/types"
)

// LocationEval is one append-only observation of location normalization, optionally verified later.
type LocationEval struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Input         string     `gorm:"column:input;not null"`
	Normalized    string     `gorm:"column:normalized;not null"`
	Found         bool       `gorm:"column:found;not null"`
	Source        *string    `gorm:"column:source"`
	ResolvedCity  *string    `gorm:"column:resolved_city"`
	Latitude      *float64   `gorm:"column:latitude"`
	Longitude     *float64   `gorm:"column:longitude"`
	LatencyMS     int64      `gorm:"column:latency_ms;not null"`
	IsCorrect     *bool      `gorm:"column:is_correct"`
	CorrectedCity *string    `gorm:"column:corrected_city"`
	VerifiedAt    *time.Time `gorm:"column:verified_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (LocationEval) TableName() string { return "location_evals" }

// MatchingEval is one append-only observation of a matching or distribution run.
type MatchingEval struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventRequestID uuid.UUID `gorm:"column:event_request_id;type:uuid;not null"`
	Source         string    `gorm:"column:source;not null"`
	CandidateCount int       `gorm:"column:candidate_count;not null"`
	MatchCount     int       `gorm:"column:match_count;not null"`
	TopScore       *int      `gorm:"column:top_score"`
	// MatchedCatererIDs lists the caterers persisted by the run, best rank first.
	MatchedCatererIDs dbtypes.UUIDArray `gorm:"column:matched_caterer_ids;type:uuid[]"`
	Model             *string           `gorm:"column:model"`
	LatencyMS         int64             `gorm:"column:latency_ms;not null"`
	Success           bool              `gorm:"column:success;not null"`
	FailureStep       *string           `gorm:"column:failure_step"`
	ErrorMessage      *string           `gorm:"column:error_message"`
	Outcome           *string           `gorm:"column:outcome"`
	OutcomeAt         *time.Time        `gorm:"column:outcome_at"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (MatchingEval) TableName() string { return "matching_evals" }
