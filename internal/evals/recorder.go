// Package evals appends location and matching observations for offline quality measurement.
package evals

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/multierr"

	"github.com/angelmondragon/catermatch-backend/pkg/db/models"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

// Recorder appends eval observations somewhere.
type Recorder interface {
	RecordLocation(ctx context.Context, eval models.LocationEval) error
	RecordMatching(ctx context.Context, eval models.MatchingEval) error
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) RecordLocation(context.Context, models.LocationEval) error { return nil }
func (NoopRecorder) RecordMatching(context.Context, models.MatchingEval) error { return nil }

type evalWriter interface {
	CreateLocation(ctx context.Context, eval *models.LocationEval) error
	CreateMatching(ctx context.Context, eval *models.MatchingEval) error
}

// DBRecorder appends evals to the primary database.
type DBRecorder struct {
	repo evalWriter
}

func NewDBRecorder(repo evalWriter) *DBRecorder {
	return &DBRecorder{repo: repo}
}

func (r *DBRecorder) RecordLocation(ctx context.Context, eval models.LocationEval) error {
	return r.repo.CreateLocation(ctx, &eval)
}

func (r *DBRecorder) RecordMatching(ctx context.Context, eval models.MatchingEval) error {
	return r.repo.CreateMatching(ctx, &eval)
}

type rowInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
	LocationEvalsTable() string
	MatchingEvalsTable() string
}

// BigQueryRecorder streams evals into the warehouse tables.
type BigQueryRecorder struct {
	inserter rowInserter
}

func NewBigQueryRecorder(inserter rowInserter) (*BigQueryRecorder, error) {
	if inserter == nil {
		return nil, errors.New("bigquery inserter required")
	}
	return &BigQueryRecorder{inserter: inserter}, nil
}

// RecordLocation is a no-op when no location table is configured.
func (r *BigQueryRecorder) RecordLocation(ctx context.Context, eval models.LocationEval) error {
	table := r.inserter.LocationEvalsTable()
	if table == "" {
		return nil
	}
	return r.inserter.InsertRows(ctx, table, []any{locationRow(eval)})
}

func (r *BigQueryRecorder) RecordMatching(ctx context.Context, eval models.MatchingEval) error {
	table := r.inserter.MatchingEvalsTable()
	if table == "" {
		return nil
	}
	return r.inserter.InsertRows(ctx, table, []any{matchingRow(eval)})
}

type locationRow models.LocationEval

// Save implements bigquery.ValueSaver; the eval id doubles as the streaming insert id.
func (r locationRow) Save() (map[string]bigquery.Value, string, error) {
	row := map[string]bigquery.Value{
		"id":         r.ID.String(),
		"input":      r.Input,
		"normalized": r.Normalized,
		"found":      r.Found,
		"latency_ms": r.LatencyMS,
		"created_at": r.CreatedAt.UTC(),
	}
	putString(row, "source", r.Source)
	putString(row, "resolved_city", r.ResolvedCity)
	if r.Latitude != nil && r.Longitude != nil {
		row["latitude"] = *r.Latitude
		row["longitude"] = *r.Longitude
	}
	return row, r.ID.String(), nil
}

type matchingRow models.MatchingEval

func (r matchingRow) Save() (map[string]bigquery.Value, string, error) {
	row := map[string]bigquery.Value{
		"id":               r.ID.String(),
		"event_request_id": r.EventRequestID.String(),
		"source":           r.Source,
		"candidate_count":  r.CandidateCount,
		"match_count":      r.MatchCount,
		"latency_ms":       r.LatencyMS,
		"success":          r.Success,
		"created_at":       r.CreatedAt.UTC(),
	}
	if r.TopScore != nil {
		row["top_score"] = *r.TopScore
	}
	if len(r.MatchedCatererIDs) > 0 {
		row["matched_caterer_ids"] = r.MatchedCatererIDs.Strings()
	}
	putString(row, "model", r.Model)
	putString(row, "failure_step", r.FailureStep)
	putString(row, "error_message", r.ErrorMessage)
	return row, r.ID.String(), nil
}

func putString(row map[string]bigquery.Value, key string, value *string) {
	if value != nil {
		row[key] = *value
	}
}

// Fanout writes to every recorder and combines their errors.
type Fanout []Recorder

func (f Fanout) RecordLocation(ctx context.Context, eval models.LocationEval) error {
	var err error
	for _, r := range f {
		err = multierr.Append(err, r.RecordLocation(ctx, eval))
	}
	return err
}

func (f Fanout) RecordMatching(ctx context.Context, eval models.MatchingEval) error {
	var err error
	for _, r := range f {
		err = multierr.Append(err, r.RecordMatching(ctx, eval))
	}
	return err
}

// BestEffort logs recorder failures instead of returning them, and bounds each write.
type BestEffort struct {
	next    Recorder
	logg    *logger.Logger
	timeout time.Duration
}

func NewBestEffort(next Recorder, logg *logger.Logger, timeout time.Duration) *BestEffort {
	if next == nil {
		next = NoopRecorder{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BestEffort{next: next, logg: logg, timeout: timeout}
}

func (b *BestEffort) RecordLocation(ctx context.Context, eval models.LocationEval) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()
	if err := b.next.RecordLocation(ctx, eval); err != nil {
		b.logg.WarnErr(ctx, "location eval not recorded", err)
	}
	return nil
}

func (b *BestEffort) RecordMatching(ctx context.Context, eval models.MatchingEval) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()
	if err := b.next.RecordMatching(b.logg.WithEventRequestID(ctx, eval.EventRequestID.String()), eval); err != nil {
		b.logg.WarnErr(ctx, "matching eval not recorded", err)
	}
	return nil
}
