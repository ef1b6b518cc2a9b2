package ranking

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/multierr"
)

// ErrNonConformant marks model output that failed schema or semantic validation.
var ErrNonConformant = errors.New("model output does not conform to the ranking schema")

//go:embed output_schema.json
var outputSchemaJSON string

var outputSchema = mustCompileSchema(outputSchemaJSON)

func mustCompileSchema(doc string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("ranking output schema: %v", err))
	}
	return schema
}

// CandidateRanking is the model's verdict on one caterer.
type CandidateRanking struct {
	CatererID uuid.UUID
	Score     int
	Reasons   []string
	Concerns  []string
}

// Output is a validated model response, ordered best first.
type Output struct {
	Rankings []CandidateRanking
	Summary  string
}

type rawRanking struct {
	CatererID string   `json:"catererId"`
	Score     float64  `json:"score"`
	Reasons   []string `json:"reasons"`
	Concerns  []string `json:"concerns"`
}

type rawOutput struct {
	Rankings []rawRanking `json:"rankings"`
	Summary  string       `json:"summary"`
}

// Validate parses raw model text and checks it against the output schema and the candidate set:
// every candidate must be ranked exactly once and nothing else may appear.
func Validate(raw string, candidateIDs []uuid.UUID) (*Output, error) {
	doc := extractJSON(raw)
	if doc == "" {
		return nil, fmt.Errorf("%w: empty response", ErrNonConformant)
	}

	result, err := outputSchema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNonConformant, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrNonConformant, strings.Join(msgs, "; "))
	}

	var parsed rawOutput
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNonConformant, err)
	}

	expected := make(map[uuid.UUID]bool, len(candidateIDs))
	for _, id := range candidateIDs {
		expected[id] = false
	}

	var problems error
	out := &Output{Summary: strings.TrimSpace(parsed.Summary)}
	for _, r := range parsed.Rankings {
		id, err := uuid.Parse(strings.TrimSpace(r.CatererID))
		if err != nil {
			problems = multierr.Append(problems, fmt.Errorf("invalid caterer id %q", r.CatererID))
			continue
		}
		seen, known := expected[id]
		switch {
		case !known:
			problems = multierr.Append(problems, fmt.Errorf("unknown caterer %s", id))
			continue
		case seen:
			problems = multierr.Append(problems, fmt.Errorf("caterer %s ranked more than once", id))
			continue
		}
		expected[id] = true
		out.Rankings = append(out.Rankings, CandidateRanking{
			CatererID: id,
			Score:     int(math.Round(r.Score)),
			Reasons:   cleanLines(r.Reasons),
			Concerns:  cleanLines(r.Concerns),
		})
	}
	for _, id := range candidateIDs {
		if !expected[id] {
			problems = multierr.Append(problems, fmt.Errorf("caterer %s missing from ranking", id))
		}
	}
	if problems != nil {
		return nil, fmt.Errorf("%w: %v", ErrNonConformant, problems)
	}
	return out, nil
}

// extractJSON strips markdown code fences some models wrap around JSON.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func cleanLines(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
