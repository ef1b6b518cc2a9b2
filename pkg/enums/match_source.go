package enums

// MatchSource records which stage produced a persisted match.
type MatchSource string

const (
	MatchSourceAI         MatchSource = "ai_rerank"
	MatchSourceBaseScore  MatchSource = "base_score"
	MatchSourceRoundRobin MatchSource = "round_robin"
)

// String implements fmt.Stringer.
func (s MatchSource) String() string {
	return string(s)
}
