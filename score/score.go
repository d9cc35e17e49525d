// Package score assigns retention-worthiness scores to conversation
// turns and named intermediate state. Scores are recomputed each time
// compression runs; they are never persisted, since importance is
// context-dependent.
//
// Scoring is a pure function of the input content. Two runs over
// identical input produce identical scores, which keeps compression
// decisions reproducible.
package score

import (
	"strings"

	"github.com/ctxwindow/ctxwindow/types"
)

// Scoring baseline and adjustments. All adjustments are additive onto
// the baseline and the result is clamped to [0, 1].
const (
	baseline = 0.5

	userRoleBonus   = 0.10
	midLengthBonus  = 0.10
	extremePenalty  = 0.10
	keywordBonus    = 0.15
	questionBonus   = 0.05
	toolResultBonus = 0.10
)

// Length band for the middle-length bonus, in characters. Very short
// turns are often low-information acknowledgements; very long turns
// often carry redundant bulk.
const (
	shortLength = 20
	longLength  = 2000
)

// decisionKeywords mark turns that record decisions or outcomes.
var decisionKeywords = []string{
	"decide", "decision", "agreed", "approve", "approved", "rejected",
	"conclusion", "result", "resolved", "fixed", "completed", "confirmed",
	"must", "will not", "chosen",
}

// Score returns the retention-worthiness of a turn in [0, 1].
func Score(turn *types.ConversationTurn) float64 {
	s := baseline

	if turn.Role == types.RoleHuman {
		s += userRoleBonus
	}

	length := len(turn.Content)
	switch {
	case length >= shortLength && length <= longLength:
		s += midLengthBonus
	default:
		s -= extremePenalty
	}

	lower := strings.ToLower(turn.Content)
	for _, keyword := range decisionKeywords {
		if strings.Contains(lower, keyword) {
			s += keywordBonus
			break
		}
	}

	if strings.Contains(turn.Content, "?") {
		s += questionBonus
	}

	if turn.HasToolResult() {
		s += toolResultBonus
	}

	return clamp(s)
}

// State scoring values. Keys matching a high-value category score
// highValue; everything else gets lowValue.
const (
	highValue = 0.9
	lowValue  = 0.3
)

// stateCategories is the allowlist of high-value state key categories.
var stateCategories = []string{"decision", "result", "error", "approval"}

// ScoreState scores a named intermediate variable by its key.
func ScoreState(key string, value any) float64 {
	lower := strings.ToLower(key)
	for _, category := range stateCategories {
		if strings.Contains(lower, category) {
			return highValue
		}
	}
	_ = value
	return lowValue
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
