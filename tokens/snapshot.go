package tokens

import (
	"github.com/ctxwindow/ctxwindow/types"
)

// Segment identifies a category of context-window consumption.
type Segment string

const (
	// SegmentPreamble is the instruction preamble (system prompt).
	SegmentPreamble Segment = "preamble"

	// SegmentToolDecls is the tool and capability declarations.
	SegmentToolDecls Segment = "tool_declarations"

	// SegmentHistory is the conversation history.
	SegmentHistory Segment = "history"

	// SegmentPending is input accepted but not yet processed.
	SegmentPending Segment = "pending"
)

// Snapshot is a point-in-time breakdown of consumed tokens across
// segments plus the configured ceiling. It is derived on demand and
// never persisted independently.
type Snapshot struct {
	Segments map[Segment]int `json:"segments"`
	Total    int             `json:"total"`
	Ceiling  int             `json:"ceiling"`
}

// Breakdown computes a Snapshot from the conversation history and the
// non-history segments. ceiling is the model's context budget.
func Breakdown(turns []*types.ConversationTurn, preamble, toolDecls, pending string, ceiling int) *Snapshot {
	segments := map[Segment]int{
		SegmentPreamble:  Estimate(preamble),
		SegmentToolDecls: Estimate(toolDecls),
		SegmentHistory:   EstimateTurns(turns),
		SegmentPending:   Estimate(pending),
	}

	total := 0
	for _, count := range segments {
		total += count
	}

	return &Snapshot{
		Segments: segments,
		Total:    total,
		Ceiling:  ceiling,
	}
}

// Ratio returns the fraction of the ceiling consumed, in [0, +inf).
// A zero ceiling reports full consumption rather than dividing by zero.
func (s *Snapshot) Ratio() float64 {
	if s.Ceiling <= 0 {
		return 1.0
	}
	return float64(s.Total) / float64(s.Ceiling)
}

// Remaining returns the tokens left under the ceiling, never negative.
func (s *Snapshot) Remaining() int {
	remaining := s.Ceiling - s.Total
	if remaining < 0 {
		return 0
	}
	return remaining
}
