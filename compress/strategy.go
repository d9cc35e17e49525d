package compress

import (
	"context"
	"fmt"
	"time"

	"github.com/ctxwindow/ctxwindow/types"
)

// Strategy names a compaction strategy. Strategies are interchangeable
// and increase in cost and quality in the order listed.
type Strategy string

const (
	// StrategySimpleTruncate keeps the most recent fraction of turns
	// and drops the rest with no summary. Cheapest, lossiest.
	StrategySimpleTruncate Strategy = "simple_truncate"

	// StrategySlidingWindow keeps the most recent window and attaches a
	// keyword-extraction summary of what was dropped. No model call.
	StrategySlidingWindow Strategy = "sliding_window"

	// StrategyIntelligent scores every turn, unconditionally retains
	// the most recent turns, fills the remaining budget with the
	// highest-scoring turns, and generates a richer summary.
	StrategyIntelligent Strategy = "intelligent"

	// StrategyHybrid applies the intelligent strategy to conversation
	// history, separately summarizes tool-invocation history, and
	// separately filters intermediate state, combining all three.
	StrategyHybrid Strategy = "hybrid"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySimpleTruncate, StrategySlidingWindow, StrategyIntelligent, StrategyHybrid:
		return true
	}
	return false
}

// Source is the material handed to a compaction pass.
type Source struct {
	// Turns is the conversation history in chronological order.
	Turns []*types.ConversationTurn

	// State holds named intermediate values. Only the hybrid strategy
	// looks at it.
	State map[string]any
}

// Result is the outcome of one compaction pass. It is owned by the
// caller and not persisted beyond the checkpoint that embeds it.
type Result struct {
	// Turns is the reduced sequence, in original chronological order.
	Turns []*types.ConversationTurn

	// Summary stands in for the removed turns. Empty when nothing was
	// dropped or the strategy produces no summary.
	Summary string

	// State is the filtered intermediate state. Only populated by the
	// hybrid strategy.
	State map[string]any

	// DroppedCount is the number of turns removed by this pass.
	DroppedCount int

	// Strategy is the strategy that produced this result.
	Strategy Strategy

	// OriginalTokens and CompactedTokens are estimates before and after.
	OriginalTokens  int
	CompactedTokens int

	// AchievedRatio is the fraction of the conversation actually kept.
	// It may exceed the requested target when the recency floor wins;
	// callers are told the achieved ratio rather than told success.
	AchievedRatio float64

	Duration time.Duration
}

// executor is the interface strategy implementations satisfy.
type executor interface {
	Name() Strategy
	Execute(ctx context.Context, src Source, targetRatio float64) (*Result, error)
}

// newExecutor returns the executor for a strategy.
func (c *Compressor) newExecutor(strategy Strategy) (executor, error) {
	switch strategy {
	case StrategySimpleTruncate:
		return &truncateStrategy{}, nil
	case StrategySlidingWindow:
		return &slidingWindowStrategy{floor: c.floor}, nil
	case StrategyIntelligent:
		return &intelligentStrategy{compressor: c}, nil
	case StrategyHybrid:
		return &hybridStrategy{compressor: c}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}
