package compress

import (
	"context"
	"sort"
	"time"

	"github.com/ctxwindow/ctxwindow/score"
	"github.com/ctxwindow/ctxwindow/types"
)

// intelligentStrategy scores every turn, unconditionally retains the
// most recent floor turns regardless of score, and fills the remaining
// budget with the highest-scoring older turns. Selected turns are
// re-sorted into original chronological order.
type intelligentStrategy struct {
	compressor *Compressor
}

func (intelligentStrategy) Name() Strategy {
	return StrategyIntelligent
}

func (s *intelligentStrategy) Execute(ctx context.Context, src Source, targetRatio float64) (*Result, error) {
	start := time.Now()
	c := s.compressor
	p := partitionTurns(src.Turns)

	target := c.keepCount(p, targetRatio)
	if len(p.content) <= target {
		return noopResult(src, p, StrategyIntelligent, start), nil
	}

	kept, dropped := selectByImportance(p.content, target, c.floor)
	summary := c.generateSummary(ctx, dropped)

	return assemble(src, p, kept, len(dropped), summary, StrategyIntelligent, start), nil
}

// selectByImportance keeps the last floor turns unconditionally, then
// the highest-scoring of the rest up to target. Both slices come back
// in chronological order.
func selectByImportance(content []*types.ConversationTurn, target, floor int) (kept, dropped []*types.ConversationTurn) {
	if floor > len(content) {
		floor = len(content)
	}
	recent := content[len(content)-floor:]
	older := content[:len(content)-floor]

	budget := target - floor
	if budget < 0 {
		budget = 0
	}
	if budget >= len(older) {
		return content, nil
	}

	type scored struct {
		turn  *types.ConversationTurn
		index int
		value float64
	}
	ranked := make([]scored, len(older))
	for i, turn := range older {
		ranked[i] = scored{turn: turn, index: i, value: score.Score(turn)}
	}
	// Stable on original index so equal scores keep older-first order
	// and selection stays deterministic.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].value != ranked[j].value {
			return ranked[i].value > ranked[j].value
		}
		return ranked[i].index < ranked[j].index
	})

	selected := make(map[int]bool, budget)
	for _, entry := range ranked[:budget] {
		selected[entry.index] = true
	}

	for i, turn := range older {
		if selected[i] {
			kept = append(kept, turn)
		} else {
			dropped = append(dropped, turn)
		}
	}
	kept = append(kept, recent...)
	return kept, dropped
}
