package compress

import (
	"context"
	"time"
)

// truncateStrategy keeps the most recent fraction of turns and drops
// the rest with no summary. It is the only strategy that may cut below
// the recency floor, since it is the fallback of last resort.
type truncateStrategy struct{}

func (truncateStrategy) Name() Strategy {
	return StrategySimpleTruncate
}

func (t *truncateStrategy) Execute(ctx context.Context, src Source, targetRatio float64) (*Result, error) {
	start := time.Now()
	p := partitionTurns(src.Turns)

	target := int(targetRatio*float64(p.effectiveTotal) + 0.5)
	if target < 1 {
		target = 1
	}
	if len(p.content) <= target {
		return noopResult(src, p, StrategySimpleTruncate, start), nil
	}

	kept := p.content[len(p.content)-target:]
	dropped := len(p.content) - target

	return assemble(src, p, kept, dropped, "", StrategySimpleTruncate, start), nil
}
