package compress

import (
	"context"
	"time"
)

// slidingWindowStrategy keeps the most recent window of turns and
// attaches a keyword-extraction summary of what was dropped. It makes
// no model call.
type slidingWindowStrategy struct {
	floor int
}

func (slidingWindowStrategy) Name() Strategy {
	return StrategySlidingWindow
}

func (s *slidingWindowStrategy) Execute(ctx context.Context, src Source, targetRatio float64) (*Result, error) {
	start := time.Now()
	p := partitionTurns(src.Turns)

	target := int(targetRatio*float64(p.effectiveTotal) + 0.5)
	if target < s.floor {
		target = s.floor
	}
	if len(p.content) <= target {
		return noopResult(src, p, StrategySlidingWindow, start), nil
	}

	kept := p.content[len(p.content)-target:]
	dropped := p.content[:len(p.content)-target]

	return assemble(src, p, kept, len(dropped), keywordSummary(dropped), StrategySlidingWindow, start), nil
}
