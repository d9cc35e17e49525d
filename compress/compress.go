// Package compress shrinks a conversation to a target size without
// losing operationally important information. Four interchangeable
// strategies are exposed behind a single entry point; summary
// generation is an injectable capability with a required local
// fallback, so compaction never depends on a model call succeeding.
package compress

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ctxwindow/ctxwindow/tokens"
	"github.com/ctxwindow/ctxwindow/types"
)

// Logger interface for compression logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a no-op implementation of Logger.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// DefaultRecencyFloor is the number of most recent turns every
// strategy except simple truncation retains unconditionally. Recency
// has independent value beyond importance.
const DefaultRecencyFloor = 5

// DefaultGenerateTimeout bounds a single summary-generation call.
const DefaultGenerateTimeout = 30 * time.Second

// ErrInvalidRatio indicates a target ratio outside (0, 1].
var ErrInvalidRatio = errors.New("target ratio must be in (0, 1]")

// CompressionError is raised only when even the cheapest fallback
// strategy fails. It should be treated as a defect, not a normal
// runtime condition.
type CompressionError struct {
	Op  string
	Err error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compression %s failed: %v", e.Op, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

// Options configures a Compressor. Zero values take defaults.
type Options struct {
	// RecencyFloor overrides DefaultRecencyFloor.
	RecencyFloor int

	// Generator produces rich summaries for the intelligent and hybrid
	// strategies. When nil or failing, keyword extraction is used.
	Generator TextGenerator

	// GenerateTimeout bounds one generation call. A timed-out call
	// falls back to keyword extraction rather than blocking compaction.
	GenerateTimeout time.Duration

	Logger Logger
}

// Compressor applies compaction strategies to conversation sources.
type Compressor struct {
	floor           int
	generator       TextGenerator
	generateTimeout time.Duration
	logger          Logger
}

// New creates a Compressor from options.
func New(opts Options) *Compressor {
	c := &Compressor{
		floor:           opts.RecencyFloor,
		generator:       opts.Generator,
		generateTimeout: opts.GenerateTimeout,
		logger:          opts.Logger,
	}
	if c.floor == 0 {
		c.floor = DefaultRecencyFloor
	}
	if c.generateTimeout == 0 {
		c.generateTimeout = DefaultGenerateTimeout
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	return c
}

// Compress reduces src to roughly targetRatio of its effective size
// using the given strategy. If the strategy itself fails, compression
// falls back to simple truncation before surfacing a CompressionError.
func (c *Compressor) Compress(ctx context.Context, src Source, targetRatio float64, strategy Strategy) (*Result, error) {
	if targetRatio <= 0 || targetRatio > 1 {
		return nil, ErrInvalidRatio
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}

	exec, err := c.newExecutor(strategy)
	if err != nil {
		return nil, err
	}

	result, err := exec.Execute(ctx, src, targetRatio)
	if err == nil {
		c.logger.Info("compression complete",
			"strategy", strategy,
			"dropped", result.DroppedCount,
			"kept", len(result.Turns),
			"achieved_ratio", result.AchievedRatio,
		)
		return result, nil
	}

	if strategy == StrategySimpleTruncate {
		return nil, &CompressionError{Op: string(strategy), Err: err}
	}

	c.logger.Warn("strategy failed, falling back to simple truncation",
		"strategy", strategy, "error", err)

	fallback, fbErr := (&truncateStrategy{}).Execute(ctx, src, targetRatio)
	if fbErr != nil {
		return nil, &CompressionError{Op: string(strategy), Err: errors.Join(err, fbErr)}
	}
	return fallback, nil
}

// partition separates prior compaction summaries from content turns.
// Summary turns are always kept and each stands in for the turns it
// replaced, so the effective conversation size counts them.
type partition struct {
	summaries []*types.ConversationTurn
	content   []*types.ConversationTurn

	// effectiveTotal is content turns plus everything prior summaries
	// replaced. Target ratios are applied against this so repeated
	// compaction does not spiral (no runaway re-compression).
	effectiveTotal int
}

func partitionTurns(turns []*types.ConversationTurn) partition {
	p := partition{}
	for _, turn := range turns {
		if turn.IsSummary {
			p.summaries = append(p.summaries, turn)
			p.effectiveTotal += turn.ReplacesCount
		} else {
			p.content = append(p.content, turn)
			p.effectiveTotal++
		}
	}
	return p
}

// keepCount computes how many content turns a pass should retain.
// The recency floor wins when the ratio would keep fewer.
func (c *Compressor) keepCount(p partition, targetRatio float64) int {
	target := int(targetRatio*float64(p.effectiveTotal) + 0.5)
	if target < c.floor {
		target = c.floor
	}
	return target
}

// assemble builds a Result from kept turns, restoring chronological
// order. Turns are never reordered in the final sequence.
func assemble(src Source, p partition, kept []*types.ConversationTurn, droppedCount int, summary string, strategy Strategy, start time.Time) *Result {
	final := make([]*types.ConversationTurn, 0, len(p.summaries)+len(kept))
	final = append(final, p.summaries...)
	final = append(final, kept...)
	sort.SliceStable(final, func(i, j int) bool {
		return final[i].CreatedAt.Before(final[j].CreatedAt)
	})

	originalTokens := tokens.EstimateTurns(src.Turns)
	compactedTokens := tokens.EstimateTurns(final) + tokens.Estimate(summary)

	achieved := 1.0
	if p.effectiveTotal > 0 {
		achieved = float64(len(kept)) / float64(p.effectiveTotal)
	}

	return &Result{
		Turns:           final,
		Summary:         summary,
		DroppedCount:    droppedCount,
		Strategy:        strategy,
		OriginalTokens:  originalTokens,
		CompactedTokens: compactedTokens,
		AchievedRatio:   achieved,
		Duration:        time.Since(start),
	}
}

// noopResult returns an unchanged result for sources already at or
// under the target.
func noopResult(src Source, p partition, strategy Strategy, start time.Time) *Result {
	originalTokens := tokens.EstimateTurns(src.Turns)
	achieved := 1.0
	if p.effectiveTotal > 0 {
		achieved = float64(len(p.content)) / float64(p.effectiveTotal)
	}
	return &Result{
		Turns:           src.Turns,
		Strategy:        strategy,
		OriginalTokens:  originalTokens,
		CompactedTokens: originalTokens,
		AchievedRatio:   achieved,
		Duration:        time.Since(start),
	}
}

// generateSummary produces the summary for dropped turns, using the
// injected generator when available and falling back silently to
// keyword extraction on any failure. Generation failures never
// propagate as user-visible errors.
func (c *Compressor) generateSummary(ctx context.Context, dropped []*types.ConversationTurn) string {
	if len(dropped) == 0 {
		return ""
	}

	if c.generator != nil {
		genCtx, cancel := context.WithTimeout(ctx, c.generateTimeout)
		defer cancel()

		summary, err := c.generator.Generate(genCtx, buildSummaryPrompt(dropped))
		if err == nil && summary != "" {
			return summary
		}
		c.logger.Debug("summary generation failed, using keyword extraction", "error", err)
	}

	return keywordSummary(dropped)
}
