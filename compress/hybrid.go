package compress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ctxwindow/ctxwindow/score"
	"github.com/ctxwindow/ctxwindow/types"
)

// stateKeepThreshold is the minimum state score for a named variable
// to survive hybrid compaction.
const stateKeepThreshold = 0.5

// toolSummaryLimit caps how many tool invocations the tool-history
// summary lists.
const toolSummaryLimit = 10

// hybridStrategy applies the intelligent strategy to conversation
// history, separately summarizes tool-invocation history, and
// separately filters intermediate state, combining all three into one
// result. The three passes are independent and run concurrently.
type hybridStrategy struct {
	compressor *Compressor
}

func (hybridStrategy) Name() Strategy {
	return StrategyHybrid
}

func (s *hybridStrategy) Execute(ctx context.Context, src Source, targetRatio float64) (*Result, error) {
	start := time.Now()

	var (
		history     *Result
		toolSummary string
		state       map[string]any
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		inner := &intelligentStrategy{compressor: s.compressor}
		result, err := inner.Execute(groupCtx, src, targetRatio)
		if err != nil {
			return err
		}
		history = result
		return nil
	})

	group.Go(func() error {
		toolSummary = summarizeToolHistory(src.Turns)
		return nil
	})

	group.Go(func() error {
		state = filterState(src.State)
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}

	summary := history.Summary
	if toolSummary != "" {
		if summary != "" {
			summary += "\n\n"
		}
		summary += toolSummary
	}

	return &Result{
		Turns:           history.Turns,
		Summary:         summary,
		State:           state,
		DroppedCount:    history.DroppedCount,
		Strategy:        StrategyHybrid,
		OriginalTokens:  history.OriginalTokens,
		CompactedTokens: history.CompactedTokens,
		AchievedRatio:   history.AchievedRatio,
		Duration:        time.Since(start),
	}, nil
}

// summarizeToolHistory condenses tool invocations into one line each,
// most recent last, capped at toolSummaryLimit entries.
func summarizeToolHistory(turns []*types.ConversationTurn) string {
	var lines []string
	for _, turn := range turns {
		if turn.Tool == nil {
			continue
		}
		lines = append(lines, formatToolLine(turn.Tool))
	}
	if len(lines) == 0 {
		return ""
	}
	if len(lines) > toolSummaryLimit {
		omitted := len(lines) - toolSummaryLimit
		lines = append(
			[]string{fmt.Sprintf("(%d earlier invocations omitted)", omitted)},
			lines[len(lines)-toolSummaryLimit:]...,
		)
	}
	return "Tool activity:\n" + strings.Join(lines, "\n")
}

func formatToolLine(tool *types.ToolInvocation) string {
	output := tool.Output
	if len(output) > 120 {
		output = output[:117] + "..."
	}
	line := fmt.Sprintf("- %s: %s", tool.Name, output)
	if tool.IsError {
		line = fmt.Sprintf("- %s (failed): %s", tool.Name, output)
	}
	return line
}

// filterState keeps only named variables whose key scores at or above
// the keep threshold.
func filterState(state map[string]any) map[string]any {
	if len(state) == 0 {
		return nil
	}
	filtered := make(map[string]any)
	for key, value := range state {
		if score.ScoreState(key, value) >= stateKeepThreshold {
			filtered[key] = value
		}
	}
	return filtered
}
