// Package handoff prepares the bounded context slice one agent passes
// to another. A handoff never transfers the source agent's full local
// context: it carries a compressed summary, a capped set of findings,
// and a checkpoint reference the receiver can recover from on its own.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ctxwindow/ctxwindow/checkpoint"
	"github.com/ctxwindow/ctxwindow/compress"
	"github.com/ctxwindow/ctxwindow/types"
)

// Caps on the extracted sections. The receiving agent gets enough to
// continue, not the source agent's whole memory.
const (
	MaxKeyFindings   = 5
	MaxToolSummaries = 5
	MaxErrorMessages = 3
)

// DefaultTargetRatio is the compression applied to the source history
// when building the handoff summary.
const DefaultTargetRatio = 0.30

// Logger interface for handoff logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Options configures a Coordinator.
type Options struct {
	// Compressor performs the history compression pass. Required.
	Compressor *compress.Compressor

	// Store supplies the latest checkpoint reference. Optional; when
	// nil the handoff carries no checkpoint reference.
	Store checkpoint.Store

	// TargetRatio overrides DefaultTargetRatio.
	TargetRatio float64

	Logger Logger
}

// Coordinator builds HandoffContexts from agent local contexts.
type Coordinator struct {
	compressor  *compress.Compressor
	store       checkpoint.Store
	targetRatio float64
	logger      Logger
}

// New creates a Coordinator from options.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		compressor:  opts.Compressor,
		store:       opts.Store,
		targetRatio: opts.TargetRatio,
		logger:      opts.Logger,
	}
	if c.targetRatio == 0 {
		c.targetRatio = DefaultTargetRatio
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	return c
}

// Prepare builds the handoff package for transferring work from the
// source agent to the target specialization.
func (c *Coordinator) Prepare(ctx context.Context, source *types.LocalContext, targetSpecialization, reason string) (*types.HandoffContext, error) {
	if source == nil {
		return nil, errors.New("handoff source context is nil")
	}

	result, err := c.compressor.Compress(ctx, compress.Source{
		Turns: source.Turns,
		State: source.State,
	}, c.targetRatio, compress.StrategyIntelligent)
	if err != nil {
		return nil, fmt.Errorf("compress handoff history: %w", err)
	}

	handoff := &types.HandoffContext{
		SourceAgentID:        source.AgentID,
		TargetSpecialization: targetSpecialization,
		Reason:               reason,
		Summary:              result.Summary,
		RecentTurns:          result.Turns,
		KeyFindings:          extractKeyFindings(source.Turns),
		AttemptedSolutions:   extractToolSummaries(source.Turns),
		ErrorMessages:        extractErrors(source.Turns),
		CreatedAt:            time.Now(),
	}

	if c.store != nil {
		latest, err := c.store.GetLatest(ctx, source.SessionID)
		switch {
		case err == nil:
			id := latest.ID
			handoff.LatestCheckpointID = &id
		case errors.Is(err, checkpoint.ErrNoCheckpoint):
			// No checkpoint yet; the handoff is still valid without one.
		default:
			c.logger.Warn("latest checkpoint lookup failed for handoff",
				"session_id", source.SessionID, "error", err)
		}
	}

	c.logger.Info("handoff prepared",
		"source_agent", source.AgentID,
		"target", targetSpecialization,
		"turns", len(handoff.RecentTurns),
		"findings", len(handoff.KeyFindings),
	)
	return handoff, nil
}

// findingMarkers are the vocabulary cues that flag a sentence as a
// finding worth carrying across a handoff.
var findingMarkers = []string{
	"found", "finding", "root cause", "caused by", "cause", "issue",
	"identified", "discovered", "turns out", "determined",
}

// extractKeyFindings scans agent turns newest first for sentences that
// read like findings, keeping at most MaxKeyFindings in original order.
func extractKeyFindings(turns []*types.ConversationTurn) []string {
	type found struct {
		index    int
		sentence string
	}
	var findings []found

	for i := len(turns) - 1; i >= 0 && len(findings) < MaxKeyFindings; i-- {
		turn := turns[i]
		if turn.Role != types.RoleAgent || turn.IsSummary {
			continue
		}
		for _, sentence := range splitSentences(turn.Content) {
			if len(findings) >= MaxKeyFindings {
				break
			}
			lower := strings.ToLower(sentence)
			for _, marker := range findingMarkers {
				if strings.Contains(lower, marker) {
					findings = append(findings, found{index: i, sentence: sentence})
					break
				}
			}
		}
	}

	sort.Slice(findings, func(i, j int) bool { return findings[i].index < findings[j].index })
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.sentence)
	}
	return out
}

// extractToolSummaries builds one-line summaries of the most recent
// tool invocations, capped at MaxToolSummaries, oldest first.
func extractToolSummaries(turns []*types.ConversationTurn) []string {
	var lines []string
	for i := len(turns) - 1; i >= 0 && len(lines) < MaxToolSummaries; i-- {
		turn := turns[i]
		if turn.Tool == nil {
			continue
		}
		status := "ok"
		if turn.Tool.IsError {
			status = "error"
		}
		lines = append(lines, fmt.Sprintf("%s (%s): %s", turn.Tool.Name, status, firstLine(turn.Tool.Output)))
	}

	// Collected newest first; present oldest first.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines
}

// extractErrors collects the most recent tool error messages, capped
// at MaxErrorMessages, oldest first.
func extractErrors(turns []*types.ConversationTurn) []string {
	var messages []string
	for i := len(turns) - 1; i >= 0 && len(messages) < MaxErrorMessages; i-- {
		turn := turns[i]
		if !turn.HasToolError() {
			continue
		}
		message := firstLine(turn.Tool.Output)
		if message == "" {
			message = firstLine(turn.Content)
		}
		messages = append(messages, fmt.Sprintf("%s: %s", turn.Tool.Name, message))
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages
}

func splitSentences(text string) []string {
	var sentences []string
	for _, raw := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '\n'
	}) {
		sentence := strings.TrimSpace(raw)
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
	}
	return sentences
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	const limit = 200
	if len(text) > limit {
		text = text[:limit] + "..."
	}
	return text
}
