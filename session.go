package ctxwindow

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ctxwindow/ctxwindow/compress"
	"github.com/ctxwindow/ctxwindow/types"
)

// DefaultAgentID is the agent a session starts with. Sessions that
// never hand off work only ever touch this agent's local context.
const DefaultAgentID = "main"

// CompactionEvent is one entry in a session's compaction audit trail.
type CompactionEvent struct {
	SessionID       uuid.UUID         `json:"session_id"`
	AgentID         string            `json:"agent_id"`
	Strategy        compress.Strategy `json:"strategy"`
	OriginalTokens  int               `json:"original_tokens"`
	CompactedTokens int               `json:"compacted_tokens"`
	DroppedCount    int               `json:"dropped_count"`
	AchievedRatio   float64           `json:"achieved_ratio"`
	Duration        time.Duration     `json:"duration"`
	At              time.Time         `json:"at"`
}

// session is the in-memory record for one managed session. All access
// goes through the Client, which holds the session lock; the Global
// context has a single writer by construction.
type session struct {
	id     uuid.UUID
	global *types.GlobalContext
	locals map[string]*types.LocalContext

	// turnCounter is the session's turn clock, carried into every
	// checkpoint so stores can enforce ordering.
	turnCounter int64

	// turnsSinceCheckpoint drives the periodic checkpoint cadence.
	turnsSinceCheckpoint int

	// toolCalls counts tool invocations since the last compaction, one
	// of the structural compaction triggers.
	toolCalls int

	// generation increments whenever session state is replaced
	// wholesale (recovery). Slow asynchronous results carrying an older
	// generation are discarded with ErrSuperseded.
	generation uint64

	// compactEpochs counts completed compaction passes per agent. A
	// pass captures the epoch before releasing the lock and discards
	// its result if a competing pass finished first.
	compactEpochs map[string]uint64

	autoCompact bool

	// events is the compaction audit trail, newest last.
	events []CompactionEvent

	lastCheckpointID *uuid.UUID
}

func newSession(id uuid.UUID) *session {
	return &session{
		id: id,
		global: &types.GlobalContext{
			SessionID: id,
			Metadata:  map[string]any{},
			Variables: map[string]any{},
		},
		locals: map[string]*types.LocalContext{
			DefaultAgentID: {
				SessionID: id,
				AgentID:   DefaultAgentID,
			},
		},
		compactEpochs: map[string]uint64{},
		autoCompact:   true,
	}
}

func (s *session) local(agentID string) *types.LocalContext {
	if agentID == "" {
		agentID = DefaultAgentID
	}
	return s.locals[agentID]
}

func (s *session) ensureLocal(agentID, specialization string) *types.LocalContext {
	if agentID == "" {
		agentID = DefaultAgentID
	}
	lc, ok := s.locals[agentID]
	if !ok {
		lc = &types.LocalContext{
			SessionID:      s.id,
			AgentID:        agentID,
			Specialization: specialization,
		}
		s.locals[agentID] = lc
	}
	return lc
}

// applyCompaction replaces an agent's history with a compaction result,
// inserting a summary turn that stands in for what was dropped.
func (s *session) applyCompaction(agentID string, result *compress.Result) {
	lc := s.local(agentID)
	if lc == nil {
		return
	}

	turns := result.Turns
	if result.Summary != "" && result.DroppedCount > 0 {
		// The summary stands in for the oldest dropped turns, so it is
		// timestamped just before the first kept turn.
		at := time.Now()
		if len(turns) > 0 {
			at = turns[0].CreatedAt.Add(-time.Millisecond)
		}
		summaryTurn := &types.ConversationTurn{
			ID:            uuid.NewString(),
			SessionID:     s.id.String(),
			AgentID:       lc.AgentID,
			Role:          types.RoleAgent,
			Content:       result.Summary,
			CreatedAt:     at,
			IsSummary:     true,
			ReplacesCount: result.DroppedCount,
		}
		turns = append([]*types.ConversationTurn{summaryTurn}, turns...)
	}

	lc.Turns = turns
	if result.State != nil {
		lc.State = result.State
	}
	lc.Counter++

	if result.Summary != "" {
		s.global.Summary = result.Summary
		s.global.Counter++
	}
	s.toolCalls = 0
}

// workflowView builds the structured checkpoint view from the Global
// context.
func (s *session) workflowView() map[string]any {
	fields := make(map[string]any, len(s.global.Variables)+1)
	for key, value := range s.global.Variables {
		fields[key] = value
	}
	if len(s.global.Decisions) > 0 {
		fields["decisions"] = append([]string(nil), s.global.Decisions...)
	}
	return fields
}

// conversationalView builds the conversational checkpoint view: the
// running summary plus every agent's intermediate state, keyed per
// agent so recovery can restore each Local context separately.
func (s *session) conversationalView() map[string]any {
	fields := map[string]any{}
	if s.global.Summary != "" {
		fields["summary"] = s.global.Summary
	}
	agents := map[string]any{}
	for agentID, lc := range s.locals {
		if len(lc.State) == 0 {
			continue
		}
		state := make(map[string]any, len(lc.State))
		for key, value := range lc.State {
			state[key] = value
		}
		agents[agentID] = state
	}
	if len(agents) > 0 {
		fields["agents"] = agents
	}
	return fields
}

// allTurns merges every agent's history into one chronological
// sequence for the checkpoint blob. Each turn carries its AgentID, so
// recovery can partition the sequence back into Local contexts.
func (s *session) allTurns() []*types.ConversationTurn {
	var out []*types.ConversationTurn
	for _, lc := range s.locals {
		out = append(out, lc.Turns...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// maxLocalCounter is the conversational view's causal clock: the
// highest write counter across all Local contexts.
func (s *session) maxLocalCounter() int64 {
	var max int64
	for _, lc := range s.locals {
		if lc.Counter > max {
			max = lc.Counter
		}
	}
	return max
}

// globalEntryCount is the Global context's current size against the
// configured cap: shared variables plus recorded decisions.
func (s *session) globalEntryCount() int {
	return len(s.global.Variables) + len(s.global.Decisions)
}

// decisionList converts a restored decisions field back to []string.
// Durable stores round-trip it through JSON as []any.
func decisionList(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}
