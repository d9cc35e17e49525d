package types

import (
	"time"

	"github.com/google/uuid"
)

// GlobalContext is the session-wide shared state. There is exactly one
// per session and it is written only through the coordinating layer;
// agents read it but never mutate it directly.
type GlobalContext struct {
	SessionID uuid.UUID      `json:"session_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Variables are named values shared across agents. Each write bumps
	// Counter, which recovery uses for last-writer-wins reconciliation.
	Variables map[string]any `json:"variables,omitempty"`

	// Summary is the running conversation summary maintained across
	// compaction passes.
	Summary string `json:"summary,omitempty"`

	// Decisions is the ordered history of recorded decisions.
	Decisions []string `json:"decisions,omitempty"`

	// Counter increments on every coordinator write. It is the causal
	// clock for this context; wall time is never used for ordering.
	Counter int64 `json:"counter"`
}

// LocalContext is the private working state of one agent within a
// session. It is writable only by that agent and never visible to
// sibling agents; cross-agent sharing goes through HandoffContext
// construction or promotion into the Global context.
type LocalContext struct {
	SessionID uuid.UUID `json:"session_id"`
	AgentID   string    `json:"agent_id"`

	// Specialization names the agent's role (e.g. "debugger").
	Specialization string `json:"specialization,omitempty"`

	Turns []*ConversationTurn `json:"turns"`

	// State holds named intermediate values produced while working.
	State map[string]any `json:"state,omitempty"`

	// Counter increments on every write by the owning agent.
	Counter int64 `json:"counter"`
}

// AppendTurn appends a turn and bumps the context counter.
func (lc *LocalContext) AppendTurn(turn *ConversationTurn) {
	lc.Turns = append(lc.Turns, turn)
	lc.Counter++
}

// SetState records a named intermediate value and bumps the counter.
func (lc *LocalContext) SetState(key string, value any) {
	if lc.State == nil {
		lc.State = make(map[string]any)
	}
	lc.State[key] = value
	lc.Counter++
}

// HandoffContext is the bounded slice of one agent's context prepared
// for transfer to another agent or specialization. It is consumed once
// by the receiving agent and then discarded.
type HandoffContext struct {
	SourceAgentID        string              `json:"source_agent_id"`
	TargetSpecialization string              `json:"target_specialization"`
	Reason               string              `json:"reason"`
	Summary              string              `json:"summary"`
	RecentTurns          []*ConversationTurn `json:"recent_turns"`
	KeyFindings          []string            `json:"key_findings,omitempty"`
	AttemptedSolutions   []string            `json:"attempted_solutions,omitempty"`
	ErrorMessages        []string            `json:"error_messages,omitempty"`

	// LatestCheckpointID references the most recent checkpoint for the
	// session, if any, so the receiver can recover independently.
	LatestCheckpointID *uuid.UUID `json:"latest_checkpoint_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
