package types

import (
	"time"
)

// Role identifies the originator of a conversation turn.
type Role string

const (
	// RoleHuman is a turn authored by the human user.
	RoleHuman Role = "human"

	// RoleAgent is a turn authored by an agent.
	RoleAgent Role = "agent"

	// RoleToolResult is a turn carrying the result of a tool invocation.
	RoleToolResult Role = "tool_result"
)

// ToolInvocation describes a tool call attached to a turn.
type ToolInvocation struct {
	Name    string         `json:"name"`
	Input   map[string]any `json:"input,omitempty"`
	Output  string         `json:"output,omitempty"`
	IsError bool           `json:"is_error,omitempty"`
}

// ConversationTurn is the ordered unit of a conversation. Turns are
// immutable once created: they are appended, summarized away, or
// archived, never edited in place.
type ConversationTurn struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id,omitempty"`

	// AgentID names the agent whose local context holds the turn, so
	// per-agent histories can be reassembled from a checkpoint.
	AgentID string `json:"agent_id,omitempty"`

	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Tool      *ToolInvocation `json:"tool,omitempty"`
	CreatedAt time.Time       `json:"created_at"`

	// IsSummary marks a turn that stands in for previously compacted
	// history. Summary turns are kept as-is by later compaction passes.
	IsSummary bool `json:"is_summary,omitempty"`

	// ReplacesCount is the number of turns a summary turn stands in
	// for. Zero on ordinary turns. Later compaction passes count it
	// toward the conversation's effective size.
	ReplacesCount int `json:"replaces_count,omitempty"`
}

// HasToolResult reports whether the turn carries a tool result payload.
func (t *ConversationTurn) HasToolResult() bool {
	return t.Role == RoleToolResult || (t.Tool != nil && t.Tool.Output != "")
}

// HasToolError reports whether the turn carries a failed tool result.
func (t *ConversationTurn) HasToolError() bool {
	return t.Tool != nil && t.Tool.IsError
}
