package score

import (
	"strings"
	"testing"

	"github.com/ctxwindow/ctxwindow/types"
)

func TestScoreDeterministic(t *testing.T) {
	turn := &types.ConversationTurn{
		Role:    types.RoleHuman,
		Content: "We decided to approve the rollout. Does that match your result?",
	}

	first := Score(turn)
	for i := 0; i < 10; i++ {
		if got := Score(turn); got != first {
			t.Fatalf("Score not deterministic: run %d got %f, want %f", i, got, first)
		}
	}
}

func TestScoreRoleWeighting(t *testing.T) {
	content := "This is a medium length message about the ongoing work."
	human := &types.ConversationTurn{Role: types.RoleHuman, Content: content}
	agent := &types.ConversationTurn{Role: types.RoleAgent, Content: content}

	if Score(human) <= Score(agent) {
		t.Errorf("human turn %f should outscore identical agent turn %f", Score(human), Score(agent))
	}
}

func TestScoreLengthBand(t *testing.T) {
	mid := &types.ConversationTurn{Role: types.RoleAgent, Content: "A reasonably sized message carrying real information."}
	short := &types.ConversationTurn{Role: types.RoleAgent, Content: "ok"}
	long := &types.ConversationTurn{Role: types.RoleAgent, Content: strings.Repeat("padding ", 400)}

	if Score(mid) <= Score(short) {
		t.Errorf("middle band %f should outscore short ack %f", Score(mid), Score(short))
	}
	if Score(mid) <= Score(long) {
		t.Errorf("middle band %f should outscore very long turn %f", Score(mid), Score(long))
	}
}

func TestScoreSignals(t *testing.T) {
	tests := []struct {
		name   string
		plain  *types.ConversationTurn
		marked *types.ConversationTurn
	}{
		{
			name:   "decision keyword",
			plain:  &types.ConversationTurn{Role: types.RoleAgent, Content: "Here is the current status of the task."},
			marked: &types.ConversationTurn{Role: types.RoleAgent, Content: "Here is the decision we agreed on for the task."},
		},
		{
			name:   "question mark",
			plain:  &types.ConversationTurn{Role: types.RoleAgent, Content: "Here is the current status of the task."},
			marked: &types.ConversationTurn{Role: types.RoleAgent, Content: "What is the current status of the task?"},
		},
		{
			name:  "tool result",
			plain: &types.ConversationTurn{Role: types.RoleAgent, Content: "Ran the check against production already."},
			marked: &types.ConversationTurn{
				Role:    types.RoleToolResult,
				Content: "Ran the check against production already.",
				Tool:    &types.ToolInvocation{Name: "check", Output: "pass"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Score(tt.marked) <= Score(tt.plain) {
				t.Errorf("marked turn %f should outscore plain turn %f", Score(tt.marked), Score(tt.plain))
			}
		})
	}
}

func TestScoreBounds(t *testing.T) {
	turns := []*types.ConversationTurn{
		{Role: types.RoleHuman, Content: "We decided and approved the result? Confirmed.", Tool: &types.ToolInvocation{Name: "t", Output: "x"}},
		{Role: types.RoleAgent, Content: ""},
		{Role: types.RoleAgent, Content: strings.Repeat("x", 10000)},
	}

	for _, turn := range turns {
		s := Score(turn)
		if s < 0 || s > 1 {
			t.Errorf("Score(%q...) = %f out of [0,1]", truncate(turn.Content), s)
		}
	}
}

func truncate(s string) string {
	if len(s) > 20 {
		return s[:20]
	}
	return s
}

func TestScoreState(t *testing.T) {
	tests := []struct {
		key  string
		want float64
	}{
		{"final_decision", highValue},
		{"query_result", highValue},
		{"last_error", highValue},
		{"approval_status", highValue},
		{"scratch_notes", lowValue},
		{"counter", lowValue},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := ScoreState(tt.key, "value"); got != tt.want {
				t.Errorf("ScoreState(%q) = %f, want %f", tt.key, got, tt.want)
			}
		})
	}
}
