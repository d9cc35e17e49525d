package compress

import (
	"fmt"
	"strings"

	"github.com/ctxwindow/ctxwindow/types"
)

// summarySystemPrompt instructs the model to produce a summary that
// can stand in for the removed turns without losing decision-relevant
// context.
const summarySystemPrompt = `You summarize portions of an agent conversation that are about to be removed from the context window. Your summary replaces those turns, so it must preserve everything needed to continue the work.

Cover, in order:
1. Goals and intent - what the user is trying to accomplish and any constraints.
2. Decisions and outcomes - what was decided, approved, rejected, or concluded.
3. Findings - facts established, root causes identified, results obtained.
4. Errors and remedies - failures encountered and what was tried against them.
5. Open items - anything pending or unresolved.

Write "None" for a section with no content. Be concise; keep exact names, identifiers, and error messages verbatim. Do not invent information.`

// buildSummaryPrompt formats the dropped turns into the user message
// for summary generation.
func buildSummaryPrompt(dropped []*types.ConversationTurn) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation turns per your instructions.\n\n<turns>\n")
	for _, turn := range dropped {
		b.WriteString(formatTurnForPrompt(turn))
		b.WriteString("\n")
	}
	b.WriteString("</turns>")
	return b.String()
}

func formatTurnForPrompt(turn *types.ConversationTurn) string {
	label := roleLabel(turn.Role)
	if turn.Tool != nil {
		output := turn.Tool.Output
		if len(output) > 500 {
			output = output[:497] + "..."
		}
		return fmt.Sprintf("%s: %s\n[tool %s -> %s]", label, turn.Content, turn.Tool.Name, output)
	}
	return fmt.Sprintf("%s: %s", label, turn.Content)
}

func roleLabel(role types.Role) string {
	switch role {
	case types.RoleHuman:
		return "User"
	case types.RoleAgent:
		return "Agent"
	case types.RoleToolResult:
		return "Tool"
	default:
		return string(role)
	}
}
