// Package tokens estimates how many model-input tokens a piece of text
// or a structured conversation segment consumes.
//
// Estimation is pure and O(length): characters are classified into two
// density classes (dense ideographic scripts tokenize to far fewer
// characters per token than Latin text) and summed separately. When
// precision matters, ExactCounter uses the provider's count-tokens API
// and falls back to the local estimate on any failure.
package tokens

import (
	"unicode"

	"github.com/ctxwindow/ctxwindow/types"
)

// Characters-per-token divisors for the two density classes. Latin-ish
// text tokenizes at roughly 4 characters per token; CJK scripts at
// under 2. Integer math mirrors (n + divisor - 1) / divisor rounding.
const (
	latinCharsPerToken = 4
	denseCharsPerToken = 2
)

// perTurnOverhead accounts for role and framing tokens around each
// turn's content.
const perTurnOverhead = 4

// toolOverhead accounts for the structural tokens around a tool
// invocation (name, id, framing).
const toolOverhead = 10

// Estimate returns a fast token estimate for text. It is monotonic:
// for a fixed density-class composition, longer text never estimates
// fewer tokens.
func Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}

	latin := 0
	dense := 0
	for _, r := range text {
		if isDenseScript(r) {
			dense++
		} else {
			latin++
		}
	}

	total := 0
	if latin > 0 {
		total += (latin + latinCharsPerToken - 1) / latinCharsPerToken
	}
	if dense > 0 {
		total += (dense + denseCharsPerToken - 1) / denseCharsPerToken
	}
	if total < 1 {
		total = 1
	}
	return total
}

// isDenseScript reports whether a rune belongs to a script that
// tokenizes at high information density (roughly one token per one to
// two characters).
func isDenseScript(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// EstimateTurn estimates tokens for a single turn including its tool
// payload and structural overhead.
func EstimateTurn(turn *types.ConversationTurn) int {
	total := perTurnOverhead
	total += Estimate(turn.Content)

	if turn.Tool != nil {
		total += toolOverhead
		total += Estimate(turn.Tool.Name)
		for key, value := range turn.Tool.Input {
			total += Estimate(key)
			if s, ok := value.(string); ok {
				total += Estimate(s)
			} else {
				total += 2
			}
		}
		total += Estimate(turn.Tool.Output)
	}

	return total
}

// EstimateTurns sums the per-turn estimates for a slice of turns.
func EstimateTurns(turns []*types.ConversationTurn) int {
	total := 0
	for _, turn := range turns {
		total += EstimateTurn(turn)
	}
	return total
}
