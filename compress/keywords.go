package compress

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/ctxwindow/ctxwindow/types"
)

// keywordLimit caps how many extracted keywords appear in a fallback
// summary.
const keywordLimit = 8

// stopwords excluded from keyword extraction.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "from": true, "have": true, "has": true, "was": true,
	"are": true, "but": true, "not": true, "you": true, "your": true,
	"can": true, "will": true, "would": true, "should": true, "could": true,
	"about": true, "into": true, "over": true, "then": true, "than": true,
	"them": true, "they": true, "there": true, "here": true, "what": true,
	"when": true, "where": true, "which": true, "while": true, "been": true,
	"being": true, "does": true, "did": true, "just": true, "also": true,
	"its": true, "our": true, "out": true, "all": true, "any": true,
	"more": true, "some": true, "such": true, "only": true, "very": true,
	"now": true, "how": true, "who": true, "why": true, "let": true,
	"get": true, "got": true, "use": true, "used": true, "using": true,
	"like": true, "one": true, "two": true, "may": true, "might": true,
	"need": true, "want": true, "make": true, "made": true, "see": true,
	"please": true, "okay": true, "yes": true, "sure": true, "thanks": true,
}

// keywordSummary builds a cheap extraction-based summary of dropped
// turns. It never fails and makes no external calls.
func keywordSummary(dropped []*types.ConversationTurn) string {
	if len(dropped) == 0 {
		return ""
	}

	frequency := make(map[string]int)
	order := make(map[string]int)
	position := 0
	for _, turn := range dropped {
		for _, word := range tokenizeWords(turn.Content) {
			if _, seen := frequency[word]; !seen {
				order[word] = position
				position++
			}
			frequency[word]++
		}
	}

	words := make([]string, 0, len(frequency))
	for word := range frequency {
		words = append(words, word)
	}
	// First-occurrence order breaks frequency ties so the summary is
	// deterministic.
	sort.SliceStable(words, func(i, j int) bool {
		if frequency[words[i]] != frequency[words[j]] {
			return frequency[words[i]] > frequency[words[j]]
		}
		return order[words[i]] < order[words[j]]
	})
	if len(words) > keywordLimit {
		words = words[:keywordLimit]
	}

	if len(words) == 0 {
		return fmt.Sprintf("[%d earlier turns compacted]", len(dropped))
	}
	return fmt.Sprintf("[%d earlier turns compacted; key topics: %s]", len(dropped), strings.Join(words, ", "))
}

// tokenizeWords lowercases and splits text into candidate keywords,
// dropping stopwords and very short tokens.
func tokenizeWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var words []string
	for _, field := range fields {
		if len(field) < 3 || stopwords[field] {
			continue
		}
		words = append(words, field)
	}
	return words
}
