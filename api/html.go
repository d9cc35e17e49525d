package api

import (
	"bytes"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

// Summaries come back from the model as markdown and may contain
// arbitrary content. They are rendered to HTML for the display widget
// and then sanitized, so model output can never inject markup.
var (
	markdown = goldmark.New()
	policy   = bluemonday.UGCPolicy()
)

// renderHTML converts markdown text to sanitized HTML. Empty input
// yields empty output.
func renderHTML(text string) string {
	if text == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		// Fall back to escaping the raw text.
		return policy.Sanitize(text)
	}
	return policy.Sanitize(buf.String())
}
