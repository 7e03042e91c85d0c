package content

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy = bluemonday.StrictPolicy()
)

// PlainText strips every HTML element from a server-provided display string
// such as a username or a chat name. Entities are decoded afterwards, so the
// result is plain text and not HTML.
func PlainText(input string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(input)))
}

// MessageText normalizes user-typed message content: line endings become
// "\n" and surrounding whitespace is dropped.
func MessageText(input string) string {
	input = strings.ReplaceAll(input, "\r\n", "\n")
	return strings.TrimSpace(input)
}
