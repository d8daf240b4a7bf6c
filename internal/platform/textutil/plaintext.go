package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips all markup and control characters from user supplied text, collapses runs of
// whitespace within each line, and truncates the result to maxRunes runes (0 means unlimited).
func PlainText(input string, maxRunes int) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}

	stripped := html.UnescapeString(strictPolicy.Sanitize(input))
	normalized := strings.ReplaceAll(strings.ReplaceAll(stripped, "\r\n", "\n"), "\r", "\n")
	lines := strings.Split(normalized, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) {
				return -1
			}
			return r
		}, line)
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	result := strings.Join(kept, "\n")

	if maxRunes > 0 {
		runes := []rune(result)
		if len(runes) > maxRunes {
			result = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}
	return result
}
