package tiering

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	multiSpace = regexp.MustCompile(`[ \t]+`)
	curlyQuote = strings.NewReplacer(
		"‘", "'", "’", "'",
		"“", `"`, "”", `"`,
	)
)

// RunHandler applies the named local handler to content. Unknown handler
// ids are the identity transformation.
func RunHandler(handler, mission, content string) string {
	switch handler {
	case "textCleaner":
		return textCleaner(content)
	case "whitespaceHandler":
		return whitespaceHandler(content)
	case "caseTransformer":
		return caseTransformer(mission, content)
	case "counter":
		return counter(content)
	default:
		return content
	}
}

// textCleaner collapses runs of spaces and tabs and normalizes curly quotes.
// Newlines are kept.
func textCleaner(content string) string {
	return multiSpace.ReplaceAllString(curlyQuote.Replace(content), " ")
}

// whitespaceHandler collapses internal runs of spaces and tabs and trims the
// result.
func whitespaceHandler(content string) string {
	return strings.TrimSpace(multiSpace.ReplaceAllString(content, " "))
}

// caseTransformer picks the transformation from the mission wording:
// upper, lower, or sentence case (default).
func caseTransformer(mission, content string) string {
	lower := strings.ToLower(mission)
	switch {
	case strings.Contains(lower, "upper"):
		return strings.ToUpper(content)
	case strings.Contains(lower, "lower"):
		return strings.ToLower(content)
	default:
		return sentenceCase(content)
	}
}

// sentenceCase lowercases the text and capitalizes the first letter of each
// sentence.
func sentenceCase(content string) string {
	runes := []rune(strings.ToLower(content))
	capitalizeNext := true
	for i, r := range runes {
		if capitalizeNext && unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			capitalizeNext = false
		}
		if r == '.' || r == '!' || r == '?' {
			capitalizeNext = true
		}
	}
	return string(runes)
}

// counter reports word, character and line counts.
func counter(content string) string {
	lines := 0
	if content != "" {
		lines = strings.Count(content, "\n") + 1
	}
	return fmt.Sprintf("words: %d, chars: %d, lines: %d",
		len(strings.Fields(content)), len(content), lines)
}
