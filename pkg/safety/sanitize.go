package safety

import "regexp"

// redaction pairs a detection pattern with its tagged placeholder. The
// placeholders contain no digits or @ signs, so sanitization is idempotent.
type redaction struct {
	regex       *regexp.Regexp
	replacement string
}

var redactions = []redaction{
	// Dashed SSNs; the bare 10-digit phone pattern below never matches them.
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED-SSN]"},
	{regexp.MustCompile(`\b(?:\d[ -]?){15}\d\b`), "[REDACTED-CARD]"},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[REDACTED-EMAIL]"},
	{regexp.MustCompile(`\b\d{10}\b`), "[REDACTED-PHONE]"},
}

// Sanitize redacts SSNs, card numbers, email addresses and 10-digit phone
// numbers with tagged placeholders. Applied before persistence to the
// mission, agent responses, the synthesis and red-team flag contents; error
// strings are stored as produced. Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(text string) string {
	for _, r := range redactions {
		text = r.regex.ReplaceAllString(text, r.replacement)
	}
	return text
}
