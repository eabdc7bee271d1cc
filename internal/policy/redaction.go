// Package policy scrubs and classifies prompt text before it leaves for the
// remote channel. Prompts come straight out of agent sessions and may embed
// credentials or PII that must not land in a third-party chat history.
package policy

import "regexp"

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	bearerPattern = regexp.MustCompile(`(?i)\b(bearer|token|api[_ -]?key|secret|password)[=:\s]+[A-Za-z0-9_\-./+]{8,}`)
	awsPattern    = regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// Redact masks credentials and common high-risk PII patterns.
func Redact(input string) (redacted string, changed bool) {
	out := input

	next := bearerPattern.ReplaceAllString(out, "[REDACTED_CREDENTIAL]")
	changed = changed || next != out
	out = next

	next = awsPattern.ReplaceAllString(out, "[REDACTED_CREDENTIAL]")
	changed = changed || next != out
	out = next

	next = emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Card redaction runs last; credential matches above may already have
	// consumed long digit runs.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	return out, changed
}
