// Package nlp holds the pure text-analysis functions used by the triage
// pipeline: PHI redaction, risk classification, and memory fact extraction.
// Everything in this package is deterministic and side-effect free so each
// rule can be unit tested in isolation.
package nlp

import "regexp"

// RedactionToken replaces every recognized PHI-like substring.
const RedactionToken = "[REDACTED]"

var (
	nricRE       = regexp.MustCompile(`(?i)\b[STFG]\d{7}[A-Z]\b`)
	phoneRE      = regexp.MustCompile(`(\+?65[\s-]?)?\b([689]\d{7})\b`)
	namePhraseRE = regexp.MustCompile(`\b(my name is|i am|i'm)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,2})\b`)
	johnDoeRE    = regexp.MustCompile(`\bJohn Doe\b`)
)

// Redact strips identity-like substrings from text before it is shown to any
// generative collaborator. Substitution order is fixed (ID codes, phone
// numbers, name phrases, then the placeholder name) so overlapping matches
// resolve deterministically. The stored original content is never overwritten
// with the redacted form. Redact is idempotent on its own output.
func Redact(text string) string {
	t := nricRE.ReplaceAllString(text, RedactionToken)
	t = phoneRE.ReplaceAllString(t, RedactionToken)
	t = namePhraseRE.ReplaceAllString(t, "$1 "+RedactionToken)
	t = johnDoeRE.ReplaceAllString(t, RedactionToken)
	return t
}
