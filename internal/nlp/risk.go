package nlp

import (
	"fmt"
	"strings"
)

// RiskTier is an ordered severity tier assigned to a patient utterance.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// NoIndicatorsReason is returned when no configured keyword matches.
const NoIndicatorsReason = "No high-risk indicators detected."

// Keyword lists are checked in order; the first match wins, so earlier
// entries take priority over later ones. This literal ordering tie-break is
// intentional and must be preserved.
var (
	highRiskKeywords = []string{
		"crushing chest pain",
		"radiating",
		"shortness of breath",
		"can't breathe",
		"vomiting blood",
		"severe bleeding",
		"suicidal",
	}
	mediumRiskKeywords = []string{
		"worsening",
		"getting worse",
		"high fever",
		"fever",
		"pregnant",
		"severe pain",
		"confused",
		"dizzy",
		"tightness",
	}
)

// AssessRisk classifies free text into a severity tier with a human-readable
// reason. Matching is case-insensitive substring search, HIGH before MEDIUM.
// A compound rule marks high risk when "chest pain" and "crushing" co-occur
// even when not contiguous. Pure function; repeated calls on identical input
// return identical results.
func AssessRisk(text string) (RiskTier, string) {
	t := strings.ToLower(text)
	for _, kw := range highRiskKeywords {
		if strings.Contains(t, kw) {
			return RiskHigh, fmt.Sprintf("Detected high-risk indicator: '%s'.", kw)
		}
		if strings.Contains(t, "chest pain") && strings.Contains(t, "crushing") {
			return RiskHigh, "Detected high-risk indicator: 'chest pain'."
		}
	}
	for _, kw := range mediumRiskKeywords {
		if strings.Contains(t, kw) {
			return RiskMedium, fmt.Sprintf("Detected potentially concerning indicator: '%s'.", kw)
		}
	}
	return RiskLow, NoIndicatorsReason
}

// Escalates reports whether a tier requires clinician review.
func (r RiskTier) Escalates() bool {
	return r == RiskMedium || r == RiskHigh
}
