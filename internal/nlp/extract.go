package nlp

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// FactKind classifies a structured fact extracted from conversation text.
type FactKind string

const (
	KindChiefComplaint FactKind = "chief_complaint"
	KindSymptom        FactKind = "symptom"
	KindMedication     FactKind = "medication"
	KindAllergy        FactKind = "allergy"
)

// FactStatus tracks the lifecycle of a fact within the patient profile.
type FactStatus string

const (
	StatusActive   FactStatus = "active"
	StatusStopped  FactStatus = "stopped"
	StatusResolved FactStatus = "resolved"
	StatusUnknown  FactStatus = "unknown"
)

// Span is a character offset range within the originating message content.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// FactCandidate is one structured fact proposed by an extraction rule. The
// span points at the full matched phrase in the input text.
type FactCandidate struct {
	Kind         FactKind
	Value        string
	Status       FactStatus
	TimelineText string
	Span         Span
}

// maxTimelineLen caps the free-text timeline annotation on a stop statement.
const maxTimelineLen = 120

var (
	symptomRE = regexp.MustCompile(`(?i)\b(i\s+have\s+)([a-z][a-z \-]{2,60})\b`)
	medTakeRE = regexp.MustCompile(`(?i)\b(i\s+(?:take|am taking|use)\s+)([A-Za-z][A-Za-z0-9\- ]{1,40})\b`)
	medStopRE = regexp.MustCompile(`(?i)\b(i\s+(?:stopped|stop|no longer take)\s+)([A-Za-z][A-Za-z0-9\- ]{1,40})(?:\s+(.*))?$`)
	allergyRE = regexp.MustCompile(`(?i)\b(i\s+(?:am|i'm|im)\s+allergic\s+to\s+)([A-Za-z][A-Za-z0-9\- ]{1,40})\b`)
)

// extractionRule pairs a pattern with a constructor that turns one regex
// match into fact candidates. Rules run in a fixed order and each rule is
// independently optional.
type extractionRule struct {
	pattern   *regexp.Regexp
	firstOnly bool
	build     func(match []string, span Span) []FactCandidate
}

var extractionRules = []extractionRule{
	{
		// "I have <phrase>" yields a chief complaint and a symptom sharing
		// one span. First occurrence only.
		pattern:   symptomRE,
		firstOnly: true,
		build: func(m []string, span Span) []FactCandidate {
			v := cleanValue(m[2])
			return []FactCandidate{
				{Kind: KindChiefComplaint, Value: v, Status: StatusActive, Span: span},
				{Kind: KindSymptom, Value: v, Status: StatusActive, Span: span},
			}
		},
	},
	{
		pattern: medTakeRE,
		build: func(m []string, span Span) []FactCandidate {
			return []FactCandidate{{Kind: KindMedication, Value: cleanValue(m[2]), Status: StatusActive, Span: span}}
		},
	},
	{
		pattern:   medStopRE,
		firstOnly: true,
		build: func(m []string, span Span) []FactCandidate {
			timeline := truncateRunes(strings.TrimSpace(m[3]), maxTimelineLen)
			return []FactCandidate{{
				Kind:         KindMedication,
				Value:        cleanValue(m[2]),
				Status:       StatusStopped,
				TimelineText: timeline,
				Span:         span,
			}}
		},
	},
	{
		pattern: allergyRE,
		build: func(m []string, span Span) []FactCandidate {
			return []FactCandidate{{Kind: KindAllergy, Value: cleanValue(m[2]), Status: StatusActive, Span: span}}
		},
	},
}

// ExtractFacts runs the fixed battery of pattern rules over text and returns
// the resulting fact candidates in rule order: chief-complaint/symptom pair,
// all medication starts, one medication stop, then all allergies.
func ExtractFacts(text string) []FactCandidate {
	var facts []FactCandidate
	for _, rule := range extractionRules {
		if rule.firstOnly {
			m := rule.pattern.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			facts = append(facts, rule.build(m, locateSpan(text, m[0]))...)
			continue
		}
		for _, m := range rule.pattern.FindAllStringSubmatch(text, -1) {
			facts = append(facts, rule.build(m, locateSpan(text, m[0]))...)
		}
	}
	return facts
}

// truncateRunes caps s at n characters without splitting a multi-byte rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func cleanValue(v string) string {
	return strings.Trim(strings.TrimSpace(v), ".")
}

// locateSpan finds the matched phrase in the original text with a
// case-insensitive search. When the phrase cannot be relocated it degrades
// to the leading 20 characters rather than failing.
func locateSpan(text, phrase string) Span {
	idx := strings.Index(strings.ToLower(text), strings.ToLower(phrase))
	if idx < 0 {
		return Span{Start: 0, End: min(len(text), 20)}
	}
	return Span{Start: idx, End: min(len(text), idx+len(phrase))}
}
