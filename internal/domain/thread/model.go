package thread

import (
	"time"

	"github.com/google/uuid"

	"github.com/careloop/careloop/internal/nlp"
)

// SenderRole identifies who authored a message. The set is closed:
// unknown senders are rejected at the boundary, not stored.
type SenderRole string

const (
	SenderPatient   SenderRole = "patient"
	SenderAssistant SenderRole = "assistant"
	SenderClinician SenderRole = "clinician"
	SenderSystem    SenderRole = "system"
)

// Valid reports whether r is a known sender role.
func (r SenderRole) Valid() bool {
	switch r {
	case SenderPatient, SenderAssistant, SenderClinician, SenderSystem:
		return true
	}
	return false
}

// LLMRole maps a sender role onto the chat-completion role vocabulary.
// Clinician messages are carried as system turns so the model treats
// them as authoritative context. The mapping is total.
func (r SenderRole) LLMRole() string {
	switch r {
	case SenderPatient:
		return "user"
	case SenderAssistant:
		return "assistant"
	default:
		return "system"
	}
}

// Confidence grades how sure the assistant is about a reply.
type Confidence string

const (
	ConfidenceLow  Confidence = "low"
	ConfidenceMed  Confidence = "med"
	ConfidenceHigh Confidence = "high"
)

// Citation anchors an assistant claim to a span of a prior message.
type Citation struct {
	Type      string    `json:"type"`
	MessageID uuid.UUID `json:"message_id"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
}

// NewCitation builds a message-span citation.
func NewCitation(messageID uuid.UUID, start, end int) Citation {
	return Citation{Type: "message_span", MessageID: messageID, Start: start, End: end}
}

// Thread is a patient's single ongoing conversation. One thread per
// patient, created lazily on first use.
type Thread struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	ClinicID  uuid.UUID `json:"clinic_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one turn in a thread. RedactedForLLM holds the PHI-free
// rendition used for model context; it is never returned to clients.
type Message struct {
	ID             uuid.UUID    `json:"id"`
	ThreadID       uuid.UUID    `json:"thread_id"`
	SenderRole     SenderRole   `json:"sender_role"`
	Content        string       `json:"content"`
	RedactedForLLM string       `json:"-"`
	Confidence     Confidence   `json:"confidence,omitempty"`
	RiskLevel      nlp.RiskTier `json:"risk_level,omitempty"`
	RiskReason     string       `json:"risk_reason,omitempty"`
	RiskAssessedAt time.Time    `json:"-"`
	Citations      []Citation   `json:"citations"`
	IsGroundTruth  bool         `json:"is_ground_truth"`
	CreatedAt      time.Time    `json:"created_at"`
}

// LLMContent returns the text safe to hand to the model: the redacted
// rendition when present, the raw content otherwise.
func (m *Message) LLMContent() string {
	if m.RedactedForLLM != "" {
		return m.RedactedForLLM
	}
	return m.Content
}
