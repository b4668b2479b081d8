package ticket

import (
	"time"

	"github.com/google/uuid"

	"github.com/careloop/careloop/internal/domain/memory"
	"github.com/careloop/careloop/internal/nlp"
)

// Status tracks the review lifecycle of a ticket.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Ticket is an escalation raised for clinician review. The profile snapshot
// is frozen at creation time so the reviewer sees what the patient record
// looked like when the trigger fired, not what it evolved into afterwards.
type Ticket struct {
	ID                  uuid.UUID      `json:"id"`
	ClinicID            uuid.UUID      `json:"clinic_id"`
	PatientID           uuid.UUID      `json:"patient_id"`
	ThreadID            uuid.UUID      `json:"thread_id"`
	Status              Status         `json:"status"`
	TriggeringMessageID uuid.UUID      `json:"triggering_message_id"`
	RiskLevel           nlp.RiskTier   `json:"risk_level"`
	TriageSummary       []string       `json:"triage_summary"`
	ProfileSnapshot     memory.Profile `json:"profile_snapshot"`
	CreatedAt           time.Time      `json:"created_at"`
	ClosedAt            *time.Time     `json:"closed_at,omitempty"`
}
