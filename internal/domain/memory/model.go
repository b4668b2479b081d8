package memory

import (
	"time"

	"github.com/google/uuid"

	"github.com/careloop/careloop/internal/nlp"
)

// MemoryItem is one structured fact in a patient's evolving profile.
// Facts are never deleted; lifecycle changes move them between statuses
// and re-point provenance at the message that caused the change.
type MemoryItem struct {
	ID                  uuid.UUID      `json:"id"`
	PatientID           uuid.UUID      `json:"patient_id"`
	Kind                nlp.FactKind   `json:"kind"`
	Value               string         `json:"value"`
	Status              nlp.FactStatus `json:"status"`
	TimelineText        string         `json:"timeline_text,omitempty"`
	ProvenanceMessageID uuid.UUID      `json:"provenance_message_id"`
	ProvenanceStart     int            `json:"provenance_start"`
	ProvenanceEnd       int            `json:"provenance_end"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Provenance points at the message span a profile entry came from.
type Provenance struct {
	MessageID uuid.UUID `json:"message_id"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
}

func (i *MemoryItem) provenance() Provenance {
	return Provenance{MessageID: i.ProvenanceMessageID, Start: i.ProvenanceStart, End: i.ProvenanceEnd}
}

// SymptomEntry is a symptom in the profile snapshot.
type SymptomEntry struct {
	Value      string     `json:"value"`
	Timeline   string     `json:"timeline,omitempty"`
	Provenance Provenance `json:"prov"`
}

// MedicationEntry is a medication in the profile snapshot. Unlike
// symptoms, medications are listed in every status so a stop is visible.
type MedicationEntry struct {
	Value      string         `json:"value"`
	Status     nlp.FactStatus `json:"status"`
	Timeline   string         `json:"timeline,omitempty"`
	Provenance Provenance     `json:"prov"`
}

// AllergyEntry is an allergy in the profile snapshot.
type AllergyEntry struct {
	Value      string     `json:"value"`
	Provenance Provenance `json:"prov"`
}

// Profile is the structured patient snapshot derived from memory items.
type Profile struct {
	ChiefComplaint *string           `json:"chief_complaint"`
	Symptoms       []SymptomEntry    `json:"symptoms"`
	Medications    []MedicationEntry `json:"medications"`
	Allergies      []AllergyEntry    `json:"allergies"`
}
