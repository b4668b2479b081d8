package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/careloop/careloop/internal/nlp"
	"github.com/careloop/careloop/internal/platform/db"
)

// Service maintains the structured patient profile. Merge folds the
// facts extracted from one message into the profile; Snapshot projects
// the profile for clients and frozen ticket copies.
type Service struct {
	repo Repository
	tx   db.TxRunner
}

func NewService(repo Repository, tx db.TxRunner) *Service {
	return &Service{repo: repo, tx: tx}
}

// Merge extracts facts from text and applies them to the patient's
// profile in a single transaction. messageID becomes the provenance for
// every touched item. A message with no extractable facts is a no-op.
func (s *Service) Merge(ctx context.Context, patientID, messageID uuid.UUID, text string) error {
	facts := nlp.ExtractFacts(text)
	if len(facts) == 0 {
		return nil
	}

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		for _, f := range facts {
			if err := s.apply(ctx, patientID, messageID, f); err != nil {
				return fmt.Errorf("apply %s %q: %w", f.Kind, f.Value, err)
			}
		}
		return nil
	})
}

func (s *Service) apply(ctx context.Context, patientID, messageID uuid.UUID, f nlp.FactCandidate) error {
	switch {
	case f.Kind == nlp.KindChiefComplaint:
		// A new chief complaint supersedes all active ones.
		prev, err := s.repo.Active(ctx, patientID, nlp.KindChiefComplaint)
		if err != nil {
			return err
		}
		for _, p := range prev {
			p.Status = nlp.StatusResolved
			if err := s.repo.Update(ctx, p); err != nil {
				return err
			}
		}
		return s.repo.Insert(ctx, newItem(patientID, messageID, f, nlp.StatusActive))

	case f.Kind == nlp.KindMedication && f.Status == nlp.StatusStopped:
		// Transition the active entries; record the stop directly when
		// the medication was never reported as started.
		active, err := s.repo.ActiveByValue(ctx, patientID, nlp.KindMedication, f.Value)
		if err != nil {
			return err
		}
		for _, a := range active {
			a.Status = nlp.StatusStopped
			if f.TimelineText != "" {
				a.TimelineText = f.TimelineText
			}
			a.ProvenanceMessageID = messageID
			a.ProvenanceStart = f.Span.Start
			a.ProvenanceEnd = f.Span.End
			if err := s.repo.Update(ctx, a); err != nil {
				return err
			}
		}
		if len(active) == 0 {
			return s.repo.Insert(ctx, newItem(patientID, messageID, f, nlp.StatusStopped))
		}
		return nil

	default:
		// Re-stating a known fact refreshes its provenance instead of
		// duplicating the entry.
		existing, err := s.repo.ActiveByValue(ctx, patientID, f.Kind, f.Value)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			ex := existing[0]
			ex.ProvenanceMessageID = messageID
			ex.ProvenanceStart = f.Span.Start
			ex.ProvenanceEnd = f.Span.End
			return s.repo.Update(ctx, ex)
		}
		return s.repo.Insert(ctx, newItem(patientID, messageID, f, nlp.StatusActive))
	}
}

func newItem(patientID, messageID uuid.UUID, f nlp.FactCandidate, status nlp.FactStatus) *MemoryItem {
	return &MemoryItem{
		PatientID:           patientID,
		Kind:                f.Kind,
		Value:               f.Value,
		Status:              status,
		TimelineText:        f.TimelineText,
		ProvenanceMessageID: messageID,
		ProvenanceStart:     f.Span.Start,
		ProvenanceEnd:       f.Span.End,
	}
}

// Snapshot projects the patient's current profile. The chief complaint
// is the most recently updated active one; symptoms and allergies list
// active entries only; medications carry every status so stopped drugs
// stay visible.
func (s *Service) Snapshot(ctx context.Context, patientID uuid.UUID) (*Profile, error) {
	items, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		Symptoms:    []SymptomEntry{},
		Medications: []MedicationEntry{},
		Allergies:   []AllergyEntry{},
	}

	var complaints []*MemoryItem
	for _, i := range items {
		switch i.Kind {
		case nlp.KindChiefComplaint:
			if i.Status == nlp.StatusActive {
				complaints = append(complaints, i)
			}
		case nlp.KindSymptom:
			if i.Status == nlp.StatusActive {
				p.Symptoms = append(p.Symptoms, SymptomEntry{
					Value: i.Value, Timeline: i.TimelineText, Provenance: i.provenance(),
				})
			}
		case nlp.KindMedication:
			p.Medications = append(p.Medications, MedicationEntry{
				Value: i.Value, Status: i.Status, Timeline: i.TimelineText, Provenance: i.provenance(),
			})
		case nlp.KindAllergy:
			if i.Status == nlp.StatusActive {
				p.Allergies = append(p.Allergies, AllergyEntry{Value: i.Value, Provenance: i.provenance()})
			}
		}
	}

	if len(complaints) > 0 {
		sort.SliceStable(complaints, func(a, b int) bool {
			return complaints[a].UpdatedAt.After(complaints[b].UpdatedAt)
		})
		cc := complaints[0].Value
		p.ChiefComplaint = &cc
	}

	return p, nil
}
