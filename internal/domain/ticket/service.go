package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/careloop/internal/domain/memory"
	"github.com/careloop/careloop/internal/nlp"
	"github.com/careloop/careloop/internal/platform/audit"
)

// maxSummaryBullets caps the triage summary shown to reviewers.
const maxSummaryBullets = 5

// maxBulletLen drops model-written bullets that run too long to scan.
const maxBulletLen = 160

// Snapshotter produces the current structured profile for a patient.
type Snapshotter interface {
	Snapshot(ctx context.Context, patientID uuid.UUID) (*memory.Profile, error)
}

// Summarizer rewrites a triage prompt into reviewer-facing bullets.
// A nil Summarizer keeps the deterministic draft.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Service opens and closes escalation tickets.
type Service struct {
	repo       Repository
	profiles   Snapshotter
	summarizer Summarizer
	auditor    audit.Recorder
	logger     zerolog.Logger
}

func NewService(repo Repository, profiles Snapshotter, summarizer Summarizer, auditor audit.Recorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		profiles:   profiles,
		summarizer: summarizer,
		auditor:    auditor,
		logger:     logger.With().Str("component", "ticket").Logger(),
	}
}

// OpenParams describes the escalation trigger.
type OpenParams struct {
	ClinicID            uuid.UUID
	PatientID           uuid.UUID
	ThreadID            uuid.UUID
	TriggeringMessageID uuid.UUID
	RiskLevel           nlp.RiskTier
	TriggerText         string
}

// Open creates an open ticket with a triage summary and a frozen profile
// snapshot taken at escalation time.
func (s *Service) Open(ctx context.Context, p OpenParams) (*Ticket, error) {
	snap, err := s.profiles.Snapshot(ctx, p.PatientID)
	if err != nil {
		return nil, fmt.Errorf("profile snapshot: %w", err)
	}
	t := &Ticket{
		ClinicID:            p.ClinicID,
		PatientID:           p.PatientID,
		ThreadID:            p.ThreadID,
		Status:              StatusOpen,
		TriggeringMessageID: p.TriggeringMessageID,
		RiskLevel:           p.RiskLevel,
		TriageSummary:       s.summarize(ctx, snap, p.TriggerText),
		ProfileSnapshot:     *snap,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, audit.Event{
		EventType:  audit.EventTicketCreated,
		TargetType: "ticket",
		TargetID:   t.ID.String(),
		Meta:       map[string]any{"risk_level": string(t.RiskLevel), "thread_id": t.ThreadID.String()},
	})
	s.logger.Info().
		Str("ticket_id", t.ID.String()).
		Str("risk_level", string(t.RiskLevel)).
		Msg("ticket opened")
	return t, nil
}

// Close marks a ticket closed.
func (s *Service) Close(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	t, err := s.repo.Close(ctx, id)
	if err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, audit.Event{
		EventType:  audit.EventTicketClosed,
		TargetType: "ticket",
		TargetID:   t.ID.String(),
	})
	s.logger.Info().Str("ticket_id", t.ID.String()).Msg("ticket closed")
	return t, nil
}

// GetForClinic returns the ticket only when it belongs to the clinic.
func (s *Service) GetForClinic(ctx context.Context, id, clinicID uuid.UUID) (*Ticket, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.ClinicID != clinicID {
		return nil, ErrNotFound
	}
	return t, nil
}

// ListOpen returns the clinic's open tickets, newest first.
func (s *Service) ListOpen(ctx context.Context, clinicID uuid.UUID) ([]*Ticket, error) {
	return s.repo.ListOpenByClinic(ctx, clinicID)
}

// summarize drafts deterministic bullets from the snapshot and, when a
// summarizer is configured, lets it rewrite them. Any failure or empty
// answer falls back to the draft.
func (s *Service) summarize(ctx context.Context, snap *memory.Profile, trigger string) []string {
	bullets := draftBullets(snap, trigger)
	if s.summarizer == nil {
		return bullets
	}
	prompt := buildSummaryPrompt(snap, trigger)
	resp, err := s.summarizer.Summarize(ctx, prompt)
	if err != nil {
		s.logger.Warn().Err(err).Msg("triage summary refinement failed, using draft")
		return bullets
	}
	lines := parseBullets(resp)
	if len(lines) == 0 {
		return bullets
	}
	return lines
}

func draftBullets(snap *memory.Profile, trigger string) []string {
	var bullets []string
	if snap.ChiefComplaint != nil {
		bullets = append(bullets, "Chief complaint: "+*snap.ChiefComplaint)
	}
	if len(snap.Symptoms) > 0 {
		values := make([]string, 0, len(snap.Symptoms))
		for _, e := range snap.Symptoms {
			values = append(values, e.Value)
		}
		bullets = append(bullets, "Symptoms: "+strings.Join(head(values, 5), ", "))
	}
	if len(snap.Medications) > 0 {
		values := make([]string, 0, len(snap.Medications))
		for _, e := range snap.Medications {
			values = append(values, fmt.Sprintf("%s (%s)", e.Value, e.Status))
		}
		bullets = append(bullets, "Meds: "+strings.Join(head(values, 5), ", "))
	}
	if len(snap.Allergies) > 0 {
		values := make([]string, 0, len(snap.Allergies))
		for _, e := range snap.Allergies {
			values = append(values, e.Value)
		}
		bullets = append(bullets, "Allergies: "+strings.Join(head(values, 5), ", "))
	}
	bullets = append(bullets, "Trigger: "+truncate(trigger, 120))
	return head(bullets, maxSummaryBullets)
}

func buildSummaryPrompt(snap *memory.Profile, trigger string) string {
	profileJSON, err := json.Marshal(snap)
	if err != nil {
		profileJSON = []byte("{}")
	}
	return "You assist clinic triage. 3-5 bullets. No diagnosis, no med changes, no treatment plans. " +
		"Patient message: " + trigger + "\nProfile JSON: " + string(profileJSON) + "\nReturn bullets only, one per line."
}

// parseBullets strips list markers from the model reply and keeps up to
// five lines short enough to scan at a glance.
func parseBullets(resp string) []string {
	var lines []string
	for _, ln := range strings.Split(resp, "\n") {
		ln = strings.TrimSpace(strings.Trim(strings.TrimSpace(ln), "-• "))
		if ln == "" || len(ln) > maxBulletLen {
			continue
		}
		lines = append(lines, ln)
		if len(lines) == maxSummaryBullets {
			break
		}
	}
	return lines
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
