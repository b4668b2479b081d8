// Package triage routes patient messages through risk assessment, memory
// extraction, and either an escalation to clinician review or a drafted
// assistant reply. It is the write path behind the patient and clinician
// message endpoints.
package triage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/careloop/internal/asr"
	"github.com/careloop/careloop/internal/domain/memory"
	"github.com/careloop/careloop/internal/domain/thread"
	"github.com/careloop/careloop/internal/domain/ticket"
	"github.com/careloop/careloop/internal/llm"
	"github.com/careloop/careloop/internal/nlp"
	"github.com/careloop/careloop/internal/platform/audit"
	"github.com/careloop/careloop/internal/platform/websocket"
)

// historyLimit bounds how much conversation context is sent to the model.
const historyLimit = 12

// citationSpanMax caps the cited span of the triggering message.
const citationSpanMax = 30

// safetyNotice is the assistant's reply whenever a message escalates.
const safetyNotice = "I can’t safely give advice on this. I’ve alerted the clinic so a clinician can review."

// fallbackReply is used when the model is unavailable or answers empty.
const fallbackReply = "I’m here. Could you tell me more about what you’re feeling and when it started?"

// MemoryService is the profile store the engine writes extracted facts to.
type MemoryService interface {
	Merge(ctx context.Context, patientID, messageID uuid.UUID, text string) error
	Snapshot(ctx context.Context, patientID uuid.UUID) (*memory.Profile, error)
}

// TicketService opens and closes escalation tickets.
type TicketService interface {
	Open(ctx context.Context, p ticket.OpenParams) (*ticket.Ticket, error)
	Close(ctx context.Context, id uuid.UUID) (*ticket.Ticket, error)
	GetForClinic(ctx context.Context, id, clinicID uuid.UUID) (*ticket.Ticket, error)
}

// Replier drafts assistant replies from conversation history.
type Replier interface {
	Reply(ctx context.Context, history []llm.Message) (string, error)
}

// unintelligible stands in for audio the transcriber could not decode, so
// the message still enters the pipeline and the patient sees a response.
const unintelligible = "[unintelligible audio]"

// Service is the triage engine.
type Service struct {
	threads     thread.Repository
	memories    MemoryService
	tickets     TicketService
	replier     Replier
	transcriber asr.Transcriber
	publisher   websocket.Publisher
	auditor     audit.Recorder
	logger      zerolog.Logger
}

func NewService(
	threads thread.Repository,
	memories MemoryService,
	tickets TicketService,
	replier Replier,
	transcriber asr.Transcriber,
	publisher websocket.Publisher,
	auditor audit.Recorder,
	logger zerolog.Logger,
) *Service {
	return &Service{
		threads:     threads,
		memories:    memories,
		tickets:     tickets,
		replier:     replier,
		transcriber: transcriber,
		publisher:   publisher,
		auditor:     auditor,
		logger:      logger.With().Str("component", "triage").Logger(),
	}
}

// RiskInfo is the assessment attached to a message result.
type RiskInfo struct {
	RiskLevel  nlp.RiskTier `json:"risk_level"`
	RiskReason string       `json:"risk_reason"`
}

// MessageResult is the synchronous answer to posting a message. The same
// content also fans out over the thread topic so other views stay in sync.
type MessageResult struct {
	OK                 bool            `json:"ok"`
	EscalationRequired bool            `json:"escalation_required"`
	TicketID           *uuid.UUID      `json:"ticket_id,omitempty"`
	Risk               RiskInfo        `json:"risk"`
	Profile            *memory.Profile `json:"profile"`
}

// threadEvent is the payload published to a thread topic.
type threadEvent struct {
	Type               string          `json:"type"`
	Message            *thread.Message `json:"message"`
	Profile            *memory.Profile `json:"profile"`
	EscalationRequired bool            `json:"escalation_required"`
	TicketID           *uuid.UUID      `json:"ticket_id,omitempty"`
}

// clinicEvent is the payload published to a clinic topic.
type clinicEvent struct {
	Type     string    `json:"type"`
	TicketID uuid.UUID `json:"ticket_id"`
}

// Thread returns the patient's conversation thread, creating it on first use.
func (s *Service) Thread(ctx context.Context, patientID, clinicID uuid.UUID) (*thread.Thread, error) {
	return s.threads.EnsureForPatient(ctx, patientID, clinicID)
}

// OwnsThread reports whether threadID is the patient's own thread.
func (s *Service) OwnsThread(ctx context.Context, patientID, clinicID, threadID uuid.UUID) (bool, error) {
	th, err := s.threads.EnsureForPatient(ctx, patientID, clinicID)
	if err != nil {
		return false, err
	}
	return th.ID == threadID, nil
}

// Messages returns the full thread history plus the current profile.
func (s *Service) Messages(ctx context.Context, patientID, clinicID uuid.UUID) ([]*thread.Message, *memory.Profile, error) {
	th, err := s.threads.EnsureForPatient(ctx, patientID, clinicID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.threads.ListMessages(ctx, th.ID)
	if err != nil {
		return nil, nil, err
	}
	profile, err := s.memories.Snapshot(ctx, patientID)
	if err != nil {
		return nil, nil, err
	}
	return msgs, profile, nil
}

// HandleMessage runs the full triage pipeline for one patient utterance:
// assess risk, persist the message with a redacted copy for the model,
// merge extracted facts into the profile, then either escalate or draft a
// reply. Every persisted message is also fanned out on the thread topic.
func (s *Service) HandleMessage(ctx context.Context, patientID, clinicID uuid.UUID, text string) (*MessageResult, error) {
	th, err := s.threads.EnsureForPatient(ctx, patientID, clinicID)
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		profile, err := s.memories.Snapshot(ctx, patientID)
		if err != nil {
			return nil, err
		}
		return &MessageResult{
			OK:      true,
			Risk:    RiskInfo{RiskLevel: nlp.RiskLow},
			Profile: profile,
		}, nil
	}

	riskLevel, riskReason := nlp.AssessRisk(text)
	pm := &thread.Message{
		ThreadID:       th.ID,
		SenderRole:     thread.SenderPatient,
		Content:        text,
		RedactedForLLM: nlp.Redact(text),
		RiskLevel:      riskLevel,
		RiskReason:     riskReason,
		RiskAssessedAt: time.Now().UTC(),
	}
	if err := s.threads.AppendMessage(ctx, pm); err != nil {
		return nil, err
	}

	if err := s.memories.Merge(ctx, patientID, pm.ID, text); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, audit.Event{
		EventType:   audit.EventMessagePosted,
		ActorUserID: &patientID,
		TargetType:  "message",
		TargetID:    pm.ID.String(),
		Meta:        map[string]any{"risk_level": string(riskLevel)},
	})

	profile, err := s.memories.Snapshot(ctx, patientID)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(websocket.ThreadTopic(th.ID), threadEvent{
		Type:    "new_message",
		Message: pm,
		Profile: profile,
	})

	risk := RiskInfo{RiskLevel: riskLevel, RiskReason: riskReason}
	citation := thread.NewCitation(pm.ID, 0, minInt(len(text), citationSpanMax))

	if riskLevel.Escalates() {
		return s.escalate(ctx, th, patientID, pm, risk, citation, profile)
	}
	return s.reply(ctx, th, patientID, pm, risk, citation, profile)
}

// escalate opens a review ticket and posts the safety notice instead of
// advice.
func (s *Service) escalate(ctx context.Context, th *thread.Thread, patientID uuid.UUID, pm *thread.Message, risk RiskInfo, citation thread.Citation, profile *memory.Profile) (*MessageResult, error) {
	t, err := s.tickets.Open(ctx, ticket.OpenParams{
		ClinicID:            th.ClinicID,
		PatientID:           patientID,
		ThreadID:            th.ID,
		TriggeringMessageID: pm.ID,
		RiskLevel:           risk.RiskLevel,
		TriggerText:         pm.Content,
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(websocket.ClinicTopic(t.ClinicID), clinicEvent{Type: "ticket_created", TicketID: t.ID})

	am := &thread.Message{
		ThreadID:       th.ID,
		SenderRole:     thread.SenderAssistant,
		Content:        safetyNotice,
		Confidence:     thread.ConfidenceHigh,
		RiskLevel:      risk.RiskLevel,
		RiskReason:     risk.RiskReason,
		RiskAssessedAt: time.Now().UTC(),
		Citations:      []thread.Citation{citation},
	}
	if err := s.threads.AppendMessage(ctx, am); err != nil {
		return nil, err
	}
	s.publisher.Publish(websocket.ThreadTopic(th.ID), threadEvent{
		Type:               "new_message",
		Message:            am,
		Profile:            profile,
		EscalationRequired: true,
		TicketID:           &t.ID,
	})

	return &MessageResult{
		OK:                 true,
		EscalationRequired: true,
		TicketID:           &t.ID,
		Risk:               risk,
		Profile:            profile,
	}, nil
}

// reply drafts an assistant answer from recent context. Model failures
// degrade to a fixed clarifying question rather than an error.
func (s *Service) reply(ctx context.Context, th *thread.Thread, patientID uuid.UUID, pm *thread.Message, risk RiskInfo, citation thread.Citation, profile *memory.Profile) (*MessageResult, error) {
	history, err := s.buildHistory(ctx, th.ID)
	if err != nil {
		return nil, err
	}

	answer := ""
	if s.replier != nil {
		answer, err = s.replier.Reply(ctx, history)
		if err != nil {
			s.logger.Warn().Err(err).Msg("model reply failed, using fallback")
			answer = ""
		}
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = fallbackReply
	}

	am := &thread.Message{
		ThreadID:       th.ID,
		SenderRole:     thread.SenderAssistant,
		Content:        answer,
		Confidence:     thread.ConfidenceMed,
		RiskLevel:      risk.RiskLevel,
		RiskReason:     risk.RiskReason,
		RiskAssessedAt: time.Now().UTC(),
		Citations:      []thread.Citation{citation},
	}
	if err := s.threads.AppendMessage(ctx, am); err != nil {
		return nil, err
	}
	s.publisher.Publish(websocket.ThreadTopic(th.ID), threadEvent{
		Type:    "new_message",
		Message: am,
		Profile: profile,
	})

	return &MessageResult{
		OK:      true,
		Risk:    risk,
		Profile: profile,
	}, nil
}

// buildHistory converts the most recent thread messages into model roles.
// The redacted copy of each message is preferred over the raw content.
func (s *Service) buildHistory(ctx context.Context, threadID uuid.UUID) ([]llm.Message, error) {
	msgs, err := s.threads.RecentMessages(ctx, threadID, historyLimit)
	if err != nil {
		return nil, err
	}
	history := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		content := m.LLMContent()
		if content == "" {
			continue
		}
		history = append(history, llm.Message{Role: m.SenderRole.LLMRole(), Content: content})
	}
	return history, nil
}

// HandleAudio transcribes an uploaded recording and routes the transcript
// through the regular message pipeline. Undecodable audio becomes a
// placeholder utterance rather than an error.
func (s *Service) HandleAudio(ctx context.Context, patientID, clinicID uuid.UUID, audio []byte, mimeType string) (*MessageResult, error) {
	transcript := ""
	if s.transcriber != nil {
		var err error
		transcript, err = s.transcriber.Transcribe(ctx, audio, mimeType)
		if err != nil {
			s.logger.Warn().Err(err).Msg("transcription failed")
			transcript = ""
		}
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		transcript = unintelligible
	}
	return s.HandleMessage(ctx, patientID, clinicID, transcript)
}

// HandleClinicianReply appends the clinician's answer to the patient thread,
// closes the ticket, and merges the reply into the patient profile as ground
// truth. Returns ticket.ErrNotFound when the ticket does not exist or
// belongs to another clinic. An empty reply is a no-op.
func (s *Service) HandleClinicianReply(ctx context.Context, clinicianID, clinicID, ticketID uuid.UUID, text string) error {
	t, err := s.tickets.GetForClinic(ctx, ticketID, clinicID)
	if err != nil {
		return err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// The status-guarded close is the exactly-once gate: when two replies
	// race, the loser stops here, before its message reaches the thread.
	if _, err := s.tickets.Close(ctx, t.ID); err != nil {
		return err
	}

	m := &thread.Message{
		ThreadID:       t.ThreadID,
		SenderRole:     thread.SenderClinician,
		Content:        text,
		Confidence:     thread.ConfidenceHigh,
		RiskLevel:      t.RiskLevel,
		RiskReason:     "Clinician reply",
		RiskAssessedAt: time.Now().UTC(),
		IsGroundTruth:  true,
	}
	if err := s.threads.AppendMessage(ctx, m); err != nil {
		return err
	}

	if err := s.memories.Merge(ctx, t.PatientID, m.ID, text); err != nil {
		return err
	}
	s.auditor.Record(ctx, audit.Event{
		EventType:   audit.EventMessagePosted,
		ActorUserID: &clinicianID,
		TargetType:  "message",
		TargetID:    m.ID.String(),
	})

	profile, err := s.memories.Snapshot(ctx, t.PatientID)
	if err != nil {
		return err
	}
	s.publisher.Publish(websocket.ThreadTopic(t.ThreadID), threadEvent{
		Type:    "new_message",
		Message: m,
		Profile: profile,
	})
	s.publisher.Publish(websocket.ClinicTopic(t.ClinicID), clinicEvent{Type: "ticket_closed", TicketID: t.ID})
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
