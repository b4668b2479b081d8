package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Event is a single audit trail entry. TargetID is a string so events can
// reference both UUID-keyed rows and derived identifiers such as hash
// prefixes.
type Event struct {
	ID          uuid.UUID      `json:"id"`
	EventType   string         `json:"event_type"`
	ActorUserID *uuid.UUID     `json:"actor_user_id,omitempty"`
	TargetType  string         `json:"target_type,omitempty"`
	TargetID    string         `json:"target_id,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Event types recorded by the service.
const (
	EventSignup        = "signup"
	EventLogin         = "login"
	EventMessagePosted = "message_posted"
	EventTicketCreated = "ticket_created"
	EventTicketClosed  = "ticket_closed"
	EventAbuseBlock    = "abuse_block"
)

// Recorder persists audit events. Implementations must be safe for
// concurrent use and must not block the request path on failure.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// PGRecorder writes audit events to the audit_events table and mirrors
// each one to the structured log. Persistence failures are logged and
// swallowed so auditing never fails a request.
type PGRecorder struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPGRecorder creates a Recorder backed by the given connection pool.
func NewPGRecorder(pool *pgxpool.Pool, logger zerolog.Logger) *PGRecorder {
	return &PGRecorder{pool: pool, logger: logger.With().Str("component", "audit").Logger()}
}

// Record inserts the event and emits a log line carrying the same fields.
func (r *PGRecorder) Record(ctx context.Context, ev Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Meta == nil {
		ev.Meta = map[string]any{}
	}

	metaJSON, err := json.Marshal(ev.Meta)
	if err != nil {
		metaJSON = []byte("{}")
	}

	const query = `
		INSERT INTO audit_events (event_type, actor_user_id, target_type, target_id, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if err := r.pool.QueryRow(ctx, query,
		ev.EventType, ev.ActorUserID, ev.TargetType, ev.TargetID, metaJSON, ev.CreatedAt,
	).Scan(&ev.ID); err != nil {
		r.logger.Error().Err(err).Str("event_type", ev.EventType).Msg("failed to persist audit event")
	}

	line := r.logger.Info().
		Str("event_type", ev.EventType).
		Str("target_type", ev.TargetType).
		Str("target_id", ev.TargetID).
		RawJSON("meta", metaJSON)
	if ev.ActorUserID != nil {
		line = line.Str("actor_user_id", ev.ActorUserID.String())
	}
	line.Msg("audit")
}

// NopRecorder discards all events. Used in tests and in tools that run
// without a database.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}

// MemRecorder collects events in memory. Intended for tests.
type MemRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemRecorder) Record(_ context.Context, ev Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (m *MemRecorder) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
