package thread

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careloop/careloop/internal/nlp"
	"github.com/careloop/careloop/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const threadCols = `id, patient_id, clinic_id, created_at`

const msgCols = `id, thread_id, sender_role, content, redacted_for_llm, confidence,
	risk_level, risk_reason, risk_assessed_at, citations, is_ground_truth, created_at`

func (r *repoPG) EnsureForPatient(ctx context.Context, patientID, clinicID uuid.UUID) (*Thread, error) {
	// The insert is a no-op when the patient already has a thread; the
	// DO UPDATE makes RETURNING yield the existing row either way.
	return scanThread(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO threads (id, patient_id, clinic_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient_id) DO UPDATE SET patient_id = EXCLUDED.patient_id
		RETURNING `+threadCols,
		uuid.New(), patientID, clinicID,
	))
}

func (r *repoPG) GetThread(ctx context.Context, id uuid.UUID) (*Thread, error) {
	return scanThread(r.conn(ctx).QueryRow(ctx, `SELECT `+threadCols+` FROM threads WHERE id = $1`, id))
}

func (r *repoPG) AppendMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	citations, err := json.Marshal(citationsOrEmpty(m.Citations))
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO messages (
			id, thread_id, sender_role, content, redacted_for_llm, confidence,
			risk_level, risk_reason, risk_assessed_at, citations, is_ground_truth
		) VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),$8,$9,$10,$11)
		RETURNING created_at`,
		m.ID, m.ThreadID, m.SenderRole, m.Content, m.RedactedForLLM, string(m.Confidence),
		string(m.RiskLevel), m.RiskReason, m.RiskAssessedAt, citations, m.IsGroundTruth,
	).Scan(&m.CreatedAt)
}

func (r *repoPG) ListMessages(ctx context.Context, threadID uuid.UUID) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+msgCols+` FROM messages WHERE thread_id = $1 ORDER BY created_at ASC, id ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (r *repoPG) RecentMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+msgCols+` FROM (
			SELECT `+msgCols+` FROM messages
			WHERE thread_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent ORDER BY created_at ASC, id ASC`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func scanThread(row pgx.Row) (*Thread, error) {
	var t Thread
	if err := row.Scan(&t.ID, &t.PatientID, &t.ClinicID, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func collectMessages(rows pgx.Rows) ([]*Message, error) {
	// Non-nil so an empty thread serializes as [] rather than null.
	msgs := []*Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		m          Message
		confidence *string
		riskLevel  *string
		citations  []byte
	)
	err := row.Scan(
		&m.ID, &m.ThreadID, &m.SenderRole, &m.Content, &m.RedactedForLLM, &confidence,
		&riskLevel, &m.RiskReason, &m.RiskAssessedAt, &citations, &m.IsGroundTruth, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if confidence != nil {
		m.Confidence = Confidence(*confidence)
	}
	if riskLevel != nil {
		m.RiskLevel = nlp.RiskTier(*riskLevel)
	}
	if len(citations) > 0 {
		if err := json.Unmarshal(citations, &m.Citations); err != nil {
			return nil, fmt.Errorf("unmarshal citations: %w", err)
		}
	}
	if m.Citations == nil {
		m.Citations = []Citation{}
	}
	return &m, nil
}

func citationsOrEmpty(c []Citation) []Citation {
	if c == nil {
		return []Citation{}
	}
	return c
}
