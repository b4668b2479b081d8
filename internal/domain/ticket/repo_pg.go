package ticket

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

// repoPG is the PostgreSQL-backed ticket store.
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

const ticketCols = `id, clinic_id, patient_id, thread_id, status, triggering_message_id, risk_level, triage_summary, profile_snapshot, created_at, closed_at`

func (r *repoPG) Create(ctx context.Context, t *Ticket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	summary, err := json.Marshal(summaryOrEmpty(t.TriageSummary))
	if err != nil {
		return fmt.Errorf("marshal triage summary: %w", err)
	}
	snapshot, err := json.Marshal(t.ProfileSnapshot)
	if err != nil {
		return fmt.Errorf("marshal profile snapshot: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO tickets (id, clinic_id, patient_id, thread_id, status, triggering_message_id, risk_level, triage_summary, profile_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		t.ID, t.ClinicID, t.PatientID, t.ThreadID, t.Status, t.TriggeringMessageID, string(t.RiskLevel), summary, snapshot,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+ticketCols+` FROM tickets WHERE id = $1`, id)
	t, err := scanTicket(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (r *repoPG) Close(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE tickets SET status = 'closed', closed_at = NOW()
		WHERE id = $1 AND status = 'open'
		RETURNING `+ticketCols, id)
	t, err := scanTicket(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("close ticket: %w", err)
	}
	return t, nil
}

func (r *repoPG) ListOpenByClinic(ctx context.Context, clinicID uuid.UUID) ([]*Ticket, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+ticketCols+` FROM tickets
		WHERE clinic_id = $1 AND status = 'open'
		ORDER BY created_at DESC, id DESC`, clinicID)
	if err != nil {
		return nil, fmt.Errorf("list open tickets: %w", err)
	}
	defer rows.Close()

	tickets := []*Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func scanTicket(row pgx.Row) (*Ticket, error) {
	var (
		t         Ticket
		status    string
		riskLevel string
		summary   []byte
		snapshot  []byte
	)
	err := row.Scan(&t.ID, &t.ClinicID, &t.PatientID, &t.ThreadID, &status, &t.TriggeringMessageID,
		&riskLevel, &summary, &snapshot, &t.CreatedAt, &t.ClosedAt)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.RiskLevel = nlp.RiskTier(riskLevel)
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &t.TriageSummary); err != nil {
			return nil, fmt.Errorf("unmarshal triage summary: %w", err)
		}
	}
	if t.TriageSummary == nil {
		t.TriageSummary = []string{}
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &t.ProfileSnapshot); err != nil {
			return nil, fmt.Errorf("unmarshal profile snapshot: %w", err)
		}
	}
	return &t, nil
}

func summaryOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
