package memory

import (
	"context"

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

const itemCols = `id, patient_id, kind, value, status, timeline_text,
	provenance_message_id, provenance_start, provenance_end, updated_at`

func (r *repoPG) Insert(ctx context.Context, item *MemoryItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO memory_items (
			id, patient_id, kind, value, status, timeline_text,
			provenance_message_id, provenance_start, provenance_end
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING updated_at`,
		item.ID, item.PatientID, item.Kind, item.Value, item.Status, item.TimelineText,
		item.ProvenanceMessageID, item.ProvenanceStart, item.ProvenanceEnd,
	).Scan(&item.UpdatedAt)
}

func (r *repoPG) Update(ctx context.Context, item *MemoryItem) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE memory_items SET
			status=$2, timeline_text=$3,
			provenance_message_id=$4, provenance_start=$5, provenance_end=$6,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		item.ID, item.Status, item.TimelineText,
		item.ProvenanceMessageID, item.ProvenanceStart, item.ProvenanceEnd,
	).Scan(&item.UpdatedAt)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*MemoryItem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM memory_items WHERE patient_id = $1 ORDER BY updated_at ASC, id ASC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *repoPG) Active(ctx context.Context, patientID uuid.UUID, kind nlp.FactKind) ([]*MemoryItem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM memory_items
		 WHERE patient_id = $1 AND kind = $2 AND status = 'active'
		 ORDER BY updated_at ASC, id ASC`, patientID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *repoPG) ActiveByValue(ctx context.Context, patientID uuid.UUID, kind nlp.FactKind, value string) ([]*MemoryItem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM memory_items
		 WHERE patient_id = $1 AND kind = $2 AND status = 'active' AND LOWER(value) = LOWER($3)
		 ORDER BY updated_at ASC, id ASC`, patientID, kind, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func collectItems(rows pgx.Rows) ([]*MemoryItem, error) {
	var items []*MemoryItem
	for rows.Next() {
		var i MemoryItem
		err := rows.Scan(
			&i.ID, &i.PatientID, &i.Kind, &i.Value, &i.Status, &i.TimelineText,
			&i.ProvenanceMessageID, &i.ProvenanceStart, &i.ProvenanceEnd, &i.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, &i)
	}
	return items, rows.Err()
}
