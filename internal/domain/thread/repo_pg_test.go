package thread

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/careloop/careloop/internal/nlp"
	"github.com/careloop/careloop/internal/platform/db"
)

// fakeTx satisfies pgx.Tx through embedding and records the last statement.
// Only the methods the repository calls are implemented.
type fakeTx struct {
	pgx.Tx
	lastSQL  string
	lastArgs []interface{}
}

func (f *fakeTx) QueryRow(_ context.Context, sql string, args ...interface{}) pgx.Row {
	f.lastSQL = sql
	f.lastArgs = args
	return fakeRow{}
}

func (f *fakeTx) Query(_ context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	f.lastSQL = sql
	f.lastArgs = args
	return emptyRows{}, nil
}

type fakeRow struct{}

func (fakeRow) Scan(dest ...interface{}) error {
	for _, d := range dest {
		if ts, ok := d.(*time.Time); ok {
			*ts = time.Now()
		}
	}
	return nil
}

type emptyRows struct {
	pgx.Rows
}

func (emptyRows) Next() bool { return false }
func (emptyRows) Err() error { return nil }
func (emptyRows) Close()     {}

func txContext(tx *fakeTx) context.Context {
	return db.WithTx(context.Background(), tx)
}

func TestAppendMessage_BindsOneArgPerColumn(t *testing.T) {
	tx := &fakeTx{}
	repo := NewRepo(nil)

	m := &Message{
		ThreadID:       uuid.New(),
		SenderRole:     SenderPatient,
		Content:        "I feel tired lately",
		RedactedForLLM: "I feel tired lately",
		RiskLevel:      nlp.RiskLow,
		RiskReason:     "No high-risk indicators detected.",
		RiskAssessedAt: time.Now().UTC(),
	}
	if err := repo.AppendMessage(txContext(tx), m); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}

	start := strings.Index(tx.lastSQL, "(")
	end := strings.Index(tx.lastSQL, ")")
	if start < 0 || end < start {
		t.Fatalf("unexpected insert statement: %s", tx.lastSQL)
	}
	cols := strings.Count(tx.lastSQL[start:end], ",") + 1
	placeholders := strings.Count(tx.lastSQL, "$")
	if placeholders != cols {
		t.Errorf("insert names %d columns but binds %d placeholders", cols, placeholders)
	}
	if len(tx.lastArgs) != placeholders {
		t.Errorf("bound %d args for %d placeholders", len(tx.lastArgs), placeholders)
	}

	// The assessment time is bound as a concrete timestamp value.
	found := false
	for _, arg := range tx.lastArgs {
		if ts, ok := arg.(time.Time); ok && !ts.IsZero() {
			found = true
		}
	}
	if !found {
		t.Error("expected a non-zero risk assessment timestamp among the bound args")
	}

	if m.ID == uuid.Nil {
		t.Error("expected an id assigned on insert")
	}
	if m.CreatedAt.IsZero() {
		t.Error("expected created_at populated from RETURNING")
	}
}

func TestListMessages_EmptyThreadReturnsEmptySlice(t *testing.T) {
	tx := &fakeTx{}
	repo := NewRepo(nil)

	msgs, err := repo.ListMessages(txContext(tx), uuid.New())
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if msgs == nil {
		t.Fatal("expected an empty slice, got nil")
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}
