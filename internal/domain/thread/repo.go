package thread

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// EnsureForPatient returns the patient's thread, creating it if needed.
	EnsureForPatient(ctx context.Context, patientID, clinicID uuid.UUID) (*Thread, error)
	GetThread(ctx context.Context, id uuid.UUID) (*Thread, error)
	AppendMessage(ctx context.Context, m *Message) error
	// ListMessages returns all messages in the thread, oldest first.
	ListMessages(ctx context.Context, threadID uuid.UUID) ([]*Message, error)
	// RecentMessages returns the last limit messages, oldest first.
	RecentMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]*Message, error)
}
