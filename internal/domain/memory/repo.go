package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/careloop/careloop/internal/nlp"
)

type Repository interface {
	Insert(ctx context.Context, item *MemoryItem) error
	Update(ctx context.Context, item *MemoryItem) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*MemoryItem, error)
	// Active returns the patient's active items of one kind.
	Active(ctx context.Context, patientID uuid.UUID, kind nlp.FactKind) ([]*MemoryItem, error)
	// ActiveByValue returns active items matching value case-insensitively.
	ActiveByValue(ctx context.Context, patientID uuid.UUID, kind nlp.FactKind, value string) ([]*MemoryItem, error)
}
