package ticket

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no ticket matches the lookup.
var ErrNotFound = errors.New("ticket not found")

// Repository persists escalation tickets.
type Repository interface {
	Create(ctx context.Context, t *Ticket) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error)
	// Close marks an open ticket closed. Closing an already-closed ticket
	// is a no-op that reports ErrNotFound.
	Close(ctx context.Context, id uuid.UUID) (*Ticket, error)
	ListOpenByClinic(ctx context.Context, clinicID uuid.UUID) ([]*Ticket, error)
}
