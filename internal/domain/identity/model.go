package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/careloop/careloop/internal/platform/auth"
)

// User is an account in the system, either a patient or a clinician.
// Every user belongs to one clinic.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         auth.Role `json:"role"`
	ClinicID     uuid.UUID `json:"clinic_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// PublicUser is the user view returned by the auth endpoints.
type PublicUser struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Role     auth.Role `json:"role"`
	ClinicID uuid.UUID `json:"clinic_id"`
}

// Public strips credential material from the user.
func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Email: u.Email, Role: u.Role, ClinicID: u.ClinicID}
}

// AuthResult pairs a signed token with the authenticated user.
type AuthResult struct {
	Token string     `json:"token"`
	User  PublicUser `json:"user"`
}
