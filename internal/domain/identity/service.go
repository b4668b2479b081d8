package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/careloop/internal/platform/audit"
	"github.com/careloop/careloop/internal/platform/auth"
)

var (
	ErrEmailTaken     = errors.New("email exists")
	ErrBadCredentials = errors.New("bad credentials")
)

// Service implements signup and login on top of the user repository.
type Service struct {
	repo     Repository
	issuer   *auth.TokenIssuer
	auditor  audit.Recorder
	clinicID uuid.UUID
	logger   zerolog.Logger
}

// NewService creates a Service. clinicID is the clinic assigned to new
// accounts.
func NewService(repo Repository, issuer *auth.TokenIssuer, auditor audit.Recorder, clinicID uuid.UUID, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		issuer:   issuer,
		auditor:  auditor,
		clinicID: clinicID,
		logger:   logger.With().Str("component", "identity").Logger(),
	}
}

// Signup registers a new account and returns a signed token for it.
func (s *Service) Signup(ctx context.Context, email, password string, role auth.Role) (*AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("role must be patient|clinician")
	}
	if existing, err := s.repo.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{Email: email, PasswordHash: hash, Role: role, ClinicID: s.clinicID}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.auditor.Record(ctx, audit.Event{
		EventType:   audit.EventSignup,
		ActorUserID: &u.ID,
		TargetType:  "user",
		TargetID:    u.ID.String(),
		Meta:        map[string]any{"role": string(u.Role)},
	})

	return s.issueFor(u)
}

// Login checks credentials and returns a signed token.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil || u == nil {
		return nil, ErrBadCredentials
	}
	if !auth.CheckPassword(password, u.PasswordHash) {
		return nil, ErrBadCredentials
	}

	s.auditor.Record(ctx, audit.Event{
		EventType:   audit.EventLogin,
		ActorUserID: &u.ID,
		TargetType:  "user",
		TargetID:    u.ID.String(),
		Meta:        map[string]any{"role": string(u.Role)},
	})

	return s.issueFor(u)
}

// GetUser looks up a user by id.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// SeedDemo ensures the demo patient and clinician accounts exist. It is
// idempotent and safe to call on every startup.
func (s *Service) SeedDemo(ctx context.Context) error {
	demo := []struct {
		email string
		role  auth.Role
	}{
		{"patient@demo.example.com", auth.RolePatient},
		{"clinician@demo.example.com", auth.RoleClinician},
	}
	for _, d := range demo {
		if existing, err := s.repo.GetByEmail(ctx, d.email); err == nil && existing != nil {
			continue
		}
		hash, err := auth.HashPassword("password")
		if err != nil {
			return fmt.Errorf("hash demo password: %w", err)
		}
		u := &User{Email: d.email, PasswordHash: hash, Role: d.role, ClinicID: s.clinicID}
		if err := s.repo.Create(ctx, u); err != nil {
			return fmt.Errorf("seed %s: %w", d.email, err)
		}
		s.logger.Info().Str("email", d.email).Str("role", string(d.role)).Msg("seeded demo account")
	}
	return nil
}

func (s *Service) issueFor(u *User) (*AuthResult, error) {
	token, err := s.issuer.Issue(u.ID, u.Role, u.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResult{Token: token, User: u.Public()}, nil
}
