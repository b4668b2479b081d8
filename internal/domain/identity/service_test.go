package identity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/careloop/internal/platform/audit"
	"github.com/careloop/careloop/internal/platform/auth"
)

// -- Mock Repository --

type mockRepo struct {
	users map[uuid.UUID]*User
}

func newMockRepo() *mockRepo {
	return &mockRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockRepo) Create(_ context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now()
	m.users[u.ID] = u
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return u, nil
}

func (m *mockRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

func newTestService() (*Service, *mockRepo, *audit.MemRecorder) {
	repo := newMockRepo()
	rec := &audit.MemRecorder{}
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)
	svc := NewService(repo, issuer, rec, uuid.New(), zerolog.Nop())
	return svc, repo, rec
}

func TestSignup(t *testing.T) {
	svc, repo, rec := newTestService()

	res, err := svc.Signup(context.Background(), "alice@example.com", "secret", auth.RolePatient)
	if err != nil {
		t.Fatalf("Signup() error: %v", err)
	}
	if res.Token == "" {
		t.Error("expected a token")
	}
	if res.User.Email != "alice@example.com" {
		t.Errorf("expected email in result, got %q", res.User.Email)
	}
	if res.User.Role != auth.RolePatient {
		t.Errorf("expected patient role, got %q", res.User.Role)
	}

	stored, err := repo.GetByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if stored.PasswordHash == "secret" || stored.PasswordHash == "" {
		t.Error("expected password to be stored hashed")
	}

	events := rec.Events()
	if len(events) != 1 || events[0].EventType != audit.EventSignup {
		t.Errorf("expected one signup audit event, got %v", events)
	}
}

func TestSignup_NormalizesEmail(t *testing.T) {
	svc, _, _ := newTestService()

	res, err := svc.Signup(context.Background(), "  Bob@Example.COM ", "secret", auth.RoleClinician)
	if err != nil {
		t.Fatalf("Signup() error: %v", err)
	}
	if res.User.Email != "bob@example.com" {
		t.Errorf("expected normalized email, got %q", res.User.Email)
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService()

	if _, err := svc.Signup(context.Background(), "alice@example.com", "secret", auth.RolePatient); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	_, err := svc.Signup(context.Background(), "alice@example.com", "other", auth.RolePatient)
	if err != ErrEmailTaken {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignup_InvalidRole(t *testing.T) {
	svc, _, _ := newTestService()

	if _, err := svc.Signup(context.Background(), "x@example.com", "secret", auth.Role("admin")); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := svc.Signup(context.Background(), "x@example.com", "", auth.RolePatient); err == nil {
		t.Error("expected error for empty password")
	}
	if _, err := svc.Signup(context.Background(), "not-an-email", "secret", auth.RolePatient); err == nil {
		t.Error("expected error for malformed email")
	}
}

func TestLogin(t *testing.T) {
	svc, _, rec := newTestService()

	if _, err := svc.Signup(context.Background(), "alice@example.com", "secret", auth.RolePatient); err != nil {
		t.Fatalf("signup: %v", err)
	}

	res, err := svc.Login(context.Background(), "alice@example.com", "secret")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if res.Token == "" {
		t.Error("expected a token")
	}

	if _, err := svc.Login(context.Background(), "alice@example.com", "wrong"); err != ErrBadCredentials {
		t.Errorf("expected ErrBadCredentials for wrong password, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "nobody@example.com", "secret"); err != ErrBadCredentials {
		t.Errorf("expected ErrBadCredentials for unknown user, got %v", err)
	}

	events := rec.Events()
	// one signup + one successful login
	if len(events) != 2 || events[1].EventType != audit.EventLogin {
		t.Errorf("expected signup then login audit events, got %v", events)
	}
}

func TestSeedDemo_Idempotent(t *testing.T) {
	svc, repo, _ := newTestService()

	if err := svc.SeedDemo(context.Background()); err != nil {
		t.Fatalf("SeedDemo() error: %v", err)
	}
	if err := svc.SeedDemo(context.Background()); err != nil {
		t.Fatalf("second SeedDemo() error: %v", err)
	}

	if len(repo.users) != 2 {
		t.Fatalf("expected 2 demo users, got %d", len(repo.users))
	}

	patient, err := repo.GetByEmail(context.Background(), "patient@demo.example.com")
	if err != nil {
		t.Fatalf("demo patient missing: %v", err)
	}
	if patient.Role != auth.RolePatient {
		t.Errorf("expected patient role, got %q", patient.Role)
	}
	if !auth.CheckPassword("password", patient.PasswordHash) {
		t.Error("expected demo password to verify")
	}

	clinician, err := repo.GetByEmail(context.Background(), "clinician@demo.example.com")
	if err != nil {
		t.Fatalf("demo clinician missing: %v", err)
	}
	if clinician.Role != auth.RoleClinician {
		t.Errorf("expected clinician role, got %q", clinician.Role)
	}
}
