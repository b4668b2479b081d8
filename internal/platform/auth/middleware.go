package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	userRoleKey contextKey = "user_role"
	clinicIDKey contextKey = "clinic_id"
)

// Middleware validates the bearer token and populates the request context
// with the authenticated identity. The token is read from the Authorization
// header, or from the "token" query parameter as a fallback for browser
// WebSocket clients that cannot set headers.
func Middleware(issuer *TokenIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr := bearerToken(c)
			if tokenStr == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
			}

			claims, err := issuer.Parse(tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			userID, err := claims.UserID()
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, userIDKey, userID)
			ctx = context.WithValue(ctx, userRoleKey, claims.Role)
			ctx = context.WithValue(ctx, clinicIDKey, claims.ClinicID)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.QueryParam("token")
}

// RequireRole rejects any request whose authenticated role is not the given
// one. Cross-role access (a patient token on a clinician endpoint, or the
// reverse) is a 403 before any core logic runs.
func RequireRole(role Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if RoleFromContext(c.Request().Context()) != role {
				return echo.NewHTTPError(http.StatusForbidden, string(role)+" only")
			}
			return next(c)
		}
	}
}

// UserIDFromContext returns the authenticated user id, or uuid.Nil.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(userIDKey).(uuid.UUID)
	return id
}

// RoleFromContext returns the authenticated role, or the empty Role.
func RoleFromContext(ctx context.Context) Role {
	role, _ := ctx.Value(userRoleKey).(Role)
	return role
}

// ClinicIDFromContext returns the authenticated user's clinic, or uuid.Nil.
func ClinicIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(clinicIDKey).(uuid.UUID)
	return id
}

// WithIdentity returns a context pre-populated with an authenticated
// identity. Intended for tests that exercise handlers without the full
// middleware chain.
func WithIdentity(ctx context.Context, userID uuid.UUID, role Role, clinicID uuid.UUID) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, userRoleKey, role)
	ctx = context.WithValue(ctx, clinicIDKey, clinicID)
	return ctx
}
