package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// AbuseChecker decides whether a caller identity may proceed. A blocked
// identity gets (false, blockedUntil).
type AbuseChecker interface {
	CheckAndStrike(ctx context.Context, identity string) (bool, *time.Time)
}

// AbuseGate rejects requests from blocked caller IPs before any handler
// work runs. Blocked requests get 429 with a Retry-After header.
func AbuseGate(checker AbuseChecker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			allowed, until := checker.CheckAndStrike(c.Request().Context(), c.RealIP())
			if allowed {
				return next(c)
			}

			msg := "temporarily blocked"
			if until != nil {
				retryAfter := int(time.Until(*until).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				msg = "Blocked until " + until.UTC().Format(time.RFC3339)
			}
			return echo.NewHTTPError(http.StatusTooManyRequests, msg)
		}
	}
}
