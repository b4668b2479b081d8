package ticket

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careloop/careloop/internal/platform/auth"
)

// Handler exposes the clinician ticket queue.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the ticket endpoints on an already clinician-guarded
// group.
func (h *Handler) RegisterRoutes(clin *echo.Group) {
	clin.GET("/tickets", h.ListOpen)
}

func (h *Handler) ListOpen(c echo.Context) error {
	clinicID := auth.ClinicIDFromContext(c.Request().Context())
	if clinicID == uuid.Nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing clinic")
	}
	tickets, err := h.svc.ListOpen(c.Request().Context(), clinicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "list tickets failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tickets":   tickets,
		"clinic_id": clinicID,
	})
}
