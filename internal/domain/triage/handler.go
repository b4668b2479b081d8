package triage

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careloop/careloop/internal/domain/ticket"
	"github.com/careloop/careloop/internal/platform/auth"
	"github.com/careloop/careloop/internal/platform/websocket"
)

// Handler exposes the patient message pipeline and the realtime topics.
type Handler struct {
	svc *Service
	hub *websocket.Hub
}

func NewHandler(svc *Service, hub *websocket.Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// RegisterRoutes mounts the message endpoints. The patient group must be
// patient-guarded and the clinician group clinician-guarded by the caller.
func (h *Handler) RegisterRoutes(patient, clin *echo.Group) {
	patient.GET("/thread", h.GetThread)
	patient.GET("/messages", h.GetMessages)
	patient.POST("/message", h.PostMessage)
	patient.POST("/message_audio", h.PostMessageAudio)
	clin.POST("/reply", h.PostClinicianReply)
}

// RegisterWS mounts the websocket endpoints on an authenticated group.
// Role and ownership checks happen per connection because the same group
// serves both patient and clinician topics.
func (h *Handler) RegisterWS(ws *echo.Group) {
	ws.GET("/thread/:id", h.ServeThreadWS)
	ws.GET("/clinic/:id", h.ServeClinicWS)
}

func (h *Handler) GetThread(c echo.Context) error {
	ctx := c.Request().Context()
	th, err := h.svc.Thread(ctx, auth.UserIDFromContext(ctx), auth.ClinicIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "thread lookup failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"thread_id": th.ID,
		"clinic_id": th.ClinicID,
	})
}

func (h *Handler) GetMessages(c echo.Context) error {
	ctx := c.Request().Context()
	msgs, profile, err := h.svc.Messages(ctx, auth.UserIDFromContext(ctx), auth.ClinicIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "message listing failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"messages": msgs,
		"profile":  profile,
	})
}

type postMessageRequest struct {
	Text string `json:"text"`
}

func (h *Handler) PostMessage(c echo.Context) error {
	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	res, err := h.svc.HandleMessage(ctx, auth.UserIDFromContext(ctx), auth.ClinicIDFromContext(ctx), req.Text)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "message handling failed")
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) PostMessageAudio(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing audio file")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable audio file")
	}
	defer f.Close()
	audio, err := io.ReadAll(f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable audio file")
	}

	ctx := c.Request().Context()
	res, err := h.svc.HandleAudio(ctx, auth.UserIDFromContext(ctx), auth.ClinicIDFromContext(ctx), audio, fh.Header.Get(echo.HeaderContentType))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "audio handling failed")
	}
	return c.JSON(http.StatusOK, res)
}

type clinicianReplyRequest struct {
	TicketID uuid.UUID `json:"ticket_id"`
	Text     string    `json:"text"`
}

func (h *Handler) PostClinicianReply(c echo.Context) error {
	var req clinicianReplyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	err := h.svc.HandleClinicianReply(ctx, auth.UserIDFromContext(ctx), auth.ClinicIDFromContext(ctx), req.TicketID, req.Text)
	if errors.Is(err, ticket.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "ticket not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "reply handling failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

// ServeThreadWS joins a patient to their own thread topic.
func (h *Handler) ServeThreadWS(c echo.Context) error {
	ctx := c.Request().Context()
	if auth.RoleFromContext(ctx) != auth.RolePatient {
		return echo.NewHTTPError(http.StatusForbidden, "patient only")
	}
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid thread id")
	}
	owns, err := h.svc.OwnsThread(ctx, auth.UserIDFromContext(ctx), auth.ClinicIDFromContext(ctx), threadID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "thread lookup failed")
	}
	if !owns {
		return echo.NewHTTPError(http.StatusForbidden, "not your thread")
	}
	return h.hub.Serve(c, websocket.ThreadTopic(threadID))
}

// ServeClinicWS joins a clinician to their clinic's ticket topic.
func (h *Handler) ServeClinicWS(c echo.Context) error {
	ctx := c.Request().Context()
	clinicID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}
	if auth.RoleFromContext(ctx) != auth.RoleClinician || auth.ClinicIDFromContext(ctx) != clinicID {
		return echo.NewHTTPError(http.StatusForbidden, "clinician only")
	}
	return h.hub.Serve(c, websocket.ClinicTopic(clinicID))
}
