package audit

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/claimsense/claimsense/internal/platform/api"
	"github.com/claimsense/claimsense/pkg/pagination"
)

type Handler struct {
	log *Log
}

func NewHandler(log *Log) *Handler {
	return &Handler{log: log}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/log_action", h.LogAction)
	g.GET("/logs", h.ListLogs)
}

type logActionRequest struct {
	Action  string         `json:"action"`
	ClaimID string         `json:"claim_id"`
	NoteID  string         `json:"note_id"`
	Details map[string]any `json:"details"`
	Actor   Actor          `json:"actor"`
}

func (h *Handler) LogAction(c echo.Context) error {
	var req logActionRequest
	if err := c.Bind(&req); err != nil {
		return api.Fail(http.StatusBadRequest, api.CodeInvalidInput, "Invalid JSON body")
	}
	entry, err := h.log.Record(Entry{
		Action:  req.Action,
		ClaimID: req.ClaimID,
		NoteID:  req.NoteID,
		Details: req.Details,
		Actor:   req.Actor,
	})
	if errors.Is(err, ErrInvalid) {
		return api.Fail(http.StatusBadRequest, api.CodeInvalidInput, err.Error())
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(c, http.StatusOK, entry)
}

func (h *Handler) ListLogs(c echo.Context) error {
	pg := pagination.FromContext(c)
	return api.OK(c, http.StatusOK, pagination.Page(h.log.Recent(), pg))
}
