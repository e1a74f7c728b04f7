package processing

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/claimsense/claimsense/internal/platform/api"
)

// CodeUnavailable is returned when the processor has been stopped.
const CodeUnavailable = "PROCESSOR_UNAVAILABLE"

type Handler struct {
	proc *Processor
}

func NewHandler(proc *Processor) *Handler {
	return &Handler{proc: proc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/processor/status", h.Status)
	api.POST("/processor/init", h.Init)
}

func (h *Handler) Status(c echo.Context) error {
	return api.OK(c, http.StatusOK, h.proc.Status())
}

// Init starts the processor if it is not running yet and returns its status.
func (h *Handler) Init(c echo.Context) error {
	if err := h.proc.Start(c.Request().Context()); err != nil {
		return api.Fail(http.StatusServiceUnavailable, CodeUnavailable, err.Error())
	}
	return api.OK(c, http.StatusOK, h.proc.Status())
}
