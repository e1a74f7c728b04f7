package notes

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/claimsense/claimsense/internal/platform/api"
	"github.com/claimsense/claimsense/internal/platform/jsonstore"
	"github.com/claimsense/claimsense/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/notes/upload", h.Upload)
	api.GET("/notes/list", h.List)
	api.GET("/notes/:id", h.Get)
}

func (h *Handler) Upload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return api.Fail(http.StatusRequestEntityTooLarge, CodeFileTooLarge, "File exceeds the upload limit")
		}
		return api.Fail(http.StatusBadRequest, CodeNoFile, "No file uploaded")
	}
	if file.Size > h.svc.MaxBytes() {
		return api.Fail(http.StatusRequestEntityTooLarge, CodeFileTooLarge, "File exceeds the upload limit")
	}

	src, err := file.Open()
	if err != nil {
		return api.Internal(err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.svc.MaxBytes()+1))
	if err != nil {
		return api.Internal(err)
	}

	note, err := h.svc.Upload(file.Filename, data)
	if err != nil {
		var ue *UploadError
		if errors.As(err, &ue) {
			status := http.StatusBadRequest
			if ue.Code == CodeFileTooLarge {
				status = http.StatusRequestEntityTooLarge
			}
			return api.Fail(status, ue.Code, ue.Message)
		}
		return api.Internal(err)
	}
	return api.OK(c, http.StatusOK, note)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	return api.OK(c, http.StatusOK, pagination.Page(h.svc.List(), pg))
}

func (h *Handler) Get(c echo.Context) error {
	note, err := h.svc.Get(c.Param("id"))
	if errors.Is(err, jsonstore.ErrNotFound) {
		return api.Fail(http.StatusNotFound, api.CodeNotFound, "note not found")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(c, http.StatusOK, note)
}
