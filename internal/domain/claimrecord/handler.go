package claimrecord

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/claimsense/claimsense/internal/platform/api"
	"github.com/claimsense/claimsense/internal/platform/jsonstore"
	"github.com/claimsense/claimsense/pkg/pagination"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/claims/list", h.List)
	api.GET("/claims/:id", h.Get)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	return api.OK(c, http.StatusOK, pagination.Page(h.store.List(), pg))
}

func (h *Handler) Get(c echo.Context) error {
	r, err := h.store.Get(c.Param("id"))
	if errors.Is(err, jsonstore.ErrNotFound) {
		return api.Fail(http.StatusNotFound, api.CodeNotFound, "claim not found")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(c, http.StatusOK, r)
}
