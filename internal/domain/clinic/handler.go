package clinic

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vitalia/portal/internal/platform/auth"
	"github.com/vitalia/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/clinics", auth.RequireRole(auth.RoleClinicAdmin))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/members", h.ListMembers)
	g.POST("/:id/members", h.AddMember)
	g.DELETE("/:id/members/:userID", h.RemoveMember)
	g.POST("/:id/bulk-upload", h.BulkUpload)
}

type createRequest struct {
	Name string  `json:"name"`
	City *string `json:"city,omitempty"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cl, err := h.svc.Create(c.Request().Context(), req.Name, req.City)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}
	cl, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return clinicError(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ListMembers(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMembers(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return clinicError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *Handler) AddMember(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}
	var req addMemberRequest
	if err := c.Bind(&req); err != nil || req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id and role are required")
	}
	if err := h.svc.AddMember(c.Request().Context(), id, req.UserID, req.Role); err != nil {
		if errors.Is(err, ErrNotFound) {
			return clinicError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RemoveMember(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}
	if err := h.svc.RemoveMember(c.Request().Context(), id, c.Param("userID")); err != nil {
		return clinicError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// BulkUpload accepts the roster either as a multipart "file" field or as the
// raw request body.
func (h *Handler) BulkUpload(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}

	reader := c.Request().Body
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable upload")
		}
		defer f.Close()
		reader = f
	}

	result, err := h.svc.BulkUpload(c.Request().Context(), id, reader)
	if err != nil {
		return clinicError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func clinicError(err error) *echo.HTTPError {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "clinic not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
