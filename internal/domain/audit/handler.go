package audit

import (
	"net/http"

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
	api.GET("/audit/accesses", h.ListMyAccesses, auth.RequireRole(auth.RolePatient))
	api.GET("/audit/activity", h.ListMyActivity, auth.RequireRole(auth.RoleProfessional))
}

// ListMyAccesses is the patient's "who accessed my data" view.
func (h *Handler) ListMyAccesses(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForPatient(c.Request().Context(), uid, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// ListMyActivity shows a professional their own recorded accesses.
func (h *Handler) ListMyActivity(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByActor(c.Request().Context(), uid, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
