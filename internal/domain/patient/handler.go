package patient

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vitalia/portal/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/me", h.MyProfile, auth.RequireRole(auth.RolePatient))
	api.PATCH("/patients/me", h.UpdateMyContact, auth.RequireRole(auth.RolePatient))

	pro := api.Group("/patients", auth.RequireRole(auth.RoleProfessional))
	pro.POST("/resolve", h.Resolve)
	pro.POST("/select", h.Select)
	pro.GET("/context", h.Context)
	pro.GET("/:id", h.GetProfile)
	pro.POST("/:id/enrich-clinical", h.EnrichClinical)
}

func (h *Handler) MyProfile(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	p, err := h.svc.GetProfile(c.Request().Context(), uid)
	if err != nil {
		return profileError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type updateContactRequest struct {
	Phone *string `json:"phone"`
}

func (h *Handler) UpdateMyContact(c echo.Context) error {
	var req updateContactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	p, err := h.svc.UpdateContact(c.Request().Context(), uid, req.Phone)
	if err != nil {
		return profileError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type resolveRequest struct {
	DocumentNumber string `json:"document_number"`
	DocumentType   string `json:"document_type,omitempty"`
}

// Resolve runs the cascade search.
func (h *Handler) Resolve(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	res, err := h.svc.Resolve(c.Request().Context(), uid, req.DocumentNumber, req.DocumentType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

type selectRequest struct {
	PatientID string `json:"patient_id"`
}

// Select pins a resolved patient as the professional's working context.
func (h *Handler) Select(c echo.Context) error {
	var req selectRequest
	if err := c.Bind(&req); err != nil || req.PatientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	pc, err := h.svc.Select(c.Request().Context(), uid, req.PatientID)
	if err != nil {
		return profileError(err)
	}
	return c.JSON(http.StatusOK, pc)
}

func (h *Handler) Context(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	pc, err := h.svc.CurrentContext(c.Request().Context(), uid)
	if err != nil {
		return profileError(err)
	}
	return c.JSON(http.StatusOK, pc)
}

func (h *Handler) GetProfile(c echo.Context) error {
	p, err := h.svc.GetProfile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return profileError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) EnrichClinical(c echo.Context) error {
	p, err := h.svc.EnrichClinical(c.Request().Context(), c.Param("id"))
	if err != nil {
		return profileError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func profileError(err error) *echo.HTTPError {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
