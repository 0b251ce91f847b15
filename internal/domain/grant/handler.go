package grant

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/vitalia/portal/internal/platform/auth"
)

// DownloadSource streams one of the patient's document payloads.
type DownloadSource interface {
	Open(ctx context.Context, patientID string, docID uuid.UUID) (io.ReadCloser, string, string, error)
}

type Handler struct {
	svc       *Service
	downloads DownloadSource
}

func NewHandler(svc *Service, downloads DownloadSource) *Handler {
	return &Handler{svc: svc, downloads: downloads}
}

// RegisterRoutes mounts the owner-facing grant management endpoints.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/grants", auth.RequireRole(auth.RolePatient))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:token/qr", h.QR)
	g.DELETE("/:token", h.Revoke)
}

// RegisterGuestRoutes mounts the unauthenticated guest endpoints. The token
// in the path is the only credential.
func (h *Handler) RegisterGuestRoutes(root *echo.Group) {
	g := root.Group("/guest")
	g.GET("/:token", h.GuestView)
	g.GET("/:token/documents/:id/download", h.GuestDownload)
}

type createRequest struct {
	DurationMinutes int    `json:"duration_minutes"`
	AllowDownload   bool   `json:"allow_download"`
	AllowChat       bool   `json:"allow_chat"`
	AllowNotebook   bool   `json:"allow_notebook"`
	NotifyEmail     string `json:"notify_email,omitempty"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	share, err := h.svc.Create(c.Request().Context(), uid, req.DurationMinutes, Permissions{
		AllowDownload: req.AllowDownload,
		AllowChat:     req.AllowChat,
		AllowNotebook: req.AllowNotebook,
	}, req.NotifyEmail)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, share)
}

func (h *Handler) List(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	shares, err := h.svc.List(c.Request().Context(), uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"grants": shares})
}

// QR renders the share URL as a PNG. Owner-only.
func (h *Handler) QR(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	token := c.Param("token")
	g, err := h.svc.repo.GetByToken(c.Request().Context(), token)
	if err != nil || g.PatientID != uid {
		return echo.NewHTTPError(http.StatusNotFound, "grant not found")
	}
	png, err := qrcode.Encode(h.svc.ShareURL(token), qrcode.Medium, 256)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "qr encoding failed")
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

func (h *Handler) Revoke(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	err := h.svc.Revoke(c.Request().Context(), uid, c.Param("token"))
	if err != nil {
		return guestError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GuestView validates the token for viewing and returns the shared record.
func (h *Handler) GuestView(c echo.Context) error {
	view, err := h.svc.Validate(c.Request().Context(), c.Param("token"), ActionView)
	if err != nil {
		return guestError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// GuestDownload re-validates the token with the download action, then streams
// the document payload.
func (h *Handler) GuestDownload(c echo.Context) error {
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid document id")
	}
	view, err := h.svc.Validate(c.Request().Context(), c.Param("token"), ActionDownload)
	if err != nil {
		return guestError(err)
	}
	rc, fileName, contentType, err := h.downloads.Open(c.Request().Context(), view.Profile.UserID, docID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	defer rc.Close()
	c.Response().Header().Set("Content-Disposition", `attachment; filename="`+fileName+`"`)
	return c.Stream(http.StatusOK, contentType, rc)
}

// guestError maps the grant failure taxonomy to distinct HTTP statuses. The
// guest UX is allowed to know which check failed.
func guestError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "NOT_FOUND")
	case errors.Is(err, ErrExpired):
		return echo.NewHTTPError(http.StatusGone, "EXPIRED")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "FORBIDDEN")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
