package document

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vitalia/portal/internal/platform/auth"
	"github.com/vitalia/portal/internal/platform/blobstore"
	"github.com/vitalia/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/documents", auth.RequireRole(auth.RolePatient))
	g.POST("", h.Upload)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/download", h.Download)
	g.DELETE("/:id", h.Delete)
}

// Upload accepts a multipart form: file plus title, category and the
// optional verification fields.
func (h *Handler) Upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if fh.Size > blobstore.MaxFileSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable upload")
	}
	defer f.Close()

	var contentText *string
	if v := c.FormValue("content_text"); v != "" {
		contentText = &v
	}
	d, err := h.svc.Upload(c.Request().Context(), UploadRequest{
		PatientID:              auth.UserIDFromContext(c.Request().Context()),
		Title:                  c.FormValue("title"),
		Category:               c.FormValue("category"),
		FileName:               fh.Filename,
		ContentType:            fh.Header.Get("Content-Type"),
		Content:                f,
		DeclaredDocumentNumber: c.FormValue("document_number"),
		ContentText:            contentText,
		NotifyEmail:            c.FormValue("notify_email"),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) List(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), uid, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid document id")
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	d, err := h.svc.Get(c.Request().Context(), uid, id)
	if err != nil {
		return documentError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Download(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid document id")
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	rc, fileName, contentType, err := h.svc.Open(c.Request().Context(), uid, id)
	if err != nil {
		return documentError(err)
	}
	defer rc.Close()
	c.Response().Header().Set("Content-Disposition", `attachment; filename="`+fileName+`"`)
	return c.Stream(http.StatusOK, contentType, rc)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid document id")
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.Delete(c.Request().Context(), uid, id); err != nil {
		return documentError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func documentError(err error) *echo.HTTPError {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
