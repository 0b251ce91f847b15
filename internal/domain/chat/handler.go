package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vitalia/portal/internal/domain/grant"
	"github.com/vitalia/portal/internal/platform/aigateway"
	"github.com/vitalia/portal/internal/platform/auth"
	"github.com/vitalia/portal/pkg/pagination"
)

// GuestAccess re-derives a guest's chat permission from the share token.
type GuestAccess interface {
	CheckChatAccess(ctx context.Context, token string) (patientID string, err error)
}

type Handler struct {
	svc    *Service
	guests GuestAccess
}

func NewHandler(svc *Service, guests GuestAccess) *Handler {
	return &Handler{svc: svc, guests: guests}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/chat", auth.RequireRole(auth.RolePatient))
	g.POST("/stream", h.StreamMessage)
	g.POST("/suggestions", h.Suggestions)

	conv := api.Group("/conversations", auth.RequireRole(auth.RolePatient))
	conv.GET("", h.ListConversations)
	conv.GET("/:id", h.GetConversation)
	conv.PATCH("/:id", h.Rename)
	conv.DELETE("/:id", h.DeleteConversation)
}

// RegisterGuestRoutes mounts the unauthenticated guest chat endpoint.
func (h *Handler) RegisterGuestRoutes(root *echo.Group) {
	root.POST("/guest/:token/chat", h.GuestStream)
}

type streamRequest struct {
	Message        string     `json:"message"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
}

// StreamMessage answers one user message as an SSE stream. The response
// headers carry the conversation id so a lazily created conversation is
// addressable by the client.
func (h *Handler) StreamMessage(c echo.Context) error {
	var req streamRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	stream, err := h.svc.SendMessage(c.Request().Context(), uid, req.ConversationID, req.Message)
	if err != nil {
		return chatError(err)
	}
	defer stream.Cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("X-Conversation-Id", stream.ConversationID.String())
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case line, ok := <-stream.Lines:
			if !ok {
				return nil
			}
			fmt.Fprintf(resp, "data: %s\n\n", line)
			resp.Flush()
		case <-ctx.Done():
			// Client gone; persistence keeps running server-side.
			return nil
		}
	}
}

type guestStreamRequest struct {
	Message string              `json:"message"`
	History []aigateway.Message `json:"history,omitempty"`
}

// GuestStream is the ephemeral guest variant: permission comes from the share
// token, the transcript from the request body, and nothing is persisted.
func (h *Handler) GuestStream(c echo.Context) error {
	var req guestStreamRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	patientID, err := h.guests.CheckChatAccess(c.Request().Context(), c.Param("token"))
	if err != nil {
		return guestAccessError(err)
	}
	body, err := h.svc.GuestStream(c.Request().Context(), patientID, req.History, req.Message)
	if err != nil {
		return chatError(err)
	}
	defer body.Close()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.WriteHeader(http.StatusOK)

	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := resp.Write(buf[:n]); err != nil {
				return nil
			}
			resp.Flush()
		}
		if readErr != nil {
			return nil
		}
	}
}

type suggestionsRequest struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

func (h *Handler) Suggestions(c echo.Context) error {
	var req suggestionsRequest
	if err := c.Bind(&req); err != nil || req.ConversationID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_id is required")
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	suggestions, err := h.svc.Suggestions(c.Request().Context(), uid, req.ConversationID)
	if err != nil {
		return chatError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"suggestions": suggestions})
}

func (h *Handler) ListConversations(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListConversations(c.Request().Context(), uid, pg.Limit, pg.Offset)
	if err != nil {
		return chatError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetConversation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	conv, msgs, err := h.svc.GetConversation(c.Request().Context(), uid, id)
	if err != nil {
		return chatError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     msgs,
	})
}

type renameRequest struct {
	Title string `json:"title"`
}

func (h *Handler) Rename(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}
	var req renameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.Rename(c.Request().Context(), uid, id, req.Title); err != nil {
		return chatError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteConversation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.DeleteConversation(c.Request().Context(), uid, id); err != nil {
		return chatError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// guestAccessError keeps the grant failure taxonomy distinguishable, same as
// the other guest endpoints.
func guestAccessError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, grant.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "NOT_FOUND")
	case errors.Is(err, grant.ErrExpired):
		return echo.NewHTTPError(http.StatusGone, "EXPIRED")
	case errors.Is(err, grant.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "FORBIDDEN")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// chatError keeps the gateway failure taxonomy visible to the client: the UI
// words 401, 402 and 429 differently.
func chatError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	case errors.Is(err, aigateway.ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, "assistant authentication failed")
	case errors.Is(err, aigateway.ErrPaymentRequired):
		return echo.NewHTTPError(http.StatusPaymentRequired, "assistant credits exhausted")
	case errors.Is(err, aigateway.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, "assistant rate limited")
	case errors.Is(err, aigateway.ErrGateway):
		return echo.NewHTTPError(http.StatusBadGateway, "assistant unavailable")
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
