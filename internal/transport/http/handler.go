package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"vn.io.arda/notification-agent/internal/application"
	"vn.io.arda/notification-agent/internal/domain"
)

// Handler holds all HTTP handler methods of the local consumer API.
type Handler struct {
	svc *application.Service
	hub *Hub
}

// NewHandler creates a new Handler.
func NewHandler(svc *application.Service, hub *Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// --- REST Handlers ---

// ListNotifications GET /notifications
func (h *Handler) ListNotifications(c echo.Context) error {
	view := h.svc.Snapshot()

	if cat := c.QueryParam("category"); cat != "" {
		want := domain.ParseCategory(cat)
		view.Notifications = filter(view.Notifications, func(n domain.Notification) bool { return n.Category == want })
	}
	if r := c.QueryParam("is_read"); r != "" {
		isRead := r == "true"
		view.Notifications = filter(view.Notifications, func(n domain.Notification) bool { return n.IsRead == isRead })
	}
	return c.JSON(http.StatusOK, view)
}

// GetUnreadCount GET /notifications/unread-count
func (h *Handler) GetUnreadCount(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{"count": h.svc.UnreadCount()})
}

// MarkRead PATCH /notifications/:id/read
// 200 when the backend confirmed, 202 when only the local state changed.
func (h *Handler) MarkRead(c echo.Context) error {
	res, err := h.svc.MarkAsRead(c.Request().Context(), c.Param("id"))
	if errors.Is(err, application.ErrInvalidID) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(markStatus(res, err), res)
}

// MarkAllRead POST /notifications/read-all
// Same status policy as MarkRead.
func (h *Handler) MarkAllRead(c echo.Context) error {
	res, err := h.svc.MarkAllAsRead(c.Request().Context())
	return c.JSON(markStatus(res, err), res)
}

// Clear DELETE /notifications
func (h *Handler) Clear(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{"removed": h.svc.ClearNotifications()})
}

// Refetch POST /notifications/refetch
func (h *Handler) Refetch(c echo.Context) error {
	params := application.PageParams{
		Page:  parseIntQuery(c, "page", 1),
		Limit: parseIntQuery(c, "limit", 0),
	}
	page, err := h.svc.FetchPage(c.Request().Context(), params)
	if err != nil {
		log.Warn().Err(err).Int("page", params.Page).Msg("refetch notifications failed")
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"received":     len(page.Notifications),
		"page":         page.Page,
		"limit":        page.Limit,
		"total":        page.Total,
		"unread_count": h.svc.UnreadCount(),
	})
}

// RefreshConnection POST /connection/refresh
func (h *Handler) RefreshConnection(c echo.Context) error {
	h.svc.RefreshConnection()
	return c.NoContent(http.StatusAccepted)
}

// --- SSE Handler ---

// Stream GET /notifications/stream
func (h *Handler) Stream(c echo.Context) error {
	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sendCh := make(chan []byte, 32)
	client := h.hub.Register(sendCh)
	defer h.hub.Unregister(client)

	// Registered first so no change is lost between the snapshot and the stream.
	initial, err := buildSSEMessage(EventSnapshot, h.svc.Snapshot())
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(initial); err != nil {
		return nil
	}
	w.Flush()

	log.Info().Int("client", client.id).Msg("SSE stream opened")

	ctx := c.Request().Context()
	for {
		select {
		case msg := <-sendCh:
			if _, err := w.Write(msg); err != nil {
				return nil
			}
			w.Flush()

		case <-ctx.Done():
			log.Info().Int("client", client.id).Msg("SSE stream closed by client")
			return nil
		}
	}
}

// --- Healthcheck ---

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "ok",
		"is_connected": h.svc.IsConnected(),
		"sse_clients":  h.hub.ConnectedCount(),
	})
}

// --- Helpers ---

// markStatus maps a mark result onto 200 (confirmed) or 202 (local only).
// A confirmation failure is already carried in res.Error.
func markStatus(res application.MarkResult, err error) int {
	if err != nil || !res.Confirmed {
		return http.StatusAccepted
	}
	return http.StatusOK
}

func parseIntQuery(c echo.Context, key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(c.QueryParam(key)))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func filter(ns []domain.Notification, keep func(domain.Notification) bool) []domain.Notification {
	out := make([]domain.Notification, 0, len(ns))
	for _, n := range ns {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}
