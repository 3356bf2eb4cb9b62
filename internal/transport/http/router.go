package http

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"vn.io.arda/notification-agent/internal/transport/mw"
)

// NewRouter sets up all Echo routes and middleware. metrics may be nil.
func NewRouter(h *Handler, apiKey string, metrics http.Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(mw.RequestLogger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
	}))

	// Health and metrics (no auth required)
	e.GET("/health", h.Health)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}

	api := e.Group("")
	api.Use(mw.LocalAuth(apiKey))

	// REST endpoints
	api.GET("/notifications", h.ListNotifications)
	api.GET("/notifications/unread-count", h.GetUnreadCount)
	api.PATCH("/notifications/:id/read", h.MarkRead)
	api.POST("/notifications/read-all", h.MarkAllRead)
	api.POST("/notifications/refetch", h.Refetch)
	api.DELETE("/notifications", h.Clear)
	api.POST("/connection/refresh", h.RefreshConnection)

	// SSE endpoint
	api.GET("/notifications/stream", h.Stream)

	return e
}
