package mw

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LocalAuth guards the local consumer API with a static key.
// The key is read from "Authorization: Bearer <key>" or, for EventSource
// clients that cannot set headers, the "api_key" query parameter.
// An empty apiKey disables the check.
func LocalAuth(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if apiKey == "" {
			return next
		}
		return func(c echo.Context) error {
			presented := c.QueryParam("api_key")
			if authHeader := c.Request().Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				presented = strings.TrimPrefix(authHeader, "Bearer ")
			}
			if presented == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing api key")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				log.Warn().Str("path", c.Path()).Str("remote", c.RealIP()).Msg("rejected local api key")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
			}
			return next(c)
		}
	}
}

// RequestLogger writes one zerolog line per request.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			level := zerolog.InfoLevel
			switch {
			case res.Status >= 500:
				level = zerolog.ErrorLevel
			case res.Status >= 400:
				level = zerolog.WarnLevel
			}

			log.WithLevel(level).
				Str("request_id", res.Header().Get(echo.HeaderXRequestID)).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", res.Status).
				Dur("latency", time.Since(start)).
				Msg("http request")
			return nil
		}
	}
}
