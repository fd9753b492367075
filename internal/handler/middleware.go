package handler

import (
	"log/slog"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/loomtrack/issues/internal/auth"
	"github.com/loomtrack/issues/internal/domain"
)

// RequestLogger logs each HTTP request with structured fields.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			slog.Info("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)

			return err
		}
	}
}

// RequirePermission validates the Bearer token and checks that the caller
// holds at least one of the listed permissions. The verified identity is
// attached to the request context for the lifetime of the request.
func RequirePermission(verifier *auth.TokenVerifier, permissions ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return domain.ErrUnauthorized
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				return domain.ErrUnauthorized
			}

			identity, err := verifier.Verify(parts[1])
			if err != nil {
				return domain.ErrUnauthorized
			}

			if len(permissions) > 0 && !identity.HasAny(permissions...) {
				return domain.ErrForbidden
			}

			req := c.Request()
			c.SetRequest(req.WithContext(auth.WithIdentity(req.Context(), identity)))
			return next(c)
		}
	}
}
