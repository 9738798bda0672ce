package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"

	"github.com/dukex/refreshd/pkg/log"
	"github.com/dukex/refreshd/pkg/sessions"
	"github.com/gofiber/fiber/v3"
)

const (
	// SessionCookie carries the session token issued by the authentication service.
	SessionCookie = "session"
	// SessionHeader is accepted instead of the cookie for non-browser clients.
	SessionHeader = "X-Session-Token"

	ownerLocal  = "refreshd.owner"
	loggerLocal = "refreshd.logger"
)

// RequestLogger attaches a request scoped logger to every request.
func RequestLogger(logger *slog.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Locals(loggerLocal, logger.With("method", c.Method(), "path", c.Path()))

		return c.Next()
	}
}

// RequireSession resolves the caller's session to an owner id or answers 401.
func RequireSession(store sessions.Store) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := c.Cookies(SessionCookie)
		if token == "" {
			token = c.Get(SessionHeader)
		}

		if token == "" {
			return unauthorized(c, "session required")
		}

		ownerID, err := store.Resolve(c.Context(), token)
		if err != nil {
			if !errors.Is(err, sessions.ErrSessionNotFound) {
				requestLogger(c).ErrorContext(c.Context(), "Failed to resolve session", "error", err)
			}

			return unauthorized(c, "invalid session")
		}

		c.Locals(ownerLocal, ownerID)

		return c.Next()
	}
}

// RequireBearer admits requests carrying "Authorization: Bearer <secret>".
// An empty secret rejects everything.
func RequireBearer(secret string) fiber.Handler {
	return func(c fiber.Ctx) error {
		token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			return unauthorized(c, "invalid scheduler token")
		}

		return c.Next()
	}
}

func requestLogger(c fiber.Ctx) *slog.Logger {
	if logger, ok := c.Locals(loggerLocal).(*slog.Logger); ok {
		return logger
	}

	return slog.Default()
}

// requestContext is the context handed to services, carrying the request logger.
func requestContext(c fiber.Ctx) context.Context {
	return log.WithLogger(c.Context(), requestLogger(c))
}

func ownerID(c fiber.Ctx) string {
	owner, _ := c.Locals(ownerLocal).(string)

	return owner
}
