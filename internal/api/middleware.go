package api

import (
	"errors"
	"strings"

	"wecare/internal/kvstore"

	"github.com/gofiber/fiber/v2"
)

const localSession = "session"

// SessionMiddleware attaches the caller's browsing-context session.
func SessionMiddleware(sessions *Sessions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Missing authorization header")
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid authorization header format")
		}

		sess, err := sessions.Resolve(parts[1])
		if errors.Is(err, ErrSessionExpired) {
			return fiber.NewError(fiber.StatusUnauthorized, "Session expired")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
		}

		c.Locals(localSession, sess)
		c.Locals("sessionID", sess.ID())

		return c.Next()
	}
}

func sessionFrom(c *fiber.Ctx) *kvstore.Session {
	return c.Locals(localSession).(*kvstore.Session)
}

// ErrorHandler renders every error as {"error": message}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// storageError maps key/value store failures to HTTP errors.
func storageError(err error) error {
	switch {
	case errors.Is(err, kvstore.ErrQuotaExceeded):
		return fiber.NewError(fiber.StatusInsufficientStorage, "Storage quota exceeded")
	case errors.Is(err, kvstore.ErrUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, "Storage unavailable")
	case errors.Is(err, kvstore.ErrClosed):
		return fiber.NewError(fiber.StatusUnauthorized, "Session expired")
	default:
		return err
	}
}
