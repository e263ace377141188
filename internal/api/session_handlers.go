package api

import (
	"wecare/internal/models"

	"github.com/gofiber/fiber/v2"
)

func OpenSessionHandler(sessions *Sessions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, token, err := sessions.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Failed to open session")
		}

		return c.Status(fiber.StatusCreated).JSON(models.SessionResponse{
			SessionID: sess.ID(),
			Token:     token,
			Origin:    sess.Origin(),
		})
	}
}

func CloseSessionHandler(sessions *Sessions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessions.Close(sessionFrom(c).ID())
		return c.JSON(fiber.Map{"success": true})
	}
}
