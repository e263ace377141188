package api

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
)

func ListKeysHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		keys := sessionFrom(c).Keys()
		if keys == nil {
			keys = []string{}
		}
		return c.JSON(keys)
	}
}

// GetValueHandler returns the stored JSON as-is.
func GetValueHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, ok := sessionFrom(c).GetRaw(c.Params("key"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "Key not found")
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(raw)
	}
}

// PutValueHandler stores the request body, which must be JSON, under the
// key. Other sessions of the origin receive a storage event; the caller's
// own session does not.
func PutValueHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		body := c.Body()
		if !json.Valid(body) {
			return fiber.NewError(fiber.StatusBadRequest, "Value must be valid JSON")
		}

		raw := make(json.RawMessage, len(body))
		copy(raw, body)
		if err := sessionFrom(c).SetRaw(c.Params("key"), raw); err != nil {
			return storageError(err)
		}
		return c.JSON(fiber.Map{"success": true})
	}
}

func DeleteValueHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := sessionFrom(c).Remove(c.Params("key")); err != nil {
			return storageError(err)
		}
		return c.JSON(fiber.Map{"success": true})
	}
}
