package api

import (
	"database/sql"

	"wecare/internal/models"
	"wecare/internal/notify"
	"wecare/internal/registry"

	"github.com/gofiber/fiber/v2"
)

// VapidPublicKeyHandler returns the VAPID public key for client subscription
func VapidPublicKeyHandler(push *notify.WebPush) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !push.Configured() {
			return fiber.NewError(fiber.StatusServiceUnavailable, "Push notifications not configured")
		}
		return c.JSON(fiber.Map{
			"publicKey": push.PublicKey(),
		})
	}
}

func SubscribePushHandler(db *sql.DB, reg *registry.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var sub models.PushSubscription
		if err := c.BodyParser(&sub); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		if sub.PatientID == "" || sub.Endpoint == "" || sub.P256dh == "" || sub.Auth == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Missing subscription fields")
		}
		if _, err := reg.FindPatient(sub.PatientID); err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Patient not found")
		}

		if err := notify.SaveSubscription(c.UserContext(), db, sub); err != nil {
			return err
		}

		return c.JSON(fiber.Map{"success": true})
	}
}

func UnsubscribePushHandler(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body struct {
			PatientID string `json:"patient_id"`
			Endpoint  string `json:"endpoint"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		removed, err := notify.DeleteSubscription(c.UserContext(), db, body.PatientID, body.Endpoint)
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{"success": true, "removed": removed})
	}
}

// TestPushHandler sends a sample notification to the patient's devices.
func TestPushHandler(reg *registry.Registry, push *notify.WebPush) fiber.Handler {
	return func(c *fiber.Ctx) error {
		patientID := c.Params("id")
		if _, err := reg.FindPatient(patientID); err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Patient not found")
		}
		if !push.Configured() {
			return fiber.NewError(fiber.StatusServiceUnavailable, "Push notifications not configured. Set VAPID_PUBLIC_KEY, VAPID_PRIVATE_KEY, and VAPID_SUBJECT environment variables.")
		}

		payload := notify.Payload{
			Title: "WeCare test notification",
			Body:  "Reminders for this patient will arrive here",
			Tag:   "wecare-test",
		}
		if err := push.Notify(c.UserContext(), patientID, payload); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Failed to send test notification: "+err.Error())
		}

		return c.JSON(fiber.Map{
			"success": true,
			"message": "Test notification sent",
		})
	}
}
