package api

import (
	"errors"

	"wecare/internal/models"
	"wecare/internal/registry"
	"wecare/internal/reminders"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// patientParam resolves the :id path parameter to a registered patient.
func patientParam(c *fiber.Ctx, reg *registry.Registry) (string, error) {
	id := c.Params("id")
	if _, err := reg.FindPatient(id); err != nil {
		return "", fiber.NewError(fiber.StatusNotFound, "Patient not found")
	}
	return id, nil
}

// knownRepeat reports whether r is empty or a recurrence policy the
// reminders service understands.
func knownRepeat(r models.Repeat) bool {
	return r == "" || r == models.RepeatNone || r.Period() > 0
}

func reminderError(err error) error {
	if errors.Is(err, reminders.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "Reminder not found")
	}
	return storageError(err)
}

func ListRemindersHandler(reg *registry.Registry, svc *reminders.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		patientID, err := patientParam(c, reg)
		if err != nil {
			return err
		}
		return c.JSON(svc.List(patientID))
	}
}

func CreateReminderHandler(reg *registry.Registry, svc *reminders.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		patientID, err := patientParam(c, reg)
		if err != nil {
			return err
		}

		var req models.CreateReminderRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if !knownRepeat(req.Repeat) {
			return fiber.NewError(fiber.StatusBadRequest, "Repeat must be none, daily or weekly")
		}

		reminder, err := svc.Create(patientID, req)
		if err != nil {
			return reminderError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(reminder)
	}
}

func UpdateReminderHandler(reg *registry.Registry, svc *reminders.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		patientID, err := patientParam(c, reg)
		if err != nil {
			return err
		}

		var req models.UpdateReminderRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if req.Time != nil && *req.Time <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Time must be positive")
		}
		if req.Repeat != nil && !knownRepeat(*req.Repeat) {
			return fiber.NewError(fiber.StatusBadRequest, "Repeat must be none, daily or weekly")
		}

		reminder, err := svc.Update(patientID, c.Params("rid"), req)
		if err != nil {
			return reminderError(err)
		}
		return c.JSON(reminder)
	}
}

func DeleteReminderHandler(reg *registry.Registry, svc *reminders.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		patientID, err := patientParam(c, reg)
		if err != nil {
			return err
		}

		if err := svc.Delete(patientID, c.Params("rid")); err != nil {
			return reminderError(err)
		}
		return c.JSON(fiber.Map{"success": true})
	}
}

func ArmRemindersHandler(reg *registry.Registry, svc *reminders.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		patientID, err := patientParam(c, reg)
		if err != nil {
			return err
		}
		svc.Arm(patientID)
		return c.JSON(fiber.Map{"pending": svc.Pending(patientID)})
	}
}

func DisarmRemindersHandler(reg *registry.Registry, svc *reminders.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		patientID, err := patientParam(c, reg)
		if err != nil {
			return err
		}
		svc.Disarm(patientID)
		return c.JSON(fiber.Map{"success": true})
	}
}

func PendingRemindersHandler(reg *registry.Registry, svc *reminders.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		patientID, err := patientParam(c, reg)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"pending": svc.Pending(patientID)})
	}
}

func DemoReminderHandler(reg *registry.Registry, svc *reminders.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		patientID, err := patientParam(c, reg)
		if err != nil {
			return err
		}

		reminder, err := svc.SeedDemo(patientID)
		if err != nil {
			return reminderError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(reminder)
	}
}
