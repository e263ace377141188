package api

import (
	"errors"

	"wecare/internal/models"
	"wecare/internal/registry"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

func registryError(err error) error {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs), errors.Is(err, registry.ErrPasswordRequired):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Not found")
	case errors.Is(err, registry.ErrAlreadyExists):
		return fiber.NewError(fiber.StatusConflict, "Already exists")
	case errors.Is(err, registry.ErrInvalidCredentials):
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid credentials")
	default:
		return storageError(err)
	}
}

func ListPatientsHandler(reg *registry.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list := reg.Patients()
		out := make([]models.Patient, 0, len(list))
		for _, p := range list {
			out = append(out, p.Public())
		}
		return c.JSON(out)
	}
}

func GetPatientHandler(reg *registry.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := reg.FindPatient(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Patient not found")
		}
		return c.JSON(p.Public())
	}
}

// SavePatientHandler creates or replaces the profile named in the path.
func SavePatientHandler(reg *registry.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var p models.Patient
		if err := c.BodyParser(&p); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		p.ID = c.Params("id")

		if err := reg.SavePatientProfile(p); err != nil {
			return registryError(err)
		}

		saved, err := reg.FindPatient(p.ID)
		if err != nil {
			return registryError(err)
		}
		return c.JSON(saved.Public())
	}
}

func ReplacePatientsHandler(reg *registry.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var list []models.Patient
		if err := c.BodyParser(&list); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Request body must be a list of patients")
		}

		if err := reg.SavePatientsList(list); err != nil {
			return registryError(err)
		}
		return c.JSON(fiber.Map{"success": true, "count": len(list)})
	}
}

func VerifyPatientHandler(reg *registry.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.VerifyRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		p, err := reg.VerifyPatient(c.Params("id"), req.Password)
		if err != nil {
			return registryError(err)
		}
		return c.JSON(p.Public())
	}
}

func ListDoctorsHandler(reg *registry.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list := reg.Doctors()
		out := make([]models.Doctor, 0, len(list))
		for _, d := range list {
			out = append(out, d.Public())
		}
		return c.JSON(out)
	}
}

func RegisterDoctorHandler(reg *registry.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var d models.Doctor
		if err := c.BodyParser(&d); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if d.ID == "" || d.Password == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Doctor id and password are required")
		}

		if err := reg.RegisterDoctor(d); err != nil {
			return registryError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(d.Public())
	}
}

func VerifyDoctorHandler(reg *registry.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.VerifyRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		d, err := reg.VerifyDoctor(c.Params("id"), req.Password)
		if err != nil {
			return registryError(err)
		}
		return c.JSON(d.Public())
	}
}

func VerifyAdminHandler(reg *registry.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			ID       string `json:"id"`
			Password string `json:"password"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		admin, err := reg.VerifyAdmin(req.ID, req.Password)
		if err != nil {
			return registryError(err)
		}
		admin.Password = ""
		return c.JSON(admin)
	}
}
