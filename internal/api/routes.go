package api

import (
	"database/sql"

	"wecare/internal/notify"
	"wecare/internal/registry"
	"wecare/internal/reminders"

	"github.com/gofiber/fiber/v2"
)

// Server holds what the HTTP handlers share.
type Server struct {
	DB        *sql.DB
	Sessions  *Sessions
	Registry  *registry.Registry
	Reminders *reminders.Service
	Push      *notify.WebPush
}

func SetupRoutes(app *fiber.App, s *Server) {
	api := app.Group("/api")

	// Configuration endpoint (public)
	api.Get("/config", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"origin":      s.Sessions.Origin(),
			"pushEnabled": s.Push.Configured(),
		})
	})

	api.Post("/sessions", OpenSessionHandler(s.Sessions))

	// VAPID public key endpoint (public - must be before protected routes for proper routing)
	api.Get("/push/vapid-public-key", VapidPublicKeyHandler(s.Push))

	// Everything below acts on behalf of one browsing context
	protected := api.Group("/", SessionMiddleware(s.Sessions))

	protected.Delete("/sessions", CloseSessionHandler(s.Sessions))

	kv := protected.Group("/kv")
	kv.Get("/", ListKeysHandler())
	kv.Get("/:key", GetValueHandler())
	kv.Put("/:key", PutValueHandler())
	kv.Delete("/:key", DeleteValueHandler())

	protected.Post("/admin/verify", VerifyAdminHandler(s.Registry))

	patients := protected.Group("/patients")
	patients.Get("/", ListPatientsHandler(s.Registry))
	patients.Put("/", ReplacePatientsHandler(s.Registry))
	patients.Get("/:id", GetPatientHandler(s.Registry))
	patients.Put("/:id", SavePatientHandler(s.Registry))
	patients.Post("/:id/verify", VerifyPatientHandler(s.Registry))
	patients.Post("/:id/push/test", TestPushHandler(s.Registry, s.Push))

	rem := patients.Group("/:id/reminders")
	rem.Get("/", ListRemindersHandler(s.Registry, s.Reminders))
	rem.Post("/", CreateReminderHandler(s.Registry, s.Reminders))
	rem.Post("/arm", ArmRemindersHandler(s.Registry, s.Reminders))
	rem.Delete("/timers", DisarmRemindersHandler(s.Registry, s.Reminders))
	rem.Post("/demo", DemoReminderHandler(s.Registry, s.Reminders))
	rem.Get("/pending", PendingRemindersHandler(s.Registry, s.Reminders))
	rem.Patch("/:rid", UpdateReminderHandler(s.Registry, s.Reminders))
	rem.Delete("/:rid", DeleteReminderHandler(s.Registry, s.Reminders))

	doctors := protected.Group("/doctors")
	doctors.Get("/", ListDoctorsHandler(s.Registry))
	doctors.Post("/", RegisterDoctorHandler(s.Registry))
	doctors.Post("/:id/verify", VerifyDoctorHandler(s.Registry))

	// Push subscription routes
	push := protected.Group("/push")
	push.Post("/subscribe", SubscribePushHandler(s.DB, s.Registry))
	push.Delete("/unsubscribe", UnsubscribePushHandler(s.DB))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
