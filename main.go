package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wecare/internal/api"
	"wecare/internal/auth"
	"wecare/internal/bus"
	"wecare/internal/config"
	"wecare/internal/database"
	"wecare/internal/kvstore"
	"wecare/internal/notify"
	"wecare/internal/registry"
	"wecare/internal/reminders"
	"wecare/internal/scheduler"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newLogger(level string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		if level != "" {
			lvl, err := zap.ParseAtomicLevel(level)
			if err != nil {
				return nil, err
			}
			cfg.Level = lvl
		}
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// newBackend picks redis when configured so several processes share storage
// events, and the sqlite database otherwise.
func newBackend(cfg *config.Config, db *sql.DB, logger *zap.SugaredLogger) (kvstore.Backend, func(), error) {
	if cfg.RedisURL == "" {
		logger.Infow("Using sqlite key/value backend", "path", cfg.DBPath)
		return kvstore.NewSQLiteBackend(db), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}

	logger.Infow("Using redis key/value backend", "addr", opts.Addr)
	return kvstore.NewRedisBackend(client, logger), func() { client.Close() }, nil
}

func patientIDs(reg *registry.Registry) []string {
	list := reg.Patients()
	ids := make([]string, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	return ids
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	sugar, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}
	defer sugar.Sync()

	// Initialize database
	db, err := database.Initialize(cfg.DBPath)
	if err != nil {
		sugar.Fatalw("Failed to initialize database", "error", err)
	}
	defer db.Close()

	backend, closeBackend, err := newBackend(cfg, db, sugar)
	if err != nil {
		sugar.Fatalw("Failed to initialize key/value backend", "error", err)
	}
	defer closeBackend()

	store := kvstore.New(backend, cfg.Origin,
		kvstore.WithQuota(cfg.StoreQuotaBytes),
		kvstore.WithLogger(sugar.Named("kvstore")),
	)
	defer store.Close()

	// The service's own browsing contexts: one for the registry, one for
	// reminder bookkeeping.
	registrySession := store.Open()
	registryBus := bus.New(registrySession, bus.WithLogger(sugar.Named("bus")))
	defer registryBus.Close()
	reg := registry.New(registrySession, registryBus, registry.WithLogger(sugar.Named("registry")))

	seed := registry.DefaultSeed()
	if cfg.SeedFile != "" {
		if seed, err = registry.LoadSeed(cfg.SeedFile); err != nil {
			sugar.Fatalw("Failed to load seed file", "path", cfg.SeedFile, "error", err)
		}
	}
	if err := reg.Seed(seed, cfg.SeedForce); err != nil {
		sugar.Errorw("Registry seed failed", "error", err)
	}

	sched := scheduler.New(scheduler.WithLogger(sugar.Named("scheduler")))
	defer sched.Stop()

	push := notify.NewWebPush(db, notify.VapidConfig{
		PublicKey:  cfg.VapidPublicKey,
		PrivateKey: cfg.VapidPrivateKey,
		Subject:    cfg.VapidSubject,
	}, sugar.Named("push"))
	if !cfg.WebPushConfigured() {
		sugar.Warn("Web push not configured, reminders will only be logged")
	}

	reminderSession := store.Open()
	reminderSvc := reminders.NewService(reminderSession, sched, push, reminders.WithLogger(sugar.Named("reminders")))

	// Run migrations only if explicitly enabled (opt-in for safety)
	if cfg.RunMigrations {
		n, err := reminders.MigrateLegacyRepeat(reminderSession)
		if err != nil {
			sugar.Errorw("Reminder migration failed", "error", err)
		}
		sugar.Infow("Reminder migration finished", "rewritten", n)
	} else {
		sugar.Info("Migrations skipped (set RUN_MIGRATIONS=true to enable)")
	}

	sessions := api.NewSessions(store, auth.NewIssuer(cfg.SessionSecret, time.Duration(cfg.SessionTTLHours)*time.Hour),
		time.Duration(cfg.SessionTTLHours)*time.Hour)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.EnableWorkers {
		sugar.Info("Starting background workers...")
		reminderSvc.Sync(patientIDs(reg))
		stopWatch := reminderSvc.Watch()
		defer stopWatch()
		unsubscribe := reg.Subscribe(func() { reminderSvc.Sync(patientIDs(reg)) })
		defer unsubscribe()

		go func() {
			ticker := time.NewTicker(1 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := sessions.Reap(); n > 0 {
						sugar.Infow("Closed expired sessions", "count", n)
					}
				}
			}
		}()
	} else {
		sugar.Info("Background workers disabled (set ENABLE_WORKERS=true to enable)")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          api.ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(logger.New())

	sugar.Infow("CORS allowed origins", "origins", cfg.AllowedOrigins)
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: cfg.AllowedOrigins != "*",
	}))

	api.SetupRoutes(app, &api.Server{
		DB:        db,
		Sessions:  sessions,
		Registry:  reg,
		Reminders: reminderSvc,
		Push:      push,
	})

	hub := api.NewHub(sessions, cfg.AllowedOrigins, sugar.Named("ws"))
	wsServer := &http.Server{
		Addr:              ":" + cfg.WSPort,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("Websocket server starting", "port", cfg.WSPort)
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Errorw("Websocket server failed", "error", err)
			stop()
		}
	}()

	go func() {
		sugar.Infow("Server starting", "port", cfg.Port, "origin", cfg.Origin)
		if err := app.Listen(":" + cfg.Port); err != nil {
			sugar.Errorw("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	sugar.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Close()
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("Websocket server shutdown", "error", err)
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		sugar.Warnw("HTTP server shutdown", "error", err)
	}
}
