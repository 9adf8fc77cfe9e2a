package routes

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dee-identity/dee_registry/internal/access"
	"github.com/dee-identity/dee_registry/internal/credential"
	"github.com/dee-identity/dee_registry/internal/events"
	"github.com/dee-identity/dee_registry/internal/logging"
	"github.com/dee-identity/dee_registry/internal/middleware"
	"github.com/dee-identity/dee_registry/internal/pause"
	"github.com/dee-identity/dee_registry/internal/registry"
)

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps, svc *Services) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.ActorAuth([]byte(d.Cfg.JWTSecret), d.Cfg.IsDev()))
	app.Use(middleware.Audit(logging.Component(d.Logger, "http")))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, logging.Component(d.Logger, "idempotency")))
	}

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(svc.Gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"actor":      middleware.Actor(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	registry.NewHandler(svc.Registry).Register(api)
	credential.NewHandler(svc.Ledger).Register(api)
	access.NewHandler(svc.Access).Register(api)
	pause.NewHandler(svc.Pause).Register(api)
	events.NewHandler(svc.Events.Journal()).Register(api)
}
