package router

import (
	"github.com/gofiber/fiber/v3"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/mathieu-neron/owo-counter/internal/handler"
	"github.com/mathieu-neron/owo-counter/internal/middleware"
)

// Setup configures the middleware stack and the health routes on the given
// Fiber app.
func Setup(app *fiber.App, health *handler.HealthHandler, gatherer prometheus.Gatherer, log zerolog.Logger) {
	// Middleware stack (order matters)
	app.Use(recoverer.New())
	app.Use(middleware.NewRequestLogger(log))
	app.Use(handler.MetricsMiddleware())

	for _, path := range []string{"/", "/healthz", "/ready", "/health/live"} {
		app.Get(path, health.Live)
	}
	app.Get("/health/ready", health.Ready)
	app.Get("/metrics", handler.MetricsHandler(gatherer))

	app.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).SendString("not found")
	})
}
