package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Checker-Finance/oneself-console/internal/navigation"
)

// HealthCheck checks one dependency; nil means healthy.
type HealthCheck func(ctx context.Context) error

// RegisterRoutes registers all HTTP routes on the Fiber app.
func RegisterRoutes(app *fiber.App, console *ConsoleHandler, sys *SystemHandler, checks map[string]HealthCheck) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		results := make(map[string]string, len(checks))
		status := "ok"
		code := fiber.StatusOK

		healthCtx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(healthCtx); err != nil {
				results[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	})

	// Auth
	app.Get("/captcha", console.Captcha)
	app.Post("/login", console.ThrottleLogin, console.Login)
	app.Post("/logout", console.Logout)
	app.Post("/refresh", console.Refresh)
	app.Get("/session", console.Session)

	// Views
	for _, r := range navigation.DefaultRoutes {
		app.Get(r.Path, console.View)
	}

	// System collections
	if sys != nil {
		api := app.Group("/api/system", console.RequireSession)
		api.Get("/:resource", sys.List)
		api.Get("/:resource/:id", sys.Get)
		api.Post("/:resource", sys.Create)
		api.Put("/:resource", sys.Update)
		api.Delete("/:resource/:id", sys.Delete)
	}
}
