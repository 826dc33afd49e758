package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-inbox/internal/config"
	"github.com/noah-isme/gema-inbox/internal/handler"
	"github.com/noah-isme/gema-inbox/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	InboxHandler   *handler.InboxHandler
	CommentHandler *handler.CommentHandler
	Engines        handler.EngineCounter
	JWTMiddleware  fiber.Handler
	Logger         zerolog.Logger
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler(deps.Logger))

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.Engines))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	v2 := app.Group("/api/v2")
	if deps.InboxHandler != nil {
		deps.InboxHandler.Register(v2.Group("/inbox", jwtMiddleware))
	}
	if deps.CommentHandler != nil {
		deps.CommentHandler.Register(v2.Group("/comments", jwtMiddleware))
	}
}
