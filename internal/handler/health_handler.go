package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-inbox/internal/config"
	"github.com/noah-isme/gema-inbox/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Service       string    `json:"service"`
	Environment   string    `json:"environment"`
	ActiveInboxes int       `json:"active_inboxes"`
}

// EngineCounter reports how many inbox engines are live.
type EngineCounter interface {
	Len() int
}

// HealthCheck returns a handler that reports application health information.
func HealthCheck(cfg config.Config, engines EngineCounter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}
		if engines != nil {
			payload.ActiveInboxes = engines.Len()
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
