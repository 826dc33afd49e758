package handler_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-inbox/internal/config"
	"github.com/noah-isme/gema-inbox/internal/handler"
)

type fixedCounter int

func (c fixedCounter) Len() int { return int(c) }

func TestHealthCheck(t *testing.T) {
	cfg := config.Config{AppName: "GEMA Inbox", AppEnv: "test"}

	app := fiber.New()
	app.Get("/api/v1/health", handler.HealthCheck(cfg, fixedCounter(3)))

	status, response := doRequest(t, app, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.True(t, response.Success)

	var payload handler.HealthResponse
	decodeData(t, response, &payload)
	require.Equal(t, "ok", payload.Status)
	require.Equal(t, cfg.AppName, payload.Service)
	require.Equal(t, cfg.AppEnv, payload.Environment)
	require.Equal(t, 3, payload.ActiveInboxes)
	require.WithinDuration(t, time.Now().UTC(), payload.Timestamp, 2*time.Second)
}
