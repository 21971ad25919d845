package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// Services reports which optional backends are wired in.
type Services struct {
	R2         bool `json:"r2"`
	Transcribe bool `json:"transcribe"`
	History    bool `json:"history"`
	Fetcher    bool `json:"fetcher"`
	Auth       bool `json:"auth"`
}

type HealthHandler struct {
	services Services
	now      func() time.Time
}

func NewHealthHandler(services Services) *HealthHandler {
	return &HealthHandler{services: services, now: time.Now}
}

// Root handles GET /
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"timestamp": h.now().Unix(),
	})
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"services": h.services,
	})
}
