package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/api/internal/config"
	"github.com/clipforge/api/internal/middleware"
	ws "github.com/clipforge/api/internal/websocket"
)

// Routes is everything the HTTP surface needs. Identify resolves the caller
// when credentials are present; RequireUser rejects anonymous requests.
// A nil Limiter disables rate limiting.
type Routes struct {
	Health *HealthHandler
	Auth   *AuthHandler
	Clips  *ClipHandler
	Jobs   *JobHandler
	Hub    *ws.Hub

	Identify    fiber.Handler
	RequireUser fiber.Handler
	Limiter     *middleware.RateLimiter
	Limits      config.RateLimitConfig

	// Served from disk when artifacts are not published to object storage.
	PreviewDir string
	ExportDir  string
}

func (r *Routes) Register(app *fiber.App) {
	app.Get("/", r.Health.Root)
	app.Get("/health", r.Health.Health)

	// ForwardAuth verification endpoint (internal, called by the gateway)
	app.Get("/auth/verify", r.Auth.Verify)

	if r.PreviewDir != "" {
		app.Static("/media/previews", r.PreviewDir)
	}
	if r.ExportDir != "" {
		app.Static("/media/exports", r.ExportDir)
	}

	api := app.Group("/api")

	clip := api.Group("/clip", r.Identify)
	clip.Post("/", r.Limiter.ClipLimit(r.Limits.ClipPerHour), r.Clips.Clip)
	clip.Post("/multi", r.Limiter.ClipLimit(r.Limits.ClipPerHour), r.Clips.Multi)
	clip.Post("/jobs", r.Limiter.JobsLimit(r.Limits.JobsPerHour), r.Jobs.Start)
	clip.Get("/jobs/:jobId", r.Jobs.Status)
	clip.Get("/jobs/:jobId/result", r.Jobs.Result)

	api.Post("/transcribe", r.Identify, r.Limiter.ClipLimit(r.Limits.ClipPerHour), r.Clips.Transcribe)
	api.Get("/history", r.RequireUser, r.Limiter.HistoryLimit(r.Limits.HistoryPerMin), r.Clips.History)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		r.Hub.HandleConnection(c, c.Params("jobId"))
	}))
}
