package server

import (
	"github.com/gofiber/fiber/v2"

	"xscraper/internal/core/scrape"
	"xscraper/internal/health"
	"xscraper/internal/platform/redis"
	tasks "xscraper/internal/platform/tasks"
)

type Dependencies struct {
	Scrape *scrape.Service
	Tasks  *tasks.Client
	Redis  *redis.Service
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	healthHandler := health.NewHealthHandler(d.Redis)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	scrapeHandler := scrape.NewHandler(d.Scrape)
	api.Post("/scrape", scrapeHandler.HandleSubmit)
	api.Get("/scrape/:taskId/progress", scrapeHandler.HandleProgress)
	api.Get("/scrape/:taskId/result", scrapeHandler.HandleResult)
	api.Post("/scrape/:taskId/cancel", scrapeHandler.HandleCancel)
	api.Get("/scrape/:taskId/export", scrapeHandler.HandleExport)

	return healthHandler
}
