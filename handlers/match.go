// handlers/match.go
package handlers

import (
	"fight-arena/middleware"
	"fight-arena/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMatchRoutes(app *fiber.App, matchService *services.MatchService, fighterService *services.FighterService) {
	// 🔓 Public reads
	app.Get("/matches/:id/history", matchService.HistoryHandler)
	app.Get("/matches/:id/stream", matchService.StreamMatchEventsSSE)
	app.Get("/fighters", fighterService.SearchFighters)
	app.Get("/fighters/:id", fighterService.GetFighterHandler)

	// 🥊 Fighter routes: identity from body or X-Fighter-* headers, verified per call
	fighters := app.Group("/matches", middleware.FighterContextMiddleware())
	fighters.Get("/:id/status", matchService.StatusHandler)
	fighters.Post("/:id/commit", matchService.CommitHandler)
	fighters.Post("/:id/reveal", matchService.RevealHandler)
}

func SetupAdminRoutes(app *fiber.App, gatewayToken string, matchService *services.MatchService, fighterService *services.FighterService, monitor *services.Monitor) {
	// 🔐 Matchmaker / gateway only
	admin := app.Group("/admin", middleware.GatewayAuthMiddleware(gatewayToken))

	admin.Post("/fighters", fighterService.RegisterFighterHandler)
	admin.Post("/matches", matchService.CreateMatchHandler)
	admin.Post("/matches/:id/start", matchService.StartMatchHandler)
	admin.Post("/matches/:id/complete", matchService.CompleteMatchHandler)
	admin.Post("/monitor/sweep", monitor.SweepHandler)
}
