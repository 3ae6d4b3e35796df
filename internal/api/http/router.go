package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-engine/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Session        *handlers.SessionHandler
	Tickets        *handlers.TicketsHandler
	Stream         *handlers.StreamHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/health/metrics", cfg.Health.Metrics)

	app.Post("/auth/login", cfg.Session.Login)

	protected := app.Group("", cfg.AuthMiddleware.Handle)
	protected.Post("/auth/logout", cfg.Session.Logout)

	protected.Post("/tickets", cfg.Tickets.CreateTicket)
	protected.Post("/tickets/bulk", auth.RequireUploader(), cfg.Tickets.BulkCreateTickets)
	protected.Post("/tickets/:id/resolve", cfg.Tickets.ResolveTicket)
	protected.Post("/tickets/:id/transfer", cfg.Tickets.TransferTicket)

	protected.Get("/analysts/me/tickets", cfg.Tickets.MyTickets)
	protected.Get("/dashboard/backlog", cfg.Tickets.Backlog)
	protected.Get("/events/stream", cfg.Stream.Stream)
}
