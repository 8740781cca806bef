package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-chat/internal/api/http/handlers"
	"github.com/spec-kit/support-chat/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Attachments    *handlers.AttachmentsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)

	// Downloads carry their own signed token instead of a bearer token.
	app.Get("/attachments", cfg.Attachments.Download)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Post("", cfg.Tickets.CreateTicket)
	tickets.Get("", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id/status", auth.RequireAdmin(), cfg.Tickets.UpdateStatus)
	tickets.Post("/:id/messages", cfg.Tickets.AddMessage)
	tickets.Patch("/:id/messages/:messageID", cfg.Tickets.EditMessage)
	tickets.Delete("/:id/messages/:messageID", cfg.Tickets.DeleteMessage)
	tickets.Post("/:id/attachments", cfg.Tickets.UploadAttachment)
}
