package api

import (
	"github.com/gofiber/fiber/v2"

	"atrium-backend/internal/auth"
)

// RegisterRoutes mounts the auth endpoints and the generic entity CRUD API.
// Everything under /api except login requires a bearer token.
func RegisterRoutes(app *fiber.App, h *Handler, ah *AuthHandler, jwtSecret string) {
	app.Post("/api/auth/login", ah.Login)

	api := app.Group("/api", auth.Middleware(jwtSecret))
	// Registered before the :entity wildcards so _meta never resolves as an
	// entity name.
	api.Get("/_meta/entities", auth.RequireAdmin(), h.Entities)
	api.Get("/:entity", h.List)
	api.Get("/:entity/:id", h.GetByID)
	api.Post("/:entity", h.Create)
	api.Put("/:entity/:id", h.Update)
	api.Delete("/:entity/:id", h.Delete)
}
