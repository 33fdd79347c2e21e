package engine

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts the flow-graph endpoints on api, the authenticated
// "/api" group.
func RegisterRoutes(api fiber.Router, h *Handler) {
	api.Get("/widgets/:id/screens", h.ListScreens)
	api.Post("/screens/wizard", h.Wizard)
	api.Get("/screens/:id", h.GetScreen)
	api.Get("/screens/:id/connections", h.ListConnections)
	api.Get("/screens/:id/connections/history", h.ConnectionHistory)
	api.Post("/screens/:id/connected", h.Connected)
	api.Get("/screens/:id/options", h.OutputOptions)

	api.Get("/framework-types", h.FrameworkTypes)
	api.Get("/framework-types/defaults/:type", h.FrameworkDefaults)

	api.Post("/connections", h.Connect)
	api.Delete("/connections/:id", h.Terminate)
	api.Post("/combinations", h.Combinations)

	dialog := api.Group("/widgets/:id/dialog")
	dialog.Get("/", h.DialogState)
	dialog.Put("/current-screen", h.DialogCurrentScreen)
	dialog.Post("/open", h.DialogOpen)
	dialog.Get("/candidates", h.DialogCandidates)
	dialog.Post("/confirm", h.DialogConfirm)
	dialog.Post("/cancel", h.DialogCancel)
}
