package engine

import "github.com/gofiber/fiber/v2"

// RegisterEvaluateRoutes mounts the evaluation endpoints. middleware runs on
// these routes only, since a group middleware on /api would also cover the
// auth routes.
func RegisterEvaluateRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	api := app.Group("/api")

	api.Post("/option-groups/:id/evaluate", chain(middleware, h.EvaluateOptionGroup)...)
	api.Post("/packages/:id/evaluate", chain(middleware, h.EvaluatePackage)...)
}

func chain(middleware []fiber.Handler, h fiber.Handler) []fiber.Handler {
	handlers := make([]fiber.Handler, 0, len(middleware)+1)
	handlers = append(handlers, middleware...)
	return append(handlers, h)
}
