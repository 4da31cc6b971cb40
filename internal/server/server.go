package server

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"optcond-backend/internal/admin"
	"optcond-backend/internal/auth"
	"optcond-backend/internal/catalog"
	"optcond-backend/internal/conditions"
	"optcond-backend/internal/config"
	"optcond-backend/internal/engine"
	"optcond-backend/internal/instrument"
	"optcond-backend/internal/logger"
	"optcond-backend/internal/store"
)

// Server is the HTTP application with the resources it owns.
type Server struct {
	App *fiber.App

	expressions *conditions.ExpressionCache
	events      *instrument.EventBuffer
}

// New wires stores, services and routes onto a Fiber app.
func New(cfg *config.Config, db *store.Store, log *logger.Logger) (*Server, error) {
	expressions, err := conditions.NewExpressionCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("expression cache: %w", err)
	}

	cat := catalog.NewStore(db)
	conds := conditions.NewConditionStore(db, cat)
	sets := conditions.NewSetStore(db, cat, conds, expressions)
	service := conditions.NewService(sets, cat, conditions.NewEvaluator(expressions))

	app := fiber.New(fiber.Config{
		ErrorHandler:          engine.ErrorHandler(log),
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: cfg.Log.Mode != "prod",
	}))
	if cfg.Log.Mode != "test" {
		app.Use(fiberlogger.New(fiberlogger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency}\n",
		}))
	}

	s := &Server{App: app, expressions: expressions}
	if cfg.Instrumentation.Enabled {
		s.events = instrument.NewEventBuffer(log, cfg.Instrumentation.BufferSize, cfg.Instrumentation.FlushIntervalMs)
		app.Use(instrument.Middleware(s.events, cfg.Instrumentation.SamplingRate))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Auth routes (before middleware, no auth required)
	tokens := auth.NewTokens(cfg.Auth)
	auth.RegisterAuthRoutes(app, auth.NewAuthHandler(db, tokens, log))

	authMW := auth.AuthMiddleware(tokens)
	adminMW := auth.RequireAdmin()

	admin.RegisterAdminRoutes(app, admin.NewHandler(cat, sets, conds), authMW, adminMW)
	engine.RegisterEvaluateRoutes(app, engine.NewHandler(service), authMW)

	return s, nil
}

// Close stops background work and releases caches.
func (s *Server) Close() {
	if s.events != nil {
		s.events.Stop()
	}
	s.expressions.Close()
}
