package http

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/config"
	"github.com/skill-market/backend/internal/gateway"
	"github.com/skill-market/backend/internal/http/handlers"
	"github.com/skill-market/backend/internal/middleware"
	"github.com/skill-market/backend/internal/ratelimit"
)

// NewApp returns a Fiber app whose errors render in the response envelope.
func NewApp(log *zap.Logger) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:      "skill-market",
		ErrorHandler: ErrorHandler(log),
		BodyLimit:    64 * 1024,
	})
}

type Handlers struct {
	Agent *handlers.AgentHandler
	Claim *handlers.ClaimHandler
	Skill *handlers.SkillHandler
	Owner *handlers.OwnerHandler
	WS    *handlers.WSHub
}

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	gw *gateway.Gateway,
	h Handlers,
	health fiber.Handler,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Request-ID",
		ExposeHeaders: "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))
	app.Use(middleware.MetricsMiddleware())

	if health == nil {
		health = func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{"status": "ok"})
		}
	}
	app.Get("/health", health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")

	// Registration and claim (public, limited per IP)
	api.Post("/agents/register", middleware.PublicRateLimit(gw, ratelimit.ActionRegister), h.Agent.Register)
	api.Get("/agents/claim", middleware.PublicRateLimit(gw, ratelimit.ActionBrowse), h.Claim.Info)
	api.Post("/agents/claim/verify", middleware.PublicRateLimit(gw, ratelimit.ActionClaim), h.Claim.Verify)

	// Agent (API key)
	api.Get("/agents/status", middleware.Protect(gw, ratelimit.ActionDefault, middleware.AllowUnclaimed()), h.Agent.Status)
	api.Get("/agents/me", middleware.Protect(gw, ratelimit.ActionDefault), h.Agent.Me)
	api.Get("/agents/me/purchases", middleware.Protect(gw, ratelimit.ActionBrowse), h.Agent.MyPurchases)

	// Skills
	api.Post("/skills/:id/purchase", middleware.Protect(gw, ratelimit.ActionPurchase), h.Skill.Purchase)
	api.Get("/skills/:id/content", middleware.Protect(gw, ratelimit.ActionDownload), h.Skill.Content)

	// Owners (session token from claim)
	owners := api.Group("/owners", middleware.OwnerAuth(cfg, log))
	owners.Get("/me", h.Owner.Me)
	owners.Get("/me/agents", h.Owner.MyAgents)

	// WebSocket
	if h.WS != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware(gw))
		app.Get("/ws", websocket.New(h.WS.HandleWS))
	}
}
