package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/skill-market/backend/internal/gateway"
	"github.com/skill-market/backend/internal/ratelimit"
)

const CtxIdentity = "identity"

type protectConfig struct {
	requireActive bool
}

type ProtectOption func(*protectConfig)

// AllowUnclaimed lets agents that are still pending_claim through.
func AllowUnclaimed() ProtectOption {
	return func(c *protectConfig) { c.requireActive = false }
}

// Protect authenticates the agent API key and charges the request to the
// agent's budget for action. Rate headers are set on every outcome that
// reached the limiter.
func Protect(gw *gateway.Gateway, action ratelimit.Action, opts ...ProtectOption) fiber.Handler {
	pc := protectConfig{requireActive: true}
	for _, opt := range opts {
		opt(&pc)
	}

	return func(c *fiber.Ctx) error {
		key := gateway.ExtractAPIKey(c.Get("X-API-Key"), c.Get(fiber.HeaderAuthorization))
		identity, res, err := gw.Authenticate(c.UserContext(), gateway.Request{
			APIKey:        key,
			Action:        action,
			RequireActive: pc.requireActive,
		})
		if res.Limit > 0 {
			setRateHeaders(c, gw, res)
		}
		if err != nil {
			return err
		}

		c.Locals(CtxIdentity, identity)
		return c.Next()
	}
}

// PublicRateLimit charges an unauthenticated request to the caller's IP.
func PublicRateLimit(gw *gateway.Gateway, action ratelimit.Action) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := gw.Public(c.UserContext(), c.IP(), action)
		setRateHeaders(c, gw, res)
		if err != nil {
			return err
		}
		return c.Next()
	}
}

func setRateHeaders(c *fiber.Ctx, gw *gateway.Gateway, res ratelimit.Result) {
	for k, v := range ratelimit.Headers(res, gw.Now()) {
		c.Set(k, v)
	}
}

// GetIdentity returns the agent set by Protect, or nil.
func GetIdentity(c *fiber.Ctx) *gateway.Identity {
	id, _ := c.Locals(CtxIdentity).(*gateway.Identity)
	return id
}
