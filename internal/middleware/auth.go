package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/apperr"
	"github.com/skill-market/backend/internal/auth"
	"github.com/skill-market/backend/internal/config"
)

const (
	CtxOwnerID       = "owner_id"
	CtxOwnerProvider = "owner_provider"
)

// OwnerAuth accepts the session token issued to a human owner on claim.
func OwnerAuth(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return apperr.New(apperr.KindMissingAuth, "missing authorization header")
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return apperr.New(apperr.KindInvalidCredential, "invalid authorization format")
		}

		claims, err := auth.ParseOwnerJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("owner jwt parse error", zap.Error(err))
			return apperr.New(apperr.KindInvalidCredential, "invalid or expired token")
		}

		c.Locals(CtxOwnerID, claims.OwnerID)
		c.Locals(CtxOwnerProvider, claims.Provider)

		return c.Next()
	}
}

func GetOwnerID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxOwnerID).(uuid.UUID)
	return id
}
