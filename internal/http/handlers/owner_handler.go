package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/apperr"
	"github.com/skill-market/backend/internal/http/dto"
	"github.com/skill-market/backend/internal/middleware"
	"github.com/skill-market/backend/internal/services"
)

type OwnerHandler struct {
	owners       services.OwnerStore
	agentService *services.AgentService
	log          *zap.Logger
}

func NewOwnerHandler(owners services.OwnerStore, agentService *services.AgentService, log *zap.Logger) *OwnerHandler {
	return &OwnerHandler{owners: owners, agentService: agentService, log: log}
}

// GET /owners/me
func (h *OwnerHandler) Me(c *fiber.Ctx) error {
	owner, err := h.owners.GetByID(c.UserContext(), middleware.GetOwnerID(c))
	if errors.Is(err, services.ErrNotFound) {
		return apperr.New(apperr.KindNotFound, "owner not found")
	}
	if err != nil {
		return apperr.Internal("get owner", err)
	}
	return dto.OK(c, owner)
}

// GET /owners/me/agents
func (h *OwnerHandler) MyAgents(c *fiber.Ctx) error {
	agents, err := h.agentService.ListForOwner(c.UserContext(), middleware.GetOwnerID(c))
	if err != nil {
		return err
	}
	return dto.OK(c, agents)
}
