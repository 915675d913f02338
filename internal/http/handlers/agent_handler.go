package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/apperr"
	"github.com/skill-market/backend/internal/http/dto"
	"github.com/skill-market/backend/internal/middleware"
	"github.com/skill-market/backend/internal/services"
)

const apiKeyNotice = "Save your api_key now. It is shown once and cannot be recovered."

type AgentHandler struct {
	agentService    *services.AgentService
	purchaseService *services.PurchaseService
	log             *zap.Logger
}

func NewAgentHandler(agentService *services.AgentService, purchaseService *services.PurchaseService, log *zap.Logger) *AgentHandler {
	return &AgentHandler{agentService: agentService, purchaseService: purchaseService, log: log}
}

// POST /agents/register
func (h *AgentHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterAgentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.New(apperr.KindValidation, "invalid request body")
	}

	reg, err := h.agentService.Register(c.UserContext(), req.Name, req.Description)
	if err != nil {
		return err
	}

	return dto.Created(c, dto.RegisterAgentResponse{
		AgentID:          reg.Agent.ID.String(),
		Name:             reg.Agent.Name,
		APIKey:           reg.APIKey,
		ClaimURL:         reg.ClaimURL,
		ClaimToken:       reg.ClaimToken,
		VerificationCode: reg.VerificationCode,
		ExpiresAt:        reg.ExpiresAt,
		WalletAddress:    reg.Agent.WalletAddress,
		Important:        apiKeyNotice,
	})
}

// GET /agents/me
func (h *AgentHandler) Me(c *fiber.Ctx) error {
	agent, err := h.agentService.Get(c.UserContext(), middleware.GetIdentity(c).AgentID)
	if err != nil {
		return err
	}
	return dto.OK(c, agent)
}

// GET /agents/status
func (h *AgentHandler) Status(c *fiber.Ctx) error {
	st, err := h.agentService.Status(c.UserContext(), middleware.GetIdentity(c).AgentID)
	if err != nil {
		return err
	}
	return dto.OK(c, st)
}

// GET /agents/me/purchases
func (h *AgentHandler) MyPurchases(c *fiber.Ctx) error {
	purchases, err := h.purchaseService.ListPurchases(c.UserContext(), middleware.GetIdentity(c).AgentID)
	if err != nil {
		return err
	}
	return dto.OK(c, purchases)
}
