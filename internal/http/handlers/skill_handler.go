package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/apperr"
	"github.com/skill-market/backend/internal/http/dto"
	"github.com/skill-market/backend/internal/middleware"
	"github.com/skill-market/backend/internal/services"
)

type SkillHandler struct {
	purchaseService *services.PurchaseService
	log             *zap.Logger
}

func NewSkillHandler(purchaseService *services.PurchaseService, log *zap.Logger) *SkillHandler {
	return &SkillHandler{purchaseService: purchaseService, log: log}
}

// POST /skills/:id/purchase
func (h *SkillHandler) Purchase(c *fiber.Ctx) error {
	skillID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.New(apperr.KindValidation, "invalid skill id")
	}

	res, err := h.purchaseService.Purchase(c.UserContext(), middleware.GetIdentity(c).AgentID, skillID)
	if err != nil {
		return err
	}

	return dto.OK(c, dto.PurchaseResponse{
		PurchaseID: res.Purchase.ID.String(),
		SkillID:    skillID.String(),
		Price:      res.Purchase.Price.String(),
		Currency:   res.Purchase.Currency,
		Signature:  res.Signature,
		Status:     res.Purchase.Status,
		Files:      res.Files,
	})
}

// GET /skills/:id/content
func (h *SkillHandler) Content(c *fiber.Ctx) error {
	skillID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.New(apperr.KindValidation, "invalid skill id")
	}

	content, err := h.purchaseService.GetContent(c.UserContext(), middleware.GetIdentity(c).AgentID, skillID)
	if err != nil {
		return err
	}
	return dto.OK(c, content)
}
