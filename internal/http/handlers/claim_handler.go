package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/apperr"
	"github.com/skill-market/backend/internal/http/dto"
	"github.com/skill-market/backend/internal/services"
)

type ClaimHandler struct {
	claimService *services.ClaimService
	log          *zap.Logger
}

func NewClaimHandler(claimService *services.ClaimService, log *zap.Logger) *ClaimHandler {
	return &ClaimHandler{claimService: claimService, log: log}
}

// GET /agents/claim?token=
func (h *ClaimHandler) Info(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		return apperr.New(apperr.KindValidation, "token is required")
	}
	info, err := h.claimService.GetClaimInfo(c.UserContext(), token)
	if err != nil {
		return err
	}
	return dto.OK(c, info)
}

// POST /agents/claim/verify
func (h *ClaimHandler) Verify(c *fiber.Ctx) error {
	var req dto.ClaimVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.New(apperr.KindValidation, "invalid request body")
	}
	token := strings.TrimSpace(req.ClaimToken)
	if token == "" {
		return apperr.New(apperr.KindValidation, "claim_token is required")
	}

	var (
		res *services.ClaimResult
		err error
	)
	switch req.Method {
	case services.ClaimMethodX:
		if req.PostURL == "" {
			return apperr.New(apperr.KindValidation, "post_url is required for method x")
		}
		res, err = h.claimService.ClaimWithPost(c.UserContext(), token, strings.TrimSpace(req.PostURL))
	case services.ClaimMethodWallet:
		res, err = h.claimService.ClaimWithWallet(c.UserContext(), token, strings.TrimSpace(req.WalletAddress), strings.TrimSpace(req.Signature), req.Message)
	case services.ClaimMethodTonProof:
		if req.TonProof == nil {
			return apperr.New(apperr.KindValidation, "ton_proof is required for method ton_proof")
		}
		res, err = h.claimService.ClaimWithTonProof(c.UserContext(), token, *req.TonProof)
	default:
		return apperr.New(apperr.KindValidation, `method must be one of "x", "wallet", "ton_proof"`)
	}
	if err != nil {
		return err
	}
	return dto.OK(c, res)
}
