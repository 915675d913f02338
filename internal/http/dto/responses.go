package dto

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/skill-market/backend/internal/apperr"
)

// Envelope is the shape of every API response.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Meta      map[string]any `json:"meta,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func OK(c *fiber.Ctx, data any) error {
	return c.JSON(Envelope{Success: true, Data: data})
}

func Created(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(Envelope{Success: true, Data: data})
}

// Fail writes an apperr.Error. Internal errors never expose their message or meta.
func Fail(c *fiber.Ctx, e *apperr.Error, requestID string) error {
	body := &ErrorBody{
		Code:      string(e.Kind),
		Message:   e.PublicMessage(),
		RequestID: requestID,
	}
	if e.Kind != apperr.KindInternal {
		body.Meta = e.Meta
	}
	return c.Status(apperr.HTTPStatus(e.Kind)).JSON(Envelope{Success: false, Error: body})
}

type RegisterAgentResponse struct {
	AgentID          string    `json:"agent_id"`
	Name             string    `json:"name"`
	APIKey           string    `json:"api_key"`
	ClaimURL         string    `json:"claim_url"`
	ClaimToken       string    `json:"claim_token"`
	VerificationCode string    `json:"verification_code"`
	ExpiresAt        time.Time `json:"expires_at"`
	WalletAddress    string    `json:"wallet_address"`
	Important        string    `json:"important"`
}

type PurchaseResponse struct {
	PurchaseID string `json:"purchase_id"`
	SkillID    string `json:"skill_id"`
	Price      string `json:"price"`
	Currency   string `json:"currency"`
	Signature  string `json:"signature"`
	Status     string `json:"status"`
	Files      any    `json:"files"`
}
