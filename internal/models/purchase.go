package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Purchase statuses
const (
	PurchaseStatusPending   = "pending"
	PurchaseStatusConfirmed = "confirmed"
	PurchaseStatusFailed    = "failed"
	PurchaseStatusRefunded  = "refunded"
)

// Valid purchase transitions: from -> []to. Refunds happen outside this service.
var ValidPurchaseTransitions = map[string][]string{
	PurchaseStatusPending:   {PurchaseStatusConfirmed, PurchaseStatusFailed},
	PurchaseStatusConfirmed: {PurchaseStatusRefunded},
	PurchaseStatusFailed:    {},
	PurchaseStatusRefunded:  {},
}

func IsValidPurchaseTransition(from, to string) bool {
	for _, s := range ValidPurchaseTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Purchase struct {
	ID          uuid.UUID       `json:"id"`
	AgentID     uuid.UUID       `json:"agent_id"`
	SkillID     uuid.UUID       `json:"skill_id"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	TxSignature *string         `json:"tx_signature,omitempty"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
}
