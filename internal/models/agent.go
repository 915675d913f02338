package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Agent statuses
const (
	AgentStatusPendingClaim = "pending_claim"
	AgentStatusActive       = "active"
	AgentStatusSuspended    = "suspended"
	AgentStatusExpired      = "expired"
)

// ClaimTokenTTL is the validity window of the claim offer created at registration.
const ClaimTokenTTL = 7 * 24 * time.Hour

// Valid agent status transitions: from -> []to
var ValidAgentTransitions = map[string][]string{
	AgentStatusPendingClaim: {AgentStatusActive, AgentStatusExpired, AgentStatusSuspended},
	AgentStatusActive:       {AgentStatusSuspended},
	AgentStatusSuspended:    {AgentStatusActive},
	AgentStatusExpired:      {},
}

func IsValidAgentTransition(from, to string) bool {
	allowed, ok := ValidAgentTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

type Agent struct {
	ID                  uuid.UUID  `json:"id"`
	Name                string     `json:"name"`
	Description         *string    `json:"description,omitempty"`
	Status              string     `json:"status"`
	APIKeyHash          string     `json:"-"`
	APIKeyPrefix        string     `json:"api_key_prefix"`
	WalletAddress       string     `json:"wallet_address"`
	WalletKeyEncrypted  string     `json:"-"`
	OwnerID             *uuid.UUID `json:"owner_id,omitempty"`
	ClaimToken          *string    `json:"-"`
	ClaimTokenExpiresAt *time.Time `json:"-"`
	VerificationCode    *string    `json:"-"`
	ClaimedTokenHash    *string    `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	ClaimedAt           *time.Time `json:"claimed_at,omitempty"`
	LastActiveAt        *time.Time `json:"last_active_at,omitempty"`
}

func (a *Agent) IsActive() bool { return a.Status == AgentStatusActive }

func (a *Agent) HasPendingClaim() bool {
	return a.Status == AgentStatusPendingClaim && a.ClaimToken != nil
}

// CheckInvariants reports a violation of the identity record rules:
// active iff owned with no outstanding claim token, and the claim token and
// verification code always travel together.
func (a *Agent) CheckInvariants() error {
	if (a.ClaimToken == nil) != (a.VerificationCode == nil) {
		return fmt.Errorf("agent %s: claim token and verification code must be set together", a.ID)
	}
	owned := a.OwnerID != nil && a.ClaimToken == nil
	if a.Status == AgentStatusActive && !owned {
		return fmt.Errorf("agent %s: active without owner or with pending claim token", a.ID)
	}
	if a.Status != AgentStatusActive && a.Status != AgentStatusSuspended && owned {
		return fmt.Errorf("agent %s: owned agent in status %s", a.ID, a.Status)
	}
	return nil
}

// CustodialWallet is the agent's ledger account. KeyEncrypted is sealed key
// material; it is only opened for the duration of a signing step.
type CustodialWallet struct {
	AgentID      uuid.UUID `json:"agent_id"`
	Address      string    `json:"address"`
	KeyEncrypted string    `json:"-"`
}
