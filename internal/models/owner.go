package models

import (
	"time"

	"github.com/google/uuid"
)

// Owner identity providers
const (
	OwnerProviderX      = "x"
	OwnerProviderWallet = "wallet"
)

type Owner struct {
	ID            uuid.UUID `json:"id"`
	XID           *string   `json:"x_id,omitempty"`
	XHandle       *string   `json:"x_handle,omitempty"`
	WalletAddress *string   `json:"wallet_address,omitempty"`
	DisplayName   string    `json:"display_name"`
	CreatedAt     time.Time `json:"created_at"`
}

// OwnerIdentity is a verified principal. Key is the social account id or the
// wallet address, depending on Provider.
type OwnerIdentity struct {
	Provider    string
	Key         string
	Handle      string
	DisplayName string
}
