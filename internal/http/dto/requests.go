package dto

import "github.com/skill-market/backend/internal/ton"

type RegisterAgentRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// ClaimVerifyRequest carries one proof, selected by Method.
type ClaimVerifyRequest struct {
	ClaimToken string `json:"claim_token"`
	Method     string `json:"method"` // x/wallet/ton_proof

	PostURL string `json:"post_url,omitempty"`

	WalletAddress string `json:"wallet_address,omitempty"`
	Signature     string `json:"signature,omitempty"`
	Message       string `json:"message,omitempty"`

	TonProof *ton.ConnectProof `json:"ton_proof,omitempty"`
}
