package services

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/skill-market/backend/internal/models"
	"github.com/skill-market/backend/internal/social"
)

// Collaborator errors. Stores translate their native errors into these.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Directory is the agent store.
type Directory interface {
	// Create fails with ErrConflict when the name, api key hash or
	// verification code is already taken.
	Create(ctx context.Context, agent *models.Agent) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.Agent, error)
	// GetByClaimToken finds the agent holding an outstanding claim token, or
	// the agent that consumed it (matched by ClaimedTokenHash).
	GetByClaimToken(ctx context.Context, token string) (*models.Agent, error)
	NameExists(ctx context.Context, name string) (bool, error)
	VerificationCodeExists(ctx context.Context, code string) (bool, error)
	// ExpireClaims moves pending agents whose token expired before now to
	// expired and returns their ids.
	ExpireClaims(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	TouchLastActive(ctx context.Context, agentID uuid.UUID, at time.Time) error
	GetWallet(ctx context.Context, agentID uuid.UUID) (*models.CustodialWallet, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Agent, error)
}

type OwnerStore interface {
	// ClaimAgent finds or creates the owner for identity and hands it the
	// agent as one atomic step: the agent becomes active, the hash of the
	// consumed token is kept and the claim fields are cleared. It only
	// succeeds while the agent is pending_claim with a token; otherwise
	// nothing is written, no owner included, and ErrConflict is returned.
	ClaimAgent(ctx context.Context, agentID uuid.UUID, identity models.OwnerIdentity, at time.Time) (*models.Owner, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Owner, error)
}

// Catalog holds skills and the purchases made of them.
type Catalog interface {
	GetSkill(ctx context.Context, id uuid.UUID) (*models.Skill, error)
	GetContent(ctx context.Context, skillID uuid.UUID) ([]models.SkillFile, error)
	// HasPurchased counts confirmed purchases only.
	HasPurchased(ctx context.Context, agentID, skillID uuid.UUID) (bool, error)
	// CreatePendingPurchase fails with ErrConflict while another pending or
	// confirmed purchase exists for the same agent and skill.
	CreatePendingPurchase(ctx context.Context, p *models.Purchase) error
	SetPurchaseSignature(ctx context.Context, purchaseID uuid.UUID, signature string) error
	// MarkConfirmed and MarkFailed only move pending rows and return
	// ErrConflict otherwise.
	MarkConfirmed(ctx context.Context, purchaseID uuid.UUID, signature string, at time.Time) error
	MarkFailed(ctx context.Context, purchaseID uuid.UUID) error
	ListPurchases(ctx context.Context, agentID uuid.UUID) ([]models.Purchase, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Purchase, error)
	IncrementDownloads(ctx context.Context, skillID uuid.UUID) error
}

// Ledger is the value transfer network.
type Ledger interface {
	GetBalance(ctx context.Context, wallet string) (decimal.Decimal, error)
	BuildTransfer(ctx context.Context, from, to string, amount decimal.Decimal) (*models.Transfer, error)
	SignAndSubmit(ctx context.Context, transfer *models.Transfer, key ed25519.PrivateKey) (string, error)
	// Verify confirms a transfer only once it has moved Amount to To.
	Verify(ctx context.Context, signature string) (models.TransferStatus, error)
	// FindTransfer looks for a paid transfer matching all of transfer's
	// fields, comment included, and returns its signature.
	FindTransfer(ctx context.Context, transfer *models.Transfer) (signature string, found bool, err error)
}

// WalletKeys creates custodial wallets and opens their keys for signing.
type WalletKeys interface {
	Create() (address string, sealedKey string, err error)
	Unlock(sealedKey string) (ed25519.PrivateKey, error)
}

type SocialVerifier = social.Verifier

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
}
