package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skill-market/backend/internal/models"
	"github.com/skill-market/backend/internal/services"
)

const ownerColumns = `id, x_id, x_handle, wallet_address, display_name, created_at`

type OwnerRepo struct {
	pool *pgxpool.Pool
}

func NewOwnerRepo(pool *pgxpool.Pool) *OwnerRepo {
	return &OwnerRepo{pool: pool}
}

func scanOwner(row pgx.Row) (*models.Owner, error) {
	var o models.Owner
	if err := row.Scan(&o.ID, &o.XID, &o.XHandle, &o.WalletAddress, &o.DisplayName, &o.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

// ClaimAgent upserts the owner and activates the agent in one transaction. A
// claimant that loses the race rolls its owner insert back with it.
func (r *OwnerRepo) ClaimAgent(ctx context.Context, agentID uuid.UUID, identity models.OwnerIdentity, at time.Time) (*models.Owner, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	owner, err := upsertOwner(ctx, tx, identity)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE agents SET
			status = $3,
			owner_id = $2,
			claimed_at = $4,
			claimed_token_hash = encode(sha256(convert_to(claim_token, 'UTF8')), 'hex'),
			claim_token = NULL,
			claim_token_expires_at = NULL,
			verification_code = NULL
		WHERE id = $1 AND status = $5 AND claim_token IS NOT NULL
	`, agentID, owner.ID, models.AgentStatusActive, at, models.AgentStatusPendingClaim)
	if err != nil {
		return nil, mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, services.ErrConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return owner, nil
}

// upsertOwner returns the owner for a verified identity, creating it on first
// sight. A social owner's handle follows the latest verified post.
func upsertOwner(ctx context.Context, tx pgx.Tx, identity models.OwnerIdentity) (*models.Owner, error) {
	if identity.Provider == models.OwnerProviderWallet {
		return scanOwner(tx.QueryRow(ctx, `
			INSERT INTO owners (wallet_address, display_name)
			VALUES ($1, $2)
			ON CONFLICT (wallet_address) DO UPDATE SET wallet_address = EXCLUDED.wallet_address
			RETURNING `+ownerColumns,
			identity.Key, identity.DisplayName))
	}
	return scanOwner(tx.QueryRow(ctx, `
		INSERT INTO owners (x_id, x_handle, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (x_id) DO UPDATE SET x_handle = EXCLUDED.x_handle
		RETURNING `+ownerColumns,
		identity.Key, identity.Handle, identity.DisplayName))
}

func (r *OwnerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Owner, error) {
	return scanOwner(r.pool.QueryRow(ctx, `SELECT `+ownerColumns+` FROM owners WHERE id = $1`, id))
}
