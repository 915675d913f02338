package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skill-market/backend/internal/credentials"
	"github.com/skill-market/backend/internal/models"
)

const agentColumns = `id, name, description, status, api_key_hash, api_key_prefix, wallet_address,
	wallet_key_encrypted, owner_id, claim_token, claim_token_expires_at, verification_code,
	claimed_token_hash, created_at, claimed_at, last_active_at`

type AgentRepo struct {
	pool *pgxpool.Pool
}

func NewAgentRepo(pool *pgxpool.Pool) *AgentRepo {
	return &AgentRepo{pool: pool}
}

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(
		&a.ID, &a.Name, &a.Description, &a.Status, &a.APIKeyHash, &a.APIKeyPrefix, &a.WalletAddress,
		&a.WalletKeyEncrypted, &a.OwnerID, &a.ClaimToken, &a.ClaimTokenExpiresAt, &a.VerificationCode,
		&a.ClaimedTokenHash, &a.CreatedAt, &a.ClaimedAt, &a.LastActiveAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (r *AgentRepo) Create(ctx context.Context, a *models.Agent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO agents (id, name, description, status, api_key_hash, api_key_prefix, wallet_address,
			wallet_key_encrypted, claim_token, claim_token_expires_at, verification_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.ID, a.Name, a.Description, a.Status, a.APIKeyHash, a.APIKeyPrefix, a.WalletAddress,
		a.WalletKeyEncrypted, a.ClaimToken, a.ClaimTokenExpiresAt, a.VerificationCode, a.CreatedAt)
	return mapErr(err)
}

func (r *AgentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	return scanAgent(r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
}

func (r *AgentRepo) GetByAPIKeyHash(ctx context.Context, hash string) (*models.Agent, error) {
	return scanAgent(r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE api_key_hash = $1`, hash))
}

func (r *AgentRepo) GetByClaimToken(ctx context.Context, token string) (*models.Agent, error) {
	return scanAgent(r.pool.QueryRow(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE claim_token = $1 OR claimed_token_hash = $2
		LIMIT 1
	`, token, credentials.HashClaimToken(token)))
}

func (r *AgentRepo) NameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM agents WHERE lower(name) = lower($1) AND status <> $2)
	`, name, models.AgentStatusExpired).Scan(&exists)
	return exists, err
}

func (r *AgentRepo) VerificationCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM agents WHERE verification_code = $1)`, code).Scan(&exists)
	return exists, err
}

func (r *AgentRepo) ExpireClaims(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE agents SET status = $1
		WHERE status = $2 AND claim_token_expires_at <= $3
		RETURNING id
	`, models.AgentStatusExpired, models.AgentStatusPendingClaim, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *AgentRepo) TouchLastActive(ctx context.Context, agentID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE agents SET last_active_at = $1 WHERE id = $2`, at, agentID)
	return err
}

func (r *AgentRepo) GetWallet(ctx context.Context, agentID uuid.UUID) (*models.CustodialWallet, error) {
	w := models.CustodialWallet{AgentID: agentID}
	err := r.pool.QueryRow(ctx, `
		SELECT wallet_address, wallet_key_encrypted FROM agents WHERE id = $1
	`, agentID).Scan(&w.Address, &w.KeyEncrypted)
	if err != nil {
		return nil, mapErr(err)
	}
	return &w, nil
}

func (r *AgentRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+agentColumns+` FROM agents WHERE owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}
