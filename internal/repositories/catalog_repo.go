package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/skill-market/backend/internal/models"
	"github.com/skill-market/backend/internal/services"
)

const purchaseColumns = `id, agent_id, skill_id, price::text, currency, tx_signature, status, created_at, confirmed_at`

// CatalogRepo stores skills, their files and the purchases made of them.
type CatalogRepo struct {
	pool *pgxpool.Pool
}

func NewCatalogRepo(pool *pgxpool.Pool) *CatalogRepo {
	return &CatalogRepo{pool: pool}
}

func (r *CatalogRepo) GetSkill(ctx context.Context, id uuid.UUID) (*models.Skill, error) {
	var s models.Skill
	var price string
	err := r.pool.QueryRow(ctx, `
		SELECT id, slug, name, author_wallet, price::text, currency, listed, download_count, created_at
		FROM skills WHERE id = $1
	`, id).Scan(&s.ID, &s.Slug, &s.Name, &s.AuthorWallet, &price, &s.Currency, &s.Listed, &s.DownloadCount, &s.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if s.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("skill %s price: %w", id, err)
	}
	return &s, nil
}

func (r *CatalogRepo) GetContent(ctx context.Context, skillID uuid.UUID) ([]models.SkillFile, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT path, content FROM skill_files WHERE skill_id = $1 ORDER BY path
	`, skillID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []models.SkillFile{}
	for rows.Next() {
		var f models.SkillFile
		if err := rows.Scan(&f.Path, &f.Content); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (r *CatalogRepo) HasPurchased(ctx context.Context, agentID, skillID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM purchases WHERE agent_id = $1 AND skill_id = $2 AND status = $3)
	`, agentID, skillID, models.PurchaseStatusConfirmed).Scan(&exists)
	return exists, err
}

// CreatePendingPurchase relies on the partial unique index over live rows,
// so two concurrent attempts cannot both insert.
func (r *CatalogRepo) CreatePendingPurchase(ctx context.Context, p *models.Purchase) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO purchases (id, agent_id, skill_id, price, currency, status, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
	`, p.ID, p.AgentID, p.SkillID, p.Price.String(), p.Currency, p.Status, p.CreatedAt)
	return mapErr(err)
}

func (r *CatalogRepo) SetPurchaseSignature(ctx context.Context, purchaseID uuid.UUID, signature string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE purchases SET tx_signature = $1 WHERE id = $2`, signature, purchaseID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return services.ErrNotFound
	}
	return nil
}

func (r *CatalogRepo) MarkConfirmed(ctx context.Context, purchaseID uuid.UUID, signature string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE purchases SET status = $1, tx_signature = $2, confirmed_at = $3
		WHERE id = $4 AND status = $5
	`, models.PurchaseStatusConfirmed, signature, at, purchaseID, models.PurchaseStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return services.ErrConflict
	}
	return nil
}

func (r *CatalogRepo) MarkFailed(ctx context.Context, purchaseID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE purchases SET status = $1 WHERE id = $2 AND status = $3
	`, models.PurchaseStatusFailed, purchaseID, models.PurchaseStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return services.ErrConflict
	}
	return nil
}

func (r *CatalogRepo) ListPurchases(ctx context.Context, agentID uuid.UUID) ([]models.Purchase, error) {
	return r.queryPurchases(ctx, `
		SELECT `+purchaseColumns+` FROM purchases WHERE agent_id = $1 ORDER BY created_at DESC
	`, agentID)
}

func (r *CatalogRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Purchase, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryPurchases(ctx, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at LIMIT $3
	`, models.PurchaseStatusPending, olderThan, limit)
}

func (r *CatalogRepo) IncrementDownloads(ctx context.Context, skillID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE skills SET download_count = download_count + 1 WHERE id = $1`, skillID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return services.ErrNotFound
	}
	return nil
}

func (r *CatalogRepo) queryPurchases(ctx context.Context, sql string, args ...any) ([]models.Purchase, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPurchase(row pgx.Row) (*models.Purchase, error) {
	var p models.Purchase
	var price string
	err := row.Scan(&p.ID, &p.AgentID, &p.SkillID, &price, &p.Currency, &p.TxSignature, &p.Status, &p.CreatedAt, &p.ConfirmedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("purchase %s price: %w", p.ID, err)
	}
	return &p, nil
}
