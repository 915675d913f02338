package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/skill-market/backend/internal/models"
	"github.com/skill-market/backend/internal/services"
)

type Catalog struct {
	mu        sync.Mutex
	skills    map[uuid.UUID]*models.Skill
	files     map[uuid.UUID][]models.SkillFile
	purchases map[uuid.UUID]*models.Purchase

	// FailMarkConfirmed makes MarkConfirmed return an error.
	FailMarkConfirmed bool
	// FailSetSignature makes SetPurchaseSignature return an error.
	FailSetSignature bool
}

func NewCatalog() *Catalog {
	return &Catalog{
		skills:    make(map[uuid.UUID]*models.Skill),
		files:     make(map[uuid.UUID][]models.SkillFile),
		purchases: make(map[uuid.UUID]*models.Purchase),
	}
}

// AddSkill lists a skill with its files and returns it.
func (c *Catalog) AddSkill(slug, authorWallet string, price decimal.Decimal, files ...models.SkillFile) *models.Skill {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &models.Skill{
		ID:           uuid.New(),
		Slug:         slug,
		Name:         slug,
		AuthorWallet: authorWallet,
		Price:        price,
		Currency:     models.DefaultCurrency,
		Listed:       true,
		CreatedAt:    time.Now().UTC(),
	}
	c.skills[s.ID] = s
	c.files[s.ID] = append([]models.SkillFile(nil), files...)
	cp := *s
	return &cp
}

// Unlist hides a skill from purchase.
func (c *Catalog) Unlist(skillID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.skills[skillID]; ok {
		s.Listed = false
	}
}

// AddPurchase inserts a purchase row as is.
func (c *Catalog) AddPurchase(p models.Purchase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purchases[p.ID] = &p
}

func (c *Catalog) GetSkill(_ context.Context, id uuid.UUID) (*models.Skill, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.skills[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (c *Catalog) GetContent(_ context.Context, skillID uuid.UUID) ([]models.SkillFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	files, ok := c.files[skillID]
	if !ok {
		return nil, services.ErrNotFound
	}
	return append([]models.SkillFile{}, files...), nil
}

func (c *Catalog) HasPurchased(_ context.Context, agentID, skillID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.purchases {
		if p.AgentID == agentID && p.SkillID == skillID && p.Status == models.PurchaseStatusConfirmed {
			return true, nil
		}
	}
	return false, nil
}

func (c *Catalog) CreatePendingPurchase(_ context.Context, p *models.Purchase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.purchases {
		if existing.AgentID == p.AgentID && existing.SkillID == p.SkillID &&
			(existing.Status == models.PurchaseStatusPending || existing.Status == models.PurchaseStatusConfirmed) {
			return services.ErrConflict
		}
	}
	cp := *p
	c.purchases[p.ID] = &cp
	return nil
}

func (c *Catalog) SetPurchaseSignature(_ context.Context, purchaseID uuid.UUID, signature string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailSetSignature {
		return errors.New("memory catalog: signature write failed")
	}
	p, ok := c.purchases[purchaseID]
	if !ok {
		return services.ErrNotFound
	}
	sig := signature
	p.TxSignature = &sig
	return nil
}

func (c *Catalog) MarkConfirmed(_ context.Context, purchaseID uuid.UUID, signature string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailMarkConfirmed {
		return errors.New("memory catalog: confirm write failed")
	}
	p, ok := c.purchases[purchaseID]
	if !ok || p.Status != models.PurchaseStatusPending {
		return services.ErrConflict
	}
	sig := signature
	p.Status = models.PurchaseStatusConfirmed
	p.TxSignature = &sig
	p.ConfirmedAt = &at
	return nil
}

func (c *Catalog) MarkFailed(_ context.Context, purchaseID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.purchases[purchaseID]
	if !ok || p.Status != models.PurchaseStatusPending {
		return services.ErrConflict
	}
	p.Status = models.PurchaseStatusFailed
	return nil
}

func (c *Catalog) ListPurchases(_ context.Context, agentID uuid.UUID) ([]models.Purchase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Purchase
	for _, p := range c.purchases {
		if p.AgentID == agentID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (c *Catalog) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]models.Purchase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Purchase
	for _, p := range c.purchases {
		if p.Status == models.PurchaseStatusPending && p.CreatedAt.Before(olderThan) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Catalog) IncrementDownloads(_ context.Context, skillID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.skills[skillID]
	if !ok {
		return services.ErrNotFound
	}
	s.DownloadCount++
	return nil
}

// Purchases returns every purchase row for an agent and skill.
func (c *Catalog) Purchases(agentID, skillID uuid.UUID) []models.Purchase {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Purchase
	for _, p := range c.purchases {
		if p.AgentID == agentID && p.SkillID == skillID {
			out = append(out, *p)
		}
	}
	return out
}

// Downloads returns a skill's download counter.
func (c *Catalog) Downloads(skillID uuid.UUID) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.skills[skillID]; ok {
		return s.DownloadCount
	}
	return 0
}
