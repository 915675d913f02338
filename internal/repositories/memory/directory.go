// Package memory holds in-process implementations of the service
// collaborators. They back tests and local runs without Postgres or a
// ledger connection.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skill-market/backend/internal/credentials"
	"github.com/skill-market/backend/internal/models"
	"github.com/skill-market/backend/internal/services"
)

type Directory struct {
	mu     sync.RWMutex
	agents map[uuid.UUID]*models.Agent
}

func NewDirectory() *Directory {
	return &Directory{agents: make(map[uuid.UUID]*models.Agent)}
}

func (d *Directory) Create(_ context.Context, agent *models.Agent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, a := range d.agents {
		if a.APIKeyHash == agent.APIKeyHash || (a.Status != models.AgentStatusExpired && strings.EqualFold(a.Name, agent.Name)) {
			return services.ErrConflict
		}
		if a.VerificationCode != nil && agent.VerificationCode != nil && *a.VerificationCode == *agent.VerificationCode {
			return services.ErrConflict
		}
	}
	d.agents[agent.ID] = cloneAgent(agent)
	return nil
}

func (d *Directory) GetByID(_ context.Context, id uuid.UUID) (*models.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	return cloneAgent(a), nil
}

func (d *Directory) GetByAPIKeyHash(_ context.Context, hash string) (*models.Agent, error) {
	return d.find(func(a *models.Agent) bool { return a.APIKeyHash == hash })
}

func (d *Directory) GetByClaimToken(_ context.Context, token string) (*models.Agent, error) {
	hash := credentials.HashClaimToken(token)
	return d.find(func(a *models.Agent) bool {
		return (a.ClaimToken != nil && *a.ClaimToken == token) ||
			(a.ClaimedTokenHash != nil && *a.ClaimedTokenHash == hash)
	})
}

func (d *Directory) NameExists(_ context.Context, name string) (bool, error) {
	_, err := d.find(func(a *models.Agent) bool {
		return a.Status != models.AgentStatusExpired && strings.EqualFold(a.Name, name)
	})
	return err == nil, nil
}

func (d *Directory) VerificationCodeExists(_ context.Context, code string) (bool, error) {
	_, err := d.find(func(a *models.Agent) bool { return a.VerificationCode != nil && *a.VerificationCode == code })
	return err == nil, nil
}

func (d *Directory) ExpireClaims(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ids []uuid.UUID
	for _, a := range d.agents {
		if a.Status == models.AgentStatusPendingClaim && a.ClaimTokenExpiresAt != nil && !now.Before(*a.ClaimTokenExpiresAt) {
			a.Status = models.AgentStatusExpired
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

func (d *Directory) TouchLastActive(_ context.Context, agentID uuid.UUID, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[agentID]
	if !ok {
		return services.ErrNotFound
	}
	a.LastActiveAt = &at
	return nil
}

func (d *Directory) GetWallet(_ context.Context, agentID uuid.UUID) (*models.CustodialWallet, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[agentID]
	if !ok || a.WalletAddress == "" {
		return nil, services.ErrNotFound
	}
	return &models.CustodialWallet{AgentID: a.ID, Address: a.WalletAddress, KeyEncrypted: a.WalletKeyEncrypted}, nil
}

func (d *Directory) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]models.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []models.Agent
	for _, a := range d.agents {
		if a.OwnerID != nil && *a.OwnerID == ownerID {
			out = append(out, *cloneAgent(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SetStatus overrides an agent's status, e.g. to suspend it.
func (d *Directory) SetStatus(agentID uuid.UUID, status string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.agents[agentID]; ok {
		a.Status = status
	}
}

// SetClaimExpiry moves an outstanding claim offer's deadline.
func (d *Directory) SetClaimExpiry(agentID uuid.UUID, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.agents[agentID]; ok && a.ClaimToken != nil {
		a.ClaimTokenExpiresAt = &at
	}
}

func (d *Directory) find(match func(*models.Agent) bool) (*models.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, a := range d.agents {
		if match(a) {
			return cloneAgent(a), nil
		}
	}
	return nil, services.ErrNotFound
}

func cloneAgent(a *models.Agent) *models.Agent {
	c := *a
	c.Description = cloneString(a.Description)
	c.ClaimToken = cloneString(a.ClaimToken)
	c.VerificationCode = cloneString(a.VerificationCode)
	c.ClaimedTokenHash = cloneString(a.ClaimedTokenHash)
	c.ClaimTokenExpiresAt = cloneTime(a.ClaimTokenExpiresAt)
	c.ClaimedAt = cloneTime(a.ClaimedAt)
	c.LastActiveAt = cloneTime(a.LastActiveAt)
	if a.OwnerID != nil {
		id := *a.OwnerID
		c.OwnerID = &id
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
