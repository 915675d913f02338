package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skill-market/backend/internal/credentials"
	"github.com/skill-market/backend/internal/models"
	"github.com/skill-market/backend/internal/services"
)

// Owners claims agents held by directory.
type Owners struct {
	mu        sync.Mutex
	directory *Directory
	owners    map[uuid.UUID]*models.Owner
	byKey     map[string]uuid.UUID
}

func NewOwners(directory *Directory) *Owners {
	return &Owners{
		directory: directory,
		owners:    make(map[uuid.UUID]*models.Owner),
		byKey:     make(map[string]uuid.UUID),
	}
}

func (o *Owners) ClaimAgent(_ context.Context, agentID uuid.UUID, identity models.OwnerIdentity, at time.Time) (*models.Owner, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.directory.mu.Lock()
	defer o.directory.mu.Unlock()

	a, ok := o.directory.agents[agentID]
	if !ok || a.Status != models.AgentStatusPendingClaim || a.ClaimToken == nil {
		return nil, services.ErrConflict
	}

	owner := o.findOrCreateLocked(identity)
	hash := credentials.HashClaimToken(*a.ClaimToken)
	ownerID := owner.ID
	a.Status = models.AgentStatusActive
	a.OwnerID = &ownerID
	a.ClaimedTokenHash = &hash
	a.ClaimedAt = &at
	a.ClaimToken = nil
	a.ClaimTokenExpiresAt = nil
	a.VerificationCode = nil

	c := *owner
	return &c, nil
}

func (o *Owners) findOrCreateLocked(identity models.OwnerIdentity) *models.Owner {
	key := identity.Provider + ":" + identity.Key
	if id, ok := o.byKey[key]; ok {
		owner := o.owners[id]
		if identity.Provider != models.OwnerProviderWallet {
			h := identity.Handle
			owner.XHandle = &h
		}
		return owner
	}

	owner := &models.Owner{
		ID:          uuid.New(),
		DisplayName: identity.DisplayName,
		CreatedAt:   time.Now().UTC(),
	}
	switch identity.Provider {
	case models.OwnerProviderWallet:
		k := identity.Key
		owner.WalletAddress = &k
	default:
		k, h := identity.Key, identity.Handle
		owner.XID = &k
		owner.XHandle = &h
	}
	o.owners[owner.ID] = owner
	o.byKey[key] = owner.ID
	return owner
}

func (o *Owners) GetByID(_ context.Context, id uuid.UUID) (*models.Owner, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	owner, ok := o.owners[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	c := *owner
	return &c, nil
}

// Len reports how many distinct owners exist.
func (o *Owners) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.owners)
}
