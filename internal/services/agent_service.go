package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/apperr"
	"github.com/skill-market/backend/internal/config"
	"github.com/skill-market/backend/internal/credentials"
	"github.com/skill-market/backend/internal/events"
	"github.com/skill-market/backend/internal/metrics"
	"github.com/skill-market/backend/internal/models"
)

const (
	maxDescriptionLength = 500
	codeAttempts         = 5
)

type AgentService struct {
	directory Directory
	wallets   WalletKeys
	auditRepo AuditLogger
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewAgentService(
	directory Directory,
	wallets WalletKeys,
	auditRepo AuditLogger,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *AgentService {
	return &AgentService{
		directory: directory,
		wallets:   wallets,
		auditRepo: auditRepo,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

// Registration is returned once. APIKey is never retrievable again.
type Registration struct {
	Agent            *models.Agent
	APIKey           string
	ClaimToken       string
	ClaimURL         string
	VerificationCode string
	ExpiresAt        time.Time
}

func (s *AgentService) Register(ctx context.Context, name string, description *string) (*Registration, error) {
	name = strings.TrimSpace(name)
	if !credentials.IsValidAgentName(name) {
		return nil, apperr.New(apperr.KindValidation, "name must be 2-32 characters of letters, digits and underscores")
	}
	if description != nil {
		d := strings.TrimSpace(*description)
		if utf8.RuneCountInString(d) > maxDescriptionLength {
			return nil, apperr.Newf(apperr.KindValidation, "description must be at most %d characters", maxDescriptionLength)
		}
		if d == "" {
			description = nil
		} else {
			description = &d
		}
	}

	taken, err := s.directory.NameExists(ctx, name)
	if err != nil {
		return nil, apperr.Internal("check agent name", err)
	}
	if taken {
		return nil, apperr.New(apperr.KindNameTaken, "agent name is already taken")
	}

	apiKey, err := credentials.GenerateAPIKey()
	if err != nil {
		return nil, apperr.Internal("generate credentials", err)
	}
	claimToken, err := credentials.GenerateClaimToken()
	if err != nil {
		return nil, apperr.Internal("generate credentials", err)
	}
	code, err := s.uniqueVerificationCode(ctx)
	if err != nil {
		return nil, err
	}

	walletAddress, sealedKey, err := s.wallets.Create()
	if err != nil {
		return nil, apperr.Internal("create custodial wallet", err)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(models.ClaimTokenTTL)
	agent := &models.Agent{
		ID:                  uuid.New(),
		Name:                name,
		Description:         description,
		Status:              models.AgentStatusPendingClaim,
		APIKeyHash:          credentials.HashAPIKey(apiKey),
		APIKeyPrefix:        credentials.DisplayPrefix(apiKey),
		WalletAddress:       walletAddress,
		WalletKeyEncrypted:  sealedKey,
		ClaimToken:          &claimToken,
		ClaimTokenExpiresAt: &expiresAt,
		VerificationCode:    &code,
		CreatedAt:           now,
	}

	if err := s.directory.Create(ctx, agent); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, apperr.Wrap(apperr.KindNameTaken, "agent name is already taken", err)
		}
		return nil, apperr.Internal("create agent", err)
	}

	metrics.AgentsRegistered.Inc()

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorID:    &agent.ID,
		ActorType:  models.ActorAgent,
		Action:     "agent_registered",
		EntityType: "agent",
		EntityID:   &agent.ID,
		Meta:       map[string]any{"name": agent.Name, "api_key_prefix": agent.APIKeyPrefix},
	})

	_ = s.publisher.Publish(ctx, events.StreamAgent, events.Event{
		Type: events.EventAgentRegistered,
		Payload: map[string]any{
			"agent_id": agent.ID.String(),
			"name":     agent.Name,
		},
	})

	s.log.Info("agent registered",
		zap.String("agent_id", agent.ID.String()),
		zap.String("name", agent.Name),
		zap.String("api_key_prefix", agent.APIKeyPrefix),
	)

	return &Registration{
		Agent:            agent,
		APIKey:           apiKey,
		ClaimToken:       claimToken,
		ClaimURL:         s.cfg.PublicBaseURL + "/claim/" + claimToken,
		VerificationCode: code,
		ExpiresAt:        expiresAt,
	}, nil
}

func (s *AgentService) uniqueVerificationCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := credentials.GenerateVerificationCode()
		if err != nil {
			return "", apperr.Internal("generate verification code", err)
		}
		exists, err := s.directory.VerificationCodeExists(ctx, code)
		if err != nil {
			return "", apperr.Internal("check verification code", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", apperr.Internal("generate verification code", errors.New("no unique code after retries"))
}

// Get returns the agent record for an authenticated identity.
func (s *AgentService) Get(ctx context.Context, agentID uuid.UUID) (*models.Agent, error) {
	agent, err := s.directory.GetByID(ctx, agentID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "agent not found")
	}
	if err != nil {
		return nil, apperr.Internal("get agent", err)
	}
	return agent, nil
}

// AgentStatus is what an agent can see about itself before it is claimed.
type AgentStatus struct {
	AgentID        uuid.UUID  `json:"agent_id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
}

func (s *AgentService) Status(ctx context.Context, agentID uuid.UUID) (*AgentStatus, error) {
	agent, err := s.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	st := &AgentStatus{
		AgentID:   agent.ID,
		Name:      agent.Name,
		Status:    agent.Status,
		ClaimedAt: agent.ClaimedAt,
	}
	if agent.HasPendingClaim() {
		st.ClaimExpiresAt = agent.ClaimTokenExpiresAt
	}
	return st, nil
}

// ListForOwner returns the agents an owner has claimed.
func (s *AgentService) ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Agent, error) {
	agents, err := s.directory.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.Internal("list owner agents", err)
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	return agents, nil
}
