package services

import (
	"context"
	"crypto/ed25519"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/apperr"
	"github.com/skill-market/backend/internal/auth"
	"github.com/skill-market/backend/internal/config"
	"github.com/skill-market/backend/internal/credentials"
	"github.com/skill-market/backend/internal/events"
	"github.com/skill-market/backend/internal/metrics"
	"github.com/skill-market/backend/internal/models"
	"github.com/skill-market/backend/internal/social"
	"github.com/skill-market/backend/internal/ton"
)

// Claim methods
const (
	ClaimMethodX        = "x"
	ClaimMethodWallet   = "wallet"
	ClaimMethodTonProof = "ton_proof"
)

const unverifiedPrefix = "unverified:"

type ClaimService struct {
	directory Directory
	owners    OwnerStore
	verifier  SocialVerifier
	auditRepo AuditLogger
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

// NewClaimService accepts a nil verifier. Social claims are then rejected
// unless cfg.ClaimAllowUnverifiedSocial is set.
func NewClaimService(
	directory Directory,
	owners OwnerStore,
	verifier SocialVerifier,
	auditRepo AuditLogger,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *ClaimService {
	return &ClaimService{
		directory: directory,
		owners:    owners,
		verifier:  verifier,
		auditRepo: auditRepo,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

type ClaimInfo struct {
	AgentName        string    `json:"agent_name"`
	Description      *string   `json:"description,omitempty"`
	VerificationCode string    `json:"verification_code"`
	Status           string    `json:"status"`
	ExpiresAt        time.Time `json:"expires_at"`
	ProductMention   string    `json:"product_mention"`
}

type ClaimResult struct {
	AgentID             uuid.UUID     `json:"agent_id"`
	AgentName           string        `json:"agent_name"`
	Owner               *models.Owner `json:"owner"`
	ClaimedAt           time.Time     `json:"claimed_at"`
	OwnerToken          string        `json:"owner_token,omitempty"`
	OwnerTokenExpiresAt *time.Time    `json:"owner_token_expires_at,omitempty"`
}

func (s *ClaimService) GetClaimInfo(ctx context.Context, token string) (*ClaimInfo, error) {
	agent, err := s.loadPending(ctx, token)
	if err != nil {
		return nil, err
	}
	return &ClaimInfo{
		AgentName:        agent.Name,
		Description:      agent.Description,
		VerificationCode: *agent.VerificationCode,
		Status:           agent.Status,
		ExpiresAt:        *agent.ClaimTokenExpiresAt,
		ProductMention:   s.cfg.ProductMention,
	}, nil
}

// ClaimWithPost completes a claim with a public post that contains the
// agent's verification code and mentions the product.
func (s *ClaimService) ClaimWithPost(ctx context.Context, token, postURL string) (result *ClaimResult, err error) {
	defer observeClaim(ClaimMethodX, &err)

	if !credentials.IsValidClaimTokenFormat(token) {
		return nil, apperr.New(apperr.KindValidation, "invalid claim token format")
	}
	ref, err := social.ParsePostURL(postURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "post_url must be a link to a public post on x.com", err)
	}

	agent, err := s.loadPending(ctx, token)
	if err != nil {
		return nil, err
	}

	identity, err := s.verifyPost(ctx, agent, ref)
	if err != nil {
		return nil, err
	}

	return s.finish(ctx, agent, identity, ClaimMethodX)
}

func (s *ClaimService) verifyPost(ctx context.Context, agent *models.Agent, ref social.PostRef) (models.OwnerIdentity, error) {
	if s.verifier == nil {
		if !s.cfg.ClaimAllowUnverifiedSocial {
			return models.OwnerIdentity{}, apperr.New(apperr.KindVerificationFailed, "social verification is not available, claim with a wallet signature instead")
		}
		s.log.Warn("accepting unverified social claim",
			zap.String("agent_id", agent.ID.String()),
			zap.String("handle", ref.Handle),
		)
		return models.OwnerIdentity{
			Provider:    models.OwnerProviderX,
			Key:         unverifiedPrefix + strings.ToLower(ref.Handle),
			Handle:      ref.Handle,
			DisplayName: "@" + ref.Handle,
		}, nil
	}

	vctx, cancel := context.WithTimeout(ctx, s.cfg.SocialTimeout)
	defer cancel()

	post, err := s.verifier.FetchPost(vctx, ref)
	if errors.Is(err, social.ErrPostNotFound) {
		return models.OwnerIdentity{}, apperr.Wrap(apperr.KindVerificationFailed, "post not found or not public", err)
	}
	if err != nil {
		s.log.Warn("social verifier failed",
			zap.String("agent_id", agent.ID.String()),
			zap.String("post_id", ref.ID),
			zap.Error(err),
		)
		return models.OwnerIdentity{}, apperr.Wrap(apperr.KindVerificationFailed, "could not verify post, try again later", err)
	}

	if !strings.Contains(post.Text, *agent.VerificationCode) {
		return models.OwnerIdentity{}, apperr.New(apperr.KindVerificationFailed, "post does not contain the verification code")
	}
	if !social.ContainsMention(post.Text, s.cfg.ProductMention) {
		return models.OwnerIdentity{}, apperr.Newf(apperr.KindVerificationFailed, "post must mention %s", s.cfg.ProductMention)
	}

	display := post.AuthorName
	if display == "" {
		display = "@" + post.AuthorHandle
	}
	return models.OwnerIdentity{
		Provider:    models.OwnerProviderX,
		Key:         post.AuthorID,
		Handle:      post.AuthorHandle,
		DisplayName: display,
	}, nil
}

// ClaimWithWallet completes a claim with an ed25519 signature over a message
// that contains the claim token.
func (s *ClaimService) ClaimWithWallet(ctx context.Context, token, walletAddress, signature, message string) (result *ClaimResult, err error) {
	defer observeClaim(ClaimMethodWallet, &err)

	if !credentials.IsValidClaimTokenFormat(token) {
		return nil, apperr.New(apperr.KindValidation, "invalid claim token format")
	}
	if walletAddress == "" || signature == "" || message == "" {
		return nil, apperr.New(apperr.KindValidation, "wallet_address, signature and message are required")
	}

	agent, err := s.loadPending(ctx, token)
	if err != nil {
		return nil, err
	}

	pub, err := ton.ParsePublicKey(walletAddress)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindVerificationFailed, "wallet_address is not a valid ed25519 public key", err)
	}
	if !strings.Contains(message, token) {
		return nil, apperr.New(apperr.KindVerificationFailed, "signed message must contain the claim token")
	}
	if err := ton.VerifyMessageSignature(pub, message, signature); err != nil {
		return nil, apperr.Wrap(apperr.KindVerificationFailed, "signature does not match wallet and message", err)
	}

	return s.finish(ctx, agent, walletIdentity(pub), ClaimMethodWallet)
}

// ClaimWithTonProof completes a claim with a TON Connect ton_proof whose
// payload is the claim token. The owner is keyed on the wallet's public key,
// so the same wallet maps to one owner whichever wallet method it used.
func (s *ClaimService) ClaimWithTonProof(ctx context.Context, token string, proof ton.ConnectProof) (result *ClaimResult, err error) {
	defer observeClaim(ClaimMethodTonProof, &err)

	if !credentials.IsValidClaimTokenFormat(token) {
		return nil, apperr.New(apperr.KindValidation, "invalid claim token format")
	}
	if proof.PublicKey == "" || proof.Address == "" || proof.Proof.Signature == "" {
		return nil, apperr.New(apperr.KindValidation, "ton_proof with address, public_key and proof is required")
	}

	agent, err := s.loadPending(ctx, token)
	if err != nil {
		return nil, err
	}

	if proof.Proof.Payload != token {
		return nil, apperr.New(apperr.KindVerificationFailed, "ton_proof payload must be the claim token")
	}
	pub, err := ton.VerifyConnectProof(proof, s.cfg.TONProofDomains, time.Now())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindVerificationFailed, "ton_proof verification failed", err)
	}

	return s.finish(ctx, agent, walletIdentity(pub), ClaimMethodTonProof)
}

func walletIdentity(pub ed25519.PublicKey) models.OwnerIdentity {
	key := ton.PublicKeyHex(pub)
	return models.OwnerIdentity{
		Provider:    models.OwnerProviderWallet,
		Key:         key,
		DisplayName: key[:6] + "..." + key[len(key)-4:],
	}
}

// loadPending resolves a token to an agent that can still be claimed.
func (s *ClaimService) loadPending(ctx context.Context, token string) (*models.Agent, error) {
	if !credentials.IsValidClaimTokenFormat(token) {
		return nil, apperr.New(apperr.KindValidation, "invalid claim token format")
	}

	agent, err := s.directory.GetByClaimToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "claim not found or already used")
	}
	if err != nil {
		return nil, apperr.Internal("lookup claim token", err)
	}

	switch {
	case agent.Status == models.AgentStatusExpired:
		return nil, expiredClaim(agent)
	case !agent.HasPendingClaim() || agent.VerificationCode == nil:
		return nil, apperr.New(apperr.KindAlreadyClaimed, "agent has already been claimed")
	case agent.ClaimTokenExpiresAt == nil || credentials.IsClaimTokenExpired(*agent.ClaimTokenExpiresAt, time.Now()):
		return nil, expiredClaim(agent)
	}
	return agent, nil
}

func expiredClaim(agent *models.Agent) error {
	e := apperr.New(apperr.KindExpired, "claim link has expired, register the agent again")
	if agent.ClaimTokenExpiresAt != nil {
		e = e.WithMeta("expired_at", agent.ClaimTokenExpiresAt.UTC())
	}
	return e
}

func (s *ClaimService) finish(ctx context.Context, agent *models.Agent, identity models.OwnerIdentity, method string) (*ClaimResult, error) {
	claimedAt := time.Now().UTC()
	owner, err := s.owners.ClaimAgent(ctx, agent.ID, identity, claimedAt)
	if errors.Is(err, ErrConflict) {
		return nil, apperr.New(apperr.KindAlreadyClaimed, "agent has already been claimed")
	}
	if err != nil {
		return nil, apperr.Internal("complete claim", err)
	}

	result := &ClaimResult{
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Owner:     owner,
		ClaimedAt: claimedAt,
	}

	token, expiresAt, err := auth.GenerateOwnerJWT(s.cfg.JWTSecret, owner.ID, identity.Provider, s.cfg.JWTExpiration)
	if err != nil {
		s.log.Error("failed to issue owner token", zap.String("owner_id", owner.ID.String()), zap.Error(err))
	} else {
		result.OwnerToken = token
		result.OwnerTokenExpiresAt = &expiresAt
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorID:    &owner.ID,
		ActorType:  models.ActorOwner,
		Action:     "agent_claimed",
		EntityType: "agent",
		EntityID:   &agent.ID,
		Meta:       map[string]any{"method": method, "provider": identity.Provider},
	})

	_ = s.publisher.Publish(ctx, events.StreamAgent, events.Event{
		Type: events.EventAgentClaimed,
		Payload: map[string]any{
			"agent_id": agent.ID.String(),
			"owner_id": owner.ID.String(),
			"method":   method,
		},
	})

	s.log.Info("agent claimed",
		zap.String("agent_id", agent.ID.String()),
		zap.String("owner_id", owner.ID.String()),
		zap.String("method", method),
	)

	return result, nil
}

func observeClaim(method string, err *error) {
	outcome := "success"
	if *err != nil {
		outcome = string(apperr.KindOf(*err))
	}
	metrics.ClaimAttempts.WithLabelValues(method, outcome).Inc()
}
