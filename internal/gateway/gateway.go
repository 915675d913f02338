// Package gateway authenticates agent credentials and applies rate limits.
// It knows nothing about HTTP; middleware adapts it to Fiber.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/apperr"
	"github.com/skill-market/backend/internal/credentials"
	"github.com/skill-market/backend/internal/metrics"
	"github.com/skill-market/backend/internal/models"
	"github.com/skill-market/backend/internal/ratelimit"
	"github.com/skill-market/backend/internal/services"
)

// Identities is the part of the agent directory the gateway reads.
type Identities interface {
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.Agent, error)
	TouchLastActive(ctx context.Context, agentID uuid.UUID, at time.Time) error
}

// Identity is an authenticated agent.
type Identity struct {
	AgentID       uuid.UUID
	Name          string
	Status        string
	WalletAddress string
	OwnerID       *uuid.UUID
}

type Request struct {
	APIKey        string
	Action        ratelimit.Action
	RequireActive bool
}

type Gateway struct {
	identities Identities
	limiter    *ratelimit.Limiter
	bestEffort *services.BestEffort
	log        *zap.Logger
}

func New(identities Identities, limiter *ratelimit.Limiter, bestEffort *services.BestEffort, log *zap.Logger) *Gateway {
	return &Gateway{
		identities: identities,
		limiter:    limiter,
		bestEffort: bestEffort,
		log:        log,
	}
}

// ExtractAPIKey prefers the X-API-Key header over a Bearer authorization.
func ExtractAPIKey(xAPIKey, authorization string) string {
	if k := strings.TrimSpace(xAPIKey); k != "" {
		return k
	}
	const bearer = "Bearer "
	if len(authorization) > len(bearer) && strings.EqualFold(authorization[:len(bearer)], bearer) {
		return strings.TrimSpace(authorization[len(bearer):])
	}
	return ""
}

// Authenticate resolves an API key to an agent and charges the request to
// that agent's budget for req.Action. The Result is zero when the request is
// rejected before the limiter is charged.
func (g *Gateway) Authenticate(ctx context.Context, req Request) (*Identity, ratelimit.Result, error) {
	if req.APIKey == "" {
		return nil, ratelimit.Result{}, g.reject("missing", apperr.New(apperr.KindMissingAuth, "missing API key, send X-API-Key or Authorization: Bearer"))
	}
	if !credentials.IsValidAPIKeyFormat(req.APIKey) {
		return nil, ratelimit.Result{}, g.reject("format", apperr.New(apperr.KindInvalidCredential, "invalid API key"))
	}

	hash := credentials.HashAPIKey(req.APIKey)
	agent, err := g.identities.GetByAPIKeyHash(ctx, hash)
	if errors.Is(err, services.ErrNotFound) {
		return nil, ratelimit.Result{}, g.reject("unknown", apperr.New(apperr.KindInvalidCredential, "invalid API key"))
	}
	if err != nil {
		return nil, ratelimit.Result{}, apperr.Internal("lookup api key", err)
	}
	if !credentials.SecureCompare(agent.APIKeyHash, hash) {
		return nil, ratelimit.Result{}, g.reject("unknown", apperr.New(apperr.KindInvalidCredential, "invalid API key"))
	}

	// Suspension blocks every route, including the ones open to unclaimed agents.
	if agent.Status == models.AgentStatusSuspended {
		return nil, ratelimit.Result{}, g.reject("suspended", apperr.New(apperr.KindSuspended, "agent is suspended"))
	}
	if req.RequireActive && !agent.IsActive() {
		return nil, ratelimit.Result{}, g.reject("not_active", apperr.New(apperr.KindNotActive, "agent has not been claimed by an owner yet").
			WithMeta("status", agent.Status))
	}

	res := g.limiter.Consume("agent:"+agent.ID.String(), req.Action)
	if !res.Allowed {
		return nil, res, g.limited(req.Action, res)
	}

	id := agent.ID
	g.bestEffort.Go("touch_last_active", func(ctx context.Context) error {
		return g.identities.TouchLastActive(ctx, id, time.Now().UTC())
	})

	return &Identity{
		AgentID:       agent.ID,
		Name:          agent.Name,
		Status:        agent.Status,
		WalletAddress: agent.WalletAddress,
		OwnerID:       agent.OwnerID,
	}, res, nil
}

// Public charges an unauthenticated request to its network origin.
func (g *Gateway) Public(_ context.Context, ip string, action ratelimit.Action) (ratelimit.Result, error) {
	res := g.limiter.Consume("ip:"+ip, action)
	if !res.Allowed {
		return res, g.limited(action, res)
	}
	return res, nil
}

// Now is the clock rate limit headers are computed against.
func (g *Gateway) Now() time.Time {
	return g.limiter.Now()
}

func (g *Gateway) limited(action ratelimit.Action, res ratelimit.Result) error {
	metrics.RateLimitHits.WithLabelValues(string(action)).Inc()
	now := g.limiter.Now()
	return apperr.New(apperr.KindRateLimited, "rate limit exceeded").
		WithMeta("limit", res.Limit).
		WithMeta("reset_at", res.ResetAt.UTC().Format(time.RFC3339)).
		WithMeta("retry_after_seconds", ratelimit.RetryAfterSeconds(res, now))
}

func (g *Gateway) reject(reason string, err *apperr.Error) error {
	metrics.AuthFailures.WithLabelValues(reason).Inc()
	g.log.Debug("authentication rejected", zap.String("reason", reason))
	return err
}
