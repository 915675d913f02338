package http

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/config"
	"github.com/skill-market/backend/internal/custody"
	"github.com/skill-market/backend/internal/events"
	"github.com/skill-market/backend/internal/gateway"
	"github.com/skill-market/backend/internal/http/handlers"
	"github.com/skill-market/backend/internal/models"
	"github.com/skill-market/backend/internal/ratelimit"
	"github.com/skill-market/backend/internal/repositories/memory"
	"github.com/skill-market/backend/internal/services"
	"github.com/skill-market/backend/internal/ton"
)

type testServer struct {
	app     *fiber.App
	catalog *memory.Catalog
	ledger  *memory.Ledger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zap.NewNop()
	cfg := &config.Config{
		PublicBaseURL:  "https://skill.market",
		JWTSecret:      "test-secret",
		JWTExpiration:  time.Hour,
		LedgerTimeout:  2 * time.Second,
		SocialTimeout:  2 * time.Second,
		ProductMention: "@SkillMarket",
	}

	directory := memory.NewDirectory()
	owners := memory.NewOwners(directory)
	catalog := memory.NewCatalog()
	ledger := memory.NewLedger()
	audit := memory.NewAudit()
	bus := events.NewMemoryBus()
	be := services.NewBestEffort(time.Second, log)
	t.Cleanup(be.Wait)

	sealer, err := custody.NewSealer("test-passphrase", "skill-market/test")
	require.NoError(t, err)
	wallets := custody.NewWallets(sealer, memory.Address)

	agentService := services.NewAgentService(directory, wallets, audit, bus, cfg, log)
	claimService := services.NewClaimService(directory, owners, memory.NewVerifier(), audit, bus, cfg, log)
	purchaseService := services.NewPurchaseService(directory, catalog, ledger, wallets, audit, bus, be, cfg, log)

	gw := gateway.New(directory, ratelimit.NewLimiter(nil), be, log)

	app := NewApp(log)
	SetupRouter(app, cfg, log, gw, Handlers{
		Agent: handlers.NewAgentHandler(agentService, purchaseService, log),
		Claim: handlers.NewClaimHandler(claimService, log),
		Skill: handlers.NewSkillHandler(purchaseService, log),
		Owner: handlers.NewOwnerHandler(owners, agentService, log),
	}, nil)

	return &testServer{app: app, catalog: catalog, ledger: ledger}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Meta    map[string]any `json:"meta"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*nethttp.Response, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return resp, env
}

type registered struct {
	AgentID       string `json:"agent_id"`
	APIKey        string `json:"api_key"`
	ClaimToken    string `json:"claim_token"`
	WalletAddress string `json:"wallet_address"`
}

func (s *testServer) register(t *testing.T, name string) registered {
	t.Helper()
	resp, env := s.do(t, "POST", "/api/v1/agents/register", map[string]any{"name": name}, nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.True(t, env.Success)

	var reg registered
	require.NoError(t, json.Unmarshal(env.Data, &reg))
	return reg
}

func (s *testServer) claim(t *testing.T, token string) string {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	msg := "claiming " + token
	resp, env := s.do(t, "POST", "/api/v1/agents/claim/verify", map[string]any{
		"claim_token":    token,
		"method":         "wallet",
		"wallet_address": hex.EncodeToString(pub),
		"signature":      hex.EncodeToString(ed25519.Sign(priv, []byte(msg))),
		"message":        msg,
	}, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, "%+v", env.Error)

	var res struct {
		OwnerToken string `json:"owner_token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res.OwnerToken
}

func TestAgentLifecycle(t *testing.T) {
	s := newTestServer(t)
	reg := s.register(t, "TestBot")
	key := map[string]string{"X-API-Key": reg.APIKey}

	resp, env := s.do(t, "GET", "/api/v1/agents/claim?token="+reg.ClaimToken, nil, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var info struct {
		AgentName string `json:"agent_name"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "TestBot", info.AgentName)
	assert.Equal(t, models.AgentStatusPendingClaim, info.Status)

	resp, env = s.do(t, "GET", "/api/v1/agents/me", nil, key)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "agent_not_active", env.Error.Code)

	resp, _ = s.do(t, "GET", "/api/v1/agents/status", nil, key)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))

	ownerToken := s.claim(t, reg.ClaimToken)
	require.NotEmpty(t, ownerToken)

	resp, env = s.do(t, "GET", "/api/v1/agents/me", nil, map[string]string{"Authorization": "Bearer " + reg.APIKey})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(env.Data), "api_key_hash")

	resp, env = s.do(t, "GET", "/api/v1/agents/claim?token="+reg.ClaimToken, nil, nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_claimed", env.Error.Code)

	resp, env = s.do(t, "GET", "/api/v1/owners/me/agents", nil, map[string]string{"Authorization": "Bearer " + ownerToken})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var agents []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, reg.AgentID, agents[0]["id"])
}

func TestPurchaseOverHTTP(t *testing.T) {
	s := newTestServer(t)
	reg := s.register(t, "Shopper")
	s.claim(t, reg.ClaimToken)
	key := map[string]string{"X-API-Key": reg.APIKey}

	cheap := s.catalog.AddSkill("summarize", "mem:author", decimal.RequireFromString("0.5"),
		models.SkillFile{Path: "SKILL.md", Content: "# Summarize"})
	pricey := s.catalog.AddSkill("translate", "mem:author", decimal.RequireFromString("5"))
	s.ledger.Fund(reg.WalletAddress, decimal.RequireFromString("1"))

	resp, env := s.do(t, "GET", "/api/v1/skills/"+cheap.ID.String()+"/content", nil, key)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", env.Error.Code)

	resp, env = s.do(t, "POST", "/api/v1/skills/"+cheap.ID.String()+"/purchase", nil, key)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, "%+v", env.Error)
	var bought struct {
		Status string `json:"status"`
		Price  string `json:"price"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &bought))
	assert.Equal(t, models.PurchaseStatusConfirmed, bought.Status)
	assert.Equal(t, "0.5", bought.Price)

	resp, _ = s.do(t, "GET", "/api/v1/skills/"+cheap.ID.String()+"/content", nil, key)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, env = s.do(t, "POST", "/api/v1/skills/"+cheap.ID.String()+"/purchase", nil, key)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_purchased", env.Error.Code)

	resp, env = s.do(t, "POST", "/api/v1/skills/"+pricey.ID.String()+"/purchase", nil, key)
	assert.Equal(t, fiber.StatusPaymentRequired, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "insufficient_balance", env.Error.Code)
	assert.Equal(t, "5", env.Error.Meta["required"])
	assert.Equal(t, "0.5", env.Error.Meta["available"])

	resp, env = s.do(t, "POST", "/api/v1/skills/not-a-uuid/purchase", nil, key)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", env.Error.Code)
}

func TestAuthErrorsUseEnvelope(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		headers map[string]string
		status  int
		code    string
	}{
		{"missing", nil, fiber.StatusUnauthorized, "missing_api_key"},
		{"malformed", map[string]string{"X-API-Key": "hunter2"}, fiber.StatusUnauthorized, "invalid_api_key"},
		{"unknown", map[string]string{"X-API-Key": "skm_live_" + hex.EncodeToString(make([]byte, 32))}, fiber.StatusUnauthorized, "invalid_api_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, env := s.do(t, "GET", "/api/v1/agents/me", nil, tt.headers)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		})
	}

	resp, env := s.do(t, "GET", "/api/v1/owners/me/agents", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_api_key", env.Error.Code)

	resp, env = s.do(t, "GET", "/api/v1/nowhere", nil, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestRegisterRateLimit(t *testing.T) {
	s := newTestServer(t)

	for _, name := range []string{"BotOne", "BotTwo", "BotThree"} {
		s.register(t, name)
	}

	resp, env := s.do(t, "POST", "/api/v1/agents/register", map[string]any{"name": "BotFour"}, nil)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", env.Error.Code)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Contains(t, env.Error.Meta, "reset_at")
}

func TestClaimWithTonProofOverHTTP(t *testing.T) {
	s := newTestServer(t)
	reg := s.register(t, "ProofBot")

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	const addr = "0:0000000000000000000000000000000000000000000000000000000000000001"
	wc, hash, err := ton.ParseRawAddress(addr)
	require.NoError(t, err)
	item := ton.ProofItem{
		Timestamp: time.Now().Unix(),
		Domain:    ton.ProofDomain{LengthBytes: uint32(len("skill.market")), Value: "skill.market"},
		Payload:   reg.ClaimToken,
	}
	item.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, ton.ProofDigest(wc, hash, item)))

	resp, env := s.do(t, "POST", "/api/v1/agents/claim/verify", map[string]any{
		"claim_token": reg.ClaimToken,
		"method":      "ton_proof",
	}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", env.Error.Code)

	resp, env = s.do(t, "POST", "/api/v1/agents/claim/verify", map[string]any{
		"claim_token": reg.ClaimToken,
		"method":      "ton_proof",
		"ton_proof": ton.ConnectProof{
			Address:   addr,
			PublicKey: hex.EncodeToString(pub),
			Proof:     item,
		},
	}, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, "%+v", env.Error)

	resp, _ = s.do(t, "GET", "/api/v1/agents/me", nil, map[string]string{"X-API-Key": reg.APIKey})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
