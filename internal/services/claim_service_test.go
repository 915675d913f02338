package services_test

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skill-market/backend/internal/apperr"
	"github.com/skill-market/backend/internal/auth"
	"github.com/skill-market/backend/internal/config"
	"github.com/skill-market/backend/internal/events"
	"github.com/skill-market/backend/internal/models"
	"github.com/skill-market/backend/internal/services"
	"github.com/skill-market/backend/internal/social"
	"github.com/skill-market/backend/internal/ton"
)

func signClaim(t *testing.T, token string) (pubHex, sig, message string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	message = "I own this agent: " + token
	return hex.EncodeToString(pub), hex.EncodeToString(ed25519.Sign(priv, []byte(message))), message
}

func claimWithWallet(t *testing.T, f *fixture, token string) *services.ClaimResult {
	t.Helper()
	pub, sig, msg := signClaim(t, token)
	res, err := f.claims.ClaimWithWallet(context.Background(), token, pub, sig, msg)
	require.NoError(t, err)
	return res
}

// register TestBot, then read the claim offer
func TestScenarioClaimInfo(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "TestBot")

	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), reg.ExpiresAt, time.Minute)

	info, err := f.claims.GetClaimInfo(context.Background(), reg.ClaimToken)
	require.NoError(t, err)
	assert.Equal(t, "TestBot", info.AgentName)
	assert.Equal(t, models.AgentStatusPendingClaim, info.Status)
	assert.Equal(t, reg.VerificationCode, info.VerificationCode)
	assert.Equal(t, "@SkillMarket", info.ProductMention)
}

// wallet signature claim activates the agent once
func TestScenarioWalletClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, "WalletBot")

	pub, sig, msg := signClaim(t, reg.ClaimToken)
	res, err := f.claims.ClaimWithWallet(ctx, reg.ClaimToken, pub, sig, msg)
	require.NoError(t, err)
	assert.Equal(t, reg.Agent.ID, res.AgentID)
	require.NotNil(t, res.Owner.WalletAddress)
	assert.Equal(t, pub, *res.Owner.WalletAddress)

	agent, err := f.directory.GetByID(ctx, reg.Agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusActive, agent.Status)
	require.NotNil(t, agent.OwnerID)
	assert.Equal(t, res.Owner.ID, *agent.OwnerID)
	assert.Nil(t, agent.ClaimToken)
	assert.Nil(t, agent.VerificationCode)
	assert.Nil(t, agent.ClaimTokenExpiresAt)
	assert.NoError(t, agent.CheckInvariants())

	claims, err := auth.ParseOwnerJWT(f.cfg.JWTSecret, res.OwnerToken)
	require.NoError(t, err)
	assert.Equal(t, res.Owner.ID, claims.OwnerID)

	_, err = f.claims.ClaimWithWallet(ctx, reg.ClaimToken, pub, sig, msg)
	requireKind(t, err, apperr.KindAlreadyClaimed)
	_, err = f.claims.GetClaimInfo(ctx, reg.ClaimToken)
	requireKind(t, err, apperr.KindAlreadyClaimed)

	assert.Contains(t, f.bus.Types(), events.EventAgentClaimed)
}

func TestWalletClaimAcceptsBase64Key(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "B64Bot")

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	msg := "claim " + reg.ClaimToken
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(msg)))

	res, err := f.claims.ClaimWithWallet(context.Background(), reg.ClaimToken, base64.StdEncoding.EncodeToString(pub), sig, msg)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(pub), *res.Owner.WalletAddress)
}

func TestWalletClaimRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, "RejectBot")

	pub, sig, msg := signClaim(t, reg.ClaimToken)
	otherPub, _, _ := signClaim(t, reg.ClaimToken)

	tests := []struct {
		name    string
		token   string
		pub     string
		sig     string
		message string
		kind    apperr.Kind
	}{
		{"bad token format", "nope", pub, sig, msg, apperr.KindValidation},
		{"missing signature", reg.ClaimToken, pub, "", msg, apperr.KindValidation},
		{"bad public key", reg.ClaimToken, "zz", sig, msg, apperr.KindVerificationFailed},
		{"message without token", reg.ClaimToken, pub, sig, "hello", apperr.KindVerificationFailed},
		{"wrong signer", reg.ClaimToken, otherPub, sig, msg, apperr.KindVerificationFailed},
		{"tampered message", reg.ClaimToken, pub, sig, msg + "!", apperr.KindVerificationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.claims.ClaimWithWallet(ctx, tt.token, tt.pub, tt.sig, tt.message)
			requireKind(t, err, tt.kind)
		})
	}

	agent, err := f.directory.GetByID(ctx, reg.Agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusPendingClaim, agent.Status)
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "RaceBot")

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		claimed int
	)
	for i := 0; i < n; i++ {
		pub, sig, msg := signClaim(t, reg.ClaimToken)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.claims.ClaimWithWallet(context.Background(), reg.ClaimToken, pub, sig, msg)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperr.Is(err, apperr.KindAlreadyClaimed):
				claimed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, claimed)
	assert.Equal(t, 1, f.owners.Len(), "losing claimants leave no owner behind")

	agent, err := f.directory.GetByID(context.Background(), reg.Agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusActive, agent.Status)
	assert.NoError(t, agent.CheckInvariants())
}

func TestExpiredVersusUnknownToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, "LateBot")

	_, err := f.claims.GetClaimInfo(ctx, "skm_claim_"+hex.EncodeToString(make([]byte, 24)))
	requireKind(t, err, apperr.KindNotFound)

	_, err = f.claims.GetClaimInfo(ctx, "not-a-token")
	requireKind(t, err, apperr.KindValidation)

	f.directory.SetClaimExpiry(reg.Agent.ID, time.Now().Add(-time.Minute))

	_, err = f.claims.GetClaimInfo(ctx, reg.ClaimToken)
	requireKind(t, err, apperr.KindExpired)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Meta, "expired_at")

	pub, sig, msg := signClaim(t, reg.ClaimToken)
	_, err = f.claims.ClaimWithWallet(ctx, reg.ClaimToken, pub, sig, msg)
	requireKind(t, err, apperr.KindExpired)

	// still expired after the sweep moves the record
	n, err := f.reconciler.ExpireClaims(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = f.claims.GetClaimInfo(ctx, reg.ClaimToken)
	requireKind(t, err, apperr.KindExpired)

	agent, err := f.directory.GetByID(ctx, reg.Agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusExpired, agent.Status)
	assert.Contains(t, f.bus.Types(), events.EventAgentClaimExpired)

	// the expired agent gave its name back
	again := f.register(t, "LateBot")
	assert.NotEqual(t, reg.Agent.ID, again.Agent.ID)
	info, err := f.claims.GetClaimInfo(ctx, again.ClaimToken)
	require.NoError(t, err)
	assert.Equal(t, "LateBot", info.AgentName)
	_, err = f.claims.GetClaimInfo(ctx, reg.ClaimToken)
	requireKind(t, err, apperr.KindExpired)
}

func publishClaimPost(f *fixture, reg *services.Registration, text string) string {
	ref := social.PostRef{Handle: "alice", ID: "1790000000000000001"}
	f.verifier.Publish(ref, social.Post{
		ID:           ref.ID,
		Text:         text,
		AuthorID:     "42",
		AuthorHandle: "alice",
		AuthorName:   "Alice",
	})
	return "https://x.com/alice/status/" + ref.ID
}

func TestSocialClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, "SocialBot")

	url := publishClaimPost(f, reg, "Claiming my agent on @skillmarket: "+reg.VerificationCode)

	res, err := f.claims.ClaimWithPost(ctx, reg.ClaimToken, url)
	require.NoError(t, err)
	require.NotNil(t, res.Owner.XID)
	assert.Equal(t, "42", *res.Owner.XID)
	assert.Equal(t, "Alice", res.Owner.DisplayName)

	// the same account claiming a second agent maps to the same owner
	reg2 := f.register(t, "SocialBot2")
	url2 := publishClaimPost(f, reg2, "@SkillMarket "+reg2.VerificationCode)
	res2, err := f.claims.ClaimWithPost(ctx, reg2.ClaimToken, url2)
	require.NoError(t, err)
	assert.Equal(t, res.Owner.ID, res2.Owner.ID)
	assert.Equal(t, 1, f.owners.Len())
}

func TestSocialClaimRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, "PickyBot")

	_, err := f.claims.ClaimWithPost(ctx, reg.ClaimToken, "https://example.com/alice/status/1")
	requireKind(t, err, apperr.KindValidation)

	_, err = f.claims.ClaimWithPost(ctx, reg.ClaimToken, "https://x.com/alice/status/999")
	requireKind(t, err, apperr.KindVerificationFailed)

	url := publishClaimPost(f, reg, "no code here @SkillMarket")
	_, err = f.claims.ClaimWithPost(ctx, reg.ClaimToken, url)
	requireKind(t, err, apperr.KindVerificationFailed)

	url = publishClaimPost(f, reg, "code "+reg.VerificationCode+" but no mention")
	_, err = f.claims.ClaimWithPost(ctx, reg.ClaimToken, url)
	requireKind(t, err, apperr.KindVerificationFailed)

	f.verifier.Err = social.ErrPostNotFound
	_, err = f.claims.ClaimWithPost(ctx, reg.ClaimToken, url)
	requireKind(t, err, apperr.KindVerificationFailed)

	agent, err := f.directory.GetByID(ctx, reg.Agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusPendingClaim, agent.Status)
}

func TestSocialClaimWithoutVerifier(t *testing.T) {
	t.Run("rejected by default", func(t *testing.T) {
		f := newFixture(t, withoutVerifier())
		reg := f.register(t, "NoVerifyBot")

		_, err := f.claims.ClaimWithPost(context.Background(), reg.ClaimToken, "https://x.com/alice/status/1")
		requireKind(t, err, apperr.KindVerificationFailed)
	})

	t.Run("accepted when explicitly allowed", func(t *testing.T) {
		f := newFixture(t, withoutVerifier(), withConfig(func(c *config.Config) {
			c.ClaimAllowUnverifiedSocial = true
		}))
		reg := f.register(t, "DevBot")

		res, err := f.claims.ClaimWithPost(context.Background(), reg.ClaimToken, "https://twitter.com/Alice/status/1")
		require.NoError(t, err)
		require.NotNil(t, res.Owner.XID)
		assert.Equal(t, "unverified:alice", *res.Owner.XID)
	})
}

func tonProof(t *testing.T, priv ed25519.PrivateKey, payload string, at time.Time) ton.ConnectProof {
	t.Helper()
	const addr = "0:" + "ab00000000000000000000000000000000000000000000000000000000000000"
	wc, hash, err := ton.ParseRawAddress(addr)
	require.NoError(t, err)

	item := ton.ProofItem{
		Timestamp: at.Unix(),
		Domain:    ton.ProofDomain{LengthBytes: uint32(len("skill.market")), Value: "skill.market"},
		Payload:   payload,
	}
	item.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, ton.ProofDigest(wc, hash, item)))
	return ton.ConnectProof{
		Address:   addr,
		PublicKey: hex.EncodeToString(priv.Public().(ed25519.PublicKey)),
		Proof:     item,
	}
}

func TestTonProofClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	first := f.register(t, "ProofBot")
	res, err := f.claims.ClaimWithTonProof(ctx, first.ClaimToken, tonProof(t, priv, first.ClaimToken, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, res.Owner.WalletAddress)
	assert.Equal(t, hex.EncodeToString(pub), *res.Owner.WalletAddress)

	// the same key through the plain signature method lands on the same owner
	second := f.register(t, "SigBot")
	msg := "claim " + second.ClaimToken
	res2, err := f.claims.ClaimWithWallet(ctx, second.ClaimToken, hex.EncodeToString(pub),
		hex.EncodeToString(ed25519.Sign(priv, []byte(msg))), msg)
	require.NoError(t, err)
	assert.Equal(t, res.Owner.ID, res2.Owner.ID)
	assert.Equal(t, 1, f.owners.Len())
}

func TestTonProofClaimRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, "ProofReject")
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	stale := tonProof(t, priv, reg.ClaimToken, time.Now().Add(-time.Hour))
	otherPayload := tonProof(t, priv, "something-else", time.Now())
	forged := tonProof(t, priv, reg.ClaimToken, time.Now())
	forged.Proof.Timestamp++

	tests := []struct {
		name  string
		proof ton.ConnectProof
		kind  apperr.Kind
	}{
		{"empty", ton.ConnectProof{}, apperr.KindValidation},
		{"stale", stale, apperr.KindVerificationFailed},
		{"payload is not the token", otherPayload, apperr.KindVerificationFailed},
		{"forged", forged, apperr.KindVerificationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.claims.ClaimWithTonProof(ctx, reg.ClaimToken, tt.proof)
			requireKind(t, err, tt.kind)
		})
	}

	info, err := f.claims.GetClaimInfo(ctx, reg.ClaimToken)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusPendingClaim, info.Status)
}
