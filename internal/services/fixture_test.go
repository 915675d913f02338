package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/apperr"
	"github.com/skill-market/backend/internal/config"
	"github.com/skill-market/backend/internal/custody"
	"github.com/skill-market/backend/internal/events"
	"github.com/skill-market/backend/internal/repositories/memory"
	"github.com/skill-market/backend/internal/services"
)

type fixture struct {
	cfg        *config.Config
	directory  *memory.Directory
	owners     *memory.Owners
	catalog    *memory.Catalog
	ledger     *memory.Ledger
	verifier   *memory.Verifier
	audit      *memory.Audit
	bus        *events.MemoryBus
	bestEffort *services.BestEffort

	agents     *services.AgentService
	claims     *services.ClaimService
	purchases  *services.PurchaseService
	reconciler *services.Reconciler
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                "test",
		PublicBaseURL:         "https://skill.market",
		JWTSecret:             "test-secret",
		JWTExpiration:         time.Hour,
		LedgerTimeout:         2 * time.Second,
		SocialTimeout:         2 * time.Second,
		ProductMention:        "@SkillMarket",
		ReconcilePendingAfter: 10 * time.Minute,
		TONProofDomains:       []string{"skill.market"},
	}
}

type fixtureOption func(*fixture)

func withoutVerifier() fixtureOption {
	return func(f *fixture) { f.verifier = nil }
}

func withConfig(mut func(*config.Config)) fixtureOption {
	return func(f *fixture) { mut(f.cfg) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	log := zap.NewNop()
	f := &fixture{
		cfg:        testConfig(),
		directory:  memory.NewDirectory(),
		catalog:    memory.NewCatalog(),
		ledger:     memory.NewLedger(),
		verifier:   memory.NewVerifier(),
		audit:      memory.NewAudit(),
		bus:        events.NewMemoryBus(),
		bestEffort: services.NewBestEffort(time.Second, log),
	}
	f.owners = memory.NewOwners(f.directory)
	for _, opt := range opts {
		opt(f)
	}

	sealer, err := custody.NewSealer("test-passphrase", "skill-market/test")
	require.NoError(t, err)
	wallets := custody.NewWallets(sealer, memory.Address)

	var verifier services.SocialVerifier
	if f.verifier != nil {
		verifier = f.verifier
	}

	f.agents = services.NewAgentService(f.directory, wallets, f.audit, f.bus, f.cfg, log)
	f.claims = services.NewClaimService(f.directory, f.owners, verifier, f.audit, f.bus, f.cfg, log)
	f.purchases = services.NewPurchaseService(f.directory, f.catalog, f.ledger, wallets, f.audit, f.bus, f.bestEffort, f.cfg, log)
	f.reconciler = services.NewReconciler(f.directory, f.catalog, f.ledger, f.audit, f.bus, f.cfg, log)

	t.Cleanup(f.bestEffort.Wait)
	return f
}

func (f *fixture) register(t *testing.T, name string) *services.Registration {
	t.Helper()
	reg, err := f.agents.Register(context.Background(), name, nil)
	require.NoError(t, err)
	return reg
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperr.KindOf(err), "error: %v", err)
}
