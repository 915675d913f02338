package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/config"
	"github.com/skill-market/backend/internal/custody"
	"github.com/skill-market/backend/internal/db"
	"github.com/skill-market/backend/internal/events"
	"github.com/skill-market/backend/internal/gateway"
	apphttp "github.com/skill-market/backend/internal/http"
	"github.com/skill-market/backend/internal/http/handlers"
	"github.com/skill-market/backend/internal/ratelimit"
	"github.com/skill-market/backend/internal/repositories"
	"github.com/skill-market/backend/internal/services"
	"github.com/skill-market/backend/internal/social"
	"github.com/skill-market/backend/internal/ton"
)

func main() {
	cfg := config.Load()

	log := newLogger(cfg)
	defer log.Sync()

	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns: int32(cfg.PostgresMaxConns),
		MinConns: int32(cfg.PostgresMinConns),
	}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if _, err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	agentRepo := repositories.NewAgentRepo(pool)
	ownerRepo := repositories.NewOwnerRepo(pool)
	catalogRepo := repositories.NewCatalogRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Custody and ledger
	sealer, err := custody.NewSealer(cfg.CustodyPassphrase, cfg.CustodyKDFSalt)
	if err != nil {
		log.Fatal("failed to init custody sealer", zap.Error(err))
	}
	defer sealer.Zeroize()
	wallets := custody.NewWallets(sealer, ton.AddressFromPublicKey)

	tonAPI, err := ton.Connect(ctx, ton.ConnectOptions{
		Network:        cfg.TONNetwork,
		LiteServerHost: cfg.LiteServerHost,
		LiteServerPort: cfg.LiteServerPort,
		LiteServerKey:  cfg.LiteServerKey,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to TON", zap.Error(err))
	}
	ledger := ton.NewLedger(tonAPI, cfg.LedgerTimeout, log)

	// Services
	bestEffort := services.NewBestEffort(5*time.Second, log)
	agentService := services.NewAgentService(agentRepo, wallets, auditRepo, publisher, cfg, log)
	claimService := services.NewClaimService(agentRepo, ownerRepo, newSocialVerifier(cfg, log), auditRepo, publisher, cfg, log)
	purchaseService := services.NewPurchaseService(agentRepo, catalogRepo, ledger, wallets, auditRepo, publisher, bestEffort, cfg, log)

	// Gateway
	limiter := ratelimit.NewLimiter(ratelimit.DefaultRules)
	go limiter.Run(ctx, cfg.RateLimitSweepInterval)
	gw := gateway.New(agentRepo, limiter, bestEffort, log)

	// Handlers
	wsHub := handlers.NewWSHub(subscriber, log)
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to start ws hub", zap.Error(err))
	}

	health := db.NewHealth(pool, rdb)
	app := apphttp.NewApp(log)
	apphttp.SetupRouter(app, cfg, log, gw, apphttp.Handlers{
		Agent: handlers.NewAgentHandler(agentService, purchaseService, log),
		Claim: handlers.NewClaimHandler(claimService, log),
		Skill: handlers.NewSkillHandler(purchaseService, log),
		Owner: handlers.NewOwnerHandler(ownerRepo, agentService, log),
		WS:    wsHub,
	}, func(c *fiber.Ctx) error {
		status, ok := health.Check(c.UserContext())
		if !ok {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "checks": status})
		}
		return c.JSON(fiber.Map{"status": "ok", "checks": status})
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		bestEffort.Wait()
		cancel()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr), zap.String("env", cfg.AppEnv))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if cfg.IsDevelopment() {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// newSocialVerifier returns nil for SOCIAL_VERIFIER=none.
func newSocialVerifier(cfg *config.Config, log *zap.Logger) services.SocialVerifier {
	var inner social.Verifier
	switch cfg.SocialVerifier {
	case config.SocialVerifierAPI:
		inner = social.NewAPIVerifier(cfg.XAPIBaseURL, cfg.XBearerToken, cfg.SocialTimeout, cfg.SocialRequestsPerSecond, log)
	case config.SocialVerifierOEmbed:
		inner = social.NewOEmbedVerifier(cfg.OEmbedURL, cfg.SocialTimeout, log)
	default:
		return nil
	}
	log.Info("social verifier enabled", zap.String("mode", cfg.SocialVerifier))
	return social.NewBreakerVerifier(inner, social.BreakerConfig{}, log)
}
