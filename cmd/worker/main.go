package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/config"
	"github.com/skill-market/backend/internal/db"
	"github.com/skill-market/backend/internal/events"
	"github.com/skill-market/backend/internal/repositories"
	"github.com/skill-market/backend/internal/services"
	"github.com/skill-market/backend/internal/ton"
)

// jobTimeout bounds a single run of any scheduled job.
const jobTimeout = 5 * time.Minute

func main() {
	cfg := config.Load()

	newLogger := zap.NewProduction
	if cfg.IsDevelopment() {
		newLogger = zap.NewDevelopment
	}
	log, err := newLogger()
	if err != nil {
		log = zap.NewNop()
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 5, MinConns: 1}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if _, err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	tonAPI, err := ton.Connect(ctx, ton.ConnectOptions{
		Network:        cfg.TONNetwork,
		LiteServerHost: cfg.LiteServerHost,
		LiteServerPort: cfg.LiteServerPort,
		LiteServerKey:  cfg.LiteServerKey,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to TON", zap.Error(err))
	}

	reconciler := services.NewReconciler(
		repositories.NewAgentRepo(pool),
		repositories.NewCatalogRepo(pool),
		ton.NewLedger(tonAPI, cfg.LedgerTimeout, log),
		repositories.NewAuditRepo(pool),
		events.NewRedisPublisher(rdb, log),
		cfg,
		log,
	)

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{log}),
		cron.SkipIfStillRunning(cronLogger{log}),
	))
	jobs := []struct {
		name     string
		schedule string
		run      func(ctx context.Context) (int, error)
	}{
		{"reconcile_purchases", cfg.ReconcileSchedule, reconciler.ReconcilePurchases},
		{"expire_claims", cfg.ClaimExpirySchedule, reconciler.ExpireClaims},
	}
	for _, j := range jobs {
		if _, err := c.AddFunc(j.schedule, runJob(ctx, j.name, j.run, log)); err != nil {
			log.Fatal("invalid job schedule", zap.String("job", j.name), zap.String("schedule", j.schedule), zap.Error(err))
		}
		log.Info("job scheduled", zap.String("job", j.name), zap.String("schedule", j.schedule))
	}
	c.Start()

	health := db.NewHealth(pool, rdb)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/health", func(c *fiber.Ctx) error {
		status, ok := health.Check(c.UserContext())
		if !ok {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "checks": status})
		}
		return c.JSON(fiber.Map{"status": "ok", "checks": status})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	go func() {
		addr := fmt.Sprintf(":%s", cfg.WorkerPort)
		if err := app.Listen(addr); err != nil {
			log.Error("worker http server stopped", zap.Error(err))
		}
	}()

	log.Info("worker started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down worker")
	<-c.Stop().Done()
	_ = app.Shutdown()
	cancel()
}

func runJob(ctx context.Context, name string, run func(ctx context.Context) (int, error), log *zap.Logger) func() {
	return func() {
		jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()

		start := time.Now()
		n, err := run(jobCtx)
		if err != nil {
			log.Error("job failed", zap.String("job", name), zap.Duration("duration", time.Since(start)), zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("job completed", zap.String("job", name), zap.Int("processed", n), zap.Duration("duration", time.Since(start)))
		}
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
