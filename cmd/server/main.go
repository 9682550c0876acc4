package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/previsao/market-api/internal/auth"
	"github.com/previsao/market-api/internal/config"
	"github.com/previsao/market-api/internal/idempotency"
	"github.com/previsao/market-api/internal/server"
	"github.com/previsao/market-api/internal/settlement"
	"github.com/previsao/market-api/internal/store"
	"github.com/previsao/market-api/internal/trade"
	"github.com/previsao/market-api/internal/wallet"
)

// demoPassword is the password of the seeded demo account.
const demoPassword = "Pass123!"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	case config.DriverSQLite:
		sq, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			slog.Error("sqlite open failed", "path", cfg.SQLitePath, "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { sq.Close() })
		st = sq
		slog.Info("using SQLite store", "path", cfg.SQLitePath)
	default:
		slog.Warn("using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Redis backs the market cache and the cross-instance idempotency lock.
	var locker idempotency.Locker
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		locker = idempotency.NewRedisLocker(rdb)
		slog.Info("Redis cache enabled")
	}

	if cfg.SeedDemo {
		hash, err := bcrypt.GenerateFromPassword([]byte(demoPassword), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("hash demo password", "err", err)
			os.Exit(1)
		}
		if err := store.SeedDemo(ctx, st, string(hash)); err != nil {
			slog.Error("seed failed", "err", err)
			os.Exit(1)
		}
		slog.Info("demo data ready", "email", store.DemoEmail)
	}

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run(ctx)

	// --- Services ---
	guard := idempotency.NewGuard(st, locker, idempotency.WithWait(cfg.IdempotencyWait))
	engine := settlement.NewEngine(st, wsHub)
	authSvc := auth.NewService(st, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)

	router := server.NewRouter(server.Deps{
		Auth:   authSvc,
		Trade:  trade.NewService(st, engine, guard),
		Wallet: wallet.NewHandler(wallet.NewService(st), guard, cfg.Production()),
		Hub:    wsHub,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("market-api listening", "addr", cfg.HTTPAddr, "env", cfg.Env, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down market-api...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("market-api stopped")
}
