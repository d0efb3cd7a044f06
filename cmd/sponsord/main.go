package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gatehouse/sponsor-coordinator/internal/audit"
	"github.com/gatehouse/sponsor-coordinator/internal/chain"
	"github.com/gatehouse/sponsor-coordinator/internal/config"
	"github.com/gatehouse/sponsor-coordinator/internal/coordinator"
	"github.com/gatehouse/sponsor-coordinator/internal/lease"
	"github.com/gatehouse/sponsor-coordinator/internal/lockmeta"
	"github.com/gatehouse/sponsor-coordinator/internal/ratelimit"
	"github.com/gatehouse/sponsor-coordinator/internal/server"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Lease manager (Postgres when a DSN is set, Redis otherwise) ──────────
	var leases lease.Manager
	if cfg.Postgres.DSN != "" {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			log.Fatal("postgres open failed", zap.Error(err))
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatal("postgres ping failed", zap.Error(err))
		}
		if err := lease.Migrate(ctx, db); err != nil {
			log.Fatal("lease migrate failed", zap.Error(err))
		}
		leases = lease.NewPostgresManager(db, cfg.LeaseTTL())
		log.Info("lease store: postgres")
	} else {
		leases = lease.NewRedisManager(rdb, cfg.LeaseTTL())
		log.Info("lease store: redis")
	}

	// ── Chain client (sponsor signing key) ────────────────────────────────────
	onchain, err := chain.NewClient(cfg)
	if err != nil {
		log.Fatal("chain client init failed", zap.Error(err))
	}
	log.Info("sponsor wallet ready",
		zap.String("sponsor", onchain.Sponsor().Hex()),
		zap.Int64("chain_id", cfg.Chain.ChainID),
	)

	// ── Coordinator ───────────────────────────────────────────────────────────
	coord := coordinator.New(leases, ratelimit.New(rdb), audit.New(rdb, log), log)

	svc, err := server.NewService(coord, onchain, cfg, log)
	if err != nil {
		log.Fatal("service init failed", zap.Error(err))
	}

	meta := lockmeta.New(rdb, cfg.LockMetaTTL(), func(lock common.Address) lockmeta.Reader {
		return onchain.Lock(lock)
	})

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/api")
	server.NewHandler(
		svc,
		meta,
		cfg.Chain.ChainID,
		onchain.Sponsor(),
		common.HexToAddress(cfg.Chain.DefaultReferrer),
		cfg.Sponsor.MaxTxPerDay,
		log,
	).Register(api)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
