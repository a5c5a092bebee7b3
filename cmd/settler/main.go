package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/0gfoundation/oracle-settler/internal/chain"
	"github.com/0gfoundation/oracle-settler/internal/config"
	"github.com/0gfoundation/oracle-settler/internal/consensus"
	"github.com/0gfoundation/oracle-settler/internal/retry"
	"github.com/0gfoundation/oracle-settler/internal/settler"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.LoadSettler()
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

	// ── Consensus gateways ────────────────────────────────────────────────────
	var lim *rate.Limiter
	if cfg.Consensus.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.Consensus.RatePerSec), 1)
	}
	updates := consensus.NewClient(
		cfg.Chain.ChainID,
		retry.Policy{
			MaxAttempts: cfg.Consensus.MaxAttempts,
			Endpoints:   cfg.Consensus.Gateways,
			NewBackOff:  retry.Exponential(2*time.Second, 8*time.Second),
		},
		lim,
		time.Duration(cfg.Consensus.TimeoutSec)*time.Second,
		log,
	)

	// ── Ledger ────────────────────────────────────────────────────────────────
	// A broken ledger keeps the service up and answering 503, so the
	// orchestrator can tell "settler down" from "settler misconfigured".
	svc := newService(cfg.Chain, updates, rdb, log)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	settler.NewHandler(svc, log).Register(r, cfg.APIKey)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port), zap.Bool("ready", svc.Ready()))
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

	// In-flight settlements may be waiting on confirmations.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Chain.ConfirmTimeoutSec+15)*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func newService(cfg config.ChainConfig, updates settler.Updates, rdb *redis.Client, log *zap.Logger) *settler.Service {
	client, err := chain.NewClient(cfg, log)
	if err != nil {
		log.Error("ledger init failed, serving 503", zap.Error(err))
		return settler.NewService(nil, err, "", updates, rdb, log)
	}
	log.Info("ledger ready", zap.String("signer", client.Address().Hex()), zap.String("chain_id", client.ChainID().String()))
	return settler.NewService(client, nil, client.Address().Hex(), updates, rdb, log)
}
