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

	"github.com/0gfoundation/oracle-settler/internal/auth"
	"github.com/0gfoundation/oracle-settler/internal/config"
	"github.com/0gfoundation/oracle-settler/internal/cronrunner"
	"github.com/0gfoundation/oracle-settler/internal/eligibility"
	"github.com/0gfoundation/oracle-settler/internal/lease"
	"github.com/0gfoundation/oracle-settler/internal/metrics"
	"github.com/0gfoundation/oracle-settler/internal/orchestrator"
	"github.com/0gfoundation/oracle-settler/internal/poller"
	"github.com/0gfoundation/oracle-settler/internal/resolver"
	"github.com/0gfoundation/oracle-settler/internal/retry"
	"github.com/0gfoundation/oracle-settler/internal/settler"
	"github.com/0gfoundation/oracle-settler/internal/store"
	"github.com/0gfoundation/oracle-settler/internal/store/postgres"
	"github.com/0gfoundation/oracle-settler/internal/store/supabase"
)

const feedLeasePrefix = "lease:feed:"

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

	// ── Store ─────────────────────────────────────────────────────────────────
	st, closeStore, err := newStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	// ── Collaborators ─────────────────────────────────────────────────────────
	m := metrics.New()
	res := resolver.NewClient(
		time.Duration(cfg.Resolver.TimeoutSec)*time.Second,
		limiter(cfg.Resolver.RatePerSec),
		log,
	)
	var stl orchestrator.Settler
	if cfg.Settler.URL != "" {
		stl = settler.NewClient(cfg.Settler.URL, cfg.Settler.APIKey, time.Duration(cfg.Settler.TimeoutSec)*time.Second)
	} else {
		log.Warn("SETTLER_URL not set, feeds settle off-chain only")
	}

	orch := orchestrator.New(
		eligibility.New(st, log),
		st,
		res,
		stl,
		lease.New(rdb, feedLeasePrefix, time.Duration(cfg.Sweep.LeaseTTLSec)*time.Second),
		m,
		orchestrator.Options{
			Workers: cfg.Sweep.Workers,
			ResolverRetry: retry.Policy{
				MaxAttempts: cfg.Resolver.MaxAttempts,
				Endpoints:   cfg.Resolver.Endpoints,
				NewBackOff:  retry.Exponential(2*time.Second, 8*time.Second),
			},
			FeedTimeout:  time.Duration(cfg.Sweep.FeedTimeoutSec) * time.Second,
			SweepTimeout: time.Duration(cfg.Sweep.TimeoutSec) * time.Second,
		},
		log,
	)

	// ── Schedules ─────────────────────────────────────────────────────────────
	runner := cronrunner.New(ctx, log)
	if err := runner.Add("sweep", cfg.Sweep.Schedule, func(ctx context.Context) {
		if _, err := orch.Sweep(ctx); err != nil {
			log.Error("scheduled sweep failed", zap.Error(err))
		}
	}); err != nil {
		log.Fatal("schedule sweep", zap.Error(err))
	}
	if cfg.Poller.Token != "" {
		ps := poller.NewPandaScore(cfg.Poller.BaseURL, cfg.Poller.Token, 15*time.Second, limiter(cfg.Poller.RatePerSec))
		p := poller.New(st, ps, m, log)
		if err := runner.Add("poller", cfg.Poller.Schedule, func(ctx context.Context) {
			if _, err := p.Poll(ctx); err != nil {
				log.Error("scheduled poll failed", zap.Error(err))
			}
		}); err != nil {
			log.Fatal("schedule poller", zap.Error(err))
		}
	} else {
		log.Warn("PANDASCORE_TOKEN not set, esports status poller disabled")
	}
	runner.Start()

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := newRouter(orchestrator.NewHandler(orch, log), m, cfg.Sweep.CronKey, auth.WalletSignature(rdb))
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
	runner.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func newRouter(h *orchestrator.Handler, m *metrics.Metrics, cronKey string, walletAuth gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))
	h.Register(r, cronKey, walletAuth)
	return r
}

func newStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return postgres.NewFeedStore(pool), pool.Close, nil
	case "supabase":
		return supabase.NewFeedStore(supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey)), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// limiter returns nil (unlimited) for a non-positive rate.
func limiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}
