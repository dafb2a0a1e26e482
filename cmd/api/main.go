package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"leadrelay_backend/internal/dedupe"
	"leadrelay_backend/internal/jobs"
	"leadrelay_backend/internal/poli"
	"leadrelay_backend/internal/relay"
	"leadrelay_backend/internal/routing"
	"leadrelay_backend/internal/schedule"
	"leadrelay_backend/platform/config"
	"leadrelay_backend/platform/httpkit"
	"leadrelay_backend/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting lead relay", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	store, err := newStore(cfg, log)
	if err != nil {
		log.Error("failed to initialize dedupe store", "error", err)
		panic("failed to initialize dedupe store: " + err.Error())
	}
	defer func() { _ = store.Close() }()

	evaluator, err := schedule.NewEvaluator(cfg)
	if err != nil {
		log.Error("failed to initialize schedule evaluator", "error", err)
		panic("failed to initialize schedule evaluator: " + err.Error())
	}

	selector, err := newSelector(cfg, log)
	if err != nil {
		log.Error("failed to initialize operator selector", "error", err)
		panic("failed to initialize operator selector: " + err.Error())
	}

	reprocess, err := jobs.NewClient(cfg, log)
	if err != nil {
		log.Error("failed to initialize reprocess queue", "error", err)
		panic("failed to initialize reprocess queue: " + err.Error())
	}
	defer func() { _ = reprocess.Close() }()
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not configured; failed leads will not be requeued")
	}

	crm := poli.NewClient(cfg, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	relayModule := relay.NewModule(relay.Deps{
		Store:         store,
		CRM:           crm,
		Roster:        routing.NewRoster(cfg),
		Selector:      selector,
		Templates:     evaluator,
		Reprocess:     reprocess,
		ChannelID:     cfg.PoliChannelID,
		WebhookSecret: cfg.WebhookSecret,
		Log:           log,
	})

	engine := newRouter(cfg, log)
	relayModule.RegisterRoutes(engine)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		panic("server error: " + err.Error())
	}
}

func newRouter(cfg *config.Config, log *logger.Logger) *gin.Engine {
	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestID())
	engine.Use(httpkit.RequestLogger(log))
	engine.Use(httpkit.SecurityHeaders())

	corsCfg := cors.DefaultConfig()
	if cfg.CORSAllowAll {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Request-Id", "X-Webhook-Secret")
	engine.Use(cors.New(corsCfg))

	if cfg.RateLimitRPS > 0 {
		limiter := httpkit.NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, log)
		engine.Use(limiter.RateLimit())
	}

	return engine
}

func newStore(cfg *config.Config, log *logger.Logger) (dedupe.Store, error) {
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not configured; using in-memory dedupe store")
		return dedupe.NewMemoryStore(cfg), nil
	}
	return dedupe.NewRedisStore(cfg)
}

func newSelector(cfg *config.Config, log *logger.Logger) (routing.Selector, error) {
	switch cfg.AssignStrategy {
	case config.StrategyFairShare:
		counters, err := newCounters(cfg, log)
		if err != nil {
			return nil, err
		}
		return routing.NewFairShare(counters, cfg.PoliCustomerID, log), nil
	default:
		return routing.NewRoundRobin(), nil
	}
}

func newCounters(cfg *config.Config, log *logger.Logger) (routing.Counters, error) {
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not configured; fair-share counters are in-memory")
		return routing.NewMemoryCounters(), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return routing.NewRedisCounters(redis.NewClient(opts)), nil
}
