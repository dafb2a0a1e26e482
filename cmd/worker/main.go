package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"leadrelay_backend/internal/dedupe"
	"leadrelay_backend/internal/jobs"
	"leadrelay_backend/internal/poli"
	"leadrelay_backend/internal/relay"
	"leadrelay_backend/internal/routing"
	"leadrelay_backend/internal/schedule"
	"leadrelay_backend/platform/config"
	"leadrelay_backend/platform/logger"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if cfg.RedisURL == "" {
		panic("worker requires REDIS_URL")
	}

	log := logger.New(cfg.Env)
	log.Info("starting lead reprocess worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The worker shares the Redis-backed dedupe state with the API so a
	// reprocessed lead still honors idempotency and cooldown.
	store, err := dedupe.NewRedisStore(cfg)
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

	requeue, err := jobs.NewClient(cfg, log)
	if err != nil {
		log.Error("failed to initialize reprocess queue", "error", err)
		panic("failed to initialize reprocess queue: " + err.Error())
	}
	defer func() { _ = requeue.Close() }()

	service := relay.NewService(
		store,
		poli.NewClient(cfg, log),
		routing.NewRoster(cfg),
		selector,
		evaluator,
		requeue,
		cfg.PoliChannelID,
		log,
	)

	worker, err := jobs.NewWorker(cfg, service, log)
	if err != nil {
		log.Error("failed to initialize worker", "error", err)
		panic("failed to initialize worker: " + err.Error())
	}

	go func() {
		<-ctx.Done()
		log.Info("shutdown signal received, stopping worker")
		worker.Shutdown()
	}()

	if err := worker.Run(); err != nil {
		log.Error("worker error", "error", err)
		panic("worker error: " + err.Error())
	}
}

func newSelector(cfg *config.Config, log *logger.Logger) (routing.Selector, error) {
	if cfg.AssignStrategy != config.StrategyFairShare {
		return routing.NewRoundRobin(), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	counters := routing.NewRedisCounters(redis.NewClient(opts))
	return routing.NewFairShare(counters, cfg.PoliCustomerID, log), nil
}
