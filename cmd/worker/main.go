package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/LeadVault/internal/audit"
	"github.com/dharsanguruparan/LeadVault/internal/config"
	"github.com/dharsanguruparan/LeadVault/internal/database"
	"github.com/dharsanguruparan/LeadVault/internal/ingest"
	"github.com/dharsanguruparan/LeadVault/internal/lifecycle"
	"github.com/dharsanguruparan/LeadVault/internal/logger"
	"github.com/dharsanguruparan/LeadVault/internal/queue"
	"github.com/dharsanguruparan/LeadVault/internal/repository"
	"github.com/dharsanguruparan/LeadVault/internal/s3storage"
	"github.com/dharsanguruparan/LeadVault/internal/sweep"
	"github.com/dharsanguruparan/LeadVault/internal/validation"
	"github.com/dharsanguruparan/LeadVault/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("connect database", "error", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatal("ensure schema", "error", err)
	}
	store := repository.NewStore(pool)

	blobs, err := s3storage.New(cfg)
	if err != nil {
		log.Fatal("init storage", "error", err)
	}
	if err := blobs.EnsureBuckets(ctx); err != nil {
		log.Fatal("ensure buckets", "error", err)
	}

	emitter, closeEmitter := audit.NewEmitter(cfg.KafkaBrokers, cfg.AuditTopic, log)
	defer closeEmitter()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	orchestrator := ingest.NewOrchestrator(store, blobs, validation.New(store), lifecycle.New(store, emitter, log), emitter, log, ingest.Options{
		MaxFileSize:           cfg.MaxFileSize,
		RowTimeout:            cfg.RowTimeout,
		RetryBackoff:          cfg.RowRetryBackoff,
		InfraFailureThreshold: cfg.InfraFailureThreshold,
	})
	sweeper := sweep.New(store, sweep.NewRedisLease(rdb, "", cfg.SweepLeaseTTL), emitter, log)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.ProcessingPool,
	})
	scheduler := asynq.NewScheduler(redisOpt, nil)
	cronspec := "@every " + cfg.SweepInterval.String()
	if _, err := scheduler.Register(cronspec, queue.NewSweepTask(), asynq.MaxRetry(0), asynq.Unique(cfg.SweepLeaseTTL)); err != nil {
		log.Fatal("register sweep schedule", "error", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatal("start scheduler", "error", err)
	}
	defer scheduler.Shutdown()

	mux := worker.NewProcessor(orchestrator, sweeper, log).Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Info("worker started", "concurrency", cfg.ProcessingPool, "sweep", cronspec)
	if err := server.Run(mux); err != nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
