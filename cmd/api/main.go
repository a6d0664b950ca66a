// Package main runs the LeadVault HTTP API against Postgres, MinIO and the
// asynq queue. Batches are processed by cmd/worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/LeadVault/internal/api"
	"github.com/dharsanguruparan/LeadVault/internal/assignment"
	"github.com/dharsanguruparan/LeadVault/internal/audit"
	"github.com/dharsanguruparan/LeadVault/internal/authz"
	"github.com/dharsanguruparan/LeadVault/internal/config"
	"github.com/dharsanguruparan/LeadVault/internal/database"
	"github.com/dharsanguruparan/LeadVault/internal/ingest"
	"github.com/dharsanguruparan/LeadVault/internal/lifecycle"
	"github.com/dharsanguruparan/LeadVault/internal/logger"
	"github.com/dharsanguruparan/LeadVault/internal/queue"
	"github.com/dharsanguruparan/LeadVault/internal/repository"
	"github.com/dharsanguruparan/LeadVault/internal/s3storage"
	"github.com/dharsanguruparan/LeadVault/internal/signing"
	"github.com/dharsanguruparan/LeadVault/internal/validation"
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

	policy, err := authz.NewPolicy(cfg.PolicyVersion, authz.DefaultMatrix)
	if err != nil {
		log.Fatal("load policy", "error", err)
	}

	emitter, closeEmitter := audit.NewEmitter(cfg.KafkaBrokers, cfg.AuditTopic, log)
	defer closeEmitter()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	tasks := queue.NewClient(asynqClient, cfg.SweepLeaseTTL)
	defer tasks.Close()

	svc := lifecycle.New(store, emitter, log)
	srv := api.New(cfg, api.Deps{
		Store:       store,
		Intake:      ingest.NewIntake(store, blobs, tasks, log),
		Validator:   validation.New(store),
		Lifecycle:   svc,
		Assignments: assignment.NewEngine(store, assignment.StoreCheckers(store), emitter, log),
		Sweeps:      tasks,
		Reports:     blobs,
		Presigner:   blobs,
		Signer:      signing.NewSigner(cfg.SigningSecret, cfg.SignedURLTTL),
		Authz:       policy,
	}, log)

	if err := srv.Run(ctx); err != nil {
		log.Error("api stopped", "error", err)
		os.Exit(1)
	}
}
