// Package main runs LeadVault as a single process with in-memory storage,
// an in-process worker pool and a ticker-driven sweep. It needs no Postgres,
// Redis or MinIO and is meant for local development and demos.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/LeadVault/internal/api"
	"github.com/dharsanguruparan/LeadVault/internal/assignment"
	"github.com/dharsanguruparan/LeadVault/internal/audit"
	"github.com/dharsanguruparan/LeadVault/internal/authz"
	"github.com/dharsanguruparan/LeadVault/internal/config"
	"github.com/dharsanguruparan/LeadVault/internal/ingest"
	"github.com/dharsanguruparan/LeadVault/internal/lifecycle"
	"github.com/dharsanguruparan/LeadVault/internal/logger"
	"github.com/dharsanguruparan/LeadVault/internal/processing"
	"github.com/dharsanguruparan/LeadVault/internal/signing"
	"github.com/dharsanguruparan/LeadVault/internal/storage"
	"github.com/dharsanguruparan/LeadVault/internal/sweep"
	"github.com/dharsanguruparan/LeadVault/internal/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := storage.NewMemoryStore()
	blobs := storage.NewMemoryBlobs()

	policy, err := authz.NewPolicy(cfg.PolicyVersion, authz.DefaultMatrix)
	if err != nil {
		log.Fatal("load policy", "error", err)
	}
	emitter, closeEmitter := audit.NewEmitter(cfg.KafkaBrokers, cfg.AuditTopic, log)
	defer closeEmitter()

	validator := validation.New(store)
	svc := lifecycle.New(store, emitter, log)
	orchestrator := ingest.NewOrchestrator(store, blobs, validator, svc, emitter, log, ingest.Options{
		MaxFileSize:           cfg.MaxFileSize,
		RowTimeout:            cfg.RowTimeout,
		RetryBackoff:          cfg.RowRetryBackoff,
		InfraFailureThreshold: cfg.InfraFailureThreshold,
	})
	pool := processing.New(orchestrator, cfg.ProcessingPool, log)
	sweeper := sweep.New(store, nil, emitter, log)

	srv := api.New(cfg, api.Deps{
		Store:       store,
		Intake:      ingest.NewIntake(store, blobs, pool, log),
		Validator:   validator,
		Lifecycle:   svc,
		Assignments: assignment.NewEngine(store, assignment.StoreCheckers(store), emitter, log),
		Sweeps:      sweeper,
		Reports:     blobs,
		Signer:      signing.NewSigner(cfg.SigningSecret, cfg.SignedURLTTL),
		Authz:       policy,
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	pool.Start(gctx)
	g.Go(func() error {
		pool.Wait()
		return nil
	})
	g.Go(func() error {
		sweeper.Schedule(gctx, cfg.SweepInterval)
		return nil
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	log.Info("leadvault running in memory mode", "address", cfg.Address, "workers", cfg.ProcessingPool)
	if err := g.Wait(); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
