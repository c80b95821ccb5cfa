package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/slabworks/cardvault-backend/internal/catalog/seed"
	"github.com/slabworks/cardvault-backend/internal/clients/redis"
	"github.com/slabworks/cardvault-backend/internal/data/db"
	"github.com/slabworks/cardvault-backend/internal/data/repos"
	httpx "github.com/slabworks/cardvault-backend/internal/http"
	httpH "github.com/slabworks/cardvault-backend/internal/http/handlers"
	"github.com/slabworks/cardvault-backend/internal/ingest/preview"
	"github.com/slabworks/cardvault-backend/internal/jobs/replace"
	"github.com/slabworks/cardvault-backend/internal/jobs/worker"
	"github.com/slabworks/cardvault-backend/internal/platform/envutil"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
	"github.com/slabworks/cardvault-backend/internal/platform/tracing"
	"github.com/slabworks/cardvault-backend/internal/services"
)

func main() {
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	traceShutdown := tracing.Init(context.Background(), log, tracing.Config{
		ServiceName: "cardvault-backend",
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
	})
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.Warn("Tracer shutdown failed", "error", err)
			}
		}()
	}

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	log.Info("Setting up repos...")
	bundle := repos.NewBundle(thePG, log)

	log.Info("Setting up audit bus...")
	var audit services.AuditSink
	auditBus, err := redis.NewAuditBus(log)
	if err != nil {
		log.Warn("Audit bus unavailable, events will be logged only", "error", err)
		audit = services.NewAuditService(log, nil)
	} else {
		defer auditBus.Close()
		audit = services.NewAuditService(log, auditBus)
	}

	log.Info("Setting up engines and services...")
	previewEngine := preview.NewEngine(log, bundle.Variants)
	seedEngine := seed.NewEngine(log, bundle.Variants, bundle.VariantKeyMaps, bundle.ReferenceImages, bundle.SeedJobs)
	runner := replace.NewRunner(thePG, log, bundle, previewEngine, seedEngine, audit)

	previewService := services.NewPreviewService(log, previewEngine, bundle.CardSets, bundle.ReplaceJobs)
	replaceService := services.NewReplaceService(log, bundle.ReplaceJobs, bundle.SeedJobs, audit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting replace worker...")
	w := worker.NewWorker(log, bundle.ReplaceJobs, runner)
	go func() {
		if err := w.Start(ctx); err != nil {
			log.Error("Worker pool stopped", "error", err)
		}
	}()

	server := httpx.NewServer(httpx.RouterConfig{
		PreviewHandler: httpH.NewPreviewHandler(previewService),
		ReplaceHandler: httpH.NewReplaceHandler(replaceService),
		HealthHandler:  httpH.NewHealthHandler(thePG),
	})

	addr := ":" + envutil.String("PORT", "8080")
	log.Info("Starting HTTP server", "addr", addr)
	if err := server.Run(addr); err != nil {
		log.Error("HTTP server exited", "error", err)
		os.Exit(1)
	}
}
