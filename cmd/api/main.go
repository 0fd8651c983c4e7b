package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/bill-importer/internal/api"
	"github.com/dvloznov/bill-importer/internal/api/handlers"
	"github.com/dvloznov/bill-importer/internal/app"
	"github.com/dvloznov/bill-importer/internal/config"
	"github.com/dvloznov/bill-importer/internal/gcsuploader"
	"github.com/dvloznov/bill-importer/internal/jobs"
	"github.com/dvloznov/bill-importer/internal/jobs/amqp"
	"github.com/dvloznov/bill-importer/internal/jobs/inmemory"
	"github.com/dvloznov/bill-importer/internal/logger"
	"github.com/dvloznov/bill-importer/internal/observability"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	shutdownTracer, err := observability.InitTracer(ctx, "bill-importer-api", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	metrics := observability.NewMetrics()

	components, err := app.Build(ctx, cfg, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build importer")
	}
	defer components.Close()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	var (
		publisher jobs.Publisher
		consumer  jobs.Consumer
		stager    handlers.Stager
	)

	switch cfg.Queue.Backend {
	case "amqp":
		client, err := amqp.NewClient(cfg.Queue.AMQPURL, cfg.Queue.AMQPExchange, cfg.Queue.AMQPQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to AMQP broker")
		}
		client.Store = jobStore
		publisher = client

		gcs, err := gcsuploader.NewGCSStorageService(ctx, cfg.Queue.GCSBucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create GCS client")
		}
		defer gcs.Close()
		stager = gcs

		log.Info().Str("queue", cfg.Queue.AMQPQueue).Msg("Async imports go to the AMQP worker")
	default:
		queue := inmemory.NewQueue(cfg.Queue.Workers, cfg.Queue.BufferSize, jobStore)
		queue.Recorder = metrics
		if err := queue.Start(ctx, jobs.NewImportHandler(components.Importer, nil)); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job queue")
		}
		publisher = queue
		consumer = queue
	}

	router := api.NewRouter(api.Deps{
		Importer:       components.Importer,
		Store:          components.Store,
		JobStore:       jobStore,
		Publisher:      publisher,
		Stager:         stager,
		Completer:      components.Completer,
		Metrics:        metrics,
		Log:            log,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Server.Port).Str("store", cfg.Store.Backend).Str("queue", cfg.Queue.Backend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if consumer != nil {
		if err := consumer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping job queue")
		}
	}
	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job publisher")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to flush traces")
	}

	log.Info().Msg("Server exited")
}
