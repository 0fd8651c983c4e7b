package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/bill-importer/internal/api/middleware"
	"github.com/dvloznov/bill-importer/internal/app"
	"github.com/dvloznov/bill-importer/internal/config"
	"github.com/dvloznov/bill-importer/internal/gcsuploader"
	"github.com/dvloznov/bill-importer/internal/jobs"
	"github.com/dvloznov/bill-importer/internal/jobs/amqp"
	"github.com/dvloznov/bill-importer/internal/jobs/inmemory"
	"github.com/dvloznov/bill-importer/internal/logger"
	"github.com/dvloznov/bill-importer/internal/observability"
)

// The worker consumes import jobs published by the API to the AMQP queue.
// Documents are fetched from the GCS staging bucket.
func main() {
	cfg := config.Load()
	log := logger.NewWithLevel(cfg.LogLevel)

	cfg.Queue.Backend = "amqp"
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	shutdownTracer, err := observability.InitTracer(ctx, "bill-importer-worker", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	metrics := observability.NewMetrics()

	components, err := app.Build(ctx, cfg, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build importer")
	}
	defer components.Close()

	gcs, err := gcsuploader.NewGCSStorageService(ctx, cfg.Queue.GCSBucket)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create GCS client")
	}
	defer gcs.Close()

	client, err := amqp.NewClient(cfg.Queue.AMQPURL, cfg.Queue.AMQPExchange, cfg.Queue.AMQPQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to AMQP broker")
	}
	defer client.Close()
	client.Store = inmemory.NewStore()

	handler := countingHandler(jobs.NewImportHandler(components.Importer, gcs), metrics)
	if err := client.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Str("queue", cfg.Queue.AMQPQueue).Msg("Worker service started, waiting for jobs...")

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Metrics server stopped with error")
	}

	log.Info().Msg("Shutting down worker service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop the consumer and wait for the in-flight job
	if err := client.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to flush traces")
	}

	log.Info().Msg("Worker service exited")
}

// countingHandler records each attempt's outcome. The broker owns retries, so
// a failed attempt here may still complete on redelivery.
func countingHandler(next jobs.JobHandler, metrics *observability.Metrics) jobs.JobHandler {
	return func(ctx context.Context, job *jobs.ImportDocumentJob) error {
		err := next(ctx, job)
		switch {
		case err == nil:
			metrics.IncrJob(string(jobs.JobStatusCompleted))
		case jobs.IsPermanent(err):
			metrics.IncrJob(string(jobs.JobStatusFailed))
		default:
			metrics.IncrJob(string(jobs.JobStatusRetrying))
		}
		return err
	}
}
