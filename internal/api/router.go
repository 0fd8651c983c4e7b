// Package api assembles the HTTP surface of the importer.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bill-importer/internal/api/handlers"
	"github.com/dvloznov/bill-importer/internal/api/middleware"
	"github.com/dvloznov/bill-importer/internal/jobs"
	"github.com/dvloznov/bill-importer/internal/llm"
	"github.com/dvloznov/bill-importer/internal/observability"
	"github.com/dvloznov/bill-importer/internal/store"
	"github.com/dvloznov/bill-importer/internal/summary"
)

// Deps are the collaborators the router hands to its handlers.
type Deps struct {
	Importer  handlers.DocumentImporter
	Store     store.Store
	JobStore  jobs.JobStore
	Publisher jobs.Publisher  // nil disables async imports
	Stager    handlers.Stager // nil keeps queued documents in-process
	Completer llm.Completer   // nil disables monthly reports
	Metrics   *observability.Metrics
	Log       zerolog.Logger

	MaxUploadBytes int64
	Now            func() time.Time
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 20 << 20
	}

	imports := handlers.NewImportsHandler(d.Importer, d.Publisher, d.Stager, d.MaxUploadBytes, d.Log)
	profile := handlers.NewProfileHandler(d.Store, d.Now, d.Log)
	transactions := handlers.NewTransactionsHandler(d.Store, d.Log)
	overview := handlers.NewSummaryHandler(summary.NewService(d.Store), d.Now, d.Log)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Log))
	r.Use(observability.TracingMiddleware)
	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics))
	}
	r.Use(middleware.Recovery(d.Log))
	r.Use(middleware.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/imports", imports.ImportDocument)
			r.Post("/scans", imports.ImportScan)
			r.Get("/profile", profile.GetProfile)
			r.Put("/profile", profile.UpdateProfile)
			r.Get("/transactions", transactions.ListTransactions)
			r.Get("/summary", overview.GetSummary)
			if d.Completer != nil {
				reports := handlers.NewReportHandler(summary.NewReporter(d.Store, d.Completer, d.Now), d.Now, d.Log)
				r.Get("/summary/report", reports.GetReport)
			}
		})

		if d.JobStore != nil {
			jobsHandler := handlers.NewJobsHandler(d.JobStore, d.Log)
			r.Get("/jobs", jobsHandler.ListJobs)
			r.Get("/jobs/{jobID}", jobsHandler.GetJob)
		}
	})

	return r
}
