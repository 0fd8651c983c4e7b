package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bill-importer/internal/api/middleware"
	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/llm"
	"github.com/dvloznov/bill-importer/internal/store"
	"github.com/dvloznov/bill-importer/internal/summary"
)

// maxProfileBody bounds PUT /profile request bodies.
const maxProfileBody = 64 << 10

// ProfileHandler handles the balance profile endpoints.
type ProfileHandler struct {
	store store.Store
	now   func() time.Time
	log   zerolog.Logger
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(s store.Store, now func() time.Time, log zerolog.Logger) *ProfileHandler {
	if now == nil {
		now = time.Now
	}
	return &ProfileHandler{
		store: s,
		now:   now,
		log:   log,
	}
}

// GetProfile handles GET /v1/users/{userID}/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	profile, err := h.store.ReadProfile(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to read profile")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read profile")
		return
	}
	if profile == nil {
		middleware.WriteError(w, http.StatusNotFound, "Profile not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, profile)
}

// UpdateProfile handles PUT /v1/users/{userID}/profile
//
// Setting current_balance is an anchoring event: the balance anchor moves to
// today, so only transactions dated from today on will move the balance.
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	var req struct {
		CurrentBalance *decimal.Decimal `json:"current_balance"`
		MonthlyBudget  *decimal.Decimal `json:"monthly_budget"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxProfileBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CurrentBalance == nil && req.MonthlyBudget == nil {
		middleware.WriteError(w, http.StatusBadRequest, "current_balance or monthly_budget is required")
		return
	}
	if req.MonthlyBudget != nil && req.MonthlyBudget.IsNegative() {
		middleware.WriteError(w, http.StatusBadRequest, "monthly_budget must not be negative")
		return
	}

	patch := domain.ProfilePatch{MonthlyBudget: req.MonthlyBudget}
	if req.CurrentBalance != nil {
		today := civil.DateOf(h.now())
		explicit := true
		patch.CurrentBalance = req.CurrentBalance
		patch.BalanceSetDate = &today
		patch.AnchorExplicit = &explicit
	}

	if err := h.store.WriteProfile(ctx, userID, patch); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to write profile")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to write profile")
		return
	}

	profile, err := h.store.ReadProfile(ctx, userID)
	if err != nil || profile == nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to read profile after update")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read profile")
		return
	}

	h.log.Info().Str("user_id", userID).Bool("anchored", req.CurrentBalance != nil).Msg("Profile updated")
	middleware.WriteJSON(w, http.StatusOK, profile)
}

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	store store.Store
	log   zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(s store.Store, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		store: s,
		log:   log,
	}
}

// ListTransactions handles GET /v1/users/{userID}/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	query := r.URL.Query()

	var filter store.TransactionFilter

	if s := query.Get("from"); s != "" {
		d, err := civil.ParseDate(s)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid from date, expected YYYY-MM-DD")
			return
		}
		filter.From = &d
	}
	if s := query.Get("to"); s != "" {
		d, err := civil.ParseDate(s)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid to date, expected YYYY-MM-DD")
			return
		}
		filter.To = &d
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		middleware.WriteError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	switch t := domain.TransactionType(query.Get("type")); t {
	case "", domain.TypeExpense, domain.TypeIncome:
		filter.Type = t
	default:
		middleware.WriteError(w, http.StatusBadRequest, "type must be expense or income")
		return
	}

	if s := query.Get("category"); s != "" {
		filter.Category = domain.ParseCategory(s)
	}

	if s := query.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}

	transactions, err := h.store.ListTransactions(r.Context(), userID, filter)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// SummaryHandler serves the monthly overview.
type SummaryHandler struct {
	svc *summary.Service
	now func() time.Time
	log zerolog.Logger
}

// NewSummaryHandler creates a new summary handler.
func NewSummaryHandler(svc *summary.Service, now func() time.Time, log zerolog.Logger) *SummaryHandler {
	if now == nil {
		now = time.Now
	}
	return &SummaryHandler{
		svc: svc,
		now: now,
		log: log,
	}
}

// GetSummary handles GET /v1/users/{userID}/summary?month=YYYY-MM
func (h *SummaryHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	year, month, err := summary.ParseMonth(r.URL.Query().Get("month"), h.now())
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid month, expected YYYY-MM")
		return
	}

	overview, err := h.svc.Monthly(r.Context(), userID, year, month)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to compute summary")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute summary")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, overview)
}

// MonthlyReporter produces the model-written report for a month.
type MonthlyReporter interface {
	Report(ctx context.Context, userID string, year int, month time.Month, refresh bool) (domain.Report, error)
}

// ReportHandler serves monthly reports.
type ReportHandler struct {
	reporter MonthlyReporter
	now      func() time.Time
	log      zerolog.Logger
}

// NewReportHandler creates a new report handler.
func NewReportHandler(reporter MonthlyReporter, now func() time.Time, log zerolog.Logger) *ReportHandler {
	if now == nil {
		now = time.Now
	}
	return &ReportHandler{
		reporter: reporter,
		now:      now,
		log:      log,
	}
}

// GetReport handles GET /v1/users/{userID}/summary/report?month=YYYY-MM&refresh=true
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	q := r.URL.Query()

	year, month, err := summary.ParseMonth(q.Get("month"), h.now())
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid month, expected YYYY-MM")
		return
	}

	var refresh bool
	if v := q.Get("refresh"); v != "" {
		if refresh, err = strconv.ParseBool(v); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid refresh flag")
			return
		}
	}

	report, err := h.reporter.Report(r.Context(), userID, year, month, refresh)
	if err != nil {
		var svcErr *llm.ServiceError
		switch {
		case errors.Is(err, summary.ErrNoTransactions):
			middleware.WriteError(w, http.StatusNotFound, "No transactions in this month")
		case errors.Is(err, summary.ErrMalformedReport), errors.As(err, &svcErr):
			h.log.Warn().Err(err).Str("user_id", userID).Msg("Report generation failed")
			middleware.WriteError(w, http.StatusBadGateway, "The model could not produce a report")
		default:
			h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to build report")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to build report")
		}
		return
	}

	middleware.WriteJSON(w, http.StatusOK, report)
}
