package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dvloznov/bill-importer/internal/logger"
)

type recordedRequest struct {
	method, route string
	status        int
}

type mockRecorder struct {
	requests []recordedRequest
}

func (m *mockRecorder) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requests = append(m.requests, recordedRequest{method, route, status})
}

func TestLogger_PutsRequestLoggerInContext(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(Logger(logger.NewWithWriter(&buf)))
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())
		log.Info().Msg("Inside handler")
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	out := buf.String()
	if strings.Count(out, `"request_id"`) != 2 {
		t.Errorf("expected request_id on both log lines, got %s", out)
	}
	if !strings.Contains(out, `"status":418`) {
		t.Errorf("status not logged: %s", out)
	}
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	rec := &mockRecorder{}
	r := chi.NewRouter()
	r.Use(Metrics(rec))
	r.Get("/users/{userID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/u1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	want := []recordedRequest{
		{http.MethodGet, "/users/{userID}", http.StatusCreated},
		{http.MethodGet, "unmatched", http.StatusNotFound},
	}
	if len(rec.requests) != len(want) {
		t.Fatalf("recorded %d requests", len(rec.requests))
	}
	for i := range want {
		if rec.requests[i] != want[i] {
			t.Errorf("request %d = %+v, want %+v", i, rec.requests[i], want[i])
		}
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Internal server error") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))

	if rec.Code != http.StatusNoContent || called {
		t.Errorf("status = %d, called = %v", rec.Code, called)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing allow-origin header")
	}
}
