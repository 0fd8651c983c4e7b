package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.AddImportedTransactions("pdf", 3)
	m.AddImportedTransactions("pdf", 2)
	m.IncrExternalError("gemini")
	m.IncrParseOutcome("no_array")
	m.IncrParseOutcome("no_array")
	m.IncrJob("failed")

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"imported", testutil.ToFloat64(m.importedTransactions.WithLabelValues("pdf")), 5},
		{"external errors", testutil.ToFloat64(m.externalErrors.WithLabelValues("gemini")), 1},
		{"parse outcomes", testutil.ToFloat64(m.parseOutcomes.WithLabelValues("no_array")), 2},
		{"jobs", testutil.ToFloat64(m.jobs.WithLabelValues("failed")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.IncrJob("completed")
	if got := testutil.ToFloat64(b.jobs.WithLabelValues("completed")); got != 0 {
		t.Errorf("second registry saw %v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveImport("pdf", "success", 1500*time.Millisecond)
	m.ObserveRequest(http.MethodPost, "/v1/users/{userID}/imports", http.StatusOK, 2*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`bill_importer_import_duration_seconds_count{outcome="success",source="pdf"} 1`,
		`bill_importer_http_request_duration_seconds_count{method="POST",route="/v1/users/{userID}/imports",status="200"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestInitTracer_NoEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "bill-importer-test", "")
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestTracingMiddleware_ExtractsParent(t *testing.T) {
	if _, err := InitTracer(context.Background(), "bill-importer-test", ""); err != nil {
		t.Fatal(err)
	}

	var got trace.SpanContext
	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = trace.SpanContextFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace id = %s", got.TraceID())
	}
}
