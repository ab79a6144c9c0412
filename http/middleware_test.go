package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"winequality/monitoring"
)

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestLoggerMiddlewareRequestID(t *testing.T) {
	var seen string
	handler := LoggerMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get(RequestIDHeader)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("expected generated uuid, got %q", seen)
	}

	given := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, given)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Header().Get(RequestIDHeader) != given {
		t.Fatalf("expected caller request id to be kept")
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware([]string{"https://wine.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantOrigin string
		wantStatus int
	}{
		{name: "allowed", method: http.MethodGet, origin: "https://wine.example", wantOrigin: "https://wine.example", wantStatus: http.StatusTeapot},
		{name: "denied", method: http.MethodGet, origin: "https://evil.example", wantStatus: http.StatusTeapot},
		{name: "preflight", method: http.MethodOptions, origin: "https://wine.example", wantOrigin: "https://wine.example", wantStatus: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/predict", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Fatalf("expected origin %q, got %q", tt.wantOrigin, got)
			}
		})
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	handler := TimeoutMiddleware(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on timeout, got %d", rr.Code)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := SecurityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing nosniff header")
	}
}

func TestMetricsMiddlewareRouteLabels(t *testing.T) {
	metrics := monitoring.NewMetricsCollector()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := Chain(
		MetricsMiddleware(metrics, mux),
		CORSMiddleware([]string{"*"}),
	)(mux)

	for i := 0; i < 200; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, fmt.Sprintf("/junk/%d", i), nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected 204 preflight, got %d", rr.Code)
		}
	}
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/health", nil),
		httptest.NewRequest(http.MethodOptions, "/api/health", nil),
		httptest.NewRequest(http.MethodGet, "/nope", nil),
		httptest.NewRequest("BREW", "/api/health", nil),
	} {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	tests := []struct {
		labels map[string]string
		want   float64
	}{
		{labels: map[string]string{"method": "OPTIONS", "route": "unmatched", "status": "204"}, want: 200},
		{labels: map[string]string{"method": "GET", "route": "/api/health", "status": "200"}, want: 1},
		{labels: map[string]string{"method": "OPTIONS", "route": "/api/health", "status": "204"}, want: 1},
		{labels: map[string]string{"method": "GET", "route": "unmatched", "status": "404"}, want: 1},
		{labels: map[string]string{"method": "other", "route": "unmatched", "status": "405"}, want: 1},
	}
	for _, tt := range tests {
		got, ok := metrics.Value("http_requests_total", tt.labels)
		if !ok || got != tt.want {
			t.Errorf("http_requests_total%v = %v (found %v), want %v", tt.labels, got, ok, tt.want)
		}
	}

	if out := metrics.ExportPrometheus(); strings.Contains(out, "/junk") || strings.Contains(out, "BREW") {
		t.Fatalf("request paths leaked into series:\n%s", out)
	}
}
