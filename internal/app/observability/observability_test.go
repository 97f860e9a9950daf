package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"evalbank/internal/actor"
	"evalbank/internal/logger"
)

func TestNormalizedPath(t *testing.T) {
	got := normalizedPath("/api/v1/attempts/123/answers/9")
	want := "/api/v1/attempts/{id}/answers/{id}"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}
}

func TestPathResourceID(t *testing.T) {
	cases := []struct {
		path     string
		resource string
		want     int64
	}{
		{"/api/v1/attempts/456/finalize", "attempts", 456},
		{"/api/v1/exams/1", "attempts", 0},
		{"/api/v1/versions/31/votes", "versions", 31},
		{"/api/v1/attempts/4/answers/77", "versions", 77},
	}
	for _, tc := range cases {
		if got := pathResourceID(tc.path, tc.resource); got != tc.want {
			t.Fatalf("pathResourceID(%q, %q) = %d, want %d", tc.path, tc.resource, got, tc.want)
		}
	}
}

func TestMiddlewareLogsAndCounts(t *testing.T) {
	var buf bytes.Buffer
	logger.Configure(logger.Config{Level: logger.InfoLevel, Output: &buf})
	t.Cleanup(func() { logger.Configure(logger.Config{Level: logger.InfoLevel}) })

	c := NewCollector(nil)
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/12/finalize", nil)
	req = req.WithContext(actor.WithContext(req.Context(), actor.Actor{ID: 5, Student: true}))
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["level"] != "warn" || entry["actor_id"] != float64(5) || entry["attempt_id"] != float64(12) {
		t.Fatalf("unexpected log entry %v", entry)
	}

	w := httptest.NewRecorder()
	c.MetricsHandler(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `evalbank_http_requests_total{method="POST",path="/api/v1/attempts/{id}/finalize",status="409"} 1`
	if !strings.Contains(w.Body.String(), want) {
		t.Fatalf("metrics missing %q:\n%s", want, w.Body.String())
	}
}

func TestDomainEvent(t *testing.T) {
	cases := []struct {
		method string
		path   string
		status int
		want   string
	}{
		{http.MethodPost, "/api/v1/versions/{id}/votes", http.StatusCreated, "vote_cast"},
		{http.MethodPost, "/api/v1/versions/{id}/votes", http.StatusConflict, ""},
		{http.MethodGet, "/api/v1/versions/{id}/votes", http.StatusOK, ""},
		{http.MethodPost, "/api/v1/attempts/{id}/finalize", http.StatusOK, "attempt_finalized"},
		{http.MethodPost, "/api/v1/exams/{id}/assemble", http.StatusUnprocessableEntity, "assembly_pool_exhausted"},
		{http.MethodPost, "/api/v1/exams/{id}/state", http.StatusUnprocessableEntity, ""},
	}
	for _, tc := range cases {
		if got := domainEvent(tc.method, tc.path, tc.status); got != tc.want {
			t.Fatalf("domainEvent(%s %s %d) = %q, want %q", tc.method, tc.path, tc.status, got, tc.want)
		}
	}
}

func TestMetricsCountAssessmentEvents(t *testing.T) {
	var buf bytes.Buffer
	logger.Configure(logger.Config{Level: logger.InfoLevel, Output: &buf})
	t.Cleanup(func() { logger.Configure(logger.Config{Level: logger.InfoLevel}) })

	c := NewCollector(nil)
	status := http.StatusCreated
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/versions/8/votes", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/versions/9/votes", nil))
	status = http.StatusConflict
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/versions/9/votes", nil))

	w := httptest.NewRecorder()
	c.MetricsHandler(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `evalbank_assessment_events_total{event="vote_cast"} 2`
	if !strings.Contains(w.Body.String(), want) {
		t.Fatalf("metrics missing %q:\n%s", want, w.Body.String())
	}
}
