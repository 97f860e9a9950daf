package observability

import (
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"evalbank/internal/actor"
	"evalbank/internal/logger"

	"github.com/go-chi/chi/v5/middleware"
)

type key struct {
	Method string
	Path   string
	Status int
}

type stat struct {
	Count     int64
	LatencyMS float64
}

type Collector struct {
	db *sql.DB

	mu           sync.RWMutex
	requestStats map[key]stat
	events       map[string]int64
	startedAt    time.Time
}

type eventRoute struct {
	Method string
	Path   string
}

// domainEvents names the assessment outcomes counted on success.
var domainEvents = map[eventRoute]string{
	{http.MethodPost, "/api/v1/versions/{id}/votes"}:       "vote_cast",
	{http.MethodPost, "/api/v1/questions/{id}/versions"}:   "version_created",
	{http.MethodPost, "/api/v1/exams/{id}/assemble"}:       "exam_assembled",
	{http.MethodPost, "/api/v1/attempts/start"}:            "attempt_started",
	{http.MethodPut, "/api/v1/attempts/{id}/answers/{id}"}: "answer_submitted",
	{http.MethodPost, "/api/v1/attempts/{id}/finalize"}:    "attempt_finalized",
	{http.MethodPost, "/api/v1/attempts/{id}/grade"}:       "attempt_graded",
}

// domainEvent maps a finished request to its event name, or "".
// A short assembly pool is counted separately from successful draws.
func domainEvent(method, path string, status int) string {
	name, ok := domainEvents[eventRoute{Method: method, Path: path}]
	if !ok {
		return ""
	}
	if status == http.StatusUnprocessableEntity && name == "exam_assembled" {
		return "assembly_pool_exhausted"
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return ""
	}
	return name
}

func NewCollector(db *sql.DB) *Collector {
	return &Collector{
		db:           db,
		requestStats: make(map[key]stat),
		events:       make(map[string]int64),
		startedAt:    time.Now(),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records per-route counters and emits one log event per request.
// It must run inside the actor middleware for actor_id to be populated.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		path := normalizedPath(r.URL.Path)

		c.mu.Lock()
		k := key{Method: r.Method, Path: path, Status: rec.status}
		s := c.requestStats[k]
		s.Count++
		s.LatencyMS += latencyMS
		c.requestStats[k] = s
		if name := domainEvent(r.Method, path, rec.status); name != "" {
			c.events[name]++
		}
		c.mu.Unlock()

		actorID := int64(0)
		if a, ok := actor.FromContext(r.Context()); ok {
			actorID = a.ID
		}

		ev := logger.Info()
		if rec.status >= http.StatusInternalServerError {
			ev = logger.Error()
		} else if rec.status >= http.StatusBadRequest {
			ev = logger.Warn()
		}
		ev.Str("request_id", middleware.GetReqID(r.Context())).
			Int64("actor_id", actorID).
			Int64("attempt_id", pathResourceID(r.URL.Path, "attempts")).
			Int64("version_id", pathResourceID(r.URL.Path, "versions")).
			Str("method", r.Method).
			Str("path", path).
			Int("status", rec.status).
			Float64("latency_ms", latencyMS).
			Str("remote_ip", strings.TrimSpace(r.RemoteAddr)).
			Msg("http request")
	})
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	statsCopy := make(map[key]stat, len(c.requestStats))
	for k, v := range c.requestStats {
		statsCopy[k] = v
	}
	eventsCopy := make(map[string]int64, len(c.events))
	for k, v := range c.events {
		eventsCopy[k] = v
	}
	startedAt := c.startedAt
	c.mu.RUnlock()

	keys := make([]key, 0, len(statsCopy))
	for k := range statsCopy {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Status < keys[j].Status
	})

	var sb strings.Builder
	sb.WriteString("# evalbank metrics\n")
	sb.WriteString("# TYPE evalbank_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "evalbank_uptime_seconds %.0f\n", time.Since(startedAt).Seconds())

	sb.WriteString("# TYPE evalbank_http_requests_total counter\n")
	sb.WriteString("# TYPE evalbank_http_request_latency_ms_sum counter\n")
	for _, k := range keys {
		s := statsCopy[k]
		labels := fmt.Sprintf("method=%q,path=%q,status=\"%d\"", k.Method, k.Path, k.Status)
		fmt.Fprintf(&sb, "evalbank_http_requests_total{%s} %d\n", labels, s.Count)
		fmt.Fprintf(&sb, "evalbank_http_request_latency_ms_sum{%s} %.3f\n", labels, s.LatencyMS)
	}

	eventNames := make([]string, 0, len(eventsCopy))
	for name := range eventsCopy {
		eventNames = append(eventNames, name)
	}
	sort.Strings(eventNames)
	sb.WriteString("# TYPE evalbank_assessment_events_total counter\n")
	for _, name := range eventNames {
		fmt.Fprintf(&sb, "evalbank_assessment_events_total{event=%q} %d\n", name, eventsCopy[name])
	}

	if c.db != nil {
		dbs := c.db.Stats()
		sb.WriteString("# TYPE evalbank_db_open_connections gauge\n")
		fmt.Fprintf(&sb, "evalbank_db_open_connections %d\n", dbs.OpenConnections)
		sb.WriteString("# TYPE evalbank_db_in_use_connections gauge\n")
		fmt.Fprintf(&sb, "evalbank_db_in_use_connections %d\n", dbs.InUse)
		sb.WriteString("# TYPE evalbank_db_wait_count counter\n")
		fmt.Fprintf(&sb, "evalbank_db_wait_count %d\n", dbs.WaitCount)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// pathResourceID returns the numeric segment following resource, or 0.
// Answer routes carry the version id after "answers".
func pathResourceID(path, resource string) int64 {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == resource || (resource == "versions" && parts[i] == "answers") {
			if id, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}
