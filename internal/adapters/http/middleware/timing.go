package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"verrou/internal/adapters/http/perf"
)

// DefaultSlowRequestMs is the default threshold for slow request warnings.
const DefaultSlowRequestMs = 200

// UnmatchedRoute labels requests no pattern served, so stray paths share one stat.
const UnmatchedRoute = "(unmatched)"

var requestSeq atomic.Uint64

type routeKey struct{}

// routeLabel travels in the request context from Timing down to Routes, which
// fills in the pattern once the mux has chosen one.
type routeLabel struct {
	pattern string
}

// Routes serves mux and reports the matched pattern to an enclosing Timing.
// PRE: mux has every route registered
// POST: r is served by mux unchanged
func Routes(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if lbl, ok := r.Context().Value(routeKey{}).(*routeLabel); ok {
			_, lbl.pattern = mux.Handler(r)
		}
		mux.ServeHTTP(w, r)
	})
}

// RouteName is the key a request is recorded under: the pattern when it already
// names a method ("POST /steps/{id}/toggle"), otherwise method plus pattern.
func RouteName(method, pattern string) string {
	switch {
	case pattern == "":
		return method + " " + UnmatchedRoute
	case strings.Contains(pattern, " "):
		return pattern
	default:
		return method + " " + pattern
	}
}

// statusRecorder remembers the status a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// Timing logs every request and records it in collector (may be nil) under its
// route name. Static assets are skipped. Requests at or above slowMs log at WARN,
// the rest at DEBUG; a non-positive slowMs uses DefaultSlowRequestMs.
// Wrap the mux with Routes so entries group by pattern.
func Timing(collector *perf.Collector, slowMs int) func(http.Handler) http.Handler {
	if slowMs <= 0 {
		slowMs = DefaultSlowRequestMs
	}
	threshold := time.Duration(slowMs) * time.Millisecond

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/static/") {
				next.ServeHTTP(w, r)
				return
			}

			id := requestSeq.Add(1)
			w.Header().Set("X-Request-Id", strconv.FormatUint(id, 10))
			lbl := &routeLabel{}
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			defer func() {
				elapsed := time.Since(start)
				durationMs := float64(elapsed.Microseconds()) / 1000.0
				route := RouteName(r.Method, lbl.pattern)

				level, event := slog.LevelDebug, "request"
				if elapsed >= threshold {
					level, event = slog.LevelWarn, "slow_request"
				}
				slog.Log(r.Context(), level, event,
					"request_id", id,
					"route", route,
					"path", r.URL.Path,
					"status", rec.status,
					"duration_ms", durationMs,
				)

				if collector != nil {
					collector.Record(perf.Entry{
						Kind:       perf.KindRequest,
						Path:       route,
						StatusCode: rec.status,
						DurationMs: durationMs,
						Timestamp:  start,
					})
				}
			}()

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), routeKey{}, lbl)))
		})
	}
}
